// Copyright (c) 2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package state

import (
	"time"

	"github.com/uber/borealis/pkg/common/backoff"
	"github.com/uber/borealis/pkg/scheduler/api"
)

// RescheduleCalculator decides whether a task exited so quickly that its
// replacement should be penalized before re-entering the pending queue.
type RescheduleCalculator interface {
	// FlapPenalty returns the throttle duration for the replacement of
	// exited, or zero when the replacement may go straight to PENDING.
	FlapPenalty(exited *api.Task, now time.Time) time.Duration
}

// RescheduleConfig tunes the default calculator.
type RescheduleConfig struct {
	// FlapThreshold is the minimum healthy lifetime; tasks exiting
	// sooner are considered flapping.
	FlapThreshold  time.Duration `yaml:"flap_threshold"`
	InitialPenalty time.Duration `yaml:"initial_penalty"`
	MaxPenalty     time.Duration `yaml:"max_penalty"`
}

func (c *RescheduleConfig) normalize() {
	if c.FlapThreshold == 0 {
		c.FlapThreshold = 5 * time.Minute
	}
	if c.InitialPenalty == 0 {
		c.InitialPenalty = 15 * time.Second
	}
	if c.MaxPenalty == 0 {
		c.MaxPenalty = 5 * time.Minute
	}
}

type rescheduleCalculator struct {
	config RescheduleConfig
	policy backoff.RetryPolicy
}

// NewRescheduleCalculator creates the default flap calculator: a task that
// lived shorter than the flap threshold earns its replacement a penalty
// drawn from a truncated exponential window keyed by the inherited failure
// count.
func NewRescheduleCalculator(cfg RescheduleConfig) RescheduleCalculator {
	cfg.normalize()
	return &rescheduleCalculator{
		config: cfg,
		policy: backoff.NewTruncatedExponentialPolicy(
			cfg.InitialPenalty, cfg.MaxPenalty, 0),
	}
}

func (c *rescheduleCalculator) FlapPenalty(exited *api.Task, now time.Time) time.Duration {
	if len(exited.Events) == 0 {
		return 0
	}
	born := exited.Events[0].Timestamp
	if now.Sub(born) >= c.config.FlapThreshold {
		return 0
	}
	attempt := exited.FailureCount + 1
	penalty := c.policy.CalculateNextDelay(attempt)
	if penalty < 0 {
		return 0
	}
	return penalty
}
