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

package main

import (
	"github.com/uber/borealis/pkg/common/logging"
	"github.com/uber/borealis/pkg/common/metrics"
	"github.com/uber/borealis/pkg/scheduler/driver"
	"github.com/uber/borealis/pkg/scheduler/offers"
	"github.com/uber/borealis/pkg/scheduler/preemptor"
	"github.com/uber/borealis/pkg/scheduler/reconciliation"
	"github.com/uber/borealis/pkg/scheduler/scheduling"
	"github.com/uber/borealis/pkg/scheduler/state"
)

// Config is the scheduler daemon configuration, assembled from the
// per-component configs.
type Config struct {
	HTTPPort int `yaml:"http_port"`

	Logging        logging.Config         `yaml:"logging"`
	Metrics        metrics.Config         `yaml:"metrics"`
	Driver         driver.Config          `yaml:"driver"`
	Offers         offers.Config          `yaml:"offers"`
	Scheduling     scheduling.Config      `yaml:"scheduling"`
	Preemptor      preemptor.Config       `yaml:"preemptor"`
	Reconciliation reconciliation.Config  `yaml:"reconciliation"`
	Reschedule     state.RescheduleConfig `yaml:"reschedule"`
}
