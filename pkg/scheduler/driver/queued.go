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

package driver

import (
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/uber-go/tally"

	"github.com/uber/borealis/pkg/common/backoff"
	"github.com/uber/borealis/pkg/common/lifecycle"
	"github.com/uber/borealis/pkg/scheduler/api"
)

// ErrQueueFull is returned when the outbound queue cannot accept another
// message.
var ErrQueueFull = errors.New("driver: outbound queue full")

// Config tunes the queued driver.
type Config struct {
	QueueSize           int           `yaml:"queue_size"`
	RetryInitialBackoff time.Duration `yaml:"retry_initial_backoff"`
	RetryMaxBackoff     time.Duration `yaml:"retry_max_backoff"`
	RetryMaxAttempts    int           `yaml:"retry_max_attempts"`
	StopTimeout         time.Duration `yaml:"stop_timeout"`
}

func (c *Config) normalize() {
	if c.QueueSize == 0 {
		c.QueueSize = 1000
	}
	if c.RetryInitialBackoff == 0 {
		c.RetryInitialBackoff = 100 * time.Millisecond
	}
	if c.RetryMaxBackoff == 0 {
		c.RetryMaxBackoff = 5 * time.Second
	}
	if c.RetryMaxAttempts == 0 {
		c.RetryMaxAttempts = 5
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = 10 * time.Second
	}
}

type outboundOp struct {
	kind string
	send func() error
}

// QueuedDriver drains a bounded queue onto a Transport with retries.
type QueuedDriver struct {
	transport   Transport
	queue       chan outboundOp
	policy      backoff.RetryPolicy
	life        lifecycle.LifeCycle
	stopTimeout time.Duration
	metrics     *Metrics
}

// NewQueued creates a Driver that decouples callers from transport latency
// through a bounded queue. Start must be called before use.
func NewQueued(transport Transport, cfg Config, scope tally.Scope) *QueuedDriver {
	cfg.normalize()
	return &QueuedDriver{
		transport: transport,
		queue:     make(chan outboundOp, cfg.QueueSize),
		policy: backoff.NewTruncatedExponentialPolicy(
			cfg.RetryInitialBackoff,
			cfg.RetryMaxBackoff,
			cfg.RetryMaxAttempts),
		life:        lifecycle.NewLifeCycle(),
		stopTimeout: cfg.StopTimeout,
		metrics:     NewMetrics(scope),
	}
}

// Start spawns the drain worker.
func (d *QueuedDriver) Start() {
	if !d.life.Start() {
		return
	}
	go d.drain()
}

// Stop terminates the drain worker. Queued messages are dropped. If the
// worker is wedged in a slow transport send, Stop gives up after the
// configured stop timeout instead of hanging shutdown.
func (d *QueuedDriver) Stop() {
	if !d.life.Stop() {
		return
	}
	if err := d.life.WaitWithTimeout(d.stopTimeout); err != nil {
		log.WithError(err).Error("Drain worker did not confirm shutdown")
	}
}

func (d *QueuedDriver) drain() {
	defer d.life.StopComplete()
	for {
		select {
		case <-d.life.StopCh():
			return
		case op := <-d.queue:
			d.metrics.QueueDepth.Update(float64(len(d.queue)))
			err := backoff.Retry(func() error {
				if err := op.send(); err != nil {
					d.metrics.Retries.Inc(1)
					return err
				}
				return nil
			}, d.policy, nil)
			if err != nil {
				d.metrics.SendFailures.Inc(1)
				log.WithError(err).
					WithField("kind", op.kind).
					Error("Outbound message dropped after retries")
				continue
			}
			d.metrics.Sent.Inc(1)
		}
	}
}

func (d *QueuedDriver) enqueue(op outboundOp) error {
	select {
	case d.queue <- op:
		d.metrics.QueueDepth.Update(float64(len(d.queue)))
		return nil
	default:
		d.metrics.Drops.Inc(1)
		log.WithField("kind", op.kind).Warn("Outbound queue full, dropping message")
		return ErrQueueFull
	}
}

func (d *QueuedDriver) LaunchTask(offerID string, task *api.Task) error {
	t := task.Clone()
	return d.enqueue(outboundOp{
		kind: "launch",
		send: func() error { return d.transport.SendLaunch(offerID, t) },
	})
}

func (d *QueuedDriver) KillTask(taskID string) error {
	return d.enqueue(outboundOp{
		kind: "kill",
		send: func() error { return d.transport.SendKill(taskID) },
	})
}

func (d *QueuedDriver) DeclineOffer(offerID string, filterDuration time.Duration) error {
	return d.enqueue(outboundOp{
		kind: "decline",
		send: func() error { return d.transport.SendDecline(offerID, filterDuration) },
	})
}

func (d *QueuedDriver) ReconcileTasks(statuses []TaskStatus) error {
	s := append([]TaskStatus(nil), statuses...)
	return d.enqueue(outboundOp{
		kind: "reconcile",
		send: func() error { return d.transport.SendReconcile(s) },
	})
}
