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

// Package reconciliation keeps scheduler task state and cluster reality
// converged. Explicit reconciliation asks the cluster manager about every
// task the scheduler believes is on an agent; implicit reconciliation
// asks about everything the cluster manager knows.
package reconciliation

import (
	"math/rand"
	"time"

	"github.com/benbjohnson/clock"
	log "github.com/sirupsen/logrus"
	"github.com/uber-go/tally"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/uber/borealis/pkg/common/background"
	"github.com/uber/borealis/pkg/scheduler/driver"
	"github.com/uber/borealis/pkg/storage"
)

const (
	_explicitWorkName = "explicit-reconciliation"
	_implicitWorkName = "implicit-reconciliation"
)

// Config tunes the reconciler.
type Config struct {
	ExplicitInterval     time.Duration `yaml:"explicit_interval"`
	ExplicitInitialDelay time.Duration `yaml:"explicit_initial_delay"`
	ExplicitBatchSize    int           `yaml:"explicit_batch_size"`
	// ExplicitBatchDelay spaces batches so one reconciliation round does
	// not flood the outbound queue.
	ExplicitBatchDelay time.Duration `yaml:"explicit_batch_delay"`

	ImplicitInterval time.Duration `yaml:"implicit_interval"`
	// ImplicitSpread offsets the first implicit round by a random
	// fraction so restarted schedulers do not reconcile in lockstep.
	ImplicitSpread time.Duration `yaml:"implicit_spread"`
}

func (c *Config) normalize() {
	if c.ExplicitInterval == 0 {
		c.ExplicitInterval = 60 * time.Minute
	}
	if c.ExplicitInitialDelay == 0 {
		c.ExplicitInitialDelay = 10 * time.Minute
	}
	if c.ExplicitBatchSize == 0 {
		c.ExplicitBatchSize = 1000
	}
	if c.ExplicitBatchDelay == 0 {
		c.ExplicitBatchDelay = 5 * time.Second
	}
	if c.ImplicitInterval == 0 {
		c.ImplicitInterval = 180 * time.Minute
	}
	if c.ImplicitSpread == 0 {
		c.ImplicitSpread = 30 * time.Minute
	}
}

// Reconciler issues explicit and implicit reconciliation requests on
// independent cadences.
type Reconciler struct {
	config  Config
	store   *storage.Storage
	driver  driver.Driver
	clock   clock.Clock
	works   background.Manager
	metrics *Metrics
}

// NewReconciler creates the reconciler.
func NewReconciler(
	cfg Config,
	store *storage.Storage,
	d driver.Driver,
	clk clock.Clock,
	scope tally.Scope) (*Reconciler, error) {

	cfg.normalize()
	r := &Reconciler{
		config:  cfg,
		store:   store,
		driver:  d,
		clock:   clk,
		works:   background.NewManager(),
		metrics: NewMetrics(scope),
	}
	implicitDelay := time.Duration(rand.Int63n(int64(cfg.ImplicitSpread)))
	err := r.works.RegisterWorks(
		background.Work{
			Name:         _explicitWorkName,
			Func:         func(*atomic.Bool) { r.runExplicit() },
			Period:       cfg.ExplicitInterval,
			InitialDelay: cfg.ExplicitInitialDelay,
		},
		background.Work{
			Name:         _implicitWorkName,
			Func:         func(*atomic.Bool) { r.runImplicit() },
			Period:       cfg.ImplicitInterval,
			InitialDelay: implicitDelay,
		},
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Start begins the reconciliation loops.
func (r *Reconciler) Start() {
	r.works.Start()
}

// Stop halts the loops.
func (r *Reconciler) Stop() {
	r.works.Stop()
}

// runExplicit reconciles every slave-assigned task in batches.
func (r *Reconciler) runExplicit() {
	r.metrics.ExplicitRounds.Inc(1)

	var statuses []driver.TaskStatus
	err := r.store.Read(func(v *storage.View) error {
		tasks, err := v.GetSlaveAssignedTasks()
		if err != nil {
			return err
		}
		statuses = make([]driver.TaskStatus, 0, len(tasks))
		for _, t := range tasks {
			statuses = append(statuses, driver.TaskStatus{
				TaskID:  t.ID,
				AgentID: t.AgentID,
				State:   t.Status,
			})
		}
		return nil
	})
	if err != nil {
		log.WithError(err).Error("Failed to read tasks for explicit reconciliation")
		return
	}
	r.metrics.ExplicitTasks.Inc(int64(len(statuses)))

	var sendErr error
	for start := 0; start < len(statuses); start += r.config.ExplicitBatchSize {
		end := start + r.config.ExplicitBatchSize
		if end > len(statuses) {
			end = len(statuses)
		}
		if start > 0 {
			r.clock.Sleep(r.config.ExplicitBatchDelay)
		}
		if err := r.driver.ReconcileTasks(statuses[start:end]); err != nil {
			sendErr = multierr.Append(sendErr, err)
		}
		r.metrics.ExplicitBatches.Inc(1)
	}
	if sendErr != nil {
		log.WithError(sendErr).Warn("Some explicit reconciliation batches not enqueued")
	}
}

// runImplicit asks the cluster manager for everything it knows.
func (r *Reconciler) runImplicit() {
	r.metrics.ImplicitRounds.Inc(1)
	if err := r.driver.ReconcileTasks(nil); err != nil {
		log.WithError(err).Warn("Implicit reconciliation not enqueued")
	}
}
