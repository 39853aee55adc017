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

package background

import (
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

const (
	_stopRetryInterval = 1 * time.Millisecond
)

var (
	errEmptyName     = errors.New("background work name cannot be empty")
	errDuplicateName = errors.New("duplicate background work name")
)

// Work is a piece of background work which runs periodically.
type Work struct {
	Name         string
	Func         func(*atomic.Bool)
	Period       time.Duration
	InitialDelay time.Duration
}

// Manager allows multiple background Works to be registered and
// started/stopped together.
type Manager interface {
	// Start starts all registered background works.
	Start()
	// Stop stops all registered background works.
	Stop()
	// RegisterWorks registers background works against the Manager.
	RegisterWorks(works ...Work) error
}

type manager struct {
	runners map[string]*runner
}

// NewManager creates a new Manager with no registered works.
func NewManager() Manager {
	return &manager{
		runners: make(map[string]*runner),
	}
}

func (m *manager) RegisterWorks(works ...Work) error {
	for _, work := range works {
		if work.Name == "" {
			return errEmptyName
		}
		if _, ok := m.runners[work.Name]; ok {
			return errDuplicateName
		}

		m.runners[work.Name] = &runner{
			work:     work,
			stopChan: make(chan struct{}, 1),
		}
	}
	return nil
}

func (m *manager) Start() {
	for _, r := range m.runners {
		r.start()
	}
}

func (m *manager) Stop() {
	for _, r := range m.runners {
		r.stop()
	}
}

type runner struct {
	sync.Mutex

	work Work

	running  atomic.Bool
	stopChan chan struct{}
}

func (r *runner) start() {
	log.WithField("name", r.work.Name).Info("Starting background work")
	r.Lock()
	defer r.Unlock()
	if r.running.Swap(true) {
		log.WithField("name", r.work.Name).
			Info("Background work is already running, no-op")
		return
	}

	go func() {
		defer r.running.Store(false)

		if r.work.InitialDelay > 0 {
			initialTimer := time.NewTimer(r.work.InitialDelay)
			select {
			case <-r.stopChan:
				initialTimer.Stop()
				log.WithField("name", r.work.Name).
					Info("Background work stopped before first run")
				return
			case <-initialTimer.C:
			}
		}

		ticker := time.NewTicker(r.work.Period)
		defer ticker.Stop()
		for {
			r.work.Func(&r.running)

			select {
			case <-r.stopChan:
				log.WithField("name", r.work.Name).
					Info("Background work stopped")
				return
			case <-ticker.C:
			}
		}
	}()
}

func (r *runner) stop() {
	log.WithField("name", r.work.Name).Info("Stopping background work")

	if !r.running.Load() {
		log.WithField("name", r.work.Name).
			Warn("Background work is not running, no-op")
		return
	}

	r.Lock()
	defer r.Unlock()

	r.stopChan <- struct{}{}

	for r.running.Load() {
		time.Sleep(_stopRetryInterval)
	}
	log.WithField("name", r.work.Name).Info("Background work stop confirmed")
}
