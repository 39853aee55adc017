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

package lifecycle

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrStopTimeout is returned by WaitWithTimeout when the worker does not
// confirm shutdown in time.
var ErrStopTimeout = errors.New("lifecycle: stop not confirmed before timeout")

// LifeCycle coordinates the start/stop handshake between an owner and its
// worker goroutine. The owner calls Start and Stop; the worker selects on
// StopCh and calls StopComplete on exit. A stopped LifeCycle can be
// started again.
type LifeCycle interface {
	// Start arms the cycle. Returns false if already running.
	Start() bool
	// Stop broadcasts shutdown on StopCh. Returns false if not running,
	// so callers can detect a redundant Stop and skip waiting.
	Stop() bool
	// StopCh is closed once Stop is called. Before Start it reports as
	// already stopped.
	StopCh() <-chan struct{}
	// StopComplete records that the worker has exited. Safe to call more
	// than once per cycle, and unblocks every waiter.
	StopComplete()
	// Wait blocks until StopComplete.
	Wait()
	// WaitWithTimeout blocks until StopComplete or the timeout elapses,
	// returning ErrStopTimeout in the latter case.
	WaitWithTimeout(timeout time.Duration) error
}

type lifeCycle struct {
	mu      sync.Mutex
	running bool
	// stopCh and doneCh are replaced on every Start so a worker from a
	// previous cycle cannot observe the new cycle's channels.
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewLifeCycle returns a LifeCycle in the stopped state.
func NewLifeCycle() LifeCycle {
	return &lifeCycle{}
}

func (l *lifeCycle) Start() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return false
	}
	l.running = true
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	return true
}

func (l *lifeCycle) Stop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running {
		return false
	}
	l.running = false
	close(l.stopCh)
	return true
}

func (l *lifeCycle) StopCh() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopCh == nil {
		return closedCh()
	}
	return l.stopCh
}

func (l *lifeCycle) StopComplete() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.doneCh == nil {
		return
	}
	select {
	case <-l.doneCh:
	default:
		close(l.doneCh)
	}
}

func (l *lifeCycle) Wait() {
	<-l.waitCh()
}

func (l *lifeCycle) WaitWithTimeout(timeout time.Duration) error {
	select {
	case <-l.waitCh():
		return nil
	case <-time.After(timeout):
		return ErrStopTimeout
	}
}

func (l *lifeCycle) waitCh() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.doneCh == nil {
		return closedCh()
	}
	return l.doneCh
}

func closedCh() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
