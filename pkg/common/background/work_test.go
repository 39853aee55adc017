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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestRegisterWorksRejectsEmptyName(t *testing.T) {
	m := NewManager()
	err := m.RegisterWorks(Work{
		Func:   func(*atomic.Bool) {},
		Period: time.Minute,
	})
	assert.Equal(t, errEmptyName, err)
}

func TestRegisterWorksRejectsDuplicateName(t *testing.T) {
	m := NewManager()
	w := Work{
		Name:   "reconcile",
		Func:   func(*atomic.Bool) {},
		Period: time.Minute,
	}
	require.NoError(t, m.RegisterWorks(w))
	assert.Equal(t, errDuplicateName, m.RegisterWorks(w))
}

func TestManagerRunsWorkPeriodically(t *testing.T) {
	m := NewManager()
	ticks := make(chan struct{}, 100)
	err := m.RegisterWorks(Work{
		Name:   "tick",
		Func:   func(*atomic.Bool) { ticks <- struct{}{} },
		Period: time.Millisecond,
	})
	require.NoError(t, err)

	m.Start()
	defer m.Stop()

	for i := 0; i < 3; i++ {
		select {
		case <-ticks:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for periodic run")
		}
	}
}

func TestManagerStopHaltsWork(t *testing.T) {
	m := NewManager()
	ticks := make(chan struct{}, 100)
	err := m.RegisterWorks(Work{
		Name:   "tick",
		Func:   func(*atomic.Bool) { ticks <- struct{}{} },
		Period: time.Millisecond,
	})
	require.NoError(t, err)

	m.Start()
	select {
	case <-ticks:
	case <-time.After(5 * time.Second):
		t.Fatal("work never ran")
	}
	m.Stop()

	// Drain anything in flight, then verify no further runs land.
	for {
		select {
		case <-ticks:
			continue
		case <-time.After(50 * time.Millisecond):
		}
		break
	}
	select {
	case <-ticks:
		t.Fatal("work ran after Stop")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestManagerInitialDelayDefersFirstRun(t *testing.T) {
	m := NewManager()
	ran := make(chan struct{}, 1)
	err := m.RegisterWorks(Work{
		Name:         "delayed",
		Func:         func(*atomic.Bool) { ran <- struct{}{} },
		Period:       time.Hour,
		InitialDelay: 30 * time.Millisecond,
	})
	require.NoError(t, err)

	m.Start()
	defer m.Stop()

	select {
	case <-ran:
		t.Fatal("work ran before the initial delay")
	case <-time.After(5 * time.Millisecond):
	}
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("work never ran after the initial delay")
	}
}
