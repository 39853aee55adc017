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
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"

	"github.com/uber/borealis/pkg/scheduler/api"
)

type recordingTransport struct {
	mu         sync.Mutex
	launches   []*api.Task
	kills      []string
	declines   []string
	reconciles [][]TaskStatus
	failures   int

	sent chan struct{}
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{sent: make(chan struct{}, 100)}
}

func (t *recordingTransport) fail() error {
	if t.failures > 0 {
		t.failures--
		return errors.New("transport unavailable")
	}
	return nil
}

func (t *recordingTransport) SendLaunch(offerID string, task *api.Task) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fail(); err != nil {
		return err
	}
	t.launches = append(t.launches, task)
	t.sent <- struct{}{}
	return nil
}

func (t *recordingTransport) SendKill(taskID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fail(); err != nil {
		return err
	}
	t.kills = append(t.kills, taskID)
	t.sent <- struct{}{}
	return nil
}

func (t *recordingTransport) SendDecline(offerID string, filterDuration time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fail(); err != nil {
		return err
	}
	t.declines = append(t.declines, offerID)
	t.sent <- struct{}{}
	return nil
}

func (t *recordingTransport) SendReconcile(statuses []TaskStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fail(); err != nil {
		return err
	}
	t.reconciles = append(t.reconciles, statuses)
	t.sent <- struct{}{}
	return nil
}

func (t *recordingTransport) await(s *testing.T, n int) {
	s.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-t.sent:
		case <-time.After(5 * time.Second):
			s.Fatal("timed out waiting for transport send")
		}
	}
}

func TestQueuedDriverDeliversInOrder(t *testing.T) {
	transport := newRecordingTransport()
	d := NewQueued(transport, Config{}, tally.NoopScope)
	d.Start()
	defer d.Stop()

	require.NoError(t, d.KillTask("t1"))
	require.NoError(t, d.DeclineOffer("o1", 5*time.Second))
	require.NoError(t, d.KillTask("t2"))

	transport.await(t, 3)
	transport.mu.Lock()
	defer transport.mu.Unlock()
	assert.Equal(t, []string{"t1", "t2"}, transport.kills)
	assert.Equal(t, []string{"o1"}, transport.declines)
}

func TestQueuedDriverRetriesTransientFailures(t *testing.T) {
	transport := newRecordingTransport()
	transport.failures = 2
	d := NewQueued(transport, Config{
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMaxAttempts:    5,
	}, tally.NoopScope)
	d.Start()
	defer d.Stop()

	require.NoError(t, d.KillTask("t1"))

	transport.await(t, 1)
	transport.mu.Lock()
	defer transport.mu.Unlock()
	assert.Equal(t, []string{"t1"}, transport.kills)
}

func TestQueuedDriverFullQueue(t *testing.T) {
	transport := newRecordingTransport()
	d := NewQueued(transport, Config{QueueSize: 1}, tally.NoopScope)
	// Never started, so the first message sits in the queue.

	require.NoError(t, d.KillTask("t1"))
	err := d.KillTask("t2")
	assert.Equal(t, ErrQueueFull, errors.Cause(err))
}

func TestQueuedDriverLaunchClonesTask(t *testing.T) {
	transport := newRecordingTransport()
	d := NewQueued(transport, Config{}, tally.NoopScope)
	d.Start()
	defer d.Stop()

	task := &api.Task{ID: "t1", Status: api.TaskStateAssigned}
	require.NoError(t, d.LaunchTask("o1", task))
	task.Status = api.TaskStateLost

	transport.await(t, 1)
	transport.mu.Lock()
	defer transport.mu.Unlock()
	require.Len(t, transport.launches, 1)
	assert.Equal(t, api.TaskStateAssigned, transport.launches[0].Status)
}

func TestQueuedDriverReconcileCopiesStatuses(t *testing.T) {
	transport := newRecordingTransport()
	d := NewQueued(transport, Config{}, tally.NoopScope)
	d.Start()
	defer d.Stop()

	statuses := []TaskStatus{{TaskID: "t1", AgentID: "a1", State: api.TaskStateRunning}}
	require.NoError(t, d.ReconcileTasks(statuses))
	statuses[0].TaskID = "mutated"

	transport.await(t, 1)
	transport.mu.Lock()
	defer transport.mu.Unlock()
	require.Len(t, transport.reconciles, 1)
	assert.Equal(t, "t1", transport.reconciles[0][0].TaskID)
}

func TestQueuedDriverStopIsIdempotent(t *testing.T) {
	transport := newRecordingTransport()
	d := NewQueued(transport, Config{}, tally.NoopScope)
	d.Start()
	d.Start()
	d.Stop()
	d.Stop()
}
