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
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/suite"
	"github.com/uber-go/tally"

	"github.com/uber/borealis/pkg/scheduler/api"
	"github.com/uber/borealis/pkg/scheduler/driver"
	"github.com/uber/borealis/pkg/scheduler/events"
	"github.com/uber/borealis/pkg/storage"
)

type fakeDriver struct {
	mu       sync.Mutex
	launches []string
	kills    []string
	declines []string
}

func (d *fakeDriver) LaunchTask(offerID string, task *api.Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.launches = append(d.launches, task.ID)
	return nil
}

func (d *fakeDriver) KillTask(taskID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.kills = append(d.kills, taskID)
	return nil
}

func (d *fakeDriver) DeclineOffer(offerID string, filterDuration time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.declines = append(d.declines, offerID)
	return nil
}

func (d *fakeDriver) ReconcileTasks(statuses []driver.TaskStatus) error {
	return nil
}

type fixedResched struct {
	penalty time.Duration
}

func (f fixedResched) FlapPenalty(*api.Task, time.Time) time.Duration {
	return f.penalty
}

type ManagerTestSuite struct {
	suite.Suite

	clock   *clock.Mock
	driver  *fakeDriver
	store   *storage.Storage
	manager *Manager

	changes []events.TaskStateChange
	deleted []events.TasksDeleted
}

func TestManagerTestSuite(t *testing.T) {
	suite.Run(t, new(ManagerTestSuite))
}

func (s *ManagerTestSuite) SetupTest() {
	s.clock = clock.NewMock()
	s.clock.Set(time.Date(2019, 6, 1, 12, 0, 0, 0, time.UTC))
	s.driver = &fakeDriver{}
	s.changes = nil
	s.deleted = nil

	bus := events.NewBus(
		tally.NoopScope,
		events.WithTaskStateChangeHandler(func(e events.TaskStateChange) {
			s.changes = append(s.changes, e)
		}),
		events.WithTasksDeletedHandler(func(e events.TasksDeleted) {
			s.deleted = append(s.deleted, e)
		}),
	)
	store, err := storage.New(bus, tally.NoopScope)
	s.Require().NoError(err)
	s.store = store
	s.manager = NewManager(s.driver, fixedResched{}, s.clock, tally.NoopScope)
}

func (s *ManagerTestSuite) config() *api.TaskConfig {
	return &api.TaskConfig{
		Job:             api.JobKey{Role: "www", Environment: "prod", Name: "server"},
		Tier:            api.TierPreferred,
		MaxTaskFailures: -1,
	}
}

func (s *ManagerTestSuite) insert(instanceIDs ...int) []*api.Task {
	var tasks []*api.Task
	err := s.store.Write(func(mut *storage.Mutation) error {
		var err error
		tasks, err = s.manager.InsertPendingTasks(mut, s.config(), instanceIDs)
		return err
	})
	s.Require().NoError(err)
	return tasks
}

func (s *ManagerTestSuite) transition(taskID string, target api.TaskState) Outcome {
	var outcome Outcome
	err := s.store.Write(func(mut *storage.Mutation) error {
		var err error
		outcome, err = s.manager.ChangeState(mut, taskID, nil, target, "test")
		return err
	})
	s.Require().NoError(err)
	return outcome
}

func (s *ManagerTestSuite) getTask(id string) *api.Task {
	var task *api.Task
	err := s.store.Read(func(v *storage.View) error {
		var err error
		task, err = v.GetTask(id)
		return err
	})
	s.Require().NoError(err)
	return task
}

func (s *ManagerTestSuite) jobTasks() []*api.Task {
	var tasks []*api.Task
	err := s.store.Read(func(v *storage.View) error {
		var err error
		tasks, err = v.GetTasksByJob(s.config().Job)
		return err
	})
	s.Require().NoError(err)
	return tasks
}

func (s *ManagerTestSuite) TestInsertPendingTasks() {
	tasks := s.insert(0, 1)
	s.Len(tasks, 2)
	for _, t := range tasks {
		s.Equal(api.TaskStatePending, t.Status)
		s.Len(t.Events, 1)
		s.Equal(api.TaskStatePending, t.Events[0].Status)
	}
	s.Len(s.changes, 2)
	for _, c := range s.changes {
		s.Equal(api.TaskStateInit, c.PreviousState)
	}
}

func (s *ManagerTestSuite) TestInsertCollision() {
	s.insert(0)
	err := s.store.Write(func(mut *storage.Mutation) error {
		_, err := s.manager.InsertPendingTasks(mut, s.config(), []int{0, 1})
		return err
	})
	s.Error(err)
	s.True(errors.Is(errors.Cause(err), ErrInstanceCollision) ||
		errors.Cause(err) == ErrInstanceCollision)
	// The aborted transaction must not have inserted instance 1 either.
	s.Len(s.jobTasks(), 1)
}

func (s *ManagerTestSuite) TestAssignTask() {
	task := s.insert(0)[0]
	var assigned *api.Task
	err := s.store.Write(func(mut *storage.Mutation) error {
		var err error
		assigned, err = s.manager.AssignTask(
			mut, task.ID, "host-1", "agent-1",
			func(t *api.Task) error {
				t.AssignedPorts = map[string]uint32{"http": 31000}
				return nil
			})
		return err
	})
	s.Require().NoError(err)
	s.Equal(api.TaskStateAssigned, assigned.Status)
	s.Equal("host-1", assigned.AgentHost)
	s.Equal("agent-1", assigned.AgentID)
	s.Equal(uint32(31000), assigned.AssignedPorts["http"])
}

func (s *ManagerTestSuite) TestAssignUnknownTask() {
	err := s.store.Write(func(mut *storage.Mutation) error {
		_, err := s.manager.AssignTask(mut, "no-such-task", "h", "a", nil)
		return err
	})
	s.Error(err)
}

func (s *ManagerTestSuite) TestInvalidCASLeavesTaskUntouched() {
	task := s.insert(0)[0]
	before := len(s.changes)

	var outcome Outcome
	err := s.store.Write(func(mut *storage.Mutation) error {
		expected := api.TaskStateStarting
		var err error
		outcome, err = s.manager.ChangeState(
			mut, task.ID, &expected, api.TaskStateAssigned, "test")
		return err
	})
	s.Require().NoError(err)
	s.Equal(OutcomeInvalidCAS, outcome)
	s.Equal(api.TaskStatePending, s.getTask(task.ID).Status)
	s.Len(s.changes, before)
}

func (s *ManagerTestSuite) toRunning(taskID string) {
	err := s.store.Write(func(mut *storage.Mutation) error {
		if _, err := s.manager.AssignTask(mut, taskID, "host-1", "agent-1", nil); err != nil {
			return err
		}
		if _, err := s.manager.ChangeState(mut, taskID, nil, api.TaskStateStarting, ""); err != nil {
			return err
		}
		_, err := s.manager.ChangeState(mut, taskID, nil, api.TaskStateRunning, "")
		return err
	})
	s.Require().NoError(err)
}

func (s *ManagerTestSuite) TestKillingEnqueuesKill() {
	task := s.insert(0)[0]
	s.toRunning(task.ID)

	s.Equal(OutcomeSuccess, s.transition(task.ID, api.TaskStateKilling))
	s.Equal(api.TaskStateKilling, s.getTask(task.ID).Status)
	s.Equal([]string{task.ID}, s.driver.kills)
}

func (s *ManagerTestSuite) TestFinishedDeletesWithoutReschedule() {
	task := s.insert(0)[0]
	s.toRunning(task.ID)

	s.Equal(OutcomeSuccess, s.transition(task.ID, api.TaskStateFinished))
	s.Nil(s.getTask(task.ID))
	s.Empty(s.jobTasks())
	s.Require().Len(s.deleted, 1)
	s.Equal(task.ID, s.deleted[0].Tasks[0].ID)
}

func (s *ManagerTestSuite) TestKilledReschedules() {
	task := s.insert(0)[0]
	s.toRunning(task.ID)

	s.Equal(OutcomeSuccess, s.transition(task.ID, api.TaskStateKilled))
	s.Nil(s.getTask(task.ID))

	replacements := s.jobTasks()
	s.Require().Len(replacements, 1)
	r := replacements[0]
	s.NotEqual(task.ID, r.ID)
	s.Equal(task.InstanceID, r.InstanceID)
	s.Equal(task.ID, r.AncestorID)
	s.Equal(api.TaskStatePending, r.Status)
}

func (s *ManagerTestSuite) TestFlapPenaltyThrottlesReplacement() {
	s.manager.resched = fixedResched{penalty: 30 * time.Second}
	task := s.insert(0)[0]
	s.toRunning(task.ID)

	s.Equal(OutcomeSuccess, s.transition(task.ID, api.TaskStateFailed))

	replacements := s.jobTasks()
	s.Require().Len(replacements, 1)
	r := replacements[0]
	s.Equal(api.TaskStateThrottled, r.Status)
	s.Equal(s.clock.Now().Add(30*time.Second), r.PenaltyDeadline)
	s.Equal(task.FailureCount+1, r.FailureCount)
}

func (s *ManagerTestSuite) TestPartitionedCommandBecomesLost() {
	task := s.insert(0)[0]
	s.toRunning(task.ID)
	s.Equal(OutcomeSuccess, s.transition(task.ID, api.TaskStatePartitioned))

	s.Equal(OutcomeSuccess, s.transition(task.ID, api.TaskStateKilling))
	s.Nil(s.getTask(task.ID))

	// LOST entry reschedules and enqueues a best-effort kill.
	s.Contains(s.driver.kills, task.ID)
	replacements := s.jobTasks()
	s.Require().Len(replacements, 1)
	s.Equal(api.TaskStatePending, replacements[0].Status)
}

func (s *ManagerTestSuite) TestPartitionCycleCompaction() {
	task := s.insert(0)[0]
	s.toRunning(task.ID)

	s.Equal(OutcomeSuccess, s.transition(task.ID, api.TaskStatePartitioned))
	s.Equal(OutcomeSuccess, s.transition(task.ID, api.TaskStateRunning))
	s.Equal(OutcomeSuccess, s.transition(task.ID, api.TaskStatePartitioned))

	got := s.getTask(task.ID)
	s.Equal(2, got.TimesPartitioned)
	statuses := make([]api.TaskState, len(got.Events))
	for i, e := range got.Events {
		statuses[i] = e.Status
	}
	s.Equal([]api.TaskState{
		api.TaskStatePending,
		api.TaskStateAssigned,
		api.TaskStateStarting,
		api.TaskStateRunning,
		api.TaskStatePartitioned,
	}, statuses)
}

func (s *ManagerTestSuite) TestDeleteTasksBypassesStateMachine() {
	task := s.insert(0)[0]
	err := s.store.Write(func(mut *storage.Mutation) error {
		return s.manager.DeleteTasks(mut, []string{task.ID, "no-such-task"})
	})
	s.Require().NoError(err)
	s.Nil(s.getTask(task.ID))
	s.Require().Len(s.deleted, 1)
}
