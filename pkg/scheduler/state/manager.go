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
	"fmt"
	"os"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pborman/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/uber-go/tally"

	"github.com/uber/borealis/pkg/scheduler/api"
	"github.com/uber/borealis/pkg/scheduler/driver"
	"github.com/uber/borealis/pkg/scheduler/events"
	"github.com/uber/borealis/pkg/storage"
)

const (
	_msgRescheduled     = "Rescheduled"
	_msgFlapPenalty     = "Rescheduled, penalized for %s for flapping"
	_msgPartitionedLost = "Action performed on partitioned task, marking as LOST."
)

// ErrInstanceCollision is returned by InsertPendingTasks when a requested
// instance already has an active task. Callers must not retry.
var ErrInstanceCollision = errors.New("state: instance id collision")

var _localHost struct {
	sync.Once
	name string
}

// localHostname memoizes the scheduler hostname used for task event
// attribution.
func localHostname() string {
	_localHost.Do(func() {
		name, err := os.Hostname()
		if err != nil {
			log.WithError(err).Warn("Unable to resolve local hostname")
			name = "unknown"
		}
		_localHost.name = name
	})
	return _localHost.name
}

// Manager drives task transitions through the state machine and applies
// the resulting side effects. All methods must be called from inside a
// storage write transaction; events are deferred to post-commit by the
// transaction itself.
type Manager struct {
	driver  driver.Driver
	resched RescheduleCalculator
	clock   clock.Clock
	metrics *Metrics
}

// NewManager creates a state Manager.
func NewManager(
	d driver.Driver,
	resched RescheduleCalculator,
	clk clock.Clock,
	scope tally.Scope) *Manager {
	return &Manager{
		driver:  d,
		resched: resched,
		clock:   clk,
		metrics: NewMetrics(scope),
	}
}

// InsertPendingTasks creates one task per instance id from the template
// and moves each INIT -> PENDING. Fails with ErrInstanceCollision if any
// requested instance already has an active task; nothing is inserted in
// that case (the surrounding transaction aborts).
func (m *Manager) InsertPendingTasks(
	mut *storage.Mutation,
	config *api.TaskConfig,
	instanceIDs []int) ([]*api.Task, error) {

	existing, err := mut.GetTasksByJob(config.Job)
	if err != nil {
		return nil, err
	}
	active := make(map[int]string)
	for _, t := range existing {
		if t.Status.IsActive() {
			active[t.InstanceID] = t.ID
		}
	}
	for _, id := range instanceIDs {
		if prior, ok := active[id]; ok {
			return nil, errors.Wrapf(ErrInstanceCollision,
				"instance %d of job %s is already active as task %s",
				id, config.Job, prior)
		}
	}

	tasks := make([]*api.Task, 0, len(instanceIDs))
	for _, id := range instanceIDs {
		t := &api.Task{
			ID:         m.generateTaskID(config.Job, id),
			InstanceID: id,
			Config:     config,
			Status:     api.TaskStateInit,
		}
		if err := mut.SaveTask(t); err != nil {
			return nil, err
		}
		if _, err := m.changeState(mut, t.ID, nil, api.TaskStatePending, ""); err != nil {
			return nil, err
		}
		saved, err := mut.GetTask(t.ID)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, saved)
	}
	m.metrics.TasksInserted.Inc(int64(len(tasks)))
	return tasks, nil
}

// ChangeState attempts one transition. expectedPrior, when non-nil, makes
// the call a compare-and-set. The outcome is returned for expected
// failures (ILLEGAL, NOOP, INVALID_CAS); the error is reserved for storage
// trouble.
func (m *Manager) ChangeState(
	mut *storage.Mutation,
	taskID string,
	expectedPrior *api.TaskState,
	target api.TaskState,
	auditMessage string) (Outcome, error) {
	return m.changeState(mut, taskID, expectedPrior, target, auditMessage)
}

// AssignTask binds a PENDING task to an agent. assign mutates the task
// with the placement outcome (ports, resource binding) before the
// transition is recorded. Anything but a SUCCESS transition is an
// invariant violation.
func (m *Manager) AssignTask(
	mut *storage.Mutation,
	taskID string,
	host string,
	agentID string,
	assign func(*api.Task) error) (*api.Task, error) {

	task, err := mut.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, errors.Errorf("cannot assign unknown task %s", taskID)
	}

	task.AgentHost = host
	task.AgentID = agentID
	if assign != nil {
		if err := assign(task); err != nil {
			return nil, errors.Wrapf(err, "failed to bind resources for task %s", taskID)
		}
	}
	if err := mut.SaveTask(task); err != nil {
		return nil, err
	}

	expected := api.TaskStatePending
	outcome, err := m.changeState(mut, taskID, &expected, api.TaskStateAssigned,
		fmt.Sprintf("Assigned to host %s", host))
	if err != nil {
		return nil, err
	}
	if outcome != OutcomeSuccess {
		// A non-SUCCESS assign is a scheduler bug, not a runtime
		// condition.
		m.metrics.InvariantViolations.Inc(1)
		return nil, errors.Errorf(
			"invariant violation: assigning task %s yielded %s", taskID, outcome)
	}
	return mut.GetTask(taskID)
}

// DeleteTasks removes tasks outright, bypassing the state machine. Used
// for operator-driven cleanup of terminal tasks.
func (m *Manager) DeleteTasks(mut *storage.Mutation, ids []string) error {
	var deleted []*api.Task
	for _, id := range ids {
		t, err := mut.GetTask(id)
		if err != nil {
			return err
		}
		if t == nil {
			continue
		}
		if err := mut.DeleteTask(id); err != nil {
			return err
		}
		deleted = append(deleted, t)
	}
	if len(deleted) > 0 {
		m.metrics.TasksDeleted.Inc(int64(len(deleted)))
		mut.DeferEvent(events.TasksDeleted{Tasks: deleted})
	}
	return nil
}

func (m *Manager) changeState(
	mut *storage.Mutation,
	taskID string,
	expectedPrior *api.TaskState,
	target api.TaskState,
	auditMessage string) (Outcome, error) {

	task, err := mut.GetTask(taskID)
	if err != nil {
		return OutcomeInvalidCAS, err
	}

	result := Evaluate(task, target, expectedPrior)
	switch result.Outcome {
	case OutcomeInvalidCAS:
		m.metrics.InvalidCAS.Inc(1)
		return result.Outcome, nil
	case OutcomeIllegal:
		m.metrics.IllegalTransitions.Inc(1)
		log.WithFields(log.Fields{
			"task_id": taskID,
			"from":    task.Status.String(),
			"to":      target.String(),
		}).Warn("Illegal task state transition attempted")
		return result.Outcome, nil
	case OutcomeNoop:
		m.metrics.NoopTransitions.Inc(1)
		return result.Outcome, nil
	}

	prev := task.Status
	for _, effect := range result.SideEffects {
		switch effect {
		case SideEffectIncrementFailures:
			task.FailureCount++

		case SideEffectSaveState:
			task.Status = target
			if target == api.TaskStatePartitioned {
				task.TimesPartitioned++
				task.Events = CompactPartitionEvents(task.Events)
			}
			task.Events = append(task.Events, api.TaskEvent{
				Timestamp: m.clock.Now(),
				Status:    target,
				Message:   auditMessage,
				Scheduler: localHostname(),
			})
			if err := mut.SaveTask(task); err != nil {
				return result.Outcome, err
			}
			mut.DeferEvent(events.TaskStateChange{
				Task:          task.Clone(),
				PreviousState: prev,
			})

		case SideEffectReschedule:
			if err := m.rescheduleTask(mut, task); err != nil {
				return result.Outcome, err
			}

		case SideEffectTransitionToLost:
			return m.changeState(mut, taskID, nil, api.TaskStateLost, _msgPartitionedLost)

		case SideEffectKill:
			m.metrics.Kills.Inc(1)
			if err := m.driver.KillTask(task.ID); err != nil {
				log.WithError(err).
					WithField("task_id", task.ID).
					Warn("Kill message not enqueued, reconciliation will converge")
			}

		case SideEffectDelete:
			if err := mut.DeleteTask(task.ID); err != nil {
				return result.Outcome, err
			}
			m.metrics.TasksDeleted.Inc(1)
			mut.DeferEvent(events.TasksDeleted{Tasks: []*api.Task{task.Clone()}})
		}
	}
	m.metrics.Transitions.Inc(1)
	return result.Outcome, nil
}

// rescheduleTask creates the replacement for a task leaving the active
// set. The replacement inherits the failure count, partition count and
// lineage, and is routed through THROTTLED when the flap penalty oracle
// assigns a penalty.
func (m *Manager) rescheduleTask(mut *storage.Mutation, exited *api.Task) error {
	replacement := &api.Task{
		ID:               m.generateTaskID(exited.Config.Job, exited.InstanceID),
		InstanceID:       exited.InstanceID,
		Config:           exited.Config,
		Status:           api.TaskStateInit,
		FailureCount:     exited.FailureCount,
		TimesPartitioned: exited.TimesPartitioned,
		AncestorID:       exited.ID,
	}

	penalty := m.resched.FlapPenalty(exited, m.clock.Now())
	target := api.TaskStatePending
	message := _msgRescheduled
	if penalty > 0 {
		replacement.PenaltyDeadline = m.clock.Now().Add(penalty)
		target = api.TaskStateThrottled
		message = fmt.Sprintf(_msgFlapPenalty, penalty)
		m.metrics.Throttles.Inc(1)
	}
	m.metrics.Reschedules.Inc(1)

	if err := mut.SaveTask(replacement); err != nil {
		return err
	}
	_, err := m.changeState(mut, replacement.ID, nil, target, message)
	return err
}

func (m *Manager) generateTaskID(job api.JobKey, instance int) string {
	return fmt.Sprintf("%s-%s-%s-%d-%s",
		job.Role, job.Environment, job.Name, instance, uuid.NewUUID().String())
}
