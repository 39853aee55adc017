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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/uber/borealis/pkg/scheduler/api"
)

func testTask(status api.TaskState) *api.Task {
	return &api.Task{
		ID:     "test-task",
		Status: status,
		Config: &api.TaskConfig{
			Job:             api.JobKey{Role: "www", Environment: "prod", Name: "server"},
			MaxTaskFailures: -1,
		},
	}
}

func TestEvaluateSimpleSave(t *testing.T) {
	result := Evaluate(testTask(api.TaskStateInit), api.TaskStatePending, nil)
	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, []SideEffect{SideEffectSaveState}, result.SideEffects)
}

func TestEvaluateNilTaskIsInvalidCAS(t *testing.T) {
	result := Evaluate(nil, api.TaskStatePending, nil)
	assert.Equal(t, OutcomeInvalidCAS, result.Outcome)
	assert.Empty(t, result.SideEffects)
}

func TestEvaluateCASMismatch(t *testing.T) {
	expected := api.TaskStateStarting
	result := Evaluate(testTask(api.TaskStatePending), api.TaskStateAssigned, &expected)
	assert.Equal(t, OutcomeInvalidCAS, result.Outcome)
	assert.Empty(t, result.SideEffects)
}

func TestEvaluateCASMatchSucceeds(t *testing.T) {
	expected := api.TaskStatePending
	result := Evaluate(testTask(api.TaskStatePending), api.TaskStateAssigned, &expected)
	assert.Equal(t, OutcomeSuccess, result.Outcome)
}

func TestEvaluateSameStateIsNoop(t *testing.T) {
	result := Evaluate(testTask(api.TaskStateRunning), api.TaskStateRunning, nil)
	assert.Equal(t, OutcomeNoop, result.Outcome)
	assert.Empty(t, result.SideEffects)
}

func TestEvaluateMissingEdgeIsIllegal(t *testing.T) {
	result := Evaluate(testTask(api.TaskStatePending), api.TaskStateRunning, nil)
	assert.Equal(t, OutcomeIllegal, result.Outcome)
	assert.Empty(t, result.SideEffects)
}

func TestEvaluateTerminalEdgeIsIllegalSource(t *testing.T) {
	for _, terminal := range []api.TaskState{
		api.TaskStateFinished,
		api.TaskStateFailed,
		api.TaskStateKilled,
		api.TaskStateLost,
	} {
		result := Evaluate(testTask(terminal), api.TaskStatePending, nil)
		assert.Equal(t, OutcomeIllegal, result.Outcome,
			"terminal state %s must not transition", terminal)
	}
}

func TestEvaluateFailureEffectOrder(t *testing.T) {
	result := Evaluate(testTask(api.TaskStateRunning), api.TaskStateFailed, nil)
	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, []SideEffect{
		SideEffectIncrementFailures,
		SideEffectSaveState,
		SideEffectReschedule,
		SideEffectDelete,
	}, result.SideEffects)
}

func TestEvaluateFailureBudgetExhausted(t *testing.T) {
	task := testTask(api.TaskStateRunning)
	task.Config = &api.TaskConfig{
		Job:             task.Config.Job,
		MaxTaskFailures: 1,
	}
	result := Evaluate(task, api.TaskStateFailed, nil)
	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.NotContains(t, result.SideEffects, SideEffectReschedule)
}

func TestEvaluateCommandStateFailureAlwaysReschedules(t *testing.T) {
	task := testTask(api.TaskStatePreempting)
	task.Config = &api.TaskConfig{
		Job:             task.Config.Job,
		MaxTaskFailures: 1,
	}
	result := Evaluate(task, api.TaskStateFailed, nil)
	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Contains(t, result.SideEffects, SideEffectReschedule)
}

func TestEvaluateLostEmitsKill(t *testing.T) {
	result := Evaluate(testTask(api.TaskStateRunning), api.TaskStateLost, nil)
	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, []SideEffect{
		SideEffectSaveState,
		SideEffectReschedule,
		SideEffectKill,
		SideEffectDelete,
	}, result.SideEffects)
}

func TestEvaluatePartitionedCommandMarksLost(t *testing.T) {
	for _, target := range []api.TaskState{
		api.TaskStateKilling,
		api.TaskStateRestarting,
		api.TaskStateDraining,
		api.TaskStatePreempting,
	} {
		result := Evaluate(testTask(api.TaskStatePartitioned), target, nil)
		assert.Equal(t, OutcomeSuccess, result.Outcome)
		assert.Equal(t, []SideEffect{SideEffectTransitionToLost}, result.SideEffects,
			"PARTITIONED -> %s must defer to LOST", target)
	}
}

// Every terminal entry must save exactly once and delete exactly once, so
// the active set never retains terminal rows.
func TestEvaluateTerminalEntriesSaveAndDeleteOnce(t *testing.T) {
	for from, targets := range _rules {
		for to := range targets {
			if !to.IsTerminal() {
				continue
			}
			result := Evaluate(testTask(from), to, nil)
			assert.Equal(t, OutcomeSuccess, result.Outcome)
			saves, deletes := 0, 0
			for _, e := range result.SideEffects {
				switch e {
				case SideEffectSaveState:
					saves++
				case SideEffectDelete:
					deletes++
				}
			}
			assert.Equal(t, 1, saves, "%s -> %s", from, to)
			assert.Equal(t, 1, deletes, "%s -> %s", from, to)
		}
	}
}

func eventSeq(states ...api.TaskState) []api.TaskEvent {
	events := make([]api.TaskEvent, len(states))
	base := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, s := range states {
		events[i] = api.TaskEvent{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Status:    s,
		}
	}
	return events
}

func TestCompactPartitionEventsDropsTrailingCycle(t *testing.T) {
	events := eventSeq(
		api.TaskStatePending,
		api.TaskStateRunning,
		api.TaskStatePartitioned,
		api.TaskStateRunning,
	)
	compacted := CompactPartitionEvents(events)
	assert.Len(t, compacted, 2)
	assert.Equal(t, api.TaskStateRunning, compacted[1].Status)
	assert.Equal(t, events[1].Timestamp, compacted[1].Timestamp)
}

func TestCompactPartitionEventsIsIdempotent(t *testing.T) {
	events := eventSeq(
		api.TaskStateRunning,
		api.TaskStatePartitioned,
		api.TaskStateRunning,
	)
	once := CompactPartitionEvents(events)
	twice := CompactPartitionEvents(once)
	assert.Equal(t, once, twice)
}

func TestCompactPartitionEventsLeavesNonCycleAlone(t *testing.T) {
	events := eventSeq(
		api.TaskStateStarting,
		api.TaskStatePartitioned,
		api.TaskStateRunning,
	)
	assert.Equal(t, events, CompactPartitionEvents(events))

	short := eventSeq(api.TaskStatePartitioned, api.TaskStateRunning)
	assert.Equal(t, short, CompactPartitionEvents(short))
}
