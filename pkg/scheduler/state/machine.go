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

// Package state holds the task lifecycle state machine and the state
// manager that applies its side effects under a storage transaction.
package state

import (
	"sort"

	"github.com/uber/borealis/pkg/scheduler/api"
)

// SideEffect is an action a transition requires the state manager to take.
// The numeric order of the constants is the canonical application order:
// failure counters are bumped before the reschedule reads them, the save
// happens before the replacement task copies the old one, and deletion is
// always last.
type SideEffect int

// Side effects in canonical application order.
const (
	SideEffectIncrementFailures SideEffect = iota
	SideEffectSaveState
	SideEffectReschedule
	SideEffectTransitionToLost
	SideEffectKill
	SideEffectDelete
)

var _effectNames = map[SideEffect]string{
	SideEffectIncrementFailures: "INCREMENT_FAILURES",
	SideEffectSaveState:         "SAVE_STATE",
	SideEffectReschedule:        "RESCHEDULE",
	SideEffectTransitionToLost:  "TRANSITION_TO_LOST",
	SideEffectKill:              "KILL",
	SideEffectDelete:            "DELETE",
}

func (e SideEffect) String() string {
	return _effectNames[e]
}

// Outcome classifies the result of a transition attempt.
type Outcome int

// Transition outcomes.
const (
	OutcomeSuccess Outcome = iota
	OutcomeIllegal
	OutcomeNoop
	OutcomeInvalidCAS
)

var _outcomeNames = map[Outcome]string{
	OutcomeSuccess:    "SUCCESS",
	OutcomeIllegal:    "ILLEGAL",
	OutcomeNoop:       "NOOP",
	OutcomeInvalidCAS: "INVALID_CAS",
}

func (o Outcome) String() string {
	return _outcomeNames[o]
}

// TransitionResult is the decision of the state machine for one attempted
// transition. SideEffects is sorted in canonical order.
type TransitionResult struct {
	Outcome     Outcome
	SideEffects []SideEffect
}

// effectsFn computes the side effects of an edge given the task taking it.
type effectsFn func(t *api.Task) []SideEffect

func static(effects ...SideEffect) effectsFn {
	return func(*api.Task) []SideEffect {
		return effects
	}
}

// retryAllowed reports whether the task's failure policy admits another
// attempt after one more failure. A negative limit means unlimited.
func retryAllowed(t *api.Task) bool {
	max := t.Config.MaxTaskFailures
	return max < 0 || t.FailureCount+1 < max
}

// failureEffects handles entry into FAILED. alwaysReschedule is set on
// edges out of command states, where the exit was operator-driven and the
// task must come back regardless of its failure budget.
func failureEffects(alwaysReschedule bool) effectsFn {
	return func(t *api.Task) []SideEffect {
		effects := []SideEffect{
			SideEffectIncrementFailures,
			SideEffectSaveState,
			SideEffectDelete,
		}
		if alwaysReschedule || retryAllowed(t) {
			effects = append(effects, SideEffectReschedule)
		}
		return effects
	}
}

var (
	_save        = static(SideEffectSaveState)
	_saveDelete  = static(SideEffectSaveState, SideEffectDelete)
	_rescheduled = static(SideEffectSaveState, SideEffectReschedule, SideEffectDelete)
	_lost        = static(SideEffectSaveState, SideEffectReschedule, SideEffectKill, SideEffectDelete)
	_killCommand = static(SideEffectKill, SideEffectSaveState)
	_markLost    = static(SideEffectTransitionToLost)
)

// _rules maps (from, to) to the side effects of the edge. Absent entries
// are illegal transitions.
var _rules = map[api.TaskState]map[api.TaskState]effectsFn{
	api.TaskStateInit: {
		api.TaskStatePending:   _save,
		api.TaskStateThrottled: _save,
		api.TaskStateKilled:    _saveDelete,
	},
	api.TaskStatePending: {
		api.TaskStateAssigned: _save,
		api.TaskStateKilled:   _saveDelete,
	},
	api.TaskStateThrottled: {
		api.TaskStatePending: _save,
		api.TaskStateKilled:  _saveDelete,
	},
	api.TaskStateAssigned: {
		api.TaskStateStarting:    _save,
		api.TaskStateRunning:     _save,
		api.TaskStatePartitioned: _save,
		api.TaskStateKilling:     _killCommand,
		api.TaskStateRestarting:  _killCommand,
		api.TaskStateDraining:    _killCommand,
		api.TaskStatePreempting:  _save,
		api.TaskStateFinished:    _saveDelete,
		api.TaskStateFailed:      failureEffects(false),
		api.TaskStateKilled:      _rescheduled,
		api.TaskStateLost:        _lost,
	},
	api.TaskStateStarting: {
		api.TaskStateRunning:     _save,
		api.TaskStatePartitioned: _save,
		api.TaskStateKilling:     _killCommand,
		api.TaskStateRestarting:  _killCommand,
		api.TaskStateDraining:    _killCommand,
		api.TaskStatePreempting:  _save,
		api.TaskStateFinished:    _saveDelete,
		api.TaskStateFailed:      failureEffects(false),
		api.TaskStateKilled:      _rescheduled,
		api.TaskStateLost:        _lost,
	},
	api.TaskStateRunning: {
		api.TaskStatePartitioned: _save,
		api.TaskStateKilling:     _killCommand,
		api.TaskStateRestarting:  _killCommand,
		api.TaskStateDraining:    _killCommand,
		api.TaskStatePreempting:  _save,
		api.TaskStateFinished:    _saveDelete,
		api.TaskStateFailed:      failureEffects(false),
		api.TaskStateKilled:      _rescheduled,
		api.TaskStateLost:        _lost,
	},
	api.TaskStatePartitioned: {
		api.TaskStateAssigned:   _save,
		api.TaskStateStarting:   _save,
		api.TaskStateRunning:    _save,
		api.TaskStateKilling:    _markLost,
		api.TaskStateRestarting: _markLost,
		api.TaskStateDraining:   _markLost,
		api.TaskStatePreempting: _markLost,
		api.TaskStateFinished:   _rescheduled,
		api.TaskStateFailed:     failureEffects(false),
		api.TaskStateKilled:     _rescheduled,
		api.TaskStateLost:       _lost,
	},
	api.TaskStatePreempting: {
		api.TaskStateKilling:  _killCommand,
		api.TaskStateFinished: _rescheduled,
		api.TaskStateFailed:   failureEffects(true),
		api.TaskStateKilled:   _rescheduled,
		api.TaskStateLost:     _lost,
	},
	api.TaskStateRestarting: {
		api.TaskStateKilling:  _save,
		api.TaskStateFinished: _rescheduled,
		api.TaskStateFailed:   failureEffects(true),
		api.TaskStateKilled:   _rescheduled,
		api.TaskStateLost:     _lost,
	},
	api.TaskStateDraining: {
		api.TaskStateKilling:  _save,
		api.TaskStateFinished: _rescheduled,
		api.TaskStateFailed:   failureEffects(true),
		api.TaskStateKilled:   _rescheduled,
		api.TaskStateLost:     _lost,
	},
	api.TaskStateKilling: {
		api.TaskStateFinished: _saveDelete,
		api.TaskStateFailed:   _saveDelete,
		api.TaskStateKilled:   _saveDelete,
		api.TaskStateLost:     _saveDelete,
	},
}

// Evaluate decides the outcome and side effects of transitioning a task to
// target. A nil task, or a mismatch against expectedPrior, yields
// INVALID_CAS with no side effects. A same-state target is a NOOP; an edge
// absent from the transition table is ILLEGAL.
func Evaluate(t *api.Task, target api.TaskState, expectedPrior *api.TaskState) TransitionResult {
	if t == nil {
		return TransitionResult{Outcome: OutcomeInvalidCAS}
	}
	if expectedPrior != nil && *expectedPrior != t.Status {
		return TransitionResult{Outcome: OutcomeInvalidCAS}
	}
	if t.Status == target {
		return TransitionResult{Outcome: OutcomeNoop}
	}

	targets, ok := _rules[t.Status]
	if !ok {
		return TransitionResult{Outcome: OutcomeIllegal}
	}
	fn, ok := targets[target]
	if !ok {
		return TransitionResult{Outcome: OutcomeIllegal}
	}

	effects := append([]SideEffect(nil), fn(t)...)
	sort.Slice(effects, func(i, j int) bool { return effects[i] < effects[j] })
	return TransitionResult{
		Outcome:     OutcomeSuccess,
		SideEffects: effects,
	}
}

// CompactPartitionEvents removes a trailing X, PARTITIONED, X cycle from
// the event history, keeping the first X. It is applied before appending a
// new PARTITIONED event so that flapping agents cannot grow the history
// without bound. Applying it twice yields the same list.
func CompactPartitionEvents(taskEvents []api.TaskEvent) []api.TaskEvent {
	n := len(taskEvents)
	if n < 3 {
		return taskEvents
	}
	if taskEvents[n-2].Status == api.TaskStatePartitioned &&
		taskEvents[n-3].Status == taskEvents[n-1].Status {
		return taskEvents[:n-2]
	}
	return taskEvents
}
