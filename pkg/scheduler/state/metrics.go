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
	"github.com/uber-go/tally"
)

// Metrics tracks state manager activity.
type Metrics struct {
	Transitions        tally.Counter
	NoopTransitions    tally.Counter
	IllegalTransitions tally.Counter
	InvalidCAS         tally.Counter

	TasksInserted tally.Counter
	TasksDeleted  tally.Counter
	Reschedules   tally.Counter
	Throttles     tally.Counter
	Kills         tally.Counter

	InvariantViolations tally.Counter
}

// NewMetrics returns a Metrics struct scoped under "state".
func NewMetrics(scope tally.Scope) *Metrics {
	s := scope.SubScope("state")
	return &Metrics{
		Transitions:         s.Counter("transitions"),
		NoopTransitions:     s.Counter("noop_transitions"),
		IllegalTransitions:  s.Counter("illegal_transitions"),
		InvalidCAS:          s.Counter("invalid_cas"),
		TasksInserted:       s.Counter("tasks_inserted"),
		TasksDeleted:        s.Counter("tasks_deleted"),
		Reschedules:         s.Counter("reschedules"),
		Throttles:           s.Counter("throttles"),
		Kills:               s.Counter("kills"),
		InvariantViolations: s.Counter("invariant_violations"),
	}
}
