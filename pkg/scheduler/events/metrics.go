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

package events

import (
	"github.com/uber-go/tally"
)

// Metrics tracks bus throughput per event category.
type Metrics struct {
	TaskStateChanges      tally.Counter
	TasksDeleted          tally.Counter
	HostAttributesChanges tally.Counter
	UnknownEvents         tally.Counter
}

// NewMetrics returns a Metrics struct scoped under "events".
func NewMetrics(scope tally.Scope) *Metrics {
	busScope := scope.SubScope("events")
	return &Metrics{
		TaskStateChanges:      busScope.Counter("task_state_changes"),
		TasksDeleted:          busScope.Counter("tasks_deleted"),
		HostAttributesChanges: busScope.Counter("host_attributes_changes"),
		UnknownEvents:         busScope.Counter("unknown"),
	}
}
