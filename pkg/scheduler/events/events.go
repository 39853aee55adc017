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

// Package events is the typed event bus connecting storage commits to
// interested subsystems. Delivery is synchronous, in commit order.
package events

import (
	"github.com/uber/borealis/pkg/scheduler/api"
)

// TaskStateChange is published after a task transition commits.
type TaskStateChange struct {
	Task          *api.Task
	PreviousState api.TaskState
}

// TasksDeleted is published after tasks are removed from storage.
type TasksDeleted struct {
	Tasks []*api.Task
}

// HostAttributesChanged is published after a host attribute record is
// merged and saved.
type HostAttributesChanged struct {
	Attributes *api.HostAttributes
}

// SchedulerActive is published once the scheduler becomes the active
// instance and storage is recovered.
type SchedulerActive struct{}
