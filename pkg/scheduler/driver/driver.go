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

// Package driver carries outbound messages to the agent fleet. Calls are
// fire-and-forget from the caller's point of view; delivery is best effort
// and reconciliation converges any misses.
package driver

import (
	"time"

	"github.com/uber/borealis/pkg/scheduler/api"
)

// TaskStatus is the scheduler's view of one task, sent during
// reconciliation.
type TaskStatus struct {
	TaskID  string
	AgentID string
	State   api.TaskState
}

// Driver is the outbound surface used by the scheduler core.
type Driver interface {
	// LaunchTask launches a task on the agent that made the offer.
	LaunchTask(offerID string, task *api.Task) error
	// KillTask asks the task's agent to kill it.
	KillTask(taskID string) error
	// DeclineOffer returns an offer to the cluster, hinting with
	// filterDuration when the resources may be re-offered.
	DeclineOffer(offerID string, filterDuration time.Duration) error
	// ReconcileTasks requests status for the given tasks; an empty list
	// requests implicit reconciliation of everything.
	ReconcileTasks(statuses []TaskStatus) error
}

// Transport performs the actual cluster message send. Implementations may
// fail transiently; the driver retries around them.
type Transport interface {
	SendLaunch(offerID string, task *api.Task) error
	SendKill(taskID string) error
	SendDecline(offerID string, filterDuration time.Duration) error
	SendReconcile(statuses []TaskStatus) error
}
