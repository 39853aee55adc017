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

// Package api holds the scheduler-internal task, job, offer and host
// attribute objects shared across packages.
package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/uber/borealis/pkg/scheduler/resources"
)

// TaskState is the lifecycle state of a task.
type TaskState int

// Task lifecycle states.
const (
	TaskStateInit TaskState = iota
	TaskStatePending
	TaskStateThrottled
	TaskStateAssigned
	TaskStateStarting
	TaskStateRunning
	TaskStatePartitioned
	TaskStatePreempting
	TaskStateRestarting
	TaskStateDraining
	TaskStateKilling
	TaskStateFinished
	TaskStateFailed
	TaskStateKilled
	TaskStateLost
)

var _stateNames = map[TaskState]string{
	TaskStateInit:        "INIT",
	TaskStatePending:     "PENDING",
	TaskStateThrottled:   "THROTTLED",
	TaskStateAssigned:    "ASSIGNED",
	TaskStateStarting:    "STARTING",
	TaskStateRunning:     "RUNNING",
	TaskStatePartitioned: "PARTITIONED",
	TaskStatePreempting:  "PREEMPTING",
	TaskStateRestarting:  "RESTARTING",
	TaskStateDraining:    "DRAINING",
	TaskStateKilling:     "KILLING",
	TaskStateFinished:    "FINISHED",
	TaskStateFailed:      "FAILED",
	TaskStateKilled:      "KILLED",
	TaskStateLost:        "LOST",
}

func (s TaskState) String() string {
	if n, ok := _stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("TaskState(%d)", int(s))
}

// IsTerminal reports whether the state is terminal. Terminal tasks are
// never mutated again, only deleted.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateFinished, TaskStateFailed, TaskStateKilled, TaskStateLost:
		return true
	}
	return false
}

// IsActive is the complement of IsTerminal.
func (s TaskState) IsActive() bool {
	return !s.IsTerminal()
}

// JobKey uniquely identifies a job.
type JobKey struct {
	Role        string `yaml:"role"`
	Environment string `yaml:"environment"`
	Name        string `yaml:"name"`
}

func (k JobKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Role, k.Environment, k.Name)
}

// Tier controls preemption eligibility and revocability. A task may only
// preempt tasks of a strictly lower tier rank.
type Tier string

// Predefined tiers, lowest rank first.
const (
	TierRevocable   Tier = "revocable"
	TierPreemptible Tier = "preemptible"
	TierPreferred   Tier = "preferred"
)

var _tierRanks = map[Tier]int{
	TierRevocable:   0,
	TierPreemptible: 1,
	TierPreferred:   2,
}

// Rank returns the preemption rank of the tier. Unknown tiers rank with
// preemptible.
func (t Tier) Rank() int {
	if r, ok := _tierRanks[t]; ok {
		return r
	}
	return _tierRanks[TierPreemptible]
}

// Revocable reports whether tasks of the tier run on revocable resources.
func (t Tier) Revocable() bool {
	return t == TierRevocable
}

// TaskConfig is the immutable template shared by all instances of a job.
type TaskConfig struct {
	Job             JobKey
	Tier            Tier
	Resources       resources.Request
	Constraints     []Constraint
	MaxTaskFailures int
	Production      bool
	// DedicatedRole, when set, restricts the task to hosts carrying a
	// matching "dedicated" attribute.
	DedicatedRole string
}

// GroupKey returns the static-ban group key of the config: tasks with the
// same job, tier, resource ask and constraints are interchangeable for
// offer matching.
func (c *TaskConfig) GroupKey() string {
	key := fmt.Sprintf("%s|%s|c%.3f|m%d|d%d|p%d|k%d",
		c.Job, c.Tier,
		c.Resources.CPU, c.Resources.MemMB, c.Resources.DiskMB,
		len(c.Resources.NamedPorts), len(c.Constraints))
	for _, k := range c.Constraints {
		switch {
		case k.Value != nil:
			key += fmt.Sprintf("|v:%s:%t:%s",
				k.Name, k.Value.Negated, strings.Join(k.Value.Values, ","))
		case k.Limit != nil:
			key += fmt.Sprintf("|l:%s:%d", k.Name, k.Limit.Limit)
		}
	}
	return key
}

// TaskEvent records one transition in a task's history.
type TaskEvent struct {
	Timestamp time.Time
	Status    TaskState
	Message   string
	// Scheduler is the hostname of the scheduler that recorded the event.
	Scheduler string
}

// Task is one scheduled instance of a job.
type Task struct {
	ID         string
	InstanceID int
	Config     *TaskConfig
	Status     TaskState

	FailureCount     int
	TimesPartitioned int
	// AncestorID is the id of the task this one replaced, if any.
	AncestorID string

	AgentHost     string
	AgentID       string
	AssignedPorts map[string]uint32

	// PenaltyDeadline is set while the task sits in THROTTLED; the task
	// is promoted to PENDING once the deadline passes.
	PenaltyDeadline time.Time

	Events []TaskEvent
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	c := *t
	if t.AssignedPorts != nil {
		c.AssignedPorts = make(map[string]uint32, len(t.AssignedPorts))
		for k, v := range t.AssignedPorts {
			c.AssignedPorts[k] = v
		}
	}
	c.Events = make([]TaskEvent, len(t.Events))
	copy(c.Events, t.Events)
	return &c
}
