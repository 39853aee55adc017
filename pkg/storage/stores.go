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

package storage

import (
	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"

	"github.com/uber/borealis/pkg/scheduler/api"
	"github.com/uber/borealis/pkg/scheduler/events"
)

// View is the read surface of a transaction. All returned objects are
// copies; callers may mutate them freely.
type View struct {
	txn *memdb.Txn
}

// GetTask fetches one task by id, nil if absent.
func (v *View) GetTask(id string) (*api.Task, error) {
	raw, err := v.txn.First(_tableTasks, _indexID, id)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch task %s", id)
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*api.Task).Clone(), nil
}

// GetTasksByJob fetches all tasks of a job.
func (v *View) GetTasksByJob(job api.JobKey) ([]*api.Task, error) {
	it, err := v.txn.Get(_tableTasks, _indexJob, job)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch tasks of job %s", job)
	}
	return collectTasks(it), nil
}

// GetTasksByInstanceRange fetches the tasks of a job with instance ids in
// [first, last].
func (v *View) GetTasksByInstanceRange(job api.JobKey, first, last int) ([]*api.Task, error) {
	tasks, err := v.GetTasksByJob(job)
	if err != nil {
		return nil, err
	}
	var out []*api.Task
	for _, t := range tasks {
		if t.InstanceID >= first && t.InstanceID <= last {
			out = append(out, t)
		}
	}
	return out, nil
}

// GetTasksByStatus fetches all tasks in any of the given states.
func (v *View) GetTasksByStatus(states ...api.TaskState) ([]*api.Task, error) {
	var out []*api.Task
	for _, s := range states {
		it, err := v.txn.Get(_tableTasks, _indexStatus, s)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to fetch tasks in state %s", s)
		}
		out = append(out, collectTasks(it)...)
	}
	return out, nil
}

// GetTasksByHost fetches all tasks assigned to a host.
func (v *View) GetTasksByHost(host string) ([]*api.Task, error) {
	it, err := v.txn.Get(_tableTasks, _indexHost, host)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch tasks on host %s", host)
	}
	return collectTasks(it), nil
}

// GetSlaveAssignedTasks fetches all non-terminal tasks bound to an agent.
// These are the tasks whose status the agent fleet can speak to.
func (v *View) GetSlaveAssignedTasks() ([]*api.Task, error) {
	it, err := v.txn.Get(_tableTasks, _indexID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan tasks")
	}
	var out []*api.Task
	for raw := it.Next(); raw != nil; raw = it.Next() {
		t := raw.(*api.Task)
		if t.AgentID != "" && t.Status.IsActive() {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

// GetAllTasks fetches every task.
func (v *View) GetAllTasks() ([]*api.Task, error) {
	it, err := v.txn.Get(_tableTasks, _indexID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan tasks")
	}
	return collectTasks(it), nil
}

// GetHostAttributes fetches one host attribute record, nil if absent.
func (v *View) GetHostAttributes(host string) (*api.HostAttributes, error) {
	raw, err := v.txn.First(_tableAttributes, _indexID, host)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch attributes of host %s", host)
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*api.HostAttributes).Clone(), nil
}

// GetAllHostAttributes fetches every host attribute record.
func (v *View) GetAllHostAttributes() ([]*api.HostAttributes, error) {
	it, err := v.txn.Get(_tableAttributes, _indexID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan host attributes")
	}
	var out []*api.HostAttributes
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, raw.(*api.HostAttributes).Clone())
	}
	return out, nil
}

// GetQuota fetches the quota of a role, nil if absent.
func (v *View) GetQuota(role string) (*api.ResourceAggregate, error) {
	raw, err := v.txn.First(_tableQuotas, _indexID, role)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch quota of role %s", role)
	}
	if raw == nil {
		return nil, nil
	}
	q := *raw.(*api.ResourceAggregate)
	return &q, nil
}

// GetFrameworkID fetches the cluster framework id, empty if unset.
func (v *View) GetFrameworkID() (string, error) {
	raw, err := v.txn.First(_tableScheduler, _indexID, _frameworkIDKey)
	if err != nil {
		return "", errors.Wrap(err, "failed to fetch framework id")
	}
	if raw == nil {
		return "", nil
	}
	return raw.(*schedulerRow).FrameworkID, nil
}

func collectTasks(it memdb.ResultIterator) []*api.Task {
	var out []*api.Task
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, raw.(*api.Task).Clone())
	}
	return out
}

// Mutation is the write surface of a transaction.
type Mutation struct {
	View
	deferred []interface{}
}

// DeferEvent queues an event for publication after commit.
func (m *Mutation) DeferEvent(event interface{}) {
	m.deferred = append(m.deferred, event)
}

// SaveTask inserts or replaces a task. The stored copy is detached from
// the caller's object.
func (m *Mutation) SaveTask(t *api.Task) error {
	if err := m.txn.Insert(_tableTasks, t.Clone()); err != nil {
		return errors.Wrapf(err, "failed to save task %s", t.ID)
	}
	return nil
}

// DeleteTask removes a task by id. Missing tasks are ignored.
func (m *Mutation) DeleteTask(id string) error {
	raw, err := m.txn.First(_tableTasks, _indexID, id)
	if err != nil {
		return errors.Wrapf(err, "failed to look up task %s", id)
	}
	if raw == nil {
		return nil
	}
	if err := m.txn.Delete(_tableTasks, raw); err != nil {
		return errors.Wrapf(err, "failed to delete task %s", id)
	}
	return nil
}

// SaveHostAttributes merges a host attribute record with the stored one
// and saves the result. The previous maintenance mode is kept when the new
// record carries ModeUnset; records with an empty-valued attribute are
// rejected. Returns true if the stored record changed; a change defers a
// HostAttributesChanged event.
func (m *Mutation) SaveHostAttributes(attrs *api.HostAttributes) (bool, error) {
	for _, a := range attrs.Attributes {
		if len(a.Values) == 0 {
			return false, errors.Errorf(
				"host %s attribute %s has an empty value set", attrs.Host, a.Name)
		}
	}

	merged := attrs.Clone()
	prev, err := m.GetHostAttributes(attrs.Host)
	if err != nil {
		return false, err
	}
	if merged.Mode == api.ModeUnset {
		if prev != nil {
			merged.Mode = prev.Mode
		} else {
			merged.Mode = api.ModeNone
		}
	}

	if prev != nil && attributesEqual(prev, merged) {
		return false, nil
	}

	if err := m.txn.Insert(_tableAttributes, merged); err != nil {
		return false, errors.Wrapf(err, "failed to save attributes of host %s", attrs.Host)
	}
	m.DeferEvent(events.HostAttributesChanged{Attributes: merged.Clone()})
	return true, nil
}

// SaveQuota upserts the quota of a role.
func (m *Mutation) SaveQuota(q *api.ResourceAggregate) error {
	cp := *q
	if err := m.txn.Insert(_tableQuotas, &cp); err != nil {
		return errors.Wrapf(err, "failed to save quota of role %s", q.Role)
	}
	return nil
}

// SaveFrameworkID stores the cluster framework id.
func (m *Mutation) SaveFrameworkID(id string) error {
	row := &schedulerRow{Key: _frameworkIDKey, FrameworkID: id}
	if err := m.txn.Insert(_tableScheduler, row); err != nil {
		return errors.Wrap(err, "failed to save framework id")
	}
	return nil
}

func attributesEqual(a, b *api.HostAttributes) bool {
	if a.Host != b.Host || a.Mode != b.Mode || len(a.Attributes) != len(b.Attributes) {
		return false
	}
	for i := range a.Attributes {
		if a.Attributes[i].Name != b.Attributes[i].Name {
			return false
		}
		if len(a.Attributes[i].Values) != len(b.Attributes[i].Values) {
			return false
		}
		for j := range a.Attributes[i].Values {
			if a.Attributes[i].Values[j] != b.Attributes[i].Values[j] {
				return false
			}
		}
	}
	return true
}
