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
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/suite"
	"github.com/uber-go/tally"

	"github.com/uber/borealis/pkg/scheduler/api"
	"github.com/uber/borealis/pkg/scheduler/events"
	"github.com/uber/borealis/pkg/scheduler/resources"
)

type StorageTestSuite struct {
	suite.Suite

	store   *Storage
	changed []events.HostAttributesChanged
}

func TestStorageTestSuite(t *testing.T) {
	suite.Run(t, new(StorageTestSuite))
}

func (s *StorageTestSuite) SetupTest() {
	s.changed = nil
	bus := events.NewBus(
		tally.NoopScope,
		events.WithHostAttributesChangedHandler(func(e events.HostAttributesChanged) {
			s.changed = append(s.changed, e)
		}),
	)
	store, err := New(bus, tally.NoopScope)
	s.Require().NoError(err)
	s.store = store
}

func (s *StorageTestSuite) task(id string, job api.JobKey, status api.TaskState) *api.Task {
	return &api.Task{
		ID:         id,
		Status:     status,
		InstanceID: 0,
		Config: &api.TaskConfig{
			Job:  job,
			Tier: api.TierPreferred,
			Resources: resources.Request{
				Vector: resources.Vector{CPU: 1, MemMB: 128, DiskMB: 64},
			},
		},
	}
}

func (s *StorageTestSuite) jobKey(name string) api.JobKey {
	return api.JobKey{Role: "www", Environment: "prod", Name: name}
}

func (s *StorageTestSuite) TestWriteCommitIsVisible() {
	t := s.task("t1", s.jobKey("server"), api.TaskStatePending)
	err := s.store.Write(func(mut *Mutation) error {
		return mut.SaveTask(t)
	})
	s.Require().NoError(err)

	err = s.store.Read(func(v *View) error {
		got, err := v.GetTask("t1")
		s.Require().NoError(err)
		s.Require().NotNil(got)
		s.Equal("t1", got.ID)
		return nil
	})
	s.NoError(err)
}

func (s *StorageTestSuite) TestWriteAbortDiscardsMutations() {
	boom := errors.New("boom")
	err := s.store.Write(func(mut *Mutation) error {
		if err := mut.SaveTask(s.task("t1", s.jobKey("server"), api.TaskStatePending)); err != nil {
			return err
		}
		return boom
	})
	s.Equal(boom, errors.Cause(err))

	err = s.store.Read(func(v *View) error {
		got, err := v.GetTask("t1")
		s.Require().NoError(err)
		s.Nil(got)
		return nil
	})
	s.NoError(err)
}

func (s *StorageTestSuite) TestNestedWriteRefused() {
	err := s.store.Write(func(*Mutation) error {
		return s.store.Write(func(*Mutation) error { return nil })
	})
	s.Equal(ErrNestedWrite, errors.Cause(err))
}

func (s *StorageTestSuite) TestDeferredEventsPublishAfterCommitInOrder() {
	var seen []string
	bus := events.NewBus(
		tally.NoopScope,
		events.WithTaskStateChangeHandler(func(e events.TaskStateChange) {
			seen = append(seen, e.Task.ID)
		}),
	)
	store, err := New(bus, tally.NoopScope)
	s.Require().NoError(err)

	err = store.Write(func(mut *Mutation) error {
		mut.DeferEvent(events.TaskStateChange{Task: &api.Task{ID: "first"}})
		mut.DeferEvent(events.TaskStateChange{Task: &api.Task{ID: "second"}})
		s.Empty(seen)
		return nil
	})
	s.Require().NoError(err)
	s.Equal([]string{"first", "second"}, seen)
}

func (s *StorageTestSuite) TestDeferredEventsDroppedOnAbort() {
	var seen []string
	bus := events.NewBus(
		tally.NoopScope,
		events.WithTaskStateChangeHandler(func(e events.TaskStateChange) {
			seen = append(seen, e.Task.ID)
		}),
	)
	store, err := New(bus, tally.NoopScope)
	s.Require().NoError(err)

	err = store.Write(func(mut *Mutation) error {
		mut.DeferEvent(events.TaskStateChange{Task: &api.Task{ID: "never"}})
		return errors.New("abort")
	})
	s.Error(err)
	s.Empty(seen)
}

func (s *StorageTestSuite) TestSavedTaskIsDetached() {
	t := s.task("t1", s.jobKey("server"), api.TaskStatePending)
	err := s.store.Write(func(mut *Mutation) error {
		return mut.SaveTask(t)
	})
	s.Require().NoError(err)

	t.Status = api.TaskStateRunning

	err = s.store.Read(func(v *View) error {
		got, err := v.GetTask("t1")
		s.Require().NoError(err)
		s.Equal(api.TaskStatePending, got.Status)

		// Mutating the returned copy must not leak back either.
		got.Status = api.TaskStateKilling
		again, err := v.GetTask("t1")
		s.Require().NoError(err)
		s.Equal(api.TaskStatePending, again.Status)
		return nil
	})
	s.NoError(err)
}

func (s *StorageTestSuite) TestTaskQueries() {
	server := s.jobKey("server")
	worker := s.jobKey("worker")
	err := s.store.Write(func(mut *Mutation) error {
		t1 := s.task("t1", server, api.TaskStatePending)
		t2 := s.task("t2", server, api.TaskStateRunning)
		t2.InstanceID = 1
		t2.AgentHost = "h1"
		t2.AgentID = "a1"
		t3 := s.task("t3", worker, api.TaskStateRunning)
		t3.AgentHost = "h2"
		t3.AgentID = "a2"
		for _, t := range []*api.Task{t1, t2, t3} {
			if err := mut.SaveTask(t); err != nil {
				return err
			}
		}
		return nil
	})
	s.Require().NoError(err)

	err = s.store.Read(func(v *View) error {
		byJob, err := v.GetTasksByJob(server)
		s.Require().NoError(err)
		s.Len(byJob, 2)

		byStatus, err := v.GetTasksByStatus(api.TaskStateRunning)
		s.Require().NoError(err)
		s.Len(byStatus, 2)

		both, err := v.GetTasksByStatus(api.TaskStatePending, api.TaskStateRunning)
		s.Require().NoError(err)
		s.Len(both, 3)

		byHost, err := v.GetTasksByHost("h1")
		s.Require().NoError(err)
		s.Require().Len(byHost, 1)
		s.Equal("t2", byHost[0].ID)

		ranged, err := v.GetTasksByInstanceRange(server, 1, 5)
		s.Require().NoError(err)
		s.Require().Len(ranged, 1)
		s.Equal("t2", ranged[0].ID)

		assigned, err := v.GetSlaveAssignedTasks()
		s.Require().NoError(err)
		s.Len(assigned, 2)

		all, err := v.GetAllTasks()
		s.Require().NoError(err)
		s.Len(all, 3)
		return nil
	})
	s.NoError(err)
}

func (s *StorageTestSuite) TestDeleteTaskIgnoresMissing() {
	err := s.store.Write(func(mut *Mutation) error {
		if err := mut.SaveTask(s.task("t1", s.jobKey("server"), api.TaskStatePending)); err != nil {
			return err
		}
		if err := mut.DeleteTask("t1"); err != nil {
			return err
		}
		return mut.DeleteTask("no-such-task")
	})
	s.Require().NoError(err)

	err = s.store.Read(func(v *View) error {
		got, err := v.GetTask("t1")
		s.Require().NoError(err)
		s.Nil(got)
		return nil
	})
	s.NoError(err)
}

func (s *StorageTestSuite) TestSaveHostAttributesMergesMode() {
	err := s.store.Write(func(mut *Mutation) error {
		changed, err := mut.SaveHostAttributes(&api.HostAttributes{
			Host: "h1",
			Mode: api.ModeDraining,
			Attributes: []api.Attribute{
				{Name: "zone", Values: []string{"us-east"}},
			},
		})
		s.True(changed)
		return err
	})
	s.Require().NoError(err)

	// ModeUnset keeps the stored mode.
	err = s.store.Write(func(mut *Mutation) error {
		changed, err := mut.SaveHostAttributes(&api.HostAttributes{
			Host: "h1",
			Attributes: []api.Attribute{
				{Name: "zone", Values: []string{"us-west"}},
			},
		})
		s.True(changed)
		return err
	})
	s.Require().NoError(err)

	err = s.store.Read(func(v *View) error {
		got, err := v.GetHostAttributes("h1")
		s.Require().NoError(err)
		s.Require().NotNil(got)
		s.Equal(api.ModeDraining, got.Mode)
		s.Equal([]string{"us-west"}, got.Attributes[0].Values)
		return nil
	})
	s.NoError(err)
	s.Len(s.changed, 2)
}

func (s *StorageTestSuite) TestSaveHostAttributesNoopSkipsEvent() {
	attrs := &api.HostAttributes{
		Host: "h1",
		Mode: api.ModeNone,
		Attributes: []api.Attribute{
			{Name: "zone", Values: []string{"us-east"}},
		},
	}
	err := s.store.Write(func(mut *Mutation) error {
		_, err := mut.SaveHostAttributes(attrs)
		return err
	})
	s.Require().NoError(err)
	s.Len(s.changed, 1)

	err = s.store.Write(func(mut *Mutation) error {
		changed, err := mut.SaveHostAttributes(attrs)
		s.False(changed)
		return err
	})
	s.Require().NoError(err)
	s.Len(s.changed, 1)
}

func (s *StorageTestSuite) TestSaveHostAttributesRejectsEmptyValues() {
	err := s.store.Write(func(mut *Mutation) error {
		_, err := mut.SaveHostAttributes(&api.HostAttributes{
			Host:       "h1",
			Attributes: []api.Attribute{{Name: "zone"}},
		})
		return err
	})
	s.Error(err)
}

func (s *StorageTestSuite) TestQuotaRoundTrip() {
	err := s.store.Write(func(mut *Mutation) error {
		return mut.SaveQuota(&api.ResourceAggregate{
			Role:      "www",
			Resources: resources.Vector{CPU: 100, MemMB: 1 << 20},
		})
	})
	s.Require().NoError(err)

	err = s.store.Read(func(v *View) error {
		q, err := v.GetQuota("www")
		s.Require().NoError(err)
		s.Require().NotNil(q)
		s.Equal(float64(100), q.Resources.CPU)

		missing, err := v.GetQuota("other")
		s.Require().NoError(err)
		s.Nil(missing)
		return nil
	})
	s.NoError(err)
}

func (s *StorageTestSuite) TestFrameworkIDRoundTrip() {
	err := s.store.Read(func(v *View) error {
		id, err := v.GetFrameworkID()
		s.Require().NoError(err)
		s.Empty(id)
		return nil
	})
	s.Require().NoError(err)

	err = s.store.Write(func(mut *Mutation) error {
		return mut.SaveFrameworkID("framework-1")
	})
	s.Require().NoError(err)

	err = s.store.Read(func(v *View) error {
		id, err := v.GetFrameworkID()
		s.Require().NoError(err)
		s.Equal("framework-1", id)
		return nil
	})
	s.NoError(err)
}
