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
)

const (
	_tableTasks      = "tasks"
	_tableAttributes = "host_attributes"
	_tableQuotas     = "quotas"
	_tableScheduler  = "scheduler"

	_indexID     = "id"
	_indexJob    = "job"
	_indexStatus = "status"
	_indexHost   = "host"

	_frameworkIDKey = "framework_id"
)

// schedulerRow holds the single-valued framework identifier.
type schedulerRow struct {
	Key         string
	FrameworkID string
}

func newSchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			_tableTasks: {
				Name: _tableTasks,
				Indexes: map[string]*memdb.IndexSchema{
					_indexID: {
						Name:    _indexID,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					_indexJob: {
						Name:    _indexJob,
						Indexer: taskJobIndexer{},
					},
					_indexStatus: {
						Name:    _indexStatus,
						Indexer: taskStatusIndexer{},
					},
					_indexHost: {
						Name:         _indexHost,
						AllowMissing: true,
						Indexer:      &memdb.StringFieldIndex{Field: "AgentHost"},
					},
				},
			},
			_tableAttributes: {
				Name: _tableAttributes,
				Indexes: map[string]*memdb.IndexSchema{
					_indexID: {
						Name:    _indexID,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Host"},
					},
				},
			},
			_tableQuotas: {
				Name: _tableQuotas,
				Indexes: map[string]*memdb.IndexSchema{
					_indexID: {
						Name:    _indexID,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Role"},
					},
				},
			},
			_tableScheduler: {
				Name: _tableScheduler,
				Indexes: map[string]*memdb.IndexSchema{
					_indexID: {
						Name:    _indexID,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Key"},
					},
				},
			},
		},
	}
}

// taskJobIndexer indexes tasks by their job key.
type taskJobIndexer struct{}

func (taskJobIndexer) FromObject(obj interface{}) (bool, []byte, error) {
	t, ok := obj.(*api.Task)
	if !ok {
		return false, nil, errors.Errorf("object is not a task: %T", obj)
	}
	return true, []byte(t.Config.Job.String() + "\x00"), nil
}

func (taskJobIndexer) FromArgs(args ...interface{}) ([]byte, error) {
	if len(args) != 1 {
		return nil, errors.Errorf("job index wants one argument, got %d", len(args))
	}
	k, ok := args[0].(api.JobKey)
	if !ok {
		return nil, errors.Errorf("job index argument is not a job key: %T", args[0])
	}
	return []byte(k.String() + "\x00"), nil
}

// taskStatusIndexer indexes tasks by their current state.
type taskStatusIndexer struct{}

func (taskStatusIndexer) FromObject(obj interface{}) (bool, []byte, error) {
	t, ok := obj.(*api.Task)
	if !ok {
		return false, nil, errors.Errorf("object is not a task: %T", obj)
	}
	return true, []byte{byte(t.Status)}, nil
}

func (taskStatusIndexer) FromArgs(args ...interface{}) ([]byte, error) {
	if len(args) != 1 {
		return nil, errors.Errorf("status index wants one argument, got %d", len(args))
	}
	s, ok := args[0].(api.TaskState)
	if !ok {
		return nil, errors.Errorf("status index argument is not a state: %T", args[0])
	}
	return []byte{byte(s)}, nil
}
