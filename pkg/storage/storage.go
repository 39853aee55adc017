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

// Package storage is the transactional store for tasks, host attributes,
// quotas and the framework id. A single write lane serializes all
// mutation; events collected during a write are published only after the
// transaction commits.
package storage

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"

	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"
	"github.com/uber-go/tally"
	"go.uber.org/atomic"

	"github.com/uber/borealis/pkg/scheduler/events"
)

// ErrNestedWrite is returned when Write is invoked from inside an active
// write callback. Nested writes are refused so that event deferral is
// always anchored to one commit.
var ErrNestedWrite = errors.New("storage: nested write transaction refused")

// Storage owns the in-memory database and the write lane.
type Storage struct {
	db  *memdb.MemDB
	bus *events.Bus

	writeMu  sync.Mutex
	writerID atomic.Int64

	metrics *Metrics
}

// New creates an empty Storage publishing deferred events on bus.
func New(bus *events.Bus, scope tally.Scope) (*Storage, error) {
	db, err := memdb.NewMemDB(newSchema())
	if err != nil {
		return nil, errors.Wrap(err, "failed to build storage schema")
	}
	return &Storage{
		db:      db,
		bus:     bus,
		metrics: NewMetrics(scope),
	}, nil
}

// Write runs fn against a mutable view inside a single write transaction.
// On success the transaction commits and all deferred events are published
// in the order they were deferred. Calling Write from inside fn returns
// ErrNestedWrite.
func (s *Storage) Write(fn func(*Mutation) error) error {
	gid := goroutineID()
	if s.writerID.Load() == gid {
		return ErrNestedWrite
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.writerID.Store(gid)
	defer s.writerID.Store(0)

	txn := s.db.Txn(true)
	m := &Mutation{View: View{txn: txn}}
	if err := fn(m); err != nil {
		txn.Abort()
		s.metrics.WriteAborts.Inc(1)
		return err
	}
	txn.Commit()
	s.metrics.WriteCommits.Inc(1)

	for _, ev := range m.deferred {
		s.bus.Publish(ev)
	}
	return nil
}

// Read runs fn against a read-only snapshot. Reads run concurrently with
// each other and never block the writer.
func (s *Storage) Read(fn func(*View) error) error {
	txn := s.db.Txn(false)
	defer txn.Abort()
	s.metrics.Reads.Inc(1)
	return fn(&View{txn: txn})
}

// goroutineID extracts the current goroutine id from the runtime stack
// header "goroutine N [".
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return -1
	}
	id, err := strconv.ParseInt(string(fields[1]), 10, 64)
	if err != nil {
		return -1
	}
	return id
}
