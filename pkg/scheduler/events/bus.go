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
	log "github.com/sirupsen/logrus"
	"github.com/uber-go/tally"
)

// Bus fans events out to subscribers. Subscribers are registered at
// construction through options; Publish must not be called concurrently
// with registration.
type Bus struct {
	taskStateChange       []func(TaskStateChange)
	tasksDeleted          []func(TasksDeleted)
	hostAttributesChanged []func(HostAttributesChanged)
	schedulerActive       []func(SchedulerActive)

	metrics *Metrics
}

// Option registers a subscriber on a Bus under construction.
type Option func(*Bus)

// WithTaskStateChangeHandler subscribes h to TaskStateChange events.
func WithTaskStateChangeHandler(h func(TaskStateChange)) Option {
	return func(b *Bus) {
		b.taskStateChange = append(b.taskStateChange, h)
	}
}

// WithTasksDeletedHandler subscribes h to TasksDeleted events.
func WithTasksDeletedHandler(h func(TasksDeleted)) Option {
	return func(b *Bus) {
		b.tasksDeleted = append(b.tasksDeleted, h)
	}
}

// WithHostAttributesChangedHandler subscribes h to HostAttributesChanged
// events.
func WithHostAttributesChangedHandler(h func(HostAttributesChanged)) Option {
	return func(b *Bus) {
		b.hostAttributesChanged = append(b.hostAttributesChanged, h)
	}
}

// WithSchedulerActiveHandler subscribes h to SchedulerActive events.
func WithSchedulerActiveHandler(h func(SchedulerActive)) Option {
	return func(b *Bus) {
		b.schedulerActive = append(b.schedulerActive, h)
	}
}

// NewBus creates a Bus with the given subscribers.
func NewBus(scope tally.Scope, opts ...Option) *Bus {
	b := &Bus{
		metrics: NewMetrics(scope),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish delivers one event synchronously to all subscribers of its
// category, in registration order.
func (b *Bus) Publish(event interface{}) {
	switch ev := event.(type) {
	case TaskStateChange:
		b.metrics.TaskStateChanges.Inc(1)
		for _, h := range b.taskStateChange {
			h(ev)
		}
	case TasksDeleted:
		b.metrics.TasksDeleted.Inc(int64(len(ev.Tasks)))
		for _, h := range b.tasksDeleted {
			h(ev)
		}
	case HostAttributesChanged:
		b.metrics.HostAttributesChanges.Inc(1)
		for _, h := range b.hostAttributesChanged {
			h(ev)
		}
	case SchedulerActive:
		for _, h := range b.schedulerActive {
			h(ev)
		}
	default:
		b.metrics.UnknownEvents.Inc(1)
		log.WithField("event", event).Warn("Dropping event of unknown category")
	}
}
