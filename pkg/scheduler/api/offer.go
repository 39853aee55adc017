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

package api

import (
	"time"

	"github.com/uber/borealis/pkg/scheduler/resources"
)

// Offer is an agent's snapshot of available resources at a moment.
type Offer struct {
	ID      string
	AgentID string
	Host    string

	Resources resources.Offered

	// Unavailability, when set, is the start of the agent's next
	// scheduled maintenance window.
	Unavailability *time.Time
}

// ResourceAggregate is a role-level resource quota.
type ResourceAggregate struct {
	Role      string
	Resources resources.Vector
}
