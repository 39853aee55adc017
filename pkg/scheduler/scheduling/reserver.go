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

package scheduling

import (
	"fmt"
	"sync"

	"github.com/uber/borealis/pkg/scheduler/api"
)

// UpdateAgentReserver pins individual instances to the agent they last
// ran on, so rolling job updates replace a task in place instead of
// migrating it. Keys are per instance, unlike the group-level preemption
// reservations.
type UpdateAgentReserver interface {
	// Reserve pins an instance to an agent.
	Reserve(instanceKey, agentID string)
	// ReservedAgent returns the pinned agent for an instance, if any.
	ReservedAgent(instanceKey string) (string, bool)
	// Release drops the pin.
	Release(instanceKey string)
}

// InstanceKey identifies one instance of a job across task incarnations.
func InstanceKey(job api.JobKey, instanceID int) string {
	return fmt.Sprintf("%s/%d", job.String(), instanceID)
}

type updateAgentReserver struct {
	mu     sync.Mutex
	agents map[string]string
}

// NewUpdateAgentReserver returns the in-memory reserver.
func NewUpdateAgentReserver() UpdateAgentReserver {
	return &updateAgentReserver{agents: make(map[string]string)}
}

func (r *updateAgentReserver) Reserve(instanceKey, agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[instanceKey] = agentID
}

func (r *updateAgentReserver) ReservedAgent(instanceKey string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	agentID, ok := r.agents[instanceKey]
	return agentID, ok
}

func (r *updateAgentReserver) Release(instanceKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, instanceKey)
}
