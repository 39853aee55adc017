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
	"github.com/uber/borealis/pkg/scheduler/api"
	"github.com/uber/borealis/pkg/scheduler/filter"
)

// activeTaskCounter answers limit-constraint queries against a snapshot
// of the cluster taken at the start of a scheduling pass.
type activeTaskCounter struct {
	// hostsByJob maps a job key to the hosts its active tasks occupy.
	hostsByJob map[string][]string
	// hostLabels maps a host to its attribute name -> value-set lookup.
	hostLabels map[string]map[string]map[string]struct{}
}

var _ filter.ActiveTaskCounter = (*activeTaskCounter)(nil)

func newActiveTaskCounter(
	tasks []*api.Task,
	hosts []*api.HostAttributes) *activeTaskCounter {

	c := &activeTaskCounter{
		hostsByJob: make(map[string][]string),
		hostLabels: make(map[string]map[string]map[string]struct{}, len(hosts)),
	}
	for _, h := range hosts {
		c.hostLabels[h.Host] = filter.HostLabelValues(h)
	}
	for _, t := range tasks {
		if !t.Status.IsActive() || t.AgentHost == "" {
			continue
		}
		key := t.Config.Job.String()
		c.hostsByJob[key] = append(c.hostsByJob[key], t.AgentHost)
	}
	return c
}

func (c *activeTaskCounter) CountActive(job api.JobKey, attrName, attrValue string) int {
	count := 0
	for _, host := range c.hostsByJob[job.String()] {
		labels, ok := c.hostLabels[host]
		if !ok {
			if attrName == filter.HostnameLabel && host == attrValue {
				count++
			}
			continue
		}
		if _, ok := labels[attrName][attrValue]; ok {
			count++
		}
	}
	return count
}
