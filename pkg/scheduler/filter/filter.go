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

// Package filter decides whether a task can run on an agent. Fit is a pure
// function; all applicable vetoes are reported so callers can decide which
// are actionable.
package filter

import (
	"github.com/uber/borealis/pkg/scheduler/api"
	"github.com/uber/borealis/pkg/scheduler/resources"
)

const (
	// HostnameLabel is the pseudo-attribute under which the filter
	// exposes the agent hostname for value constraints.
	HostnameLabel = "host"

	// DedicatedLabel marks hosts reserved for a single role.
	DedicatedLabel = "dedicated"
)

// ActiveTaskCounter reports how many active sibling tasks of a job run on
// hosts sharing an attribute value.
type ActiveTaskCounter interface {
	CountActive(job api.JobKey, attrName, attrValue string) int
}

// HostLabelValues flattens a host attribute record into a name -> value-set
// lookup. The hostname is always included as a pseudo-attribute.
func HostLabelValues(attrs *api.HostAttributes) map[string]map[string]struct{} {
	labels := make(map[string]map[string]struct{}, len(attrs.Attributes)+1)
	labels[HostnameLabel] = map[string]struct{}{attrs.Host: {}}
	for _, a := range attrs.Attributes {
		values, ok := labels[a.Name]
		if !ok {
			values = make(map[string]struct{}, len(a.Values))
			labels[a.Name] = values
		}
		for _, v := range a.Values {
			values[v] = struct{}{}
		}
	}
	return labels
}

// Fit evaluates whether a task fits on an agent given the offered
// resources and the agent's attributes. Evaluation is order-independent;
// every applicable veto is returned. A nil result means the task fits.
func Fit(
	config *api.TaskConfig,
	offered resources.Offered,
	attrs *api.HostAttributes,
	counter ActiveTaskCounter) []Veto {

	var vetoes []Veto

	ask := config.Resources
	if offered.CPU < ask.CPU {
		vetoes = append(vetoes, Veto{Kind: VetoInsufficientCPU})
	}
	if offered.MemMB < ask.MemMB {
		vetoes = append(vetoes, Veto{Kind: VetoInsufficientMem})
	}
	if offered.DiskMB < ask.DiskMB {
		vetoes = append(vetoes, Veto{Kind: VetoInsufficientDisk})
	}
	if offered.NumPorts() < len(ask.NamedPorts) {
		vetoes = append(vetoes, Veto{Kind: VetoInsufficientPorts})
	}

	if attrs.Mode == api.ModeDraining || attrs.Mode == api.ModeDrained {
		vetoes = append(vetoes, Veto{Kind: VetoMaintenance})
	}

	labels := HostLabelValues(attrs)

	if v := checkDedicated(config, labels); v != nil {
		vetoes = append(vetoes, *v)
	}

	for i := range config.Constraints {
		c := &config.Constraints[i]
		switch {
		case c.Value != nil:
			if !c.Value.Matches(labels[c.Name]) {
				vetoes = append(vetoes, Veto{
					Kind:       VetoUnsatisfiedValueConstraint,
					Constraint: c.Name,
				})
			}
		case c.Limit != nil:
			if exceedsLimit(config.Job, c, labels[c.Name], counter) {
				vetoes = append(vetoes, Veto{
					Kind:       VetoUnsatisfiedLimitConstraint,
					Constraint: c.Name,
				})
			}
		}
	}

	return vetoes
}

// checkDedicated enforces dedicated-host semantics: a host carrying the
// dedicated attribute only admits tasks of a matching role, and a task
// asking for a dedicated role only lands on hosts exposing it.
func checkDedicated(config *api.TaskConfig, labels map[string]map[string]struct{}) *Veto {
	dedicated, hostIsDedicated := labels[DedicatedLabel]

	if config.DedicatedRole == "" {
		if hostIsDedicated {
			return &Veto{Kind: VetoDedicatedMismatch, Constraint: DedicatedLabel}
		}
		return nil
	}

	if !hostIsDedicated {
		return &Veto{Kind: VetoDedicatedMismatch, Constraint: DedicatedLabel}
	}
	if _, ok := dedicated[config.DedicatedRole]; !ok {
		return &Veto{Kind: VetoDedicatedMismatch, Constraint: DedicatedLabel}
	}
	return nil
}

func exceedsLimit(
	job api.JobKey,
	c *api.Constraint,
	hostValues map[string]struct{},
	counter ActiveTaskCounter) bool {

	if counter == nil {
		return false
	}
	for v := range hostValues {
		if counter.CountActive(job, c.Name, v) >= c.Limit.Limit {
			return true
		}
	}
	return false
}
