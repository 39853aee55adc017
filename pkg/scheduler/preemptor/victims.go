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

package preemptor

import (
	"sort"

	"github.com/uber/borealis/pkg/scheduler/api"
	"github.com/uber/borealis/pkg/scheduler/resources"
)

// victimSet is a candidate eviction on one agent.
type victimSet struct {
	agentID string
	host    string
	victims []*api.Task
	waste   float64
}

// better orders victim sets: fewer victims first, then less waste, then
// agent id for a stable choice.
func (v *victimSet) better(o *victimSet) bool {
	if o == nil {
		return true
	}
	if len(v.victims) != len(o.victims) {
		return len(v.victims) < len(o.victims)
	}
	if v.waste != o.waste {
		return v.waste < o.waste
	}
	return v.agentID < o.agentID
}

// minimalVictims finds the smallest set of candidates whose freed
// resources, together with free, cover need. Among sets of equal size the
// one freeing the least excess is chosen. Returns nil when no subset
// covers.
func minimalVictims(
	need resources.Vector,
	free resources.Vector,
	candidates []*api.Task) []*api.Task {

	if free.Contains(need) {
		return []*api.Task{}
	}
	// Largest victims first keeps covering subsets short.
	sorted := append([]*api.Task(nil), candidates...)
	sort.SliceStable(sorted, func(a, b int) bool {
		return sorted[a].Config.Resources.Vector.Score() >
			sorted[b].Config.Resources.Vector.Score()
	})

	var best []*api.Task
	bestWaste := 0.0
	var search func(start int, chosen []*api.Task, freed resources.Vector)
	search = func(start int, chosen []*api.Task, freed resources.Vector) {
		if best != nil && len(chosen) >= len(best) {
			return
		}
		for i := start; i < len(sorted); i++ {
			t := sorted[i]
			next := freed.Add(t.Config.Resources.Vector)
			picked := append(chosen, t)
			if free.Add(next).Contains(need) {
				waste := free.Add(next).Score() - need.Score()
				if best == nil || len(picked) < len(best) ||
					(len(picked) == len(best) && waste < bestWaste) {
					best = append([]*api.Task(nil), picked...)
					bestWaste = waste
				}
				continue
			}
			search(i+1, picked, next)
		}
	}
	search(0, nil, resources.Vector{})
	return best
}
