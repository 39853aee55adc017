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

package resources

import (
	"github.com/pkg/errors"
)

// PortRange is an inclusive range of ports offered by an agent.
type PortRange struct {
	Begin uint32
	End   uint32
}

// Size returns the number of ports in the range.
func (r PortRange) Size() int {
	if r.End < r.Begin {
		return 0
	}
	return int(r.End-r.Begin) + 1
}

// AssignPorts picks one concrete port per requested name from the offered
// ranges, in range order. Returns an error if the ranges cannot cover the
// request.
func AssignPorts(ranges []PortRange, names []string) (map[string]uint32, error) {
	assigned := make(map[string]uint32, len(names))
	i := 0
	next := uint32(0)
	started := false
	for _, name := range names {
		for {
			if i >= len(ranges) {
				return nil, errors.Errorf(
					"insufficient ports: %d requested, ranges exhausted", len(names))
			}
			r := ranges[i]
			if !started {
				next = r.Begin
				started = true
			}
			if next > r.End {
				i++
				started = false
				continue
			}
			assigned[name] = next
			next++
			break
		}
	}
	return assigned, nil
}
