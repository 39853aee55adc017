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

// Package resources holds the resource vectors exchanged between offers,
// task requests and quotas.
package resources

import (
	"fmt"
)

// Vector is a point in the cpu/memory/disk resource space.
type Vector struct {
	CPU    float64 `yaml:"cpu"`
	MemMB  int64   `yaml:"mem_mb"`
	DiskMB int64   `yaml:"disk_mb"`
}

// Add returns the component-wise sum of v and o.
func (v Vector) Add(o Vector) Vector {
	return Vector{
		CPU:    v.CPU + o.CPU,
		MemMB:  v.MemMB + o.MemMB,
		DiskMB: v.DiskMB + o.DiskMB,
	}
}

// Subtract returns the component-wise difference of v and o.
func (v Vector) Subtract(o Vector) Vector {
	return Vector{
		CPU:    v.CPU - o.CPU,
		MemMB:  v.MemMB - o.MemMB,
		DiskMB: v.DiskMB - o.DiskMB,
	}
}

// Contains reports whether every component of v is at least the
// corresponding component of o.
func (v Vector) Contains(o Vector) bool {
	return v.CPU >= o.CPU &&
		v.MemMB >= o.MemMB &&
		v.DiskMB >= o.DiskMB
}

// Empty reports whether all components are zero.
func (v Vector) Empty() bool {
	return v.CPU == 0 && v.MemMB == 0 && v.DiskMB == 0
}

// Score collapses the vector into a scalar for waste comparisons.
// Memory and disk are weighted down to roughly one cpu per GB.
func (v Vector) Score() float64 {
	return v.CPU + float64(v.MemMB)/1024.0 + float64(v.DiskMB)/1024.0
}

func (v Vector) String() string {
	return fmt.Sprintf("cpu:%.2f mem:%dMB disk:%dMB", v.CPU, v.MemMB, v.DiskMB)
}

// Offered is the resource content of an offer.
type Offered struct {
	Vector
	Ports     []PortRange
	Revocable bool
}

// NumPorts returns the number of individual ports available in the offer.
func (o Offered) NumPorts() int {
	n := 0
	for _, r := range o.Ports {
		n += r.Size()
	}
	return n
}

// Request is the resource ask of a task.
type Request struct {
	Vector     `yaml:",inline"`
	NamedPorts []string `yaml:"named_ports"`
}
