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

// MaintenanceMode is the maintenance posture of a host.
type MaintenanceMode int

// Maintenance modes. ModeUnset marks a record that carries no mode; merging
// such a record keeps the previous mode.
const (
	ModeUnset MaintenanceMode = iota
	ModeNone
	ModeDraining
	ModeDrained
)

var _modeNames = map[MaintenanceMode]string{
	ModeUnset:    "UNSET",
	ModeNone:     "NONE",
	ModeDraining: "DRAINING",
	ModeDrained:  "DRAINED",
}

func (m MaintenanceMode) String() string {
	return _modeNames[m]
}

// Attribute is one named set of values a host exposes.
type Attribute struct {
	Name   string
	Values []string
}

// HostAttributes is the per-host attribute record.
type HostAttributes struct {
	Host       string
	Mode       MaintenanceMode
	Attributes []Attribute
}

// Clone returns a deep copy of the record.
func (h *HostAttributes) Clone() *HostAttributes {
	c := *h
	c.Attributes = make([]Attribute, len(h.Attributes))
	for i, a := range h.Attributes {
		c.Attributes[i] = Attribute{Name: a.Name, Values: append([]string(nil), a.Values...)}
	}
	return &c
}
