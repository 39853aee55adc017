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

package filter

import (
	"fmt"
)

// VetoKind enumerates the reasons an offer can be rejected for a task.
type VetoKind int

// Veto kinds.
const (
	VetoInsufficientCPU VetoKind = iota
	VetoInsufficientMem
	VetoInsufficientDisk
	VetoInsufficientPorts
	VetoUnsatisfiedValueConstraint
	VetoUnsatisfiedLimitConstraint
	VetoMaintenance
	VetoDedicatedMismatch
)

var _vetoNames = map[VetoKind]string{
	VetoInsufficientCPU:            "INSUFFICIENT_CPU",
	VetoInsufficientMem:            "INSUFFICIENT_MEM",
	VetoInsufficientDisk:           "INSUFFICIENT_DISK",
	VetoInsufficientPorts:          "INSUFFICIENT_PORTS",
	VetoUnsatisfiedValueConstraint: "UNSATISFIED_VALUE_CONSTRAINT",
	VetoUnsatisfiedLimitConstraint: "UNSATISFIED_LIMIT_CONSTRAINT",
	VetoMaintenance:                "MAINTENANCE",
	VetoDedicatedMismatch:          "DEDICATED_CONSTRAINT_MISMATCH",
}

func (k VetoKind) String() string {
	return _vetoNames[k]
}

// Veto is one reason the filter rejected a pairing. Constraint carries the
// constraint name for constraint vetoes.
type Veto struct {
	Kind       VetoKind
	Constraint string
}

func (v Veto) String() string {
	if v.Constraint != "" {
		return fmt.Sprintf("%s(%s)", v.Kind, v.Constraint)
	}
	return v.Kind.String()
}
