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

package reconciliation

import (
	"github.com/uber-go/tally"
)

// Metrics tracks reconciliation activity.
type Metrics struct {
	ExplicitRounds  tally.Counter
	ExplicitBatches tally.Counter
	ExplicitTasks   tally.Counter
	ImplicitRounds  tally.Counter
}

// NewMetrics returns a Metrics struct scoped under "reconciliation".
func NewMetrics(scope tally.Scope) *Metrics {
	s := scope.SubScope("reconciliation")
	return &Metrics{
		ExplicitRounds:  s.Counter("explicit_rounds"),
		ExplicitBatches: s.Counter("explicit_batches"),
		ExplicitTasks:   s.Counter("explicit_tasks"),
		ImplicitRounds:  s.Counter("implicit_rounds"),
	}
}
