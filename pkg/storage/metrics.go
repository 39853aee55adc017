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

package storage

import (
	"github.com/uber-go/tally"
)

// Metrics tracks transaction outcomes.
type Metrics struct {
	WriteCommits tally.Counter
	WriteAborts  tally.Counter
	Reads        tally.Counter
}

// NewMetrics returns a Metrics struct scoped under "storage".
func NewMetrics(scope tally.Scope) *Metrics {
	s := scope.SubScope("storage")
	return &Metrics{
		WriteCommits: s.Counter("write_commits"),
		WriteAborts:  s.Counter("write_aborts"),
		Reads:        s.Counter("reads"),
	}
}
