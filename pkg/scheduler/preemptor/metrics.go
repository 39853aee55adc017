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
	"github.com/uber-go/tally"
)

// Metrics tracks preemption activity.
type Metrics struct {
	Passes              tally.Counter
	Reservations        tally.Counter
	ExpiredReservations tally.Counter
	Victims             tally.Counter
	Kills               tally.Counter
	KillsDeferred       tally.Counter
	NoVictimSet         tally.Counter

	ActiveReservations tally.Gauge
}

// NewMetrics returns a Metrics struct scoped under "preemptor".
func NewMetrics(scope tally.Scope) *Metrics {
	s := scope.SubScope("preemptor")
	return &Metrics{
		Passes:              s.Counter("passes"),
		Reservations:        s.Counter("reservations"),
		ExpiredReservations: s.Counter("expired_reservations"),
		Victims:             s.Counter("victims"),
		Kills:               s.Counter("kills"),
		KillsDeferred:       s.Counter("kills_deferred"),
		NoVictimSet:         s.Counter("no_victim_set"),
		ActiveReservations:  s.Gauge("active_reservations"),
	}
}
