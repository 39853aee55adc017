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
	"github.com/uber-go/tally"
)

// Metrics tracks scheduling activity.
type Metrics struct {
	Passes                 tally.Counter
	Placements             tally.Counter
	ReservationPlacements  tally.Counter
	PlacementFailures      tally.Counter
	StalePlacementAttempts tally.Counter
	NoFit                  tally.Counter
	Promotions             tally.Counter

	PendingTasks   tally.Gauge
	ThrottledTasks tally.Gauge

	PassDuration tally.Timer
}

// NewMetrics returns a Metrics struct scoped under "scheduling".
func NewMetrics(scope tally.Scope) *Metrics {
	s := scope.SubScope("scheduling")
	return &Metrics{
		Passes:                 s.Counter("passes"),
		Placements:             s.Counter("placements"),
		ReservationPlacements:  s.Counter("reservation_placements"),
		PlacementFailures:      s.Counter("placement_failures"),
		StalePlacementAttempts: s.Counter("stale_placement_attempts"),
		NoFit:                  s.Counter("no_fit"),
		Promotions:             s.Counter("promotions"),
		PendingTasks:           s.Gauge("pending_tasks"),
		ThrottledTasks:         s.Gauge("throttled_tasks"),
		PassDuration:           s.Timer("pass_duration"),
	}
}
