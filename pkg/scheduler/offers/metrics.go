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

package offers

import (
	"github.com/uber-go/tally"
)

// Metrics tracks offer pool activity.
type Metrics struct {
	Added     tally.Counter
	Rescinded tally.Counter
	Returned  tally.Counter
	Declined  tally.Counter
	Claimed   tally.Counter
	Bans      tally.Counter

	PoolSize     tally.Gauge
	BanCacheSize tally.Gauge
}

// NewMetrics returns a Metrics struct scoped under "offers".
func NewMetrics(scope tally.Scope) *Metrics {
	s := scope.SubScope("offers")
	return &Metrics{
		Added:        s.Counter("added"),
		Rescinded:    s.Counter("rescinded"),
		Returned:     s.Counter("returned"),
		Declined:     s.Counter("declined"),
		Claimed:      s.Counter("claimed"),
		Bans:         s.Counter("bans"),
		PoolSize:     s.Gauge("pool_size"),
		BanCacheSize: s.Gauge("ban_cache_size"),
	}
}
