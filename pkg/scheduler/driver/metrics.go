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

package driver

import (
	"github.com/uber-go/tally"
)

// Metrics tracks outbound queue health.
type Metrics struct {
	Sent         tally.Counter
	SendFailures tally.Counter
	Drops        tally.Counter
	Retries      tally.Counter
	QueueDepth   tally.Gauge
}

// NewMetrics returns a Metrics struct scoped under "driver".
func NewMetrics(scope tally.Scope) *Metrics {
	s := scope.SubScope("driver")
	return &Metrics{
		Sent:         s.Counter("sent"),
		SendFailures: s.Counter("send_failures"),
		Drops:        s.Counter("drops"),
		Retries:      s.Counter("retries"),
		QueueDepth:   s.Gauge("queue_depth"),
	}
}
