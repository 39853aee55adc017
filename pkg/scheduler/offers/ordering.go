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
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Criterion names accepted in offer ordering configuration.
const (
	OrderRandom         = "RANDOM"
	OrderFIFO           = "FIFO"
	OrderCPU            = "CPU"
	OrderMemory         = "MEMORY"
	OrderDisk           = "DISK"
	OrderRevocableFirst = "REVOCABLE_FIRST"
)

// criterion produces one sortable key per held offer. Lower keys sort
// first.
type criterion interface {
	name() string
	keys(offers []heldEntry, r *rand.Rand) []float64
}

type heldEntry struct {
	cpu       float64
	memMB     int64
	diskMB    int64
	revocable bool
	added     time.Time
}

type keyFunc struct {
	criterionName string
	fn            func(e heldEntry) float64
}

func (k keyFunc) name() string { return k.criterionName }

func (k keyFunc) keys(offers []heldEntry, _ *rand.Rand) []float64 {
	out := make([]float64, len(offers))
	for i, e := range offers {
		out[i] = k.fn(e)
	}
	return out
}

type randomCriterion struct{}

func (randomCriterion) name() string { return OrderRandom }

func (randomCriterion) keys(offers []heldEntry, r *rand.Rand) []float64 {
	out := make([]float64, len(offers))
	for i := range offers {
		out[i] = r.Float64()
	}
	return out
}

var (
	_registryMu sync.RWMutex
	_registry   = make(map[string]criterion)
	_initOnce   sync.Once
)

func register(c criterion) {
	_registryMu.Lock()
	defer _registryMu.Unlock()
	_registry[c.name()] = c
}

// initOrderings registers the built-in criteria.
func initOrderings() {
	_initOnce.Do(func() {
		register(randomCriterion{})
		register(keyFunc{OrderFIFO, func(e heldEntry) float64 {
			return float64(e.added.UnixNano())
		}})
		register(keyFunc{OrderCPU, func(e heldEntry) float64 {
			return e.cpu
		}})
		register(keyFunc{OrderMemory, func(e heldEntry) float64 {
			return float64(e.memMB)
		}})
		register(keyFunc{OrderDisk, func(e heldEntry) float64 {
			return float64(e.diskMB)
		}})
		register(keyFunc{OrderRevocableFirst, func(e heldEntry) float64 {
			if e.revocable {
				return 0
			}
			return 1
		}})
	})
}

// Ordering arranges held offers by a lexicographic list of criteria: ties
// under one criterion are broken by the next.
type Ordering struct {
	criteria []criterion
}

// NewOrdering resolves criterion names into an Ordering. Unknown names are
// an error.
func NewOrdering(names ...string) (*Ordering, error) {
	initOrderings()
	if len(names) == 0 {
		names = []string{OrderRandom}
	}
	criteria := make([]criterion, 0, len(names))
	_registryMu.RLock()
	defer _registryMu.RUnlock()
	for _, n := range names {
		c, ok := _registry[strings.ToUpper(strings.TrimSpace(n))]
		if !ok {
			return nil, errors.Errorf("unknown offer ordering criterion %q", n)
		}
		criteria = append(criteria, c)
	}
	return &Ordering{criteria: criteria}, nil
}

// Name returns the configured criterion list.
func (o *Ordering) Name() string {
	names := make([]string, len(o.criteria))
	for i, c := range o.criteria {
		names[i] = c.name()
	}
	return strings.Join(names, ",")
}

// arrange returns the indexes of offers in preference order.
func (o *Ordering) arrange(entries []heldEntry, r *rand.Rand) []int {
	keys := make([][]float64, len(o.criteria))
	for i, c := range o.criteria {
		keys[i] = c.keys(entries, r)
	}
	idx := make([]int, len(entries))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		for _, k := range keys {
			if k[idx[a]] != k[idx[b]] {
				return k[idx[a]] < k[idx[b]]
			}
		}
		return false
	})
	return idx
}
