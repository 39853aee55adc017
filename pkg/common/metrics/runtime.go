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

package metrics

import (
	"runtime"
	"time"

	"github.com/uber-go/tally"
)

// _gcPauseBufferSize is the size of runtime.MemStats.PauseNs.
const _gcPauseBufferSize = 256

// RuntimeConfig controls the Go runtime stats collector.
type RuntimeConfig struct {
	Enable          bool          `yaml:"enable"`
	CollectInterval time.Duration `yaml:"collect_interval"`
}

// RuntimeCollector periodically publishes Go runtime stats (goroutines,
// heap, GC pauses) to a tally scope.
type RuntimeCollector struct {
	interval time.Duration
	quit     chan struct{}

	goroutines tally.Gauge
	maxProcs   tally.Gauge
	allocated  tally.Gauge
	heapAlloc  tally.Gauge
	heapIdle   tally.Gauge
	heapInuse  tally.Gauge
	stackInuse tally.Gauge
	gcCycles   tally.Counter
	gcPause    tally.Timer
	lastNumGC  uint32
}

// StartRuntimeCollector starts publishing runtime stats per the config and
// returns a stop function. With collection disabled the stop function is a
// no-op.
func StartRuntimeCollector(cfg RuntimeConfig, scope tally.Scope) func() {
	if !cfg.Enable {
		return func() {}
	}
	interval := cfg.CollectInterval
	if interval == 0 {
		interval = 10 * time.Second
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	sub := scope.SubScope("runtime")
	c := &RuntimeCollector{
		interval:   interval,
		quit:       make(chan struct{}),
		goroutines: sub.Gauge("num_goroutines"),
		maxProcs:   sub.Gauge("gomaxprocs"),
		allocated:  sub.Gauge("memory_allocated"),
		heapAlloc:  sub.Gauge("memory_heap"),
		heapIdle:   sub.Gauge("memory_heapidle"),
		heapInuse:  sub.Gauge("memory_heapinuse"),
		stackInuse: sub.Gauge("memory_stack"),
		gcCycles:   sub.Counter("memory_num_gc"),
		gcPause:    sub.Timer("memory_gc_pause"),
		lastNumGC:  memStats.NumGC,
	}
	go c.run()
	return func() { close(c.quit) }
}

func (c *RuntimeCollector) run() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.quit:
			return
		}
	}
}

func (c *RuntimeCollector) collect() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	c.goroutines.Update(float64(runtime.NumGoroutine()))
	c.maxProcs.Update(float64(runtime.GOMAXPROCS(0)))
	c.allocated.Update(float64(memStats.Alloc))
	c.heapAlloc.Update(float64(memStats.HeapAlloc))
	c.heapIdle.Update(float64(memStats.HeapIdle))
	c.heapInuse.Update(float64(memStats.HeapInuse))
	c.stackInuse.Update(float64(memStats.StackInuse))

	num := memStats.NumGC
	last := c.lastNumGC
	c.lastNumGC = num
	if delta := num - last; delta > 0 {
		c.gcCycles.Inc(int64(delta))
		if delta >= _gcPauseBufferSize {
			// The pause buffer wrapped; only the newest entries survive.
			last = num - _gcPauseBufferSize
		}
		for i := last; i != num; i++ {
			c.gcPause.Record(time.Duration(memStats.PauseNs[i%_gcPauseBufferSize]))
		}
	}
}
