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

// Package preemptor frees capacity for starved higher-tier work by
// evicting lower-tier tasks and reserving the vacated agent for the
// starved task group until it lands or the reservation expires.
package preemptor

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	log "github.com/sirupsen/logrus"
	"github.com/uber-go/tally"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"github.com/uber/borealis/pkg/common/background"
	"github.com/uber/borealis/pkg/scheduler/api"
	"github.com/uber/borealis/pkg/scheduler/filter"
	"github.com/uber/borealis/pkg/scheduler/offers"
	"github.com/uber/borealis/pkg/scheduler/resources"
	"github.com/uber/borealis/pkg/scheduler/state"
	"github.com/uber/borealis/pkg/storage"
)

const (
	_passWorkName = "preemption-pass"
	_killWorkName = "preemption-killer"

	_msgPreempting = "Preempting for higher tier work"
	_msgPreempted  = "Preempted"
)

// Config tunes the preemptor.
type Config struct {
	Enabled      bool          `yaml:"enabled"`
	Period       time.Duration `yaml:"period"`
	InitialDelay time.Duration `yaml:"initial_delay"`

	// ReservationMaxBatchSize caps how many reservations one pass may
	// create.
	ReservationMaxBatchSize int `yaml:"reservation_max_batch_size"`

	// ReservationLifetime bounds how long a vacated agent is withheld
	// for the starved group before the reservation lapses.
	ReservationLifetime time.Duration `yaml:"reservation_lifetime"`

	// KillRatePerSecond and KillBurst bound how fast preempting tasks
	// are moved to KILLING.
	KillRatePerSecond float64       `yaml:"kill_rate_per_second"`
	KillBurst         int           `yaml:"kill_burst"`
	KillDrainPeriod   time.Duration `yaml:"kill_drain_period"`
}

func (c *Config) normalize() {
	if c.Period == 0 {
		c.Period = 30 * time.Second
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = time.Minute
	}
	if c.ReservationMaxBatchSize == 0 {
		c.ReservationMaxBatchSize = 5
	}
	if c.ReservationLifetime == 0 {
		c.ReservationLifetime = 3 * time.Minute
	}
	if c.KillRatePerSecond == 0 {
		c.KillRatePerSecond = 5
	}
	if c.KillBurst == 0 {
		c.KillBurst = 10
	}
	if c.KillDrainPeriod == 0 {
		c.KillDrainPeriod = time.Second
	}
}

type reservation struct {
	agentID string
	expires time.Time
}

// Preemptor periodically scans for starved pending task groups and
// evicts strictly lower tier tasks to make room for them.
type Preemptor struct {
	config  Config
	store   *storage.Storage
	state   *state.Manager
	offers  *offers.Manager
	clock   clock.Clock
	limiter *rate.Limiter
	works   background.Manager
	metrics *Metrics

	mu           sync.Mutex
	reservations map[string]reservation
}

// NewPreemptor creates the preemptor.
func NewPreemptor(
	cfg Config,
	store *storage.Storage,
	stateMgr *state.Manager,
	offerMgr *offers.Manager,
	clk clock.Clock,
	scope tally.Scope) (*Preemptor, error) {

	cfg.normalize()
	p := &Preemptor{
		config:       cfg,
		store:        store,
		state:        stateMgr,
		offers:       offerMgr,
		clock:        clk,
		limiter:      rate.NewLimiter(rate.Limit(cfg.KillRatePerSecond), cfg.KillBurst),
		works:        background.NewManager(),
		metrics:      NewMetrics(scope),
		reservations: make(map[string]reservation),
	}
	err := p.works.RegisterWorks(
		background.Work{
			Name:         _passWorkName,
			Func:         func(*atomic.Bool) { p.runPass() },
			Period:       cfg.Period,
			InitialDelay: cfg.InitialDelay,
		},
		background.Work{
			Name:   _killWorkName,
			Func:   func(*atomic.Bool) { p.drainPreempting() },
			Period: cfg.KillDrainPeriod,
		},
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Start begins the preemption loops. A disabled preemptor stays
// constructed so reservations resolve to empty, but runs nothing.
func (p *Preemptor) Start() {
	if !p.config.Enabled {
		log.Info("Preemption is disabled")
		return
	}
	p.works.Start()
}

// Stop halts the loops.
func (p *Preemptor) Stop() {
	if !p.config.Enabled {
		return
	}
	p.works.Stop()
}

// ReservedAgent returns the live reservation for a task group.
func (p *Preemptor) ReservedAgent(groupKey string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.reservations[groupKey]
	if !ok {
		return "", false
	}
	if p.clock.Now().After(r.expires) {
		delete(p.reservations, groupKey)
		p.metrics.ExpiredReservations.Inc(1)
		return "", false
	}
	return r.agentID, true
}

// Fulfill releases a reservation once the group has landed.
func (p *Preemptor) Fulfill(groupKey string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.reservations, groupKey)
}

// runPass executes one preemption pass.
func (p *Preemptor) runPass() {
	p.metrics.Passes.Inc(1)
	p.expireReservations()

	starved, activeByAgent, hostAttrs, err := p.snapshot()
	if err != nil {
		log.WithError(err).Error("Failed to snapshot cluster state for preemption")
		return
	}

	made := 0
	for _, g := range starved {
		if made >= p.config.ReservationMaxBatchSize {
			break
		}
		if _, ok := p.ReservedAgent(g.key); ok {
			continue
		}
		vs := p.chooseVictims(g, activeByAgent, hostAttrs)
		if vs == nil {
			p.metrics.NoVictimSet.Inc(1)
			continue
		}
		if err := p.evict(vs); err != nil {
			log.WithError(err).
				WithField("agent_id", vs.agentID).
				Error("Failed to mark preemption victims")
			continue
		}
		p.reserve(g.key, vs.agentID)
		// The agent is spoken for; drop it from this pass.
		delete(activeByAgent, vs.agentID)
		made++
	}
}

type starvedGroup struct {
	key     string
	config  *api.TaskConfig
	arrival time.Time
}

// snapshot reads pending and active tasks plus host attributes in one
// read transaction. Starved groups come back ordered by tier rank
// descending, then earliest arrival.
func (p *Preemptor) snapshot() (
	[]starvedGroup,
	map[string][]*api.Task,
	map[string]*api.HostAttributes,
	error) {

	var pending, all []*api.Task
	var hosts []*api.HostAttributes
	err := p.store.Read(func(v *storage.View) error {
		var err error
		if pending, err = v.GetTasksByStatus(api.TaskStatePending); err != nil {
			return err
		}
		if all, err = v.GetAllTasks(); err != nil {
			return err
		}
		hosts, err = v.GetAllHostAttributes()
		return err
	})
	if err != nil {
		return nil, nil, nil, err
	}

	byKey := make(map[string]*starvedGroup)
	for _, t := range pending {
		if t.Config.Tier.Rank() == 0 {
			// Bottom tier work has nothing beneath it to evict.
			continue
		}
		key := t.Config.GroupKey()
		g, ok := byKey[key]
		if !ok {
			byKey[key] = &starvedGroup{
				key:     key,
				config:  t.Config,
				arrival: arrival(t),
			}
			continue
		}
		if a := arrival(t); a.Before(g.arrival) {
			g.arrival = a
		}
	}
	starved := make([]starvedGroup, 0, len(byKey))
	for _, g := range byKey {
		starved = append(starved, *g)
	}
	sort.Slice(starved, func(a, b int) bool {
		ra, rb := starved[a].config.Tier.Rank(), starved[b].config.Tier.Rank()
		if ra != rb {
			return ra > rb
		}
		if !starved[a].arrival.Equal(starved[b].arrival) {
			return starved[a].arrival.Before(starved[b].arrival)
		}
		return starved[a].key < starved[b].key
	})

	activeByAgent := make(map[string][]*api.Task)
	for _, t := range all {
		if !t.Status.IsActive() || t.AgentID == "" {
			continue
		}
		activeByAgent[t.AgentID] = append(activeByAgent[t.AgentID], t)
	}
	hostAttrs := make(map[string]*api.HostAttributes, len(hosts))
	for _, h := range hosts {
		hostAttrs[h.Host] = h
	}
	return starved, activeByAgent, hostAttrs, nil
}

func arrival(t *api.Task) time.Time {
	if len(t.Events) == 0 {
		return time.Time{}
	}
	return t.Events[0].Timestamp
}

// chooseVictims picks the agent whose eviction is cheapest for the
// group: fewest victims, then least freed excess, then lowest agent id.
func (p *Preemptor) chooseVictims(
	g starvedGroup,
	activeByAgent map[string][]*api.Task,
	hostAttrs map[string]*api.HostAttributes) *victimSet {

	rank := g.config.Tier.Rank()
	need := g.config.Resources.Vector

	var best *victimSet
	for agentID, active := range activeByAgent {
		if len(active) == 0 {
			continue
		}
		host := active[0].AgentHost
		if !p.hostAdmits(g.config, host, hostAttrs) {
			continue
		}

		free := resources.Vector{}
		for _, o := range p.offers.OffersByAgent(agentID) {
			free = free.Add(o.Resources.Vector)
		}

		var candidates []*api.Task
		for _, t := range active {
			if t.Config.Tier.Rank() < rank {
				candidates = append(candidates, t)
			}
		}
		victims := minimalVictims(need, free, candidates)
		if len(victims) == 0 {
			// An agent already fitting the task without evictions is
			// the scheduler's business, not ours.
			continue
		}

		freed := free
		for _, t := range victims {
			freed = freed.Add(t.Config.Resources.Vector)
		}
		vs := &victimSet{
			agentID: agentID,
			host:    host,
			victims: victims,
			waste:   freed.Score() - need.Score(),
		}
		if vs.better(best) {
			best = vs
		}
	}
	return best
}

// hostAdmits checks the non-resource vetoes for the group on a host.
// Resources are what eviction frees, so resource vetoes are ignored.
func (p *Preemptor) hostAdmits(
	config *api.TaskConfig,
	host string,
	hostAttrs map[string]*api.HostAttributes) bool {

	attrs, ok := hostAttrs[host]
	if !ok {
		attrs = &api.HostAttributes{Host: host}
	}
	for _, v := range filter.Fit(config, resources.Offered{}, attrs, nil) {
		switch v.Kind {
		case filter.VetoInsufficientCPU,
			filter.VetoInsufficientMem,
			filter.VetoInsufficientDisk,
			filter.VetoInsufficientPorts:
			continue
		default:
			return false
		}
	}
	return true
}

// evict marks every victim PREEMPTING in one transaction. The drain
// worker moves them to KILLING under the kill rate limit.
func (p *Preemptor) evict(vs *victimSet) error {
	return p.store.Write(func(mut *storage.Mutation) error {
		for _, v := range vs.victims {
			expected := v.Status
			outcome, err := p.state.ChangeState(
				mut, v.ID, &expected, api.TaskStatePreempting, _msgPreempting)
			if err != nil {
				return err
			}
			if outcome == state.OutcomeSuccess {
				p.metrics.Victims.Inc(1)
			}
		}
		return nil
	})
}

func (p *Preemptor) reserve(groupKey, agentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reservations[groupKey] = reservation{
		agentID: agentID,
		expires: p.clock.Now().Add(p.config.ReservationLifetime),
	}
	p.metrics.Reservations.Inc(1)
	p.metrics.ActiveReservations.Update(float64(len(p.reservations)))
}

func (p *Preemptor) expireReservations() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clock.Now()
	for key, r := range p.reservations {
		if now.After(r.expires) {
			delete(p.reservations, key)
			p.metrics.ExpiredReservations.Inc(1)
		}
	}
	p.metrics.ActiveReservations.Update(float64(len(p.reservations)))
}

// drainPreempting moves PREEMPTING tasks to KILLING as the rate limiter
// allows. Tasks beyond the budget wait for a later drain.
func (p *Preemptor) drainPreempting() {
	err := p.store.Write(func(mut *storage.Mutation) error {
		preempting, err := mut.GetTasksByStatus(api.TaskStatePreempting)
		if err != nil {
			return err
		}
		sort.SliceStable(preempting, func(a, b int) bool {
			return preempting[a].ID < preempting[b].ID
		})
		expected := api.TaskStatePreempting
		for _, t := range preempting {
			if !p.limiter.Allow() {
				p.metrics.KillsDeferred.Inc(int64(1))
				break
			}
			outcome, err := p.state.ChangeState(
				mut, t.ID, &expected, api.TaskStateKilling, _msgPreempted)
			if err != nil {
				return err
			}
			if outcome == state.OutcomeSuccess {
				p.metrics.Kills.Inc(1)
			}
		}
		return nil
	})
	if err != nil {
		log.WithError(err).Error("Failed to drain preempting tasks")
	}
}
