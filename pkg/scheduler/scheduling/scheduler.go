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
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/uber-go/tally"
	"go.uber.org/atomic"

	"github.com/uber/borealis/pkg/common/background"
	"github.com/uber/borealis/pkg/scheduler/api"
	"github.com/uber/borealis/pkg/scheduler/driver"
	"github.com/uber/borealis/pkg/scheduler/filter"
	"github.com/uber/borealis/pkg/scheduler/offers"
	"github.com/uber/borealis/pkg/scheduler/resources"
	"github.com/uber/borealis/pkg/scheduler/state"
	"github.com/uber/borealis/pkg/storage"
)

const (
	_pendingWorkName  = "pending-scheduler"
	_promoteWorkName  = "throttle-promoter"
	_msgPenaltyServed = "Penalty served, re-entering pending queue"
)

// errStaleTask aborts a placement transaction when the task left PENDING
// between the snapshot and the write.
var errStaleTask = errors.New("scheduling: task no longer pending")

// Reserver exposes the preemptor's agent reservations to the scheduler.
// Reserved task groups are placed on their reserved agent before the
// general offer pool is consulted.
type Reserver interface {
	// ReservedAgent returns the agent reserved for a task group, if any.
	ReservedAgent(groupKey string) (agentID string, ok bool)
	// Fulfill releases a reservation once a task of the group lands on
	// the reserved agent.
	Fulfill(groupKey string)
}

// Config tunes the task scheduler.
type Config struct {
	// BatchSize caps how many tasks of one group are placed per pass.
	BatchSize int `yaml:"batch_size"`

	Period       time.Duration `yaml:"period"`
	InitialDelay time.Duration `yaml:"initial_delay"`

	// PromotePeriod controls how often throttled tasks are checked for
	// served penalties.
	PromotePeriod time.Duration `yaml:"promote_period"`
}

func (c *Config) normalize() {
	if c.BatchSize == 0 {
		c.BatchSize = 5
	}
	if c.Period == 0 {
		c.Period = time.Second
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = time.Second
	}
	if c.PromotePeriod == 0 {
		c.PromotePeriod = time.Second
	}
}

// Scheduler drains the pending queue onto held offers. Each pass
// snapshots cluster state, groups pending tasks by their scheduling
// group and places up to a batch of each group.
type Scheduler struct {
	config         Config
	store          *storage.Storage
	state          *state.Manager
	offers         *offers.Manager
	driver         driver.Driver
	reserver       Reserver
	updateReserver UpdateAgentReserver
	clock          clock.Clock
	works          background.Manager
	metrics        *Metrics
}

// NewScheduler creates the task scheduler. reserver may be nil when
// preemption is disabled; updateReserver may be nil when no job update
// orchestrator is attached.
func NewScheduler(
	cfg Config,
	store *storage.Storage,
	stateMgr *state.Manager,
	offerMgr *offers.Manager,
	d driver.Driver,
	reserver Reserver,
	updateReserver UpdateAgentReserver,
	clk clock.Clock,
	scope tally.Scope) (*Scheduler, error) {

	cfg.normalize()
	s := &Scheduler{
		config:         cfg,
		store:          store,
		state:          stateMgr,
		offers:         offerMgr,
		driver:         d,
		reserver:       reserver,
		updateReserver: updateReserver,
		clock:          clk,
		works:          background.NewManager(),
		metrics:        NewMetrics(scope),
	}
	err := s.works.RegisterWorks(
		background.Work{
			Name:         _pendingWorkName,
			Func:         func(*atomic.Bool) { s.runPass() },
			Period:       cfg.Period,
			InitialDelay: cfg.InitialDelay,
		},
		background.Work{
			Name:   _promoteWorkName,
			Func:   func(*atomic.Bool) { s.promoteThrottled() },
			Period: cfg.PromotePeriod,
		},
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins the scheduling and promotion loops.
func (s *Scheduler) Start() {
	s.works.Start()
}

// Stop halts the loops. In-flight passes complete.
func (s *Scheduler) Stop() {
	s.works.Stop()
}

type taskGroup struct {
	key    string
	config *api.TaskConfig
	tasks  []*api.Task
}

// runPass executes one scheduling pass.
func (s *Scheduler) runPass() {
	sw := s.metrics.PassDuration.Start()
	defer sw.Stop()
	s.metrics.Passes.Inc(1)

	groups, counter, hostAttrs, err := s.snapshot()
	if err != nil {
		log.WithError(err).Error("Failed to snapshot cluster state for scheduling")
		return
	}

	for _, g := range groups {
		batch := g.tasks
		if len(batch) > s.config.BatchSize {
			batch = batch[:s.config.BatchSize]
		}
		for _, t := range batch {
			s.place(t, g.key, counter, hostAttrs)
		}
	}
}

// snapshot reads the pending queue and cluster topology in one read
// transaction. Groups are ordered deterministically and tasks within a
// group by arrival.
func (s *Scheduler) snapshot() (
	[]taskGroup,
	*activeTaskCounter,
	map[string]*api.HostAttributes,
	error) {

	var pending, all []*api.Task
	var hosts []*api.HostAttributes
	err := s.store.Read(func(v *storage.View) error {
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
	s.metrics.PendingTasks.Update(float64(len(pending)))

	byKey := make(map[string]*taskGroup)
	for _, t := range pending {
		key := t.Config.GroupKey()
		g, ok := byKey[key]
		if !ok {
			g = &taskGroup{key: key, config: t.Config}
			byKey[key] = g
		}
		g.tasks = append(g.tasks, t)
	}
	groups := make([]taskGroup, 0, len(byKey))
	for _, g := range byKey {
		sort.SliceStable(g.tasks, func(a, b int) bool {
			return arrival(g.tasks[a]).Before(arrival(g.tasks[b]))
		})
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(a, b int) bool { return groups[a].key < groups[b].key })

	hostAttrs := make(map[string]*api.HostAttributes, len(hosts))
	for _, h := range hosts {
		hostAttrs[h.Host] = h
	}
	return groups, newActiveTaskCounter(all, hosts), hostAttrs, nil
}

func arrival(t *api.Task) time.Time {
	if len(t.Events) == 0 {
		return time.Time{}
	}
	return t.Events[0].Timestamp
}

// place finds an offer for one task and launches it. Reserved agents are
// tried first so preemption victims are not wasted on other groups.
func (s *Scheduler) place(
	t *api.Task,
	groupKey string,
	counter *activeTaskCounter,
	hostAttrs map[string]*api.HostAttributes) {

	fit := func(o *api.Offer) []filter.Veto {
		attrs, ok := hostAttrs[o.Host]
		if !ok {
			attrs = &api.HostAttributes{Host: o.Host}
		}
		return filter.Fit(t.Config, o.Resources, attrs, counter)
	}

	var claimed *offers.Claimed
	var err error
	reserved := false
	pinned := false
	instKey := InstanceKey(t.Config.Job, t.InstanceID)
	if s.updateReserver != nil {
		if agentID, ok := s.updateReserver.ReservedAgent(instKey); ok {
			claimed, err = s.offers.MatchOn(agentID, groupKey, fit)
			pinned = err == nil
		}
	}
	if claimed == nil && s.reserver != nil {
		if agentID, ok := s.reserver.ReservedAgent(groupKey); ok {
			claimed, err = s.offers.MatchOn(agentID, groupKey, fit)
			reserved = err == nil
		}
	}
	if claimed == nil {
		claimed, err = s.offers.Match(groupKey, fit)
	}
	if err != nil {
		s.metrics.NoFit.Inc(1)
		return
	}
	offer := claimed.Offer

	var assigned *api.Task
	err = s.store.Write(func(mut *storage.Mutation) error {
		current, err := mut.GetTask(t.ID)
		if err != nil {
			return err
		}
		if current == nil || current.Status != api.TaskStatePending {
			return errStaleTask
		}
		assigned, err = s.state.AssignTask(
			mut, t.ID, offer.Host, offer.AgentID,
			func(task *api.Task) error {
				ports, err := resources.AssignPorts(
					offer.Resources.Ports, task.Config.Resources.NamedPorts)
				if err != nil {
					return err
				}
				task.AssignedPorts = ports
				return nil
			})
		return err
	})
	if err != nil {
		s.offers.Decline(offer.ID)
		if errors.Is(err, errStaleTask) {
			s.metrics.StalePlacementAttempts.Inc(1)
			return
		}
		s.metrics.PlacementFailures.Inc(1)
		log.WithError(err).WithFields(log.Fields{
			"task_id": t.ID,
			"host":    offer.Host,
		}).Error("Failed to assign task to offer")
		return
	}

	if pinned {
		s.updateReserver.Release(instKey)
		s.metrics.ReservationPlacements.Inc(1)
	}
	if reserved {
		s.reserver.Fulfill(groupKey)
		s.metrics.ReservationPlacements.Inc(1)
	}
	s.metrics.Placements.Inc(1)

	if err := s.driver.LaunchTask(offer.ID, assigned); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"task_id": assigned.ID,
			"host":    offer.Host,
		}).Warn("Launch not enqueued, reconciliation will converge")
	}
}

// promoteThrottled moves throttled tasks whose penalty has been served
// back to PENDING.
func (s *Scheduler) promoteThrottled() {
	now := s.clock.Now()
	err := s.store.Write(func(mut *storage.Mutation) error {
		throttled, err := mut.GetTasksByStatus(api.TaskStateThrottled)
		if err != nil {
			return err
		}
		s.metrics.ThrottledTasks.Update(float64(len(throttled)))
		expected := api.TaskStateThrottled
		for _, t := range throttled {
			if t.PenaltyDeadline.After(now) {
				continue
			}
			outcome, err := s.state.ChangeState(
				mut, t.ID, &expected, api.TaskStatePending, _msgPenaltyServed)
			if err != nil {
				return err
			}
			if outcome == state.OutcomeSuccess {
				s.metrics.Promotions.Inc(1)
			}
		}
		return nil
	})
	if err != nil {
		log.WithError(err).Error("Failed to promote throttled tasks")
	}
}
