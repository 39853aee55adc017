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
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/uber-go/tally"

	"github.com/uber/borealis/pkg/scheduler/api"
	"github.com/uber/borealis/pkg/scheduler/driver"
	"github.com/uber/borealis/pkg/scheduler/filter"
)

// Config tunes the offer manager.
type Config struct {
	// MinHold is the minimum time an offer stays in the pool before it
	// is returned to the cluster manager. The actual hold is drawn
	// uniformly from [MinHold, MinHold+JitterWindow) so returns do not
	// synchronize.
	MinHold      time.Duration `yaml:"min_hold"`
	JitterWindow time.Duration `yaml:"jitter_window"`

	// Order lists ordering criteria, most significant first.
	Order []string `yaml:"order"`

	// UnavailabilityThreshold controls how close to a host maintenance
	// window an offer may be before it is declined outright.
	UnavailabilityThreshold time.Duration `yaml:"unavailability_threshold"`

	// DeclineFilterDuration is passed with every decline so the cluster
	// manager withholds the host for a while.
	DeclineFilterDuration time.Duration `yaml:"decline_filter_duration"`

	BanMaxCacheSize int           `yaml:"ban_max_cache_size"`
	BanExpireAfter  time.Duration `yaml:"ban_expire_after"`
}

func (c *Config) normalize() {
	if c.MinHold == 0 {
		c.MinHold = 5 * time.Minute
	}
	if c.JitterWindow == 0 {
		c.JitterWindow = time.Minute
	}
	if len(c.Order) == 0 {
		c.Order = []string{OrderRandom}
	}
	if c.UnavailabilityThreshold == 0 {
		c.UnavailabilityThreshold = 10 * time.Minute
	}
	if c.DeclineFilterDuration == 0 {
		c.DeclineFilterDuration = 5 * time.Second
	}
	if c.BanMaxCacheSize == 0 {
		c.BanMaxCacheSize = 100000
	}
	if c.BanExpireAfter == 0 {
		c.BanExpireAfter = 10 * time.Minute
	}
}

type heldOffer struct {
	offer *api.Offer
	added time.Time
	timer *clock.Timer
}

// Manager holds offers received from the cluster manager until the
// scheduler consumes them or their hold expires. Expired offers are
// declined through the driver.
type Manager struct {
	mu      sync.Mutex
	held    map[string]*heldOffer
	byAgent map[string]map[string]struct{}

	config   Config
	ordering *Ordering
	bans     *banCache
	driver   driver.Driver
	clock    clock.Clock
	rand     *rand.Rand
	metrics  *Metrics
}

// NewManager creates an offer Manager.
func NewManager(
	d driver.Driver,
	cfg Config,
	clk clock.Clock,
	scope tally.Scope) (*Manager, error) {

	cfg.normalize()
	ordering, err := NewOrdering(cfg.Order...)
	if err != nil {
		return nil, err
	}
	bans, err := newBanCache(cfg.BanMaxCacheSize, cfg.BanExpireAfter, clk)
	if err != nil {
		return nil, err
	}
	return &Manager{
		held:     make(map[string]*heldOffer),
		byAgent:  make(map[string]map[string]struct{}),
		config:   cfg,
		ordering: ordering,
		bans:     bans,
		driver:   d,
		clock:    clk,
		rand:     rand.New(rand.NewSource(clk.Now().UnixNano())),
		metrics:  NewMetrics(scope),
	}, nil
}

// AddOffers admits offers into the pool. Offers whose host becomes
// unavailable within the configured threshold are declined immediately.
// An offer id already in the pool is replaced.
func (m *Manager) AddOffers(offers []*api.Offer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	for _, o := range offers {
		if m.unavailableSoon(o, now) {
			m.declineLocked(o.ID, "maintenance imminent")
			continue
		}
		if prev, ok := m.held[o.ID]; ok {
			prev.timer.Stop()
		}
		hold := m.config.MinHold
		if m.config.JitterWindow > 0 {
			hold += time.Duration(m.rand.Int63n(int64(m.config.JitterWindow)))
		}
		id := o.ID
		h := &heldOffer{
			offer: o,
			added: now,
			timer: m.clock.AfterFunc(hold, func() { m.returnOffer(id) }),
		}
		m.held[o.ID] = h
		agents, ok := m.byAgent[o.AgentID]
		if !ok {
			agents = make(map[string]struct{})
			m.byAgent[o.AgentID] = agents
		}
		agents[o.ID] = struct{}{}
		m.metrics.Added.Inc(1)
	}
	m.updateGauges()
}

// RescindOffer drops an offer the cluster manager has withdrawn. No
// decline is sent since the offer is no longer valid.
func (m *Manager) RescindOffer(offerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.removeLocked(offerID) {
		m.metrics.Rescinded.Inc(1)
	}
	m.updateGauges()
}

// returnOffer fires when an offer's hold expires.
func (m *Manager) returnOffer(offerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.removeLocked(offerID) {
		return
	}
	m.metrics.Returned.Inc(1)
	if err := m.driver.DeclineOffer(offerID, m.config.DeclineFilterDuration); err != nil {
		log.WithError(err).
			WithField("offer_id", offerID).
			Warn("Failed to enqueue decline for expired offer")
	}
	m.updateGauges()
}

// Claimed is the result of a successful Match. The offer has left the
// pool; the caller owns launching against it.
type Claimed struct {
	Offer *api.Offer
}

// ErrNoFit is returned by Match when no held offer satisfies the task.
var ErrNoFit = errors.New("offers: no held offer fits")

// Match walks held offers in preference order looking for one the task
// group fits. fit returns the vetoes for an offer; an empty result
// claims the offer. Vetoed offers are banned for the group so later
// passes skip them cheaply.
func (m *Manager) Match(
	groupKey string,
	fit func(*api.Offer) []filter.Veto) (*Claimed, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	ids, entries := m.snapshotLocked()
	for _, i := range m.ordering.arrange(entries, m.rand) {
		id := ids[i]
		h, ok := m.held[id]
		if !ok {
			continue
		}
		if m.unavailableSoon(h.offer, now) {
			m.declineLocked(id, "maintenance imminent")
			continue
		}
		if m.bans.isBanned(id, groupKey) {
			continue
		}
		vetoes := fit(h.offer)
		if len(vetoes) > 0 {
			m.bans.ban(id, groupKey)
			m.metrics.Bans.Inc(1)
			continue
		}
		m.removeLocked(id)
		h.timer.Stop()
		m.metrics.Claimed.Inc(1)
		m.updateGauges()
		return &Claimed{Offer: h.offer}, nil
	}
	m.updateGauges()
	return nil, ErrNoFit
}

// MatchOn behaves like Match but only considers offers from one agent.
// Used to place tasks onto agents reserved by the preemptor.
func (m *Manager) MatchOn(
	agentID string,
	groupKey string,
	fit func(*api.Offer) []filter.Veto) (*Claimed, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	for id := range m.byAgent[agentID] {
		h := m.held[id]
		if m.unavailableSoon(h.offer, now) {
			m.declineLocked(id, "maintenance imminent")
			continue
		}
		if m.bans.isBanned(id, groupKey) {
			continue
		}
		vetoes := fit(h.offer)
		if len(vetoes) > 0 {
			m.bans.ban(id, groupKey)
			m.metrics.Bans.Inc(1)
			continue
		}
		m.removeLocked(id)
		m.metrics.Claimed.Inc(1)
		m.updateGauges()
		return &Claimed{Offer: h.offer}, nil
	}
	return nil, ErrNoFit
}

// Decline returns a previously claimed or held offer to the cluster
// manager.
func (m *Manager) Decline(offerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.declineLocked(offerID, "declined by scheduler")
	m.updateGauges()
}

// GetOffers snapshots the held offers.
func (m *Manager) GetOffers() []*api.Offer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*api.Offer, 0, len(m.held))
	for _, h := range m.held {
		out = append(out, h.offer)
	}
	return out
}

// OffersByAgent returns the held offers for one agent.
func (m *Manager) OffersByAgent(agentID string) []*api.Offer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*api.Offer, 0, len(m.byAgent[agentID]))
	for id := range m.byAgent[agentID] {
		out = append(out, m.held[id].offer)
	}
	return out
}

// Stop cancels all return timers and drops the pool without declines.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, h := range m.held {
		h.timer.Stop()
		delete(m.held, id)
	}
	m.byAgent = make(map[string]map[string]struct{})
	m.updateGauges()
}

func (m *Manager) unavailableSoon(o *api.Offer, now time.Time) bool {
	if o.Unavailability == nil {
		return false
	}
	return o.Unavailability.Sub(now) <= m.config.UnavailabilityThreshold
}

func (m *Manager) declineLocked(offerID, reason string) {
	m.removeLocked(offerID)
	m.metrics.Declined.Inc(1)
	if err := m.driver.DeclineOffer(offerID, m.config.DeclineFilterDuration); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"offer_id": offerID,
			"reason":   reason,
		}).Warn("Failed to enqueue offer decline")
	}
}

func (m *Manager) removeLocked(offerID string) bool {
	h, ok := m.held[offerID]
	if !ok {
		return false
	}
	h.timer.Stop()
	delete(m.held, offerID)
	if agents, ok := m.byAgent[h.offer.AgentID]; ok {
		delete(agents, offerID)
		if len(agents) == 0 {
			delete(m.byAgent, h.offer.AgentID)
		}
	}
	return true
}

func (m *Manager) snapshotLocked() ([]string, []heldEntry) {
	ids := make([]string, 0, len(m.held))
	entries := make([]heldEntry, 0, len(m.held))
	for id, h := range m.held {
		ids = append(ids, id)
		entries = append(entries, heldEntry{
			cpu:       h.offer.Resources.CPU,
			memMB:     h.offer.Resources.MemMB,
			diskMB:    h.offer.Resources.DiskMB,
			revocable: h.offer.Resources.Revocable,
			added:     h.added,
		})
	}
	return ids, entries
}

func (m *Manager) updateGauges() {
	m.metrics.PoolSize.Update(float64(len(m.held)))
	m.metrics.BanCacheSize.Update(float64(m.bans.size()))
}
