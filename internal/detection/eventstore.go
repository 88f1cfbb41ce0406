// Sentinel - Behavioral Anomaly Detection for CampusVerify
// Copyright 2026 CampusVerify
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/campusverify/sentinel

package detection

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/campusverify/sentinel/internal/metrics"
)

// EventStoreConfig configures retention and ordering tolerance.
type EventStoreConfig struct {
	// RumorRetention is how long rumor timelines keep events. It must be
	// at least the largest rumor-scope detector window; eviction past it
	// can never change a within-window outcome.
	RumorRetention time.Duration `json:"rumor_retention"`

	// UserRetention is how long user timelines keep events. The always-on
	// activity profile needs a full day of history.
	UserRetention time.Duration `json:"user_retention"`

	// SkewTolerance is the allowed backwards clock skew. Events earlier
	// than the subject's last event by more than this are rejected.
	SkewTolerance time.Duration `json:"skew_tolerance"`
}

// DefaultEventStoreConfig returns production defaults.
func DefaultEventStoreConfig() EventStoreConfig {
	return EventStoreConfig{
		RumorRetention: 15 * time.Minute,
		UserRetention:  25 * time.Hour,
		SkewTolerance:  2 * time.Second,
	}
}

// EventStore is the in-memory, append-only history of vote events, indexed
// per rumor and per user. Append preserves arrival order; a store-assigned
// monotonic sequence number breaks timestamp ties so ordering never depends
// on wall-clock precision.
//
// Each timeline carries its own mutex, so appends and queries for distinct
// rumors and users proceed in parallel; the store-level lock only guards
// the index maps.
type EventStore struct {
	cfg EventStoreConfig
	seq atomic.Uint64

	mu     sync.RWMutex
	rumors map[string]*timeline
	users  map[string]*timeline

	metaMu sync.RWMutex
	meta   map[string]RumorRecord
}

// timeline is one subject's event history in arrival order.
type timeline struct {
	mu        sync.Mutex
	events    []VoteEvent
	lastTS    time.Time
	retention time.Duration
}

// NewEventStore creates an event store with the given configuration.
// Zero-valued fields fall back to defaults.
func NewEventStore(cfg EventStoreConfig) *EventStore {
	def := DefaultEventStoreConfig()
	if cfg.RumorRetention <= 0 {
		cfg.RumorRetention = def.RumorRetention
	}
	if cfg.UserRetention <= 0 {
		cfg.UserRetention = def.UserRetention
	}
	if cfg.SkewTolerance < 0 {
		cfg.SkewTolerance = def.SkewTolerance
	}
	return &EventStore{
		cfg:    cfg,
		rumors: make(map[string]*timeline),
		users:  make(map[string]*timeline),
		meta:   make(map[string]RumorRecord),
	}
}

// RegisterRumor records rumor metadata. Only the identifier and creation
// time are read; the rumor store itself is external.
func (s *EventStore) RegisterRumor(r RumorRecord) {
	s.metaMu.Lock()
	s.meta[r.RumorID] = r
	s.metaMu.Unlock()
}

// Rumor returns the registered metadata for a rumor, if any.
func (s *EventStore) Rumor(rumorID string) (RumorRecord, bool) {
	s.metaMu.RLock()
	defer s.metaMu.RUnlock()
	r, ok := s.meta[rumorID]
	return r, ok
}

// Append validates ordering, assigns a sequence number, and stores the
// event on both its rumor and user timelines. It is safe under concurrent
// calls and returns immediately; there is no suspension.
//
// An event timestamped before the subject's last recorded event by more
// than the skew tolerance is rejected with ErrOutOfOrder; the engine never
// silently reorders.
func (s *EventStore) Append(event *VoteEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}

	rumorTL := s.timelineFor(&s.rumors, event.RumorID, s.cfg.RumorRetention)
	userTL := s.timelineFor(&s.users, event.UserID, s.cfg.UserRetention)

	// Fixed lock order (rumor, then user) keeps concurrent appends
	// deadlock-free.
	rumorTL.mu.Lock()
	defer rumorTL.mu.Unlock()
	userTL.mu.Lock()
	defer userTL.mu.Unlock()

	if err := rumorTL.checkOrder(event.Timestamp, s.cfg.SkewTolerance); err != nil {
		return fmt.Errorf("rumor %s: %w", event.RumorID, err)
	}
	if err := userTL.checkOrder(event.Timestamp, s.cfg.SkewTolerance); err != nil {
		return fmt.Errorf("user %s: %w", event.UserID, err)
	}

	event.Seq = s.seq.Add(1)
	evicted := rumorTL.append(*event) + userTL.append(*event)
	if evicted > 0 {
		metrics.EventsEvicted.Add(float64(evicted))
	}
	return nil
}

// timelineFor returns the timeline for a key, creating it if absent.
func (s *EventStore) timelineFor(index *map[string]*timeline, key string, retention time.Duration) *timeline {
	s.mu.RLock()
	tl, ok := (*index)[key]
	s.mu.RUnlock()
	if ok {
		return tl
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tl, ok = (*index)[key]; ok {
		return tl
	}
	tl = &timeline{retention: retention}
	(*index)[key] = tl
	return tl
}

// checkOrder rejects timestamps behind the timeline head beyond tolerance.
// Must be called with the timeline lock held.
func (t *timeline) checkOrder(ts time.Time, tolerance time.Duration) error {
	if !t.lastTS.IsZero() && ts.Before(t.lastTS.Add(-tolerance)) {
		return ErrOutOfOrder
	}
	return nil
}

// append stores the event and evicts entries past retention, measured from
// the new event's timestamp, not wall-clock. Returns the eviction count.
// Must be called with the timeline lock held.
func (t *timeline) append(event VoteEvent) int {
	t.events = append(t.events, event)
	if event.Timestamp.After(t.lastTS) {
		t.lastTS = event.Timestamp
	}

	cutoff := t.lastTS.Add(-t.retention)
	idx := 0
	for idx < len(t.events) && !t.events[idx].Timestamp.After(cutoff) {
		idx++
	}
	if idx > 0 {
		t.events = append(t.events[:0:0], t.events[idx:]...)
	}
	return idx
}

// RumorEvents returns the votes on a rumor within (at-window, at],
// time-ordered with sequence numbers breaking ties.
func (s *EventStore) RumorEvents(_ context.Context, rumorID string, at time.Time, window time.Duration) ([]VoteEvent, error) {
	return s.window(&s.rumors, rumorID, at, window), nil
}

// UserEvents returns a user's votes across all rumors within
// (at-window, at], time-ordered with sequence numbers breaking ties.
func (s *EventStore) UserEvents(_ context.Context, userID string, at time.Time, window time.Duration) ([]VoteEvent, error) {
	return s.window(&s.users, userID, at, window), nil
}

// window copies the matching slice of a timeline. The half-open bound
// (at-window, at] makes retention edges exact: an event at precisely
// at-window is outside the window.
func (s *EventStore) window(index *map[string]*timeline, key string, at time.Time, window time.Duration) []VoteEvent {
	s.mu.RLock()
	tl, ok := (*index)[key]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	start := at.Add(-window)

	tl.mu.Lock()
	out := make([]VoteEvent, 0, len(tl.events))
	for _, ev := range tl.events {
		if ev.Timestamp.After(start) && !ev.Timestamp.After(at) {
			out = append(out, ev)
		}
	}
	tl.mu.Unlock()

	// Arrival order is already near time order; skewed arrivals within
	// tolerance are the only disorder, so sort the copy to honor the
	// time-ordered contract.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Seq < out[j].Seq
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Len returns the total number of retained events across rumor timelines.
func (s *EventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, tl := range s.rumors {
		tl.mu.Lock()
		total += len(tl.events)
		tl.mu.Unlock()
	}
	return total
}
