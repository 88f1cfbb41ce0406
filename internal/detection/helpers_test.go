// Sentinel - Behavioral Anomaly Detection for CampusVerify
// Copyright 2026 CampusVerify
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/campusverify/sentinel

package detection

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// mockEventHistory feeds detectors canned windows without a store.
type mockEventHistory struct {
	rumorEvents []VoteEvent
	userEvents  []VoteEvent
	err         error
}

func (m *mockEventHistory) RumorEvents(ctx context.Context, rumorID string, at time.Time, window time.Duration) ([]VoteEvent, error) {
	if m.err != nil {
		return nil, m.err
	}
	return filterWindow(m.rumorEvents, at, window), nil
}

func (m *mockEventHistory) UserEvents(ctx context.Context, userID string, at time.Time, window time.Duration) ([]VoteEvent, error) {
	if m.err != nil {
		return nil, m.err
	}
	return filterWindow(m.userEvents, at, window), nil
}

func filterWindow(events []VoteEvent, at time.Time, window time.Duration) []VoteEvent {
	start := at.Add(-window)
	var out []VoteEvent
	for _, e := range events {
		if e.Timestamp.After(start) && !e.Timestamp.After(at) {
			out = append(out, e)
		}
	}
	return out
}

// mockSink records response calls and optionally fails the first N.
type mockSink struct {
	mu        sync.Mutex
	monitored []SubjectKey
	penalties []int
	freezes   []string
	failures  int
	calls     int
}

func (m *mockSink) fail() error {
	m.calls++
	if m.failures > 0 {
		m.failures--
		return fmt.Errorf("sink unavailable")
	}
	return nil
}

func (m *mockSink) ApplyMonitoring(ctx context.Context, subject SubjectKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	m.monitored = append(m.monitored, subject)
	return nil
}

func (m *mockSink) ApplyTrustPenalty(ctx context.Context, userID string, amount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	m.penalties = append(m.penalties, amount)
	return nil
}

func (m *mockSink) FreezeAccount(ctx context.Context, userID, reason string, evidence []AnomalyFlag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	m.freezes = append(m.freezes, userID)
	return nil
}

func (m *mockSink) counts() (monitored, penalties, freezes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.monitored), len(m.penalties), len(m.freezes)
}

var testBase = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

// makeVotes builds n votes on one rumor starting at start, one voter
// per vote, spaced by gap.
func makeVotes(rumorID string, n int, start time.Time, gap time.Duration, voteType VoteType) []VoteEvent {
	events := make([]VoteEvent, n)
	for i := 0; i < n; i++ {
		events[i] = VoteEvent{
			EventID:   fmt.Sprintf("evt-%s-%d", rumorID, i),
			RumorID:   rumorID,
			UserID:    fmt.Sprintf("user-%d", i),
			VoteType:  voteType,
			Stake:     5,
			Timestamp: start.Add(time.Duration(i) * gap),
			Seq:       uint64(i + 1),
		}
	}
	return events
}
