// Sentinel - Behavioral Anomaly Detection for CampusVerify
// Copyright 2026 CampusVerify
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/campusverify/sentinel

package detection

import (
	"testing"
	"time"
)

func observeAll(p *Profiler, events []VoteEvent) {
	for i := range events {
		p.Observe(&events[i])
	}
}

func userVotes(userID string, n int, start time.Time, gap time.Duration, voteType VoteType) []VoteEvent {
	events := make([]VoteEvent, n)
	for i := 0; i < n; i++ {
		events[i] = VoteEvent{
			EventID:   userID + "-" + string(rune('a'+i%26)),
			RumorID:   "rumor-1",
			UserID:    userID,
			VoteType:  voteType,
			Stake:     5,
			Timestamp: start.Add(time.Duration(i) * gap),
		}
	}
	return events
}

func hasFlag(flags []AnomalyFlag, t FlagType) bool {
	for _, f := range flags {
		if f.Type == t {
			return true
		}
	}
	return false
}

func TestProfiler_RegularTiming_Metronomic(t *testing.T) {
	p := NewProfiler(DefaultProfilerConfig())
	events := userVotes("user-1", 6, testBase, 5*time.Second, VoteSupport)
	observeAll(p, events)

	flags := p.Flags(&events[5])
	if !hasFlag(flags, FlagRegularTiming) {
		t.Error("expected regular_timing for metronomic 5s gaps")
	}
}

func TestProfiler_RegularTiming_BelowMinimum(t *testing.T) {
	p := NewProfiler(DefaultProfilerConfig())
	events := userVotes("user-1", 3, testBase, 5*time.Second, VoteSupport)
	observeAll(p, events)

	flags := p.Flags(&events[2])
	if hasFlag(flags, FlagRegularTiming) {
		t.Error("expected abstention with three actions")
	}
}

func TestProfiler_AlwaysOn_RoundTheClock(t *testing.T) {
	p := NewProfiler(DefaultProfilerConfig())
	// Two actions per hour for 24 hours.
	events := userVotes("user-1", 48, testBase.Add(-23*time.Hour), 30*time.Minute, VoteSupport)
	// Jitter so regular_timing is not the flag under test here.
	for i := range events {
		events[i].Timestamp = events[i].Timestamp.Add(time.Duration(i*i%571) * time.Second)
	}
	observeAll(p, events)

	flags := p.Flags(&events[47])
	if !hasFlag(flags, FlagAlwaysOnActivity) {
		t.Error("expected 24_7_activity for round-the-clock actions")
	}
}

func TestProfiler_AlwaysOn_BusinessHours(t *testing.T) {
	p := NewProfiler(DefaultProfilerConfig())
	// Sixty actions all between 12:00 and 14:00 UTC.
	events := userVotes("user-1", 60, testBase, 2*time.Minute, VoteSupport)
	observeAll(p, events)

	flags := p.Flags(&events[59])
	if hasFlag(flags, FlagAlwaysOnActivity) {
		t.Error("expected no 24_7_activity for a two-hour activity span")
	}
}

func TestProfiler_SingleActionType(t *testing.T) {
	p := NewProfiler(DefaultProfilerConfig())
	events := userVotes("user-1", 8, testBase, 7*time.Second, VoteDispute)
	// Irregular gaps so only the concentration signal is under test.
	for i := range events {
		events[i].Timestamp = events[i].Timestamp.Add(time.Duration(i*i) * time.Second)
	}
	observeAll(p, events)

	flags := p.Flags(&events[7])
	if !hasFlag(flags, FlagSingleActionType) {
		t.Error("expected single_action_type for eight disputes and nothing else")
	}
}

func TestProfiler_SingleActionType_MixedHistory(t *testing.T) {
	p := NewProfiler(DefaultProfilerConfig())
	events := userVotes("user-1", 7, testBase, 7*time.Second, VoteDispute)
	events = append(events, userVotes("user-1", 1, testBase.Add(time.Hour), time.Second, VoteSupport)...)
	observeAll(p, events)

	flags := p.Flags(&events[len(events)-1])
	if hasFlag(flags, FlagSingleActionType) {
		t.Error("one vote in the other direction should clear the signal")
	}
}

func TestProfiler_Sweep(t *testing.T) {
	p := NewProfiler(DefaultProfilerConfig())
	events := userVotes("user-1", 5, testBase, time.Second, VoteSupport)
	observeAll(p, events)

	if p.Len() != 1 {
		t.Fatalf("profiles = %d, want 1", p.Len())
	}
	if removed := p.Sweep(testBase.Add(time.Hour)); removed != 0 {
		t.Errorf("removed = %d, want 0 inside retention", removed)
	}
	if removed := p.Sweep(testBase.Add(48 * time.Hour)); removed != 1 {
		t.Errorf("removed = %d, want 1 past retention", removed)
	}
	if p.Len() != 0 {
		t.Errorf("profiles = %d, want 0 after sweep", p.Len())
	}
}
