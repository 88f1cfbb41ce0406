// Sentinel - Behavioral Anomaly Detection for CampusVerify
// Copyright 2026 CampusVerify
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/campusverify/sentinel

package detection

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func newTestStore() *EventStore {
	return NewEventStore(DefaultEventStoreConfig())
}

func TestEventStore_AppendAndQuery(t *testing.T) {
	store := newTestStore()
	events := makeVotes("rumor-1", 5, testBase, time.Second, VoteSupport)
	for i := range events {
		events[i].Seq = 0
		if err := store.Append(&events[i]); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	got, err := store.RumorEvents(context.Background(), "rumor-1", events[4].Timestamp, 2*time.Minute)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("len = %d, want 5", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.Before(got[i-1].Timestamp) {
			t.Error("events not in timestamp order")
		}
	}
	if store.Len() != 5 {
		t.Errorf("Len() = %d, want 5", store.Len())
	}
}

func TestEventStore_RejectsInvalid(t *testing.T) {
	store := newTestStore()
	tests := []struct {
		name  string
		event VoteEvent
	}{
		{"missing event id", VoteEvent{RumorID: "r", UserID: "u", VoteType: VoteSupport, Stake: 1, Timestamp: testBase}},
		{"missing rumor id", VoteEvent{EventID: "e", UserID: "u", VoteType: VoteSupport, Stake: 1, Timestamp: testBase}},
		{"bad vote type", VoteEvent{EventID: "e", RumorID: "r", UserID: "u", VoteType: "maybe", Stake: 1, Timestamp: testBase}},
		{"negative stake", VoteEvent{EventID: "e", RumorID: "r", UserID: "u", VoteType: VoteSupport, Stake: -1, Timestamp: testBase}},
		{"zero timestamp", VoteEvent{EventID: "e", RumorID: "r", UserID: "u", VoteType: VoteSupport, Stake: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Append(&tt.event)
			if !errors.Is(err, ErrInvalidEvent) {
				t.Errorf("Append() error = %v, want ErrInvalidEvent", err)
			}
		})
	}
}

func TestEventStore_RejectsStaleTimestamp(t *testing.T) {
	store := newTestStore()
	first := VoteEvent{EventID: "e1", RumorID: "r", UserID: "u1", VoteType: VoteSupport, Stake: 1, Timestamp: testBase}
	if err := store.Append(&first); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Within skew tolerance is accepted.
	nearPast := VoteEvent{EventID: "e2", RumorID: "r", UserID: "u2", VoteType: VoteSupport, Stake: 1, Timestamp: testBase.Add(-time.Second)}
	if err := store.Append(&nearPast); err != nil {
		t.Errorf("append within tolerance: %v", err)
	}

	// Beyond tolerance is rejected.
	stale := VoteEvent{EventID: "e3", RumorID: "r", UserID: "u3", VoteType: VoteSupport, Stake: 1, Timestamp: testBase.Add(-time.Minute)}
	err := store.Append(&stale)
	if !errors.Is(err, ErrOutOfOrder) {
		t.Errorf("Append() error = %v, want ErrOutOfOrder", err)
	}
}

func TestEventStore_TieBreakBySeq(t *testing.T) {
	store := newTestStore()
	for i := 0; i < 3; i++ {
		event := VoteEvent{
			EventID:   fmt.Sprintf("e%d", i),
			RumorID:   "r",
			UserID:    fmt.Sprintf("u%d", i),
			VoteType:  VoteSupport,
			Stake:     1,
			Timestamp: testBase,
		}
		if err := store.Append(&event); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := store.RumorEvents(context.Background(), "r", testBase, time.Minute)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Seq <= got[i-1].Seq {
			t.Error("same-instant events not ordered by ingestion sequence")
		}
	}
}

func TestEventStore_WindowBoundary(t *testing.T) {
	store := newTestStore()
	old := VoteEvent{EventID: "e-old", RumorID: "r", UserID: "u1", VoteType: VoteSupport, Stake: 1, Timestamp: testBase}
	trigger := VoteEvent{EventID: "e-new", RumorID: "r", UserID: "u2", VoteType: VoteSupport, Stake: 1, Timestamp: testBase.Add(120 * time.Second)}
	for _, e := range []*VoteEvent{&old, &trigger} {
		if err := store.Append(e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	// The window start is exclusive: an event exactly window seconds
	// before the query point is out.
	got, err := store.RumorEvents(context.Background(), "r", trigger.Timestamp, 120*time.Second)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].EventID != "e-new" {
		t.Errorf("got %d events, want only the trigger", len(got))
	}

	// One second of slack brings it back in.
	got, err = store.RumorEvents(context.Background(), "r", trigger.Timestamp, 121*time.Second)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d events, want 2 with the wider window", len(got))
	}
}

func TestEventStore_Eviction(t *testing.T) {
	store := NewEventStore(EventStoreConfig{
		RumorRetention: time.Minute,
		UserRetention:  time.Minute,
		SkewTolerance:  2 * time.Second,
	})

	old := VoteEvent{EventID: "e-old", RumorID: "r", UserID: "u", VoteType: VoteSupport, Stake: 1, Timestamp: testBase}
	if err := store.Append(&old); err != nil {
		t.Fatalf("append: %v", err)
	}
	fresh := VoteEvent{EventID: "e-new", RumorID: "r", UserID: "u", VoteType: VoteSupport, Stake: 1, Timestamp: testBase.Add(5 * time.Minute)}
	if err := store.Append(&fresh); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := store.RumorEvents(context.Background(), "r", fresh.Timestamp, 10*time.Minute)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].EventID != "e-new" {
		t.Errorf("expected the old event to be evicted, got %d events", len(got))
	}
}

func TestEventStore_RumorMetadata(t *testing.T) {
	store := newTestStore()
	store.RegisterRumor(RumorRecord{
		RumorID:     "r",
		CreatorID:   "creator",
		CreatedAt:   testBase,
		Category:    "campus",
		StakeAmount: 25,
	})

	got, ok := store.Rumor("r")
	if !ok || got.CreatorID != "creator" {
		t.Errorf("Rumor() = %+v, want creator set", got)
	}
	if _, ok := store.Rumor("missing"); ok {
		t.Error("unknown rumor should not be found")
	}
}
