// Sentinel - Behavioral Anomaly Detection for CampusVerify
// Copyright 2026 CampusVerify
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/campusverify/sentinel

package detection

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestNewTemporalClusteringDetector(t *testing.T) {
	detector := NewTemporalClusteringDetector(&mockEventHistory{})

	if detector.Flag() != FlagTemporalClustering {
		t.Errorf("Flag() = %v, want %v", detector.Flag(), FlagTemporalClustering)
	}
	if !detector.Enabled() {
		t.Error("detector should be enabled by default")
	}
}

func TestTemporalClusteringDetector_Check_Disabled(t *testing.T) {
	history := &mockEventHistory{
		rumorEvents: makeVotes("rumor-1", 10, testBase, 100*time.Millisecond, VoteSupport),
	}
	detector := NewTemporalClusteringDetector(history)
	detector.SetEnabled(false)

	event := &history.rumorEvents[9]
	flag, err := detector.Check(context.Background(), event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flag != nil {
		t.Error("expected no flag when detector is disabled")
	}
}

func TestTemporalClusteringDetector_Check_BelowMinimum(t *testing.T) {
	history := &mockEventHistory{
		rumorEvents: makeVotes("rumor-1", 4, testBase, time.Second, VoteSupport),
	}
	detector := NewTemporalClusteringDetector(history)

	event := &history.rumorEvents[3]
	flag, err := detector.Check(context.Background(), event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flag != nil {
		t.Error("expected abstention with fewer than five votes in window")
	}
}

func TestTemporalClusteringDetector_Check_Fires(t *testing.T) {
	history := &mockEventHistory{
		rumorEvents: makeVotes("rumor-1", 10, testBase, 100*time.Millisecond, VoteSupport),
	}
	detector := NewTemporalClusteringDetector(history)

	event := &history.rumorEvents[9]
	flag, err := detector.Check(context.Background(), event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flag == nil {
		t.Fatal("expected flag for ten votes inside the window")
	}
	if flag.Type != FlagTemporalClustering {
		t.Errorf("flag type = %v, want %v", flag.Type, FlagTemporalClustering)
	}
	if flag.Weight != WeightTemporalClustering {
		t.Errorf("weight = %v, want %v", flag.Weight, WeightTemporalClustering)
	}

	var evidence ClusteringEvidence
	if err := json.Unmarshal(flag.Evidence, &evidence); err != nil {
		t.Fatalf("unmarshal evidence: %v", err)
	}
	if evidence.VoteCount != 10 {
		t.Errorf("evidence vote count = %d, want 10", evidence.VoteCount)
	}
}

func TestTemporalClusteringDetector_Check_WindowExclusive(t *testing.T) {
	// Four votes 121s before the trigger fall outside (at-120s, at];
	// the trigger alone is below the minimum.
	old := makeVotes("rumor-1", 4, testBase, time.Second, VoteSupport)
	trigger := VoteEvent{
		EventID:   "evt-trigger",
		RumorID:   "rumor-1",
		UserID:    "user-t",
		VoteType:  VoteSupport,
		Stake:     5,
		Timestamp: testBase.Add(3*time.Second + 121*time.Second),
	}
	history := &mockEventHistory{rumorEvents: append(old, trigger)}
	detector := NewTemporalClusteringDetector(history)

	flag, err := detector.Check(context.Background(), &trigger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flag != nil {
		t.Error("expected no flag when earlier votes fall outside the window")
	}
}

func TestTemporalClusteringDetector_Check_BoundaryInclusive(t *testing.T) {
	// Four votes exactly 119s before the trigger stay inside the
	// window, making five total.
	cfg := DefaultTemporalClusteringConfig()
	old := make([]VoteEvent, 4)
	for i := range old {
		old[i] = VoteEvent{
			EventID:   string(rune('a' + i)),
			RumorID:   "rumor-1",
			UserID:    "user-old",
			VoteType:  VoteSupport,
			Stake:     5,
			Timestamp: testBase,
		}
	}
	trigger := VoteEvent{
		EventID:   "evt-trigger",
		RumorID:   "rumor-1",
		UserID:    "user-t",
		VoteType:  VoteSupport,
		Stake:     5,
		Timestamp: testBase.Add(time.Duration(cfg.WindowSeconds-1) * time.Second),
	}
	history := &mockEventHistory{rumorEvents: append(old, trigger)}
	detector := NewTemporalClusteringDetector(history)

	flag, err := detector.Check(context.Background(), &trigger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flag == nil {
		t.Error("expected flag when all five votes are inside the window")
	}
}

func TestTemporalClusteringDetector_Configure(t *testing.T) {
	detector := NewTemporalClusteringDetector(&mockEventHistory{})

	tests := []struct {
		name    string
		config  string
		wantErr bool
	}{
		{"valid", `{"window_seconds": 60, "min_votes": 3, "weight": 0.3}`, false},
		{"zero window", `{"window_seconds": 0, "min_votes": 3, "weight": 0.3}`, true},
		{"zero min votes", `{"window_seconds": 60, "min_votes": 0, "weight": 0.3}`, true},
		{"malformed", `{nope`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := detector.Configure(json.RawMessage(tt.config))
			if (err != nil) != tt.wantErr {
				t.Errorf("Configure() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
