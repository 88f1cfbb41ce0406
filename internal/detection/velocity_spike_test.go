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

func TestVelocitySpikeDetector_Check_BurstOnQuietRumor(t *testing.T) {
	// Fifteen votes inside three quarters of a second on a rumor with
	// no prior history. The baseline floor stands in for the empty
	// baseline, and the burst rate dwarfs it.
	history := &mockEventHistory{
		rumorEvents: makeVotes("rumor-1", 15, testBase, 50*time.Millisecond, VoteSupport),
	}
	detector := NewVelocitySpikeDetector(history)

	event := &history.rumorEvents[14]
	flag, err := detector.Check(context.Background(), event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flag == nil {
		t.Fatal("expected flag for a burst on a quiet rumor")
	}
	if flag.Type != FlagVelocitySpike {
		t.Errorf("flag type = %v, want %v", flag.Type, FlagVelocitySpike)
	}

	var evidence VelocityEvidence
	if err := json.Unmarshal(flag.Evidence, &evidence); err != nil {
		t.Fatalf("unmarshal evidence: %v", err)
	}
	if !evidence.BaselineFloor {
		t.Error("expected the baseline floor to be in effect")
	}
	if evidence.CurrentRate < evidence.BaselineRate*evidence.Multiplier {
		t.Errorf("current rate %v should be at least %vx baseline %v",
			evidence.CurrentRate, evidence.Multiplier, evidence.BaselineRate)
	}
}

func TestVelocitySpikeDetector_Check_SteadyTraffic(t *testing.T) {
	// One vote every 30 seconds over ten minutes. The current-window
	// rate matches the baseline, so no spike.
	history := &mockEventHistory{
		rumorEvents: makeVotes("rumor-1", 20, testBase, 30*time.Second, VoteSupport),
	}
	detector := NewVelocitySpikeDetector(history)

	event := &history.rumorEvents[19]
	flag, err := detector.Check(context.Background(), event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flag != nil {
		t.Error("expected no flag for steady traffic")
	}
}

func TestVelocitySpikeDetector_Check_EmptyWindow(t *testing.T) {
	history := &mockEventHistory{}
	detector := NewVelocitySpikeDetector(history)

	event := &VoteEvent{
		EventID:   "evt-1",
		RumorID:   "rumor-1",
		UserID:    "user-1",
		VoteType:  VoteSupport,
		Stake:     5,
		Timestamp: testBase,
	}
	flag, err := detector.Check(context.Background(), event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flag != nil {
		t.Error("a single vote should never register as a spike")
	}
}

func TestVelocitySpikeDetector_Configure(t *testing.T) {
	detector := NewVelocitySpikeDetector(&mockEventHistory{})

	tests := []struct {
		name    string
		config  string
		wantErr bool
	}{
		{"valid", `{"baseline_window_seconds": 600, "current_window_seconds": 60, "multiplier": 5, "min_baseline_rate": 0.033, "weight": 0.25}`, false},
		{"current exceeds baseline", `{"baseline_window_seconds": 60, "current_window_seconds": 600, "multiplier": 5, "min_baseline_rate": 0.033, "weight": 0.25}`, true},
		{"multiplier too low", `{"baseline_window_seconds": 600, "current_window_seconds": 60, "multiplier": 0.5, "min_baseline_rate": 0.033, "weight": 0.25}`, true},
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
