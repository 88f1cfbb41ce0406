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

func TestDirectionalBiasDetector_Check_AllOneDirection(t *testing.T) {
	history := &mockEventHistory{
		rumorEvents: makeVotes("rumor-1", 8, testBase, 2*time.Second, VoteDispute),
	}
	detector := NewDirectionalBiasDetector(history)

	flag, err := detector.Check(context.Background(), &history.rumorEvents[7])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flag == nil {
		t.Fatal("expected flag when every vote disputes")
	}
	if flag.Weight != WeightOneSidedVoting {
		t.Errorf("weight = %v, want %v", flag.Weight, WeightOneSidedVoting)
	}

	var evidence BiasEvidence
	if err := json.Unmarshal(flag.Evidence, &evidence); err != nil {
		t.Fatalf("unmarshal evidence: %v", err)
	}
	if evidence.Dominant != VoteDispute {
		t.Errorf("dominant = %v, want %v", evidence.Dominant, VoteDispute)
	}
	if evidence.Share != 1.0 {
		t.Errorf("share = %v, want 1.0", evidence.Share)
	}
}

func TestDirectionalBiasDetector_Check_MixedVoting(t *testing.T) {
	// Six support, four dispute. 60% is nowhere near the skew cutoff.
	events := makeVotes("rumor-1", 6, testBase, time.Second, VoteSupport)
	events = append(events, makeVotes("rumor-1", 4, testBase.Add(10*time.Second), time.Second, VoteDispute)...)
	history := &mockEventHistory{rumorEvents: events}
	detector := NewDirectionalBiasDetector(history)

	flag, err := detector.Check(context.Background(), &events[len(events)-1])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flag != nil {
		t.Error("expected no flag for mixed voting")
	}
}

func TestDirectionalBiasDetector_Check_BelowMinimum(t *testing.T) {
	history := &mockEventHistory{
		rumorEvents: makeVotes("rumor-1", 4, testBase, time.Second, VoteSupport),
	}
	detector := NewDirectionalBiasDetector(history)

	flag, err := detector.Check(context.Background(), &history.rumorEvents[3])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flag != nil {
		t.Error("expected abstention below the minimum sample size")
	}
}

func TestDirectionalBiasDetector_Configure_Skew(t *testing.T) {
	detector := NewDirectionalBiasDetector(&mockEventHistory{})

	tests := []struct {
		name    string
		skew    string
		wantErr bool
	}{
		{"valid", "0.9", false},
		{"exactly one", "1.0", false},
		{"at half", "0.5", true},
		{"above one", "1.1", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := json.RawMessage(`{"window_seconds": 600, "min_votes": 5, "skew_threshold": ` + tt.skew + `, "weight": 0.15}`)
			err := detector.Configure(config)
			if (err != nil) != tt.wantErr {
				t.Errorf("Configure() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
