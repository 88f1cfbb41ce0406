// Sentinel - Behavioral Anomaly Detection for CampusVerify
// Copyright 2026 CampusVerify
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/campusverify/sentinel

package detection

import "testing"

func TestTierForScore(t *testing.T) {
	tests := []struct {
		score float64
		want  Severity
	}{
		{0.0, SeverityMinor},
		{0.29, SeverityMinor},
		{0.30, SeverityModerate},
		{0.45, SeverityModerate},
		{0.49, SeverityModerate},
		{0.50, SeveritySevere},
		{0.69, SeveritySevere},
		{0.70, SeverityCritical},
		{0.85, SeverityCritical},
		{1.0, SeverityCritical},
	}
	for _, tt := range tests {
		if got := TierForScore(tt.score); got != tt.want {
			t.Errorf("TierForScore(%v) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

func TestSeverityRankOrdering(t *testing.T) {
	tiers := []Severity{SeverityMinor, SeverityModerate, SeveritySevere, SeverityCritical}
	for i := 1; i < len(tiers); i++ {
		if tiers[i].Rank() <= tiers[i-1].Rank() {
			t.Errorf("%v rank %d should exceed %v rank %d",
				tiers[i], tiers[i].Rank(), tiers[i-1], tiers[i-1].Rank())
		}
	}
}

func TestActionForTier(t *testing.T) {
	tests := []struct {
		tier Severity
		want Action
	}{
		{SeverityMinor, ActionNone},
		{SeverityModerate, ActionMonitor},
		{SeveritySevere, ActionPenalty},
		{SeverityCritical, ActionFreeze},
	}
	for _, tt := range tests {
		if got := ActionForTier(tt.tier); got != tt.want {
			t.Errorf("ActionForTier(%v) = %v, want %v", tt.tier, got, tt.want)
		}
	}
}
