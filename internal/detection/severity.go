// Sentinel - Behavioral Anomaly Detection for CampusVerify
// Copyright 2026 CampusVerify
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/campusverify/sentinel

package detection

// Severity is the tier derived from an anomaly score. It is a pure
// function of the score, re-evaluated on every assessment; there is no
// hysteresis and no transition memory.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
	SeverityCritical Severity = "critical"
)

// Tier boundaries. Scores are clamped to [0,1] before mapping, so the
// critical band is closed on both ends.
const (
	moderateThreshold = 0.3
	severeThreshold   = 0.5
	criticalThreshold = 0.7
)

// TierForScore maps a clamped anomaly score to its severity tier.
//
//	[0.0, 0.3) minor:    no action
//	[0.3, 0.5) moderate: enhanced monitoring
//	[0.5, 0.7) severe:   trust score penalty
//	[0.7, 1.0] critical: account freeze pending investigation
func TierForScore(score float64) Severity {
	score = clamp01(score)
	switch {
	case score < moderateThreshold:
		return SeverityMinor
	case score < severeThreshold:
		return SeverityModerate
	case score < criticalThreshold:
		return SeveritySevere
	default:
		return SeverityCritical
	}
}

// Rank orders tiers for comparison: minor < moderate < severe < critical.
func (s Severity) Rank() int {
	switch s {
	case SeverityModerate:
		return 1
	case SeveritySevere:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// Action is the response a tier triggers.
type Action string

const (
	ActionNone    Action = "none"
	ActionMonitor Action = "monitor"
	ActionPenalty Action = "penalty"
	ActionFreeze  Action = "freeze"
)

// ActionForTier returns the response action a tier triggers.
func ActionForTier(tier Severity) Action {
	switch tier {
	case SeverityModerate:
		return ActionMonitor
	case SeveritySevere:
		return ActionPenalty
	case SeverityCritical:
		return ActionFreeze
	default:
		return ActionNone
	}
}
