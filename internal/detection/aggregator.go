// Sentinel - Behavioral Anomaly Detection for CampusVerify
// Copyright 2026 CampusVerify
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/campusverify/sentinel

package detection

import (
	"math"
	"sync"
	"time"
)

// Combine sums flag weights into a single [0, 1] score. Duplicate flag
// types contribute once; the first occurrence wins.
func Combine(flags []AnomalyFlag) float64 {
	seen := make(map[FlagType]struct{}, len(flags))
	sum := 0.0
	for _, flag := range flags {
		if _, dup := seen[flag.Type]; dup {
			continue
		}
		seen[flag.Type] = struct{}{}
		sum += flag.Weight
	}
	return clamp01(sum)
}

// AggregatorConfig configures historical score decay.
type AggregatorConfig struct {
	// HalfLife is how long it takes a recorded score to decay to half
	// its value. Decay is applied at read time; no timers run.
	HalfLife time.Duration `json:"half_life"`
}

// DefaultAggregatorConfig returns shipped defaults.
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{HalfLife: 24 * time.Hour}
}

type decayedScore struct {
	value     float64
	updatedAt time.Time
}

// Aggregator tracks a per-user historical anomaly score: the decayed
// running maximum of every assessment the user has triggered. A burst of
// severe assessments stays visible for hours after the burst stops.
type Aggregator struct {
	mu     sync.RWMutex
	config AggregatorConfig
	scores map[string]decayedScore
}

// NewAggregator creates an aggregator.
func NewAggregator(cfg AggregatorConfig) *Aggregator {
	if cfg.HalfLife <= 0 {
		cfg.HalfLife = DefaultAggregatorConfig().HalfLife
	}
	return &Aggregator{
		config: cfg,
		scores: make(map[string]decayedScore),
	}
}

// Record folds a new assessment score into the user's history. The
// stored value only moves up: if the previous score, decayed to "at",
// still exceeds the new one, it is kept.
func (a *Aggregator) Record(userID string, score float64, at time.Time) {
	score = clamp01(score)

	a.mu.Lock()
	defer a.mu.Unlock()

	prev, ok := a.scores[userID]
	if ok {
		decayed := decay(prev.value, at.Sub(prev.updatedAt), a.config.HalfLife)
		if decayed > score {
			score = decayed
		}
	}
	a.scores[userID] = decayedScore{value: score, updatedAt: at}
}

// HistoricalScore returns the user's decayed historical score as of now.
// Unknown users score zero.
func (a *Aggregator) HistoricalScore(userID string, now time.Time) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s, ok := a.scores[userID]
	if !ok {
		return 0
	}
	return decay(s.value, now.Sub(s.updatedAt), a.config.HalfLife)
}

// Sweep drops users whose decayed score has fallen below the threshold.
// Returns the number removed.
func (a *Aggregator) Sweep(now time.Time, threshold float64) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	removed := 0
	for userID, s := range a.scores {
		if decay(s.value, now.Sub(s.updatedAt), a.config.HalfLife) < threshold {
			delete(a.scores, userID)
			removed++
		}
	}
	return removed
}

func decay(value float64, elapsed, halfLife time.Duration) float64 {
	if elapsed <= 0 {
		return value
	}
	return value * math.Exp2(-elapsed.Seconds()/halfLife.Seconds())
}
