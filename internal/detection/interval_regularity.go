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

	"github.com/goccy/go-json"

	"github.com/campusverify/sentinel/internal/stats"
)

// IntervalRegularityDetector raises the unnatural_pattern flag when the
// inter-arrival gaps between votes on a rumor are near-periodic. Human
// reaction-time jitter keeps the coefficient of variation of gaps well
// above the cutoff; scripted actors drive it toward zero.
type IntervalRegularityDetector struct {
	config  IntervalRegularityConfig
	history EventHistory
	enabled bool
	mu      sync.RWMutex
}

// NewIntervalRegularityDetector creates the detector with default config.
func NewIntervalRegularityDetector(history EventHistory) *IntervalRegularityDetector {
	return &IntervalRegularityDetector{
		config:  DefaultIntervalRegularityConfig(),
		history: history,
		enabled: true,
	}
}

// Flag returns the flag type this detector raises.
func (d *IntervalRegularityDetector) Flag() FlagType {
	return FlagUnnaturalPattern
}

// Check evaluates the triggering event against the regularity rule.
// Fewer than the minimum votes is an abstention, not a negative signal.
func (d *IntervalRegularityDetector) Check(ctx context.Context, event *VoteEvent) (*AnomalyFlag, error) {
	d.mu.RLock()
	if !d.enabled {
		d.mu.RUnlock()
		return nil, nil
	}
	config := d.config
	d.mu.RUnlock()

	window := time.Duration(config.WindowSeconds) * time.Second
	events, err := d.history.RumorEvents(ctx, event.RumorID, event.Timestamp, window)
	if err != nil {
		return nil, fmt.Errorf("failed to query rumor events: %w", err)
	}

	if len(events) < config.MinVotes {
		return nil, nil
	}

	times := make([]time.Time, 0, len(events))
	for _, ev := range events {
		times = append(times, ev.Timestamp)
	}
	gaps := stats.Gaps(times)
	cv := stats.CoefficientOfVariation(gaps)

	if cv >= config.MaxCoefficientOfVariation {
		return nil, nil
	}

	evidence, err := json.Marshal(RegularityEvidence{
		SampleSize:             len(events),
		MeanGapSeconds:         stats.Mean(gaps),
		CoefficientOfVariation: cv,
		Cutoff:                 config.MaxCoefficientOfVariation,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal evidence: %w", err)
	}

	return &AnomalyFlag{
		Type:     FlagUnnaturalPattern,
		Weight:   config.Weight,
		Window:   window,
		Evidence: evidence,
	}, nil
}

// Configure updates the detector configuration.
func (d *IntervalRegularityDetector) Configure(config json.RawMessage) error {
	var newConfig IntervalRegularityConfig
	if err := json.Unmarshal(config, &newConfig); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if newConfig.WindowSeconds <= 0 {
		return fmt.Errorf("window_seconds must be positive")
	}
	if newConfig.MinVotes < 3 {
		return fmt.Errorf("min_votes must be at least 3")
	}
	if newConfig.MaxCoefficientOfVariation <= 0 {
		return fmt.Errorf("max_coefficient_of_variation must be positive")
	}
	if newConfig.Weight <= 0 || newConfig.Weight > 1 {
		return fmt.Errorf("weight must be in (0, 1]")
	}

	d.mu.Lock()
	d.config = newConfig
	d.mu.Unlock()

	return nil
}

// Enabled returns whether this detector is enabled.
func (d *IntervalRegularityDetector) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

// SetEnabled enables or disables the detector.
func (d *IntervalRegularityDetector) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
}

// Config returns the current configuration.
func (d *IntervalRegularityDetector) Config() IntervalRegularityConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}
