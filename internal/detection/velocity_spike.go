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

// VelocitySpikeDetector flags rumors whose short-window voting rate jumps
// a configured multiple above the long-window baseline rate. The baseline
// excludes the current short window so a burst cannot inflate its own
// reference; an empty baseline (brand-new rumor) falls back to a floor
// rather than dividing by zero.
type VelocitySpikeDetector struct {
	config  VelocitySpikeConfig
	history EventHistory
	enabled bool
	mu      sync.RWMutex
}

// NewVelocitySpikeDetector creates the detector with default config.
func NewVelocitySpikeDetector(history EventHistory) *VelocitySpikeDetector {
	return &VelocitySpikeDetector{
		config:  DefaultVelocitySpikeConfig(),
		history: history,
		enabled: true,
	}
}

// Flag returns the flag type this detector raises.
func (d *VelocitySpikeDetector) Flag() FlagType {
	return FlagVelocitySpike
}

// Check evaluates the triggering event against the velocity rule.
func (d *VelocitySpikeDetector) Check(ctx context.Context, event *VoteEvent) (*AnomalyFlag, error) {
	d.mu.RLock()
	if !d.enabled {
		d.mu.RUnlock()
		return nil, nil
	}
	config := d.config
	d.mu.RUnlock()

	baselineWindow := time.Duration(config.BaselineWindowSeconds) * time.Second
	currentWindow := time.Duration(config.CurrentWindowSeconds) * time.Second

	events, err := d.history.RumorEvents(ctx, event.RumorID, event.Timestamp, baselineWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to query rumor events: %w", err)
	}

	currentStart := event.Timestamp.Add(-currentWindow)
	currentCount := 0
	for _, ev := range events {
		if ev.Timestamp.After(currentStart) {
			currentCount++
		}
	}
	baselineCount := len(events) - currentCount

	currentRate := stats.Rate(currentCount, currentWindow)
	baselineRate := stats.Rate(baselineCount, baselineWindow-currentWindow)

	floored := false
	if baselineRate < config.MinBaselineRate {
		baselineRate = config.MinBaselineRate
		floored = true
	}

	if currentRate < config.Multiplier*baselineRate {
		return nil, nil
	}

	evidence, err := json.Marshal(VelocityEvidence{
		BaselineRate:  baselineRate,
		CurrentRate:   currentRate,
		Multiplier:    config.Multiplier,
		BaselineFloor: floored,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal evidence: %w", err)
	}

	return &AnomalyFlag{
		Type:     FlagVelocitySpike,
		Weight:   config.Weight,
		Window:   baselineWindow,
		Evidence: evidence,
	}, nil
}

// Configure updates the detector configuration.
func (d *VelocitySpikeDetector) Configure(config json.RawMessage) error {
	var newConfig VelocitySpikeConfig
	if err := json.Unmarshal(config, &newConfig); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if newConfig.CurrentWindowSeconds <= 0 {
		return fmt.Errorf("current_window_seconds must be positive")
	}
	if newConfig.BaselineWindowSeconds <= newConfig.CurrentWindowSeconds {
		return fmt.Errorf("baseline_window_seconds must exceed current_window_seconds")
	}
	if newConfig.Multiplier <= 1 {
		return fmt.Errorf("multiplier must be greater than 1")
	}
	if newConfig.MinBaselineRate <= 0 {
		return fmt.Errorf("min_baseline_rate must be positive")
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
func (d *VelocitySpikeDetector) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

// SetEnabled enables or disables the detector.
func (d *VelocitySpikeDetector) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
}

// Config returns the current configuration.
func (d *VelocitySpikeDetector) Config() VelocitySpikeConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}
