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
)

// TemporalClusteringDetector flags rumors receiving a burst of votes
// inside a short trailing window. Organic voting on a single rumor is
// sparse; a cluster of votes inside two minutes is rare for human-paced
// deliberation.
type TemporalClusteringDetector struct {
	config  TemporalClusteringConfig
	history EventHistory
	enabled bool
	mu      sync.RWMutex
}

// NewTemporalClusteringDetector creates the detector with default config.
func NewTemporalClusteringDetector(history EventHistory) *TemporalClusteringDetector {
	return &TemporalClusteringDetector{
		config:  DefaultTemporalClusteringConfig(),
		history: history,
		enabled: true,
	}
}

// Flag returns the flag type this detector raises.
func (d *TemporalClusteringDetector) Flag() FlagType {
	return FlagTemporalClustering
}

// Check evaluates the triggering event against the clustering rule.
func (d *TemporalClusteringDetector) Check(ctx context.Context, event *VoteEvent) (*AnomalyFlag, error) {
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

	evidence, err := json.Marshal(ClusteringEvidence{
		VoteCount:     len(events),
		WindowSeconds: config.WindowSeconds,
		WindowStart:   event.Timestamp.Add(-window),
		WindowEnd:     event.Timestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal evidence: %w", err)
	}

	return &AnomalyFlag{
		Type:     FlagTemporalClustering,
		Weight:   config.Weight,
		Window:   window,
		Evidence: evidence,
	}, nil
}

// Configure updates the detector configuration.
func (d *TemporalClusteringDetector) Configure(config json.RawMessage) error {
	var newConfig TemporalClusteringConfig
	if err := json.Unmarshal(config, &newConfig); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if newConfig.WindowSeconds <= 0 {
		return fmt.Errorf("window_seconds must be positive")
	}
	if newConfig.MinVotes <= 1 {
		return fmt.Errorf("min_votes must be greater than 1")
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
func (d *TemporalClusteringDetector) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

// SetEnabled enables or disables the detector.
func (d *TemporalClusteringDetector) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
}

// Config returns the current configuration.
func (d *TemporalClusteringDetector) Config() TemporalClusteringConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}
