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

// DirectionalBiasDetector raises the one_sided_voting flag when one vote
// direction dominates a rumor's trailing window. Genuine deliberation
// produces a mix; coordinated campaigns push one direction past the skew
// threshold.
type DirectionalBiasDetector struct {
	config  DirectionalBiasConfig
	history EventHistory
	enabled bool
	mu      sync.RWMutex
}

// NewDirectionalBiasDetector creates the detector with default config.
func NewDirectionalBiasDetector(history EventHistory) *DirectionalBiasDetector {
	return &DirectionalBiasDetector{
		config:  DefaultDirectionalBiasConfig(),
		history: history,
		enabled: true,
	}
}

// Flag returns the flag type this detector raises.
func (d *DirectionalBiasDetector) Flag() FlagType {
	return FlagOneSidedVoting
}

// Check evaluates the triggering event against the skew rule.
// Below the minimum sample size the detector abstains.
func (d *DirectionalBiasDetector) Check(ctx context.Context, event *VoteEvent) (*AnomalyFlag, error) {
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

	support := 0
	for _, ev := range events {
		if ev.VoteType == VoteSupport {
			support++
		}
	}
	dispute := len(events) - support

	dominant := VoteSupport
	dominantCount := support
	if dispute > support {
		dominant = VoteDispute
		dominantCount = dispute
	}
	share := float64(dominantCount) / float64(len(events))

	if share < config.SkewThreshold {
		return nil, nil
	}

	evidence, err := json.Marshal(BiasEvidence{
		Support:  support,
		Dispute:  dispute,
		Dominant: dominant,
		Share:    share,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal evidence: %w", err)
	}

	return &AnomalyFlag{
		Type:     FlagOneSidedVoting,
		Weight:   config.Weight,
		Window:   window,
		Evidence: evidence,
	}, nil
}

// Configure updates the detector configuration.
func (d *DirectionalBiasDetector) Configure(config json.RawMessage) error {
	var newConfig DirectionalBiasConfig
	if err := json.Unmarshal(config, &newConfig); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if newConfig.WindowSeconds <= 0 {
		return fmt.Errorf("window_seconds must be positive")
	}
	if newConfig.MinVotes <= 1 {
		return fmt.Errorf("min_votes must be greater than 1")
	}
	if newConfig.SkewThreshold <= 0.5 || newConfig.SkewThreshold > 1 {
		return fmt.Errorf("skew_threshold must be in (0.5, 1]")
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
func (d *DirectionalBiasDetector) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

// SetEnabled enables or disables the detector.
func (d *DirectionalBiasDetector) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
}

// Config returns the current configuration.
func (d *DirectionalBiasDetector) Config() DirectionalBiasConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}
