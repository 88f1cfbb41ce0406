// Sentinel - Behavioral Anomaly Detection for CampusVerify
// Copyright 2026 CampusVerify
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/campusverify/sentinel

package detection

import (
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/campusverify/sentinel/internal/stats"
)

// ProfilerConfig configures the user behavior profiler.
type ProfilerConfig struct {
	// RegularTimingWindowSeconds scopes the gap sequence for the
	// regular_timing test.
	RegularTimingWindowSeconds int `json:"regular_timing_window_seconds"`

	// RegularTimingMinActions is the minimum actions in the window to
	// evaluate timing regularity (below it the profiler abstains).
	RegularTimingMinActions int `json:"regular_timing_min_actions"`

	// MaxCoefficientOfVariation is the same low-variance cutoff the
	// rumor-scope regularity detector uses, applied to a single user's
	// own action timestamps across all rumors.
	MaxCoefficientOfVariation float64 `json:"max_coefficient_of_variation"`

	// RegularTimingWeight added to the score when regular_timing fires.
	RegularTimingWeight float64 `json:"regular_timing_weight"`

	// AlwaysOnMinBins is how many of the 24 hour-of-day bins must contain
	// activity for the 24_7_activity flag. Humans tied to a timezone
	// leave hours dark.
	AlwaysOnMinBins int `json:"always_on_min_bins"`

	// AlwaysOnMinActions is the minimum retained actions before hour
	// coverage is meaningful.
	AlwaysOnMinActions int `json:"always_on_min_actions"`

	// AlwaysOnWeight added to the score when 24_7_activity fires.
	AlwaysOnWeight float64 `json:"always_on_weight"`

	// SingleActionMinVotes is the minimum lifetime votes before 100%
	// concentration in one direction counts as a signal.
	SingleActionMinVotes int `json:"single_action_min_votes"`

	// SingleActionWeight added to the score when single_action_type fires.
	SingleActionWeight float64 `json:"single_action_weight"`

	// Retention bounds how long per-user timestamps are kept. It must
	// cover a full day for hour-of-day binning.
	Retention time.Duration `json:"retention"`
}

// DefaultProfilerConfig returns shipped defaults.
func DefaultProfilerConfig() ProfilerConfig {
	return ProfilerConfig{
		RegularTimingWindowSeconds: 600,
		RegularTimingMinActions:    4,
		MaxCoefficientOfVariation:  0.15,
		RegularTimingWeight:        WeightRegularTiming,
		AlwaysOnMinBins:            20,
		AlwaysOnMinActions:         48,
		AlwaysOnWeight:             WeightAlwaysOnActivity,
		SingleActionMinVotes:       5,
		SingleActionWeight:         WeightSingleActionType,
		Retention:                  25 * time.Hour,
	}
}

// UserProfile is one user's rolling behavior state: recent action
// timestamps (bounded by retention), lifetime per-direction counts, and
// nothing else. Profiles are created lazily on a user's first event and
// mutated on every subsequent one.
type UserProfile struct {
	mu         sync.Mutex
	userID     string
	timestamps []time.Time
	counts     map[VoteType]int
	lastSeen   time.Time
}

// Profiler maintains per-user rolling profiles and evaluates the
// user-scope flags. Each profile carries its own lock so users are
// profiled in parallel; the profiler lock only guards the index.
type Profiler struct {
	mu       sync.RWMutex
	config   ProfilerConfig
	profiles map[string]*UserProfile
}

// NewProfiler creates a profiler. Zero-valued config fields fall back to
// defaults.
func NewProfiler(cfg ProfilerConfig) *Profiler {
	def := DefaultProfilerConfig()
	if cfg.RegularTimingWindowSeconds <= 0 {
		cfg.RegularTimingWindowSeconds = def.RegularTimingWindowSeconds
	}
	if cfg.RegularTimingMinActions <= 0 {
		cfg.RegularTimingMinActions = def.RegularTimingMinActions
	}
	if cfg.MaxCoefficientOfVariation <= 0 {
		cfg.MaxCoefficientOfVariation = def.MaxCoefficientOfVariation
	}
	if cfg.RegularTimingWeight <= 0 {
		cfg.RegularTimingWeight = def.RegularTimingWeight
	}
	if cfg.AlwaysOnMinBins <= 0 {
		cfg.AlwaysOnMinBins = def.AlwaysOnMinBins
	}
	if cfg.AlwaysOnMinActions <= 0 {
		cfg.AlwaysOnMinActions = def.AlwaysOnMinActions
	}
	if cfg.AlwaysOnWeight <= 0 {
		cfg.AlwaysOnWeight = def.AlwaysOnWeight
	}
	if cfg.SingleActionMinVotes <= 0 {
		cfg.SingleActionMinVotes = def.SingleActionMinVotes
	}
	if cfg.SingleActionWeight <= 0 {
		cfg.SingleActionWeight = def.SingleActionWeight
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	return &Profiler{
		config:   cfg,
		profiles: make(map[string]*UserProfile),
	}
}

// Observe folds one event into the user's profile.
func (p *Profiler) Observe(event *VoteEvent) {
	profile := p.profileFor(event.UserID)

	profile.mu.Lock()
	defer profile.mu.Unlock()

	profile.timestamps = append(profile.timestamps, event.Timestamp)
	profile.counts[event.VoteType]++
	if event.Timestamp.After(profile.lastSeen) {
		profile.lastSeen = event.Timestamp
	}

	// Trim timestamps past retention, measured from the profile head.
	cutoff := profile.lastSeen.Add(-p.config.Retention)
	idx := 0
	for idx < len(profile.timestamps) && !profile.timestamps[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		profile.timestamps = append(profile.timestamps[:0:0], profile.timestamps[idx:]...)
	}
}

// Flags evaluates the user-scope signals for the triggering event.
// Every insufficient-sample condition is an abstention.
func (p *Profiler) Flags(event *VoteEvent) []AnomalyFlag {
	p.mu.RLock()
	config := p.config
	p.mu.RUnlock()

	profile := p.profileFor(event.UserID)

	profile.mu.Lock()
	timestamps := append([]time.Time(nil), profile.timestamps...)
	counts := make(map[VoteType]int, len(profile.counts))
	for k, v := range profile.counts {
		counts[k] = v
	}
	profile.mu.Unlock()

	var flags []AnomalyFlag

	if f := regularTimingFlag(timestamps, event.Timestamp, config); f != nil {
		flags = append(flags, *f)
	}
	if f := alwaysOnFlag(timestamps, config); f != nil {
		flags = append(flags, *f)
	}
	if f := singleActionFlag(counts, config); f != nil {
		flags = append(flags, *f)
	}
	return flags
}

// regularTimingFlag applies the gap CV test to the user's own actions.
func regularTimingFlag(timestamps []time.Time, at time.Time, config ProfilerConfig) *AnomalyFlag {
	window := time.Duration(config.RegularTimingWindowSeconds) * time.Second
	start := at.Add(-window)

	recent := make([]time.Time, 0, len(timestamps))
	for _, ts := range timestamps {
		if ts.After(start) && !ts.After(at) {
			recent = append(recent, ts)
		}
	}
	if len(recent) < config.RegularTimingMinActions {
		return nil
	}

	gaps := stats.Gaps(recent)
	cv := stats.CoefficientOfVariation(gaps)
	if cv >= config.MaxCoefficientOfVariation {
		return nil
	}

	evidence, err := json.Marshal(RegularityEvidence{
		SampleSize:             len(recent),
		MeanGapSeconds:         stats.Mean(gaps),
		CoefficientOfVariation: cv,
		Cutoff:                 config.MaxCoefficientOfVariation,
	})
	if err != nil {
		return nil
	}

	return &AnomalyFlag{
		Type:     FlagRegularTiming,
		Weight:   config.RegularTimingWeight,
		Window:   window,
		Evidence: evidence,
	}
}

// alwaysOnFlag checks hour-of-day coverage over the retained history.
func alwaysOnFlag(timestamps []time.Time, config ProfilerConfig) *AnomalyFlag {
	if len(timestamps) < config.AlwaysOnMinActions {
		return nil
	}

	bins := stats.ActiveHourBins(timestamps)
	if bins < config.AlwaysOnMinBins {
		return nil
	}

	evidence, err := json.Marshal(ActivityEvidence{
		ActiveHourBins: bins,
		SampleSize:     len(timestamps),
	})
	if err != nil {
		return nil
	}

	return &AnomalyFlag{
		Type:     FlagAlwaysOnActivity,
		Weight:   config.AlwaysOnWeight,
		Window:   config.Retention,
		Evidence: evidence,
	}
}

// singleActionFlag checks for 100% concentration in one vote direction.
func singleActionFlag(counts map[VoteType]int, config ProfilerConfig) *AnomalyFlag {
	total := 0
	var only VoteType
	distinct := 0
	for vt, n := range counts {
		if n > 0 {
			total += n
			only = vt
			distinct++
		}
	}
	if total < config.SingleActionMinVotes || distinct != 1 {
		return nil
	}

	evidence, err := json.Marshal(ConcentrationEvidence{
		VoteType: only,
		Count:    total,
	})
	if err != nil {
		return nil
	}

	return &AnomalyFlag{
		Type:     FlagSingleActionType,
		Weight:   config.SingleActionWeight,
		Window:   config.Retention,
		Evidence: evidence,
	}
}

// profileFor returns the profile for a user, creating it lazily.
func (p *Profiler) profileFor(userID string) *UserProfile {
	p.mu.RLock()
	profile, ok := p.profiles[userID]
	p.mu.RUnlock()
	if ok {
		return profile
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if profile, ok = p.profiles[userID]; ok {
		return profile
	}
	profile = &UserProfile{
		userID: userID,
		counts: make(map[VoteType]int),
	}
	p.profiles[userID] = profile
	return profile
}

// Sweep drops profiles with no activity inside the retention window,
// measured from now. Correctness does not depend on sweeping; it only
// bounds memory for long-gone users. Returns the number removed.
func (p *Profiler) Sweep(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := now.Add(-p.config.Retention)
	removed := 0
	for userID, profile := range p.profiles {
		profile.mu.Lock()
		idle := profile.lastSeen.Before(cutoff)
		profile.mu.Unlock()
		if idle {
			delete(p.profiles, userID)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked profiles.
func (p *Profiler) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.profiles)
}

// Configure replaces the profiler configuration.
func (p *Profiler) Configure(config json.RawMessage) error {
	var newConfig ProfilerConfig
	if err := json.Unmarshal(config, &newConfig); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if newConfig.MaxCoefficientOfVariation <= 0 {
		return fmt.Errorf("max_coefficient_of_variation must be positive")
	}
	if newConfig.AlwaysOnMinBins <= 0 || newConfig.AlwaysOnMinBins > 24 {
		return fmt.Errorf("always_on_min_bins must be in (0, 24]")
	}

	p.mu.Lock()
	p.config = newConfig
	p.mu.Unlock()
	return nil
}
