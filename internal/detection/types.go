// Sentinel - Behavioral Anomaly Detection for CampusVerify
// Copyright 2026 CampusVerify
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/campusverify/sentinel

// Package detection computes behavioral anomaly assessments over the
// vote stream. Rumor-scope detectors and the user behavior profiler
// raise weighted flags per event; the aggregator folds them into a
// bounded score, the severity mapping picks a tier, and the dispatcher
// delivers the tier's response action with retries.
package detection

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
)

// VoteType is the direction of a verification vote.
type VoteType string

const (
	VoteSupport VoteType = "support"
	VoteDispute VoteType = "dispute"
)

// Valid reports whether the vote type is one of the known directions.
func (v VoteType) Valid() bool {
	return v == VoteSupport || v == VoteDispute
}

// FlagType identifies one anomaly signal.
type FlagType string

const (
	// Rumor-scope flags, computed from all votes on one rumor.
	FlagTemporalClustering FlagType = "temporal_clustering"
	FlagUnnaturalPattern   FlagType = "unnatural_pattern"
	FlagVelocitySpike      FlagType = "velocity_spike"
	FlagOneSidedVoting     FlagType = "one_sided_voting"

	// User-scope flags, computed from one user's actions across rumors.
	FlagRegularTiming    FlagType = "regular_timing"
	FlagAlwaysOnActivity FlagType = "24_7_activity"
	FlagSingleActionType FlagType = "single_action_type"
)

// Default flag weights. Each detector carries its weight in its config so
// deployments can tune them; these are the shipped values.
const (
	WeightTemporalClustering = 0.30
	WeightUnnaturalPattern   = 0.40
	WeightVelocitySpike      = 0.25
	WeightOneSidedVoting     = 0.15
	WeightRegularTiming      = 0.30
	WeightAlwaysOnActivity   = 0.20
	WeightSingleActionType   = 0.20
)

// Validation and ordering errors surfaced at ingestion.
var (
	// ErrInvalidEvent indicates a malformed vote event (missing IDs,
	// unknown vote type, or non-positive stake).
	ErrInvalidEvent = errors.New("invalid vote event")

	// ErrOutOfOrder indicates an event timestamped before the subject's
	// last recorded event beyond the allowed clock-skew tolerance.
	// Such events are rejected, never silently reordered.
	ErrOutOfOrder = errors.New("event out of order beyond skew tolerance")

	// ErrUnknownDetector is returned when configuring a flag type that
	// has no registered detector.
	ErrUnknownDetector = errors.New("unknown detector")
)

// VoteEvent is a single verification vote. Events are immutable once
// recorded; Seq is assigned by the event store and breaks timestamp ties
// so ordering never depends on wall-clock precision.
type VoteEvent struct {
	EventID   string    `json:"event_id"`
	RumorID   string    `json:"rumor_id"`
	UserID    string    `json:"user_id"`
	VoteType  VoteType  `json:"vote_type"`
	Stake     float64   `json:"stake"`
	Timestamp time.Time `json:"timestamp"`
	Seq       uint64    `json:"seq"`
}

// Validate checks the structural fields of an event.
func (e *VoteEvent) Validate() error {
	if e == nil || e.RumorID == "" || e.UserID == "" {
		return ErrInvalidEvent
	}
	if !e.VoteType.Valid() {
		return ErrInvalidEvent
	}
	if e.Stake <= 0 {
		return ErrInvalidEvent
	}
	if e.Timestamp.IsZero() {
		return ErrInvalidEvent
	}
	return nil
}

// RumorRecord is the slice of rumor state the engine reads. The rumor
// store itself is external; only the identifier and creation time are
// needed to scope detection windows.
type RumorRecord struct {
	RumorID     string    `json:"rumor_id"`
	CreatorID   string    `json:"creator_id"`
	CreatedAt   time.Time `json:"created_at"`
	Category    string    `json:"category"`
	StakeAmount float64   `json:"stake_amount"`
}

// AnomalyFlag is one fired signal: the flag type, the weight it adds to
// the score, the evidence window it fired on, and detector-specific
// evidence encoded as JSON.
type AnomalyFlag struct {
	Type     FlagType        `json:"type"`
	Weight   float64         `json:"weight"`
	Window   time.Duration   `json:"window"`
	Evidence json.RawMessage `json:"evidence,omitempty"`
}

// SubjectKey identifies the subject of an assessment: one user's activity
// on one rumor.
type SubjectKey struct {
	UserID  string `json:"user_id"`
	RumorID string `json:"rumor_id"`
}

// String renders the key in "user|rumor" form for lock and map keys.
func (k SubjectKey) String() string {
	return k.UserID + "|" + k.RumorID
}

// Assessment is the engine's verdict for a subject at one point in time.
// The most recent assessment per subject is the current state; older ones
// are retained only for audit.
type Assessment struct {
	Subject    SubjectKey    `json:"subject"`
	Score      float64       `json:"score"`
	Flags      []AnomalyFlag `json:"flags"`
	Tier       Severity      `json:"tier"`
	ComputedAt time.Time     `json:"computed_at"`
}

// HasFlag reports whether a flag of the given type is active.
func (a *Assessment) HasFlag(t FlagType) bool {
	for _, f := range a.Flags {
		if f.Type == t {
			return true
		}
	}
	return false
}

// Detector is the interface all rumor-scope detection rules implement.
// Detectors are pure functions of the event history within their window
// plus the triggering event; they keep no cross-call state beyond what
// the event store supplies.
type Detector interface {
	// Flag returns the flag type this detector raises.
	Flag() FlagType

	// Check evaluates the triggering event against the rule.
	// Returns a flag if the signal fired, nil if it abstained.
	// Insufficient sample size is an abstention, not an error.
	Check(ctx context.Context, event *VoteEvent) (*AnomalyFlag, error)

	// Configure updates the detector configuration.
	Configure(config json.RawMessage) error

	// Enabled returns whether this detector is currently enabled.
	Enabled() bool

	// SetEnabled enables or disables the detector.
	SetEnabled(enabled bool)
}

// EventHistory provides windowed access to recorded events.
// The window always ends at the caller-supplied instant (the triggering
// event's timestamp, not wall-clock) so assessments are deterministic and
// replayable. Both queries return events in (at-window, at], time-ordered
// with sequence numbers breaking ties.
type EventHistory interface {
	// RumorEvents returns the votes on a rumor within the trailing window.
	RumorEvents(ctx context.Context, rumorID string, at time.Time, window time.Duration) ([]VoteEvent, error)

	// UserEvents returns a user's votes across all rumors within the
	// trailing window.
	UserEvents(ctx context.Context, userID string, at time.Time, window time.Duration) ([]VoteEvent, error)
}

// ResponseSink receives the actions the severity tiers trigger. The sink
// is an external collaborator; dispatches must be acknowledged (nil error)
// or the engine retries them.
type ResponseSink interface {
	// ApplyMonitoring enables or extends enhanced monitoring for a subject.
	ApplyMonitoring(ctx context.Context, subject SubjectKey) error

	// ApplyTrustPenalty reduces a user's trust score by a fixed amount.
	ApplyTrustPenalty(ctx context.Context, userID string, amount int) error

	// FreezeAccount freezes a user's score/account pending investigation.
	FreezeAccount(ctx context.Context, userID string, reason string, evidence []AnomalyFlag) error
}

// AuditStore persists assessments for later inspection. Audit storage is
// write-behind: the engine's in-memory state is authoritative.
type AuditStore interface {
	// SaveAssessment appends an assessment to the audit log.
	SaveAssessment(ctx context.Context, a *Assessment) error

	// ListAssessments returns audit records matching the filter, newest first.
	ListAssessments(ctx context.Context, filter AuditFilter) ([]Assessment, error)

	// Close releases store resources.
	Close() error
}

// AuditFilter selects audit records.
type AuditFilter struct {
	UserID  string     `json:"user_id,omitempty"`
	RumorID string     `json:"rumor_id,omitempty"`
	MinTier Severity   `json:"min_tier,omitempty"`
	Since   *time.Time `json:"since,omitempty"`
	Until   *time.Time `json:"until,omitempty"`
	Limit   int        `json:"limit,omitempty"`
}

// AlertBroadcaster pushes assessments to connected clients (WebSocket).
type AlertBroadcaster interface {
	BroadcastJSON(messageType string, data interface{})
}

// TemporalClusteringConfig configures the temporal clustering detector.
type TemporalClusteringConfig struct {
	// WindowSeconds is the trailing window to count votes in.
	WindowSeconds int `json:"window_seconds" koanf:"window_seconds"`

	// MinVotes is the vote count at which the window counts as clustered.
	MinVotes int `json:"min_votes" koanf:"min_votes"`

	// Weight added to the anomaly score when the flag fires.
	Weight float64 `json:"weight" koanf:"weight"`
}

// DefaultTemporalClusteringConfig returns shipped defaults: organic voting
// on a single rumor is sparse, five votes inside two minutes is rare for
// human-paced deliberation.
func DefaultTemporalClusteringConfig() TemporalClusteringConfig {
	return TemporalClusteringConfig{
		WindowSeconds: 120,
		MinVotes:      5,
		Weight:        WeightTemporalClustering,
	}
}

// IntervalRegularityConfig configures the unnatural-pattern detector.
type IntervalRegularityConfig struct {
	// WindowSeconds is the trailing window the gap sequence is taken from.
	WindowSeconds int `json:"window_seconds" koanf:"window_seconds"`

	// MinVotes is the minimum votes required to evaluate (below it the
	// detector abstains).
	MinVotes int `json:"min_votes" koanf:"min_votes"`

	// MaxCoefficientOfVariation is the low-variance cutoff; gap CV below
	// it indicates near-periodic timing inconsistent with human jitter.
	MaxCoefficientOfVariation float64 `json:"max_coefficient_of_variation" koanf:"max_coefficient_of_variation"`

	// Weight added to the anomaly score when the flag fires.
	Weight float64 `json:"weight" koanf:"weight"`
}

// DefaultIntervalRegularityConfig returns shipped defaults.
func DefaultIntervalRegularityConfig() IntervalRegularityConfig {
	return IntervalRegularityConfig{
		WindowSeconds:             600,
		MinVotes:                  4,
		MaxCoefficientOfVariation: 0.15,
		Weight:                    WeightUnnaturalPattern,
	}
}

// VelocitySpikeConfig configures the velocity spike detector.
type VelocitySpikeConfig struct {
	// BaselineWindowSeconds is the long reference window. The baseline
	// rate is computed over this window excluding the current window.
	BaselineWindowSeconds int `json:"baseline_window_seconds" koanf:"baseline_window_seconds"`

	// CurrentWindowSeconds is the short window for the current rate.
	CurrentWindowSeconds int `json:"current_window_seconds" koanf:"current_window_seconds"`

	// Multiplier is the rate increase that counts as a spike.
	Multiplier float64 `json:"multiplier" koanf:"multiplier"`

	// MinBaselineRate is the floor, in events per second, used in place
	// of an empty or near-zero baseline. Brand-new rumors have no
	// baseline; the floor keeps the comparison defined and suppresses
	// divide-by-zero false positives.
	MinBaselineRate float64 `json:"min_baseline_rate" koanf:"min_baseline_rate"`

	// Weight added to the anomaly score when the flag fires.
	Weight float64 `json:"weight" koanf:"weight"`
}

// DefaultVelocitySpikeConfig returns shipped defaults: 60s current window
// against a 10-minute baseline, 5x multiplier, floor of two votes per
// minute.
func DefaultVelocitySpikeConfig() VelocitySpikeConfig {
	return VelocitySpikeConfig{
		BaselineWindowSeconds: 600,
		CurrentWindowSeconds:  60,
		Multiplier:            5.0,
		MinBaselineRate:       2.0 / 60.0,
		Weight:                WeightVelocitySpike,
	}
}

// DirectionalBiasConfig configures the one-sided voting detector.
type DirectionalBiasConfig struct {
	// WindowSeconds is the trailing window votes are tallied over.
	WindowSeconds int `json:"window_seconds" koanf:"window_seconds"`

	// MinVotes is the minimum sample size (below it the detector abstains).
	MinVotes int `json:"min_votes" koanf:"min_votes"`

	// SkewThreshold is the share of total votes one direction must reach.
	SkewThreshold float64 `json:"skew_threshold" koanf:"skew_threshold"`

	// Weight added to the anomaly score when the flag fires.
	Weight float64 `json:"weight" koanf:"weight"`
}

// DefaultDirectionalBiasConfig returns shipped defaults.
func DefaultDirectionalBiasConfig() DirectionalBiasConfig {
	return DirectionalBiasConfig{
		WindowSeconds: 600,
		MinVotes:      5,
		SkewThreshold: 0.90,
		Weight:        WeightOneSidedVoting,
	}
}

// Evidence payloads attached to fired flags.

// ClusteringEvidence records the window tally behind a temporal_clustering flag.
type ClusteringEvidence struct {
	VoteCount     int       `json:"vote_count"`
	WindowSeconds int       `json:"window_seconds"`
	WindowStart   time.Time `json:"window_start"`
	WindowEnd     time.Time `json:"window_end"`
}

// RegularityEvidence records the gap statistics behind an unnatural_pattern
// or regular_timing flag.
type RegularityEvidence struct {
	SampleSize             int     `json:"sample_size"`
	MeanGapSeconds         float64 `json:"mean_gap_seconds"`
	CoefficientOfVariation float64 `json:"coefficient_of_variation"`
	Cutoff                 float64 `json:"cutoff"`
}

// VelocityEvidence records the rate comparison behind a velocity_spike flag.
type VelocityEvidence struct {
	BaselineRate  float64 `json:"baseline_rate"`
	CurrentRate   float64 `json:"current_rate"`
	Multiplier    float64 `json:"multiplier"`
	BaselineFloor bool    `json:"baseline_floor"`
}

// BiasEvidence records the tally behind a one_sided_voting flag.
type BiasEvidence struct {
	Support  int      `json:"support"`
	Dispute  int      `json:"dispute"`
	Dominant VoteType `json:"dominant"`
	Share    float64  `json:"share"`
}

// ActivityEvidence records the hour-of-day coverage behind a 24_7_activity flag.
type ActivityEvidence struct {
	ActiveHourBins int `json:"active_hour_bins"`
	SampleSize     int `json:"sample_size"`
}

// ConcentrationEvidence records the tally behind a single_action_type flag.
type ConcentrationEvidence struct {
	VoteType VoteType `json:"vote_type"`
	Count    int      `json:"count"`
}

// clamp01 bounds a score to [0, 1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
