// Sentinel - Behavioral Anomaly Detection for CampusVerify
// Copyright 2026 CampusVerify
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/campusverify/sentinel

package detection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/campusverify/sentinel/internal/logging"
	"github.com/campusverify/sentinel/internal/metrics"
)

// Engine coordinates event ingestion, detector evaluation, scoring, and
// response dispatch. One assessment is produced per accepted event for
// the (user, rumor) subject of that event.
type Engine struct {
	store      *EventStore
	profiler   *Profiler
	aggregator *Aggregator
	dispatcher *Dispatcher
	audit      AuditStore

	mu          sync.RWMutex
	detectors   map[FlagType]Detector
	order       []FlagType
	broadcaster AlertBroadcaster
	enabled     bool

	subjects *keyedMutex

	latestMu sync.RWMutex
	latest   map[SubjectKey]*Assessment

	metricsMu    sync.Mutex
	metricsStore *EngineMetrics
}

// EngineMetrics tracks engine throughput for the status endpoint.
// Prometheus carries the operational series; this is the cheap snapshot
// the HTTP API serves without scraping.
type EngineMetrics struct {
	EventsProcessed     int64     `json:"events_processed"`
	EventsRejected      int64     `json:"events_rejected"`
	AssessmentsComputed int64     `json:"assessments_computed"`
	DetectionErrors     int64     `json:"detection_errors"`
	LastProcessedAt     time.Time `json:"last_processed_at"`
}

// NewEngine creates an engine. Detectors are registered separately so
// callers control the evaluation order.
func NewEngine(
	store *EventStore,
	profiler *Profiler,
	aggregator *Aggregator,
	dispatcher *Dispatcher,
	audit AuditStore,
	broadcaster AlertBroadcaster,
) *Engine {
	return &Engine{
		store:        store,
		profiler:     profiler,
		aggregator:   aggregator,
		dispatcher:   dispatcher,
		audit:        audit,
		broadcaster:  broadcaster,
		detectors:    make(map[FlagType]Detector),
		enabled:      true,
		subjects:     newKeyedMutex(),
		latest:       make(map[SubjectKey]*Assessment),
		metricsStore: &EngineMetrics{},
	}
}

// RegisterDetector adds a detector. Detectors run in registration order.
func (e *Engine) RegisterDetector(detector Detector) {
	e.mu.Lock()
	defer e.mu.Unlock()

	flag := detector.Flag()
	if _, dup := e.detectors[flag]; !dup {
		e.order = append(e.order, flag)
	}
	e.detectors[flag] = detector

	logging.Info().Str("detector", string(flag)).Msg("Registered detector")
}

// SetDetectorEnabled toggles one detector by flag type.
func (e *Engine) SetDetectorEnabled(flag FlagType, enabled bool) error {
	e.mu.RLock()
	detector, ok := e.detectors[flag]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDetector, flag)
	}
	detector.SetEnabled(enabled)
	return nil
}

// ConfigureDetector replaces one detector's configuration.
func (e *Engine) ConfigureDetector(flag FlagType, config json.RawMessage) error {
	e.mu.RLock()
	detector, ok := e.detectors[flag]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDetector, flag)
	}
	return detector.Configure(config)
}

// SetEnabled toggles the whole engine. Disabled, events are still stored
// and profiled; no assessments are produced.
func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	e.enabled = enabled
	e.mu.Unlock()
}

// OnRumorCreated registers rumor metadata for later assessments.
func (e *Engine) OnRumorCreated(record *RumorRecord) error {
	if record == nil || record.RumorID == "" {
		return fmt.Errorf("%w: rumor id required", ErrInvalidEvent)
	}
	e.store.RegisterRumor(*record)
	return nil
}

// OnVoteEvent ingests one event and produces the assessment for its
// (user, rumor) subject. Rejected events (validation, ordering) return
// an error and produce no assessment.
func (e *Engine) OnVoteEvent(ctx context.Context, event *VoteEvent) (*Assessment, error) {
	start := time.Now()

	if err := e.store.Append(event); err != nil {
		reason := "validation"
		if errors.Is(err, ErrOutOfOrder) {
			reason = "out_of_order"
		}
		metrics.EventsRejected.WithLabelValues(reason).Inc()
		e.metricsMu.Lock()
		e.metricsStore.EventsRejected++
		e.metricsMu.Unlock()
		return nil, err
	}
	metrics.EventsIngested.WithLabelValues(string(event.VoteType)).Inc()
	metrics.StoredEvents.Set(float64(e.store.Len()))

	e.profiler.Observe(event)

	e.mu.RLock()
	enabled := e.enabled
	e.mu.RUnlock()
	if !enabled {
		e.metricsMu.Lock()
		e.metricsStore.EventsProcessed++
		e.metricsStore.LastProcessedAt = time.Now()
		e.metricsMu.Unlock()
		return nil, nil
	}

	subject := SubjectKey{UserID: event.UserID, RumorID: event.RumorID}

	// Serialize per subject so two events for the same pair never
	// interleave their read-evaluate-record cycles.
	e.subjects.Lock(subject.String())
	defer e.subjects.Unlock(subject.String())

	flags := e.runDetectors(ctx, event)
	flags = append(flags, e.profiler.Flags(event)...)

	score := Combine(flags)
	assessment := &Assessment{
		Subject:    subject,
		Score:      score,
		Flags:      flags,
		Tier:       TierForScore(score),
		ComputedAt: event.Timestamp,
	}

	e.record(ctx, assessment)
	metrics.ObserveAssessment(start, score, string(assessment.Tier))

	e.metricsMu.Lock()
	e.metricsStore.EventsProcessed++
	e.metricsStore.AssessmentsComputed++
	e.metricsStore.LastProcessedAt = time.Now()
	e.metricsMu.Unlock()

	if len(flags) > 0 {
		logging.Debug().
			Str("subject", subject.String()).
			Float64("score", score).
			Str("tier", string(assessment.Tier)).
			Int("flags", len(flags)).
			Msg("Anomaly flags raised")
	}

	e.dispatcher.Dispatch(ctx, assessment)
	return assessment, nil
}

// runDetectors evaluates the rumor-scope detectors in registration
// order. A detector error is logged and skipped; the rest still run.
func (e *Engine) runDetectors(ctx context.Context, event *VoteEvent) []AnomalyFlag {
	e.mu.RLock()
	detectors := make([]Detector, 0, len(e.order))
	for _, flag := range e.order {
		if d := e.detectors[flag]; d.Enabled() {
			detectors = append(detectors, d)
		}
	}
	e.mu.RUnlock()

	var flags []AnomalyFlag
	for _, detector := range detectors {
		flag, err := detector.Check(ctx, event)
		if err != nil {
			metrics.DetectorErrors.WithLabelValues(string(detector.Flag())).Inc()
			e.metricsMu.Lock()
			e.metricsStore.DetectionErrors++
			e.metricsMu.Unlock()
			logging.Error().
				Err(err).
				Str("detector", string(detector.Flag())).
				Str("event_id", event.EventID).
				Msg("Detector check failed")
			continue
		}
		if flag != nil {
			metrics.FlagsRaised.WithLabelValues(string(flag.Type)).Inc()
			flags = append(flags, *flag)
		}
	}
	return flags
}

// record persists the assessment, folds it into the user's history, and
// broadcasts it to connected dashboards.
func (e *Engine) record(ctx context.Context, assessment *Assessment) {
	e.latestMu.Lock()
	e.latest[assessment.Subject] = assessment
	e.latestMu.Unlock()

	e.aggregator.Record(assessment.Subject.UserID, assessment.Score, assessment.ComputedAt)

	if err := e.audit.SaveAssessment(ctx, assessment); err != nil {
		logging.Error().
			Err(err).
			Str("subject", assessment.Subject.String()).
			Msg("Failed to persist assessment")
	}

	if e.broadcaster != nil && assessment.Tier != SeverityMinor {
		e.broadcaster.BroadcastJSON("assessment", assessment)
	}
}

// GetAssessment returns the latest assessment for a subject, or nil.
func (e *Engine) GetAssessment(subject SubjectKey) *Assessment {
	e.latestMu.RLock()
	defer e.latestMu.RUnlock()
	return e.latest[subject]
}

// UserHistoricalScore returns the user's decayed historical score.
func (e *Engine) UserHistoricalScore(userID string, now time.Time) float64 {
	return e.aggregator.HistoricalScore(userID, now)
}

// ListAssessments proxies the audit store.
func (e *Engine) ListAssessments(ctx context.Context, filter AuditFilter) ([]Assessment, error) {
	return e.audit.ListAssessments(ctx, filter)
}

// Metrics returns the throughput snapshot.
func (e *Engine) Metrics() EngineMetrics {
	e.metricsMu.Lock()
	defer e.metricsMu.Unlock()
	return *e.metricsStore
}

// Serve runs the periodic maintenance sweep until the context is
// canceled. It satisfies suture.Service.
func (e *Engine) Serve(ctx context.Context) error {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.dispatcher.Close()
			if err := e.audit.Close(); err != nil && !errors.Is(err, context.Canceled) {
				logging.Error().Err(err).Msg("Audit store close failed")
			}
			return ctx.Err()
		case <-ticker.C:
			now := time.Now()
			profiles := e.profiler.Sweep(now)
			scores := e.aggregator.Sweep(now, 0.01)
			if profiles > 0 || scores > 0 {
				logging.Debug().
					Int("profiles", profiles).
					Int("scores", scores).
					Msg("Maintenance sweep")
			}
		}
	}
}

// String identifies the service in the supervision tree.
func (e *Engine) String() string {
	return "detection-engine"
}
