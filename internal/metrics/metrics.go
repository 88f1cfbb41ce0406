// Sentinel - Behavioral Anomaly Detection for CampusVerify
// Copyright 2026 CampusVerify
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/campusverify/sentinel

// Package metrics exposes Prometheus instrumentation for the detection
// engine: ingestion throughput, flag and tier distributions, and response
// dispatch health.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_events_ingested_total",
			Help: "Total number of vote events accepted by the engine",
		},
		[]string{"vote_type"},
	)

	EventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_events_rejected_total",
			Help: "Total number of vote events rejected at ingestion",
		},
		[]string{"reason"}, // "validation", "out_of_order"
	)

	// Detection metrics
	FlagsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_flags_raised_total",
			Help: "Total number of anomaly flags raised, by flag type",
		},
		[]string{"flag"},
	)

	DetectorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_detector_errors_total",
			Help: "Total number of detector evaluation errors",
		},
		[]string{"flag"},
	)

	AssessmentsComputed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_assessments_total",
			Help: "Total number of anomaly assessments computed, by severity tier",
		},
		[]string{"tier"},
	)

	AssessmentDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentinel_assessment_duration_seconds",
			Help:    "Time spent computing a single assessment",
			Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
		},
	)

	AnomalyScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentinel_anomaly_score",
			Help:    "Distribution of computed anomaly scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	// Response dispatch metrics
	DispatchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_dispatch_attempts_total",
			Help: "Total number of response sink dispatch attempts, by action and outcome",
		},
		[]string{"action", "outcome"}, // outcome: "ok", "error", "canceled"
	)

	DispatchExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_dispatch_exhausted_total",
			Help: "Total number of dispatches that exhausted all retries",
		},
		[]string{"action"},
	)

	DispatchPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_dispatch_pending",
			Help: "Number of response dispatches currently retrying",
		},
	)

	// Store metrics
	StoredEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_event_store_events",
			Help: "Number of vote events currently retained in the event store",
		},
	)

	EventsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_event_store_evicted_total",
			Help: "Total number of events evicted from the event store",
		},
	)

	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_http_requests_total",
			Help: "Total number of HTTP requests, by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_http_request_duration_seconds",
			Help:    "HTTP request latency, by route",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"route"},
	)

	// WebSocket metrics
	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_websocket_clients",
			Help: "Number of connected WebSocket clients",
		},
	)
)

// ObserveAssessment records the duration and score of one assessment.
func ObserveAssessment(start time.Time, score float64, tier string) {
	AssessmentDuration.Observe(time.Since(start).Seconds())
	AnomalyScore.Observe(score)
	AssessmentsComputed.WithLabelValues(tier).Inc()
}
