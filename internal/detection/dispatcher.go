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

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/campusverify/sentinel/internal/logging"
	"github.com/campusverify/sentinel/internal/metrics"
)

// DispatcherConfig configures response dispatch.
type DispatcherConfig struct {
	// MaxRetries bounds retry attempts after the first failure.
	MaxRetries uint64 `json:"max_retries"`

	// InitialInterval is the first retry delay.
	InitialInterval time.Duration `json:"initial_interval"`

	// MaxInterval caps the exponential backoff delay.
	MaxInterval time.Duration `json:"max_interval"`

	// Multiplier grows the delay between attempts.
	Multiplier float64 `json:"multiplier"`

	// PenaltyAmount is the trust score deduction for a severe tier.
	PenaltyAmount int `json:"penalty_amount"`

	// RatePerSecond limits sink calls platform-wide so a detection storm
	// cannot flood the trust service.
	RatePerSecond float64 `json:"rate_per_second"`

	// Burst is the limiter burst size.
	Burst int `json:"burst"`

	// BreakerFailures opens the circuit after this many consecutive
	// sink failures.
	BreakerFailures uint32 `json:"breaker_failures"`

	// BreakerTimeout is how long the circuit stays open.
	BreakerTimeout time.Duration `json:"breaker_timeout"`
}

// DefaultDispatcherConfig returns shipped defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		MaxRetries:      4,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2.0,
		PenaltyAmount:   10,
		RatePerSecond:   50,
		Burst:           100,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
	}
}

type subjectState struct {
	lastRank int
	cancel   context.CancelFunc
}

// Dispatcher turns assessments into graduated responses against a
// ResponseSink. Responses per subject only escalate: once freeze has been
// dispatched for a user/rumor pair, later moderate assessments for the
// same pair do nothing. A newer assessment supersedes a pending dispatch
// that has not completed yet.
type Dispatcher struct {
	config  DispatcherConfig
	sink    ResponseSink
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[struct{}]

	mu       sync.Mutex
	subjects map[SubjectKey]*subjectState
	wg       sync.WaitGroup
}

// NewDispatcher creates a dispatcher around a sink.
func NewDispatcher(cfg DispatcherConfig, sink ResponseSink) *Dispatcher {
	def := DefaultDispatcherConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = def.MaxInterval
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.PenaltyAmount <= 0 {
		cfg.PenaltyAmount = def.PenaltyAmount
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = def.RatePerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = def.BreakerFailures
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = def.BreakerTimeout
	}

	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    "response-sink",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Response sink circuit breaker state change")
		},
	})

	return &Dispatcher{
		config:   cfg,
		sink:     sink,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		breaker:  breaker,
		subjects: make(map[SubjectKey]*subjectState),
	}
}

// Dispatch applies the action for an assessment's tier. It returns
// immediately; sink calls run asynchronously with retry. Returns true
// when a dispatch was started, false when the assessment does not
// escalate past what was already dispatched for the subject.
func (d *Dispatcher) Dispatch(ctx context.Context, assessment *Assessment) bool {
	rank := assessment.Tier.Rank()
	action := ActionForTier(assessment.Tier)

	d.mu.Lock()
	state, ok := d.subjects[assessment.Subject]
	if !ok {
		state = &subjectState{lastRank: -1}
		d.subjects[assessment.Subject] = state
	}
	if rank <= state.lastRank {
		d.mu.Unlock()
		return false
	}
	// A pending lower-tier dispatch is stale now.
	if state.cancel != nil {
		state.cancel()
		state.cancel = nil
	}
	state.lastRank = rank
	if action == ActionNone {
		d.mu.Unlock()
		return false
	}

	dispatchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	state.cancel = cancel
	d.mu.Unlock()

	metrics.DispatchPending.Inc()
	d.wg.Add(1)
	go d.run(dispatchCtx, cancel, assessment, action)
	return true
}

func (d *Dispatcher) run(ctx context.Context, cancel context.CancelFunc, assessment *Assessment, action Action) {
	defer d.wg.Done()
	defer metrics.DispatchPending.Dec()
	defer cancel()

	operation := func() error {
		if err := d.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		_, err := d.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, d.apply(ctx, assessment, action)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			// Let backoff wait out the open circuit.
			return err
		}
		if errors.Is(err, context.Canceled) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.config.InitialInterval
	policy.MaxInterval = d.config.MaxInterval
	policy.Multiplier = d.config.Multiplier

	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(policy, d.config.MaxRetries), ctx))

	switch {
	case err == nil:
		metrics.DispatchAttempts.WithLabelValues(string(action), "ok").Inc()
	case errors.Is(err, context.Canceled):
		metrics.DispatchAttempts.WithLabelValues(string(action), "canceled").Inc()
		logging.Debug().
			Str("subject", assessment.Subject.String()).
			Str("action", string(action)).
			Msg("Dispatch superseded before completion")
	default:
		metrics.DispatchAttempts.WithLabelValues(string(action), "error").Inc()
		metrics.DispatchExhausted.WithLabelValues(string(action)).Inc()
		logging.Error().
			Err(err).
			Str("subject", assessment.Subject.String()).
			Str("action", string(action)).
			Str("tier", string(assessment.Tier)).
			Msg("Response dispatch exhausted retries, manual intervention required")
	}
}

func (d *Dispatcher) apply(ctx context.Context, assessment *Assessment, action Action) error {
	switch action {
	case ActionMonitor:
		return d.sink.ApplyMonitoring(ctx, assessment.Subject)
	case ActionPenalty:
		return d.sink.ApplyTrustPenalty(ctx, assessment.Subject.UserID, d.config.PenaltyAmount)
	case ActionFreeze:
		reason := fmt.Sprintf("anomaly score %.2f on rumor %s", assessment.Score, assessment.Subject.RumorID)
		return d.sink.FreezeAccount(ctx, assessment.Subject.UserID, reason, assessment.Flags)
	default:
		return nil
	}
}

// LastRank returns the highest dispatched tier rank for a subject, or -1
// when nothing has been dispatched.
func (d *Dispatcher) LastRank(subject SubjectKey) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if state, ok := d.subjects[subject]; ok {
		return state.lastRank
	}
	return -1
}

// Close cancels pending dispatches and waits for them to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	for _, state := range d.subjects {
		if state.cancel != nil {
			state.cancel()
			state.cancel = nil
		}
	}
	d.mu.Unlock()
	d.wg.Wait()
}
