// Sentinel - Behavioral Anomaly Detection for CampusVerify
// Copyright 2026 CampusVerify
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/campusverify/sentinel

package detection

import (
	"context"
	"testing"
	"time"
)

func fastDispatcherConfig() DispatcherConfig {
	cfg := DefaultDispatcherConfig()
	cfg.InitialInterval = time.Millisecond
	cfg.MaxInterval = 5 * time.Millisecond
	return cfg
}

func assessmentFor(subject SubjectKey, tier Severity) *Assessment {
	return &Assessment{
		Subject:    subject,
		Tier:       tier,
		ComputedAt: testBase,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestDispatcher_MinorDoesNothing(t *testing.T) {
	sink := &mockSink{}
	d := NewDispatcher(fastDispatcherConfig(), sink)
	defer d.Close()

	subject := SubjectKey{UserID: "u", RumorID: "r"}
	if started := d.Dispatch(context.Background(), assessmentFor(subject, SeverityMinor)); started {
		t.Error("minor tier should not start a dispatch")
	}
	if m, p, f := sink.counts(); m+p+f != 0 {
		t.Errorf("sink was called %d times for a minor assessment", m+p+f)
	}
}

func TestDispatcher_ModerateMonitors(t *testing.T) {
	sink := &mockSink{}
	d := NewDispatcher(fastDispatcherConfig(), sink)
	defer d.Close()

	subject := SubjectKey{UserID: "u", RumorID: "r"}
	if started := d.Dispatch(context.Background(), assessmentFor(subject, SeverityModerate)); !started {
		t.Fatal("moderate tier should dispatch")
	}
	waitFor(t, time.Second, func() bool {
		m, _, _ := sink.counts()
		return m == 1
	})
}

func TestDispatcher_EscalationOnly(t *testing.T) {
	sink := &mockSink{}
	d := NewDispatcher(fastDispatcherConfig(), sink)
	defer d.Close()

	subject := SubjectKey{UserID: "u", RumorID: "r"}
	if !d.Dispatch(context.Background(), assessmentFor(subject, SeverityCritical)) {
		t.Fatal("critical tier should dispatch")
	}
	waitFor(t, time.Second, func() bool {
		_, _, f := sink.counts()
		return f == 1
	})

	// A later moderate assessment for the same subject is not a new
	// response.
	if d.Dispatch(context.Background(), assessmentFor(subject, SeverityModerate)) {
		t.Error("lower tier after critical should not dispatch")
	}
	// Repeating the same tier is idempotent too.
	if d.Dispatch(context.Background(), assessmentFor(subject, SeverityCritical)) {
		t.Error("repeated critical should not dispatch again")
	}

	// A different subject escalates independently.
	other := SubjectKey{UserID: "u", RumorID: "r2"}
	if !d.Dispatch(context.Background(), assessmentFor(other, SeveritySevere)) {
		t.Error("distinct subject should dispatch on its own ladder")
	}
}

func TestDispatcher_RetriesTransientFailure(t *testing.T) {
	sink := &mockSink{failures: 2}
	d := NewDispatcher(fastDispatcherConfig(), sink)
	defer d.Close()

	subject := SubjectKey{UserID: "u", RumorID: "r"}
	d.Dispatch(context.Background(), assessmentFor(subject, SeveritySevere))

	waitFor(t, 2*time.Second, func() bool {
		_, p, _ := sink.counts()
		return p == 1
	})
}

func TestDispatcher_ExhaustsRetries(t *testing.T) {
	cfg := fastDispatcherConfig()
	cfg.MaxRetries = 2
	sink := &mockSink{failures: 10}
	d := NewDispatcher(cfg, sink)

	subject := SubjectKey{UserID: "u", RumorID: "r"}
	d.Dispatch(context.Background(), assessmentFor(subject, SeveritySevere))
	d.Close()

	if _, p, _ := sink.counts(); p != 0 {
		t.Errorf("penalties = %d, want 0 after exhausted retries", p)
	}
	// The tier rank is still recorded so the subject does not retry
	// forever on every subsequent assessment.
	if d.LastRank(subject) != SeveritySevere.Rank() {
		t.Errorf("LastRank = %d, want %d", d.LastRank(subject), SeveritySevere.Rank())
	}
}

func TestDispatcher_LastRankUnknownSubject(t *testing.T) {
	d := NewDispatcher(fastDispatcherConfig(), &mockSink{})
	defer d.Close()

	if got := d.LastRank(SubjectKey{UserID: "nobody", RumorID: "r"}); got != -1 {
		t.Errorf("LastRank = %d, want -1", got)
	}
}
