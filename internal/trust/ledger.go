// Sentinel - Behavioral Anomaly Detection for CampusVerify
// Copyright 2026 CampusVerify
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/campusverify/sentinel

// Package trust provides the reference response sink: an in-memory
// trust ledger tracking per-user standing on the platform. Production
// deployments replace it with a client for the real trust service; the
// dispatcher only sees the ResponseSink interface either way.
package trust

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/campusverify/sentinel/internal/detection"
	"github.com/campusverify/sentinel/internal/logging"
)

const (
	// MaxScore is a clean account's standing.
	MaxScore = 100

	// MinScore floors the standing of a heavily penalized account.
	MinScore = 0
)

// Account is one user's trust standing.
type Account struct {
	UserID       string     `json:"user_id"`
	Score        int        `json:"score"`
	Violations   int        `json:"violations"`
	Monitored    bool       `json:"monitored"`
	Frozen       bool       `json:"frozen"`
	FrozenReason string     `json:"frozen_reason,omitempty"`
	FrozenAt     *time.Time `json:"frozen_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Ledger is an in-memory trust ledger implementing
// detection.ResponseSink.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[string]*Account
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{accounts: make(map[string]*Account)}
}

// ApplyMonitoring marks the user for heightened review.
func (l *Ledger) ApplyMonitoring(ctx context.Context, subject detection.SubjectKey) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	account := l.accountLocked(subject.UserID)
	account.Monitored = true
	account.UpdatedAt = time.Now().UTC()

	logging.Info().
		Str("user_id", subject.UserID).
		Str("rumor_id", subject.RumorID).
		Msg("User placed under monitoring")
	return nil
}

// ApplyTrustPenalty deducts from the user's standing and counts a
// violation. Standing never drops below MinScore.
func (l *Ledger) ApplyTrustPenalty(ctx context.Context, userID string, amount int) error {
	if amount <= 0 {
		return fmt.Errorf("penalty amount must be positive, got %d", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	account := l.accountLocked(userID)
	account.Score -= amount
	if account.Score < MinScore {
		account.Score = MinScore
	}
	account.Violations++
	account.UpdatedAt = time.Now().UTC()

	logging.Warn().
		Str("user_id", userID).
		Int("penalty", amount).
		Int("score", account.Score).
		Int("violations", account.Violations).
		Msg("Trust penalty applied")
	return nil
}

// FreezeAccount suspends the user pending manual review. Freezing is
// idempotent; a second freeze keeps the original reason and timestamp.
func (l *Ledger) FreezeAccount(ctx context.Context, userID, reason string, evidence []detection.AnomalyFlag) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	account := l.accountLocked(userID)
	if account.Frozen {
		return nil
	}
	now := time.Now().UTC()
	account.Frozen = true
	account.FrozenReason = reason
	account.FrozenAt = &now
	account.UpdatedAt = now

	flagNames := make([]string, 0, len(evidence))
	for _, f := range evidence {
		flagNames = append(flagNames, string(f.Type))
	}
	logging.Warn().
		Str("user_id", userID).
		Str("reason", reason).
		Strs("flags", flagNames).
		Msg("Account frozen pending review")
	return nil
}

// Account returns a copy of the user's standing. Unknown users report a
// clean account.
func (l *Ledger) Account(userID string) Account {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if account, ok := l.accounts[userID]; ok {
		return *account
	}
	return Account{UserID: userID, Score: MaxScore}
}

// Recover raises every unfrozen account's standing by amount, capped at
// MaxScore. Meant to run daily so penalized users can earn their way
// back. Returns the number of accounts changed.
func (l *Ledger) Recover(amount int) int {
	if amount <= 0 {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	changed := 0
	now := time.Now().UTC()
	for _, account := range l.accounts {
		if account.Frozen || account.Score >= MaxScore {
			continue
		}
		account.Score += amount
		if account.Score > MaxScore {
			account.Score = MaxScore
		}
		account.UpdatedAt = now
		changed++
	}
	return changed
}

// accountLocked returns the account for a user, creating a clean one if
// needed. Caller holds l.mu.
func (l *Ledger) accountLocked(userID string) *Account {
	account, ok := l.accounts[userID]
	if !ok {
		account = &Account{UserID: userID, Score: MaxScore}
		l.accounts[userID] = account
	}
	return account
}
