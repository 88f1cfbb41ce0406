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

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/campusverify/sentinel/internal/logging"
)

const assessmentPrefix = "assessment:"

// BadgerAuditConfig configures the durable audit store.
type BadgerAuditConfig struct {
	// Path is the BadgerDB directory.
	Path string `json:"path"`

	// SyncWrites forces fsync per write. Slower, survives power loss.
	SyncWrites bool `json:"sync_writes"`

	// RetentionDays sets a TTL on assessment records. Zero keeps forever.
	RetentionDays int `json:"retention_days"`
}

// DefaultBadgerAuditConfig returns shipped defaults.
func DefaultBadgerAuditConfig() BadgerAuditConfig {
	return BadgerAuditConfig{
		Path:          "./data/audit",
		SyncWrites:    false,
		RetentionDays: 90,
	}
}

// BadgerAuditStore persists assessments to BadgerDB. Keys embed the
// computation timestamp so iteration returns records in time order.
type BadgerAuditStore struct {
	db     *badger.DB
	config BadgerAuditConfig

	mu     sync.RWMutex
	closed bool
}

// OpenBadgerAudit opens (or creates) the audit database.
func OpenBadgerAudit(cfg BadgerAuditConfig) (*BadgerAuditStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("audit path required")
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts.SyncWrites = cfg.SyncWrites
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("sync_writes", cfg.SyncWrites).
		Msg("Audit store opened")

	return &BadgerAuditStore{db: db, config: cfg}, nil
}

// SaveAssessment persists one assessment.
func (s *BadgerAuditStore) SaveAssessment(ctx context.Context, assessment *Assessment) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("audit store closed")
	}
	s.mu.RUnlock()

	data, err := json.Marshal(assessment)
	if err != nil {
		return fmt.Errorf("marshal assessment: %w", err)
	}

	// Timestamp-first key keeps prefix iteration in time order; the
	// UUID suffix disambiguates same-instant assessments.
	key := []byte(fmt.Sprintf("%s%s:%s",
		assessmentPrefix,
		assessment.ComputedAt.UTC().Format(time.RFC3339Nano),
		uuid.New().String()))

	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key, data)
		if s.config.RetentionDays > 0 {
			entry = entry.WithTTL(time.Duration(s.config.RetentionDays) * 24 * time.Hour)
		}
		return txn.SetEntry(entry)
	})
}

// ListAssessments returns stored assessments matching the filter, in
// time order.
func (s *BadgerAuditStore) ListAssessments(ctx context.Context, filter AuditFilter) ([]Assessment, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, fmt.Errorf("audit store closed")
	}
	s.mu.RUnlock()

	var results []Assessment
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(assessmentPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if filter.Limit > 0 && len(results) >= filter.Limit {
				return nil
			}
			err := it.Item().Value(func(val []byte) error {
				var a Assessment
				if err := json.Unmarshal(val, &a); err != nil {
					return fmt.Errorf("unmarshal assessment: %w", err)
				}
				if matchesFilter(&a, filter) {
					results = append(results, a)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func matchesFilter(a *Assessment, filter AuditFilter) bool {
	if filter.UserID != "" && a.Subject.UserID != filter.UserID {
		return false
	}
	if filter.RumorID != "" && a.Subject.RumorID != filter.RumorID {
		return false
	}
	if filter.MinTier != "" && a.Tier.Rank() < filter.MinTier.Rank() {
		return false
	}
	if filter.Since != nil && a.ComputedAt.Before(*filter.Since) {
		return false
	}
	if filter.Until != nil && a.ComputedAt.After(*filter.Until) {
		return false
	}
	return true
}

// Close shuts down the database.
func (s *BadgerAuditStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
