// Sentinel - Behavioral Anomaly Detection for CampusVerify
// Copyright 2026 CampusVerify
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/campusverify/sentinel

package detection

import (
	"context"
	"sync"
)

// MemoryAuditStore keeps assessments in memory. Used in tests and when
// no audit directory is configured.
type MemoryAuditStore struct {
	mu          sync.RWMutex
	assessments []Assessment
}

// NewMemoryAuditStore creates an empty in-memory store.
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

func (s *MemoryAuditStore) SaveAssessment(ctx context.Context, assessment *Assessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assessments = append(s.assessments, *assessment)
	return nil
}

func (s *MemoryAuditStore) ListAssessments(ctx context.Context, filter AuditFilter) ([]Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []Assessment
	for i := range s.assessments {
		if filter.Limit > 0 && len(results) >= filter.Limit {
			break
		}
		if matchesFilter(&s.assessments[i], filter) {
			results = append(results, s.assessments[i])
		}
	}
	return results, nil
}

func (s *MemoryAuditStore) Close() error {
	return nil
}
