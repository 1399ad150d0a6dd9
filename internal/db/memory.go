package db

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rawblock/fundflow-engine/internal/analysis"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

// MemoryStore keeps reports in process. It backs the API when no
// database is configured and stands in for Postgres in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	reports map[string]*analysis.Report
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{reports: make(map[string]*analysis.Report)}
}

func (s *MemoryStore) SaveReport(_ context.Context, r *analysis.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[r.ID] = r
	return nil
}

func (s *MemoryStore) GetReport(_ context.Context, id string) (*analysis.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, nil
}

func (s *MemoryStore) ListReports(_ context.Context, address string, limit int) ([]ReportSummary, error) {
	address = models.NormalizeAddress(address)
	s.mu.RLock()
	out := make([]ReportSummary, 0, len(s.reports))
	for _, r := range s.reports {
		if address == "" || r.Address == address {
			out = append(out, Summarize(r))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit = clampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
