package memory

import (
	"context"
	"sort"
	"sync"

	"grovevault-engine/internal/domain"
	"grovevault-engine/internal/storage"
)

// DistributionStore is an in-memory implementation of storage.DistributionStore.
type DistributionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.DistributionResult // keyed by distribution_id
}

// NewDistributionStore creates a new in-memory distribution store.
func NewDistributionStore() *DistributionStore {
	return &DistributionStore{
		data: make(map[string]*domain.DistributionResult),
	}
}

// Insert records a completed run. Returns ErrDuplicateKey if the
// distribution_id already exists.
func (s *DistributionStore) Insert(_ context.Context, r *domain.DistributionResult) error {
	if r == nil || r.DistributionID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.DistributionID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[r.DistributionID] = copyResult(r)
	return nil
}

// GetByID retrieves a run result. Returns ErrNotFound if not exists.
func (s *DistributionStore) GetByID(_ context.Context, distributionID string) (*domain.DistributionResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.data[distributionID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyResult(r), nil
}

// GetByGrove retrieves all run results for a grove, newest first.
func (s *DistributionStore) GetByGrove(_ context.Context, groveID string) ([]*domain.DistributionResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.DistributionResult
	for _, r := range s.data {
		if r.GroveID == groveID {
			result = append(result, copyResult(r))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt > result[j].StartedAt
	})

	return result, nil
}

// copyResult deep-copies a result so callers cannot mutate stored state.
func copyResult(r *domain.DistributionResult) *domain.DistributionResult {
	out := *r
	out.Successful = make([]domain.TransferRecord, len(r.Successful))
	copy(out.Successful, r.Successful)
	out.Failed = make([]domain.FailureRecord, len(r.Failed))
	copy(out.Failed, r.Failed)
	return &out
}

var _ storage.DistributionStore = (*DistributionStore)(nil)
