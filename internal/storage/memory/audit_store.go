package memory

import (
	"context"
	"sort"
	"sync"

	"grovevault-engine/internal/domain"
	"grovevault-engine/internal/storage"
)

// TransferAuditStore is an in-memory implementation of storage.TransferAuditStore.
type TransferAuditStore struct {
	mu        sync.RWMutex
	successes map[string][]domain.TransferRecord // keyed by distribution_id
	failures  map[string][]domain.FailureRecord
}

// NewTransferAuditStore creates a new in-memory transfer audit store.
func NewTransferAuditStore() *TransferAuditStore {
	return &TransferAuditStore{
		successes: make(map[string][]domain.TransferRecord),
		failures:  make(map[string][]domain.FailureRecord),
	}
}

// InsertResult appends audit rows for a completed run.
func (s *TransferAuditStore) InsertResult(_ context.Context, r *domain.DistributionResult) error {
	if r == nil || r.DistributionID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.successes[r.DistributionID] = append(s.successes[r.DistributionID], r.Successful...)
	s.failures[r.DistributionID] = append(s.failures[r.DistributionID], r.Failed...)
	return nil
}

// Records returns the audit rows recorded for a distribution.
func (s *TransferAuditStore) Records(distributionID string) ([]domain.TransferRecord, []domain.FailureRecord) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	succ := make([]domain.TransferRecord, len(s.successes[distributionID]))
	copy(succ, s.successes[distributionID])
	failed := make([]domain.FailureRecord, len(s.failures[distributionID]))
	copy(failed, s.failures[distributionID])
	return succ, failed
}

var _ storage.TransferAuditStore = (*TransferAuditStore)(nil)

// PoolSnapshotStore is an in-memory implementation of storage.PoolSnapshotStore.
type PoolSnapshotStore struct {
	mu   sync.RWMutex
	data []*domain.PoolSnapshot
}

// NewPoolSnapshotStore creates a new in-memory pool snapshot store.
func NewPoolSnapshotStore() *PoolSnapshotStore {
	return &PoolSnapshotStore{}
}

// Insert appends one snapshot.
func (s *PoolSnapshotStore) Insert(_ context.Context, snap *domain.PoolSnapshot) error {
	if snap == nil || snap.Asset == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapCopy := *snap
	s.data = append(s.data, &snapCopy)
	return nil
}

// GetByAsset retrieves snapshots for an asset within [start, end] (inclusive),
// ordered by timestamp ASC.
func (s *PoolSnapshotStore) GetByAsset(_ context.Context, asset string, start, end int64) ([]*domain.PoolSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PoolSnapshot
	for _, snap := range s.data {
		if snap.Asset == asset && snap.Timestamp >= start && snap.Timestamp <= end {
			snapCopy := *snap
			result = append(result, &snapCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp < result[j].Timestamp
	})

	return result, nil
}

var _ storage.PoolSnapshotStore = (*PoolSnapshotStore)(nil)
