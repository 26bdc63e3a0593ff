package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"grovevault-engine/internal/domain"
	"grovevault-engine/internal/storage"
)

// PoolStore is an in-memory implementation of storage.PoolStore.
type PoolStore struct {
	mu   sync.RWMutex
	data map[string]*domain.LiquidityPool // keyed by asset
}

// NewPoolStore creates a new in-memory pool store.
func NewPoolStore() *PoolStore {
	return &PoolStore{
		data: make(map[string]*domain.LiquidityPool),
	}
}

// Get retrieves the pool for an asset. Returns ErrNotFound if not exists.
func (s *PoolStore) Get(_ context.Context, asset string) (*domain.LiquidityPool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.data[asset]
	if !ok {
		return nil, storage.ErrNotFound
	}
	poolCopy := *p
	return &poolCopy, nil
}

// Save creates or replaces the pool aggregate for an asset.
func (s *PoolStore) Save(_ context.Context, p *domain.LiquidityPool) error {
	if p == nil || p.Asset == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	poolCopy := *p
	s.data[p.Asset] = &poolCopy
	return nil
}

var _ storage.PoolStore = (*PoolStore)(nil)

// PositionStore is an in-memory implementation of storage.PositionStore.
type PositionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.LiquidityPosition // keyed by asset|provider
}

// NewPositionStore creates a new in-memory position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{
		data: make(map[string]*domain.LiquidityPosition),
	}
}

func positionKey(asset, provider string) string {
	return fmt.Sprintf("%s|%s", asset, provider)
}

// Get retrieves a provider's position. Returns ErrNotFound if not exists.
func (s *PositionStore) Get(_ context.Context, asset, provider string) (*domain.LiquidityPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.data[positionKey(asset, provider)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	posCopy := *p
	return &posCopy, nil
}

// Save creates or replaces a position.
func (s *PositionStore) Save(_ context.Context, p *domain.LiquidityPosition) error {
	if p == nil || p.Asset == "" || p.Provider == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	posCopy := *p
	s.data[positionKey(p.Asset, p.Provider)] = &posCopy
	return nil
}

// Delete removes a position. Returns ErrNotFound if not exists.
func (s *PositionStore) Delete(_ context.Context, asset, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := positionKey(asset, provider)
	if _, ok := s.data[key]; !ok {
		return storage.ErrNotFound
	}
	delete(s.data, key)
	return nil
}

// GetByAsset retrieves all positions for an asset, ordered by provider.
func (s *PositionStore) GetByAsset(_ context.Context, asset string) ([]*domain.LiquidityPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.LiquidityPosition
	for _, p := range s.data {
		if p.Asset == asset {
			posCopy := *p
			result = append(result, &posCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Provider < result[j].Provider
	})

	return result, nil
}

var _ storage.PositionStore = (*PositionStore)(nil)
