package pricefeed

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Static is a fixed-price Feed for development setups without an oracle.
type Static struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewStatic creates a static feed from an asset -> price map.
func NewStatic(prices map[string]decimal.Decimal) *Static {
	copied := make(map[string]decimal.Decimal, len(prices))
	for k, v := range prices {
		copied[k] = v
	}
	return &Static{prices: copied}
}

// Price returns the configured price for an asset.
func (s *Static) Price(_ context.Context, asset string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.prices[asset]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price for asset %s", asset)
	}
	return p, nil
}

// SetPrice updates the configured price for an asset.
func (s *Static) SetPrice(asset string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[asset] = price
}

var _ Feed = (*Static)(nil)
