package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"grovevault-engine/internal/domain"
	"grovevault-engine/internal/storage"
)

func samplePool(asset string) *domain.LiquidityPool {
	return &domain.LiquidityPool{
		Asset:                  asset,
		TotalLiquidityUSDC:     decimal.NewFromInt(10000),
		AvailableLiquidityUSDC: decimal.NewFromInt(8000),
		TotalLPTokens:          decimal.NewFromInt(10000),
		CurrentAPY:             decimal.RequireFromString("7.5"),
		UpdatedAt:              1000,
	}
}

func TestPoolStore_SaveAndGet(t *testing.T) {
	store := NewPoolStore()
	ctx := context.Background()

	if err := store.Save(ctx, samplePool("GROVE-A")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(ctx, "GROVE-A")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.AvailableLiquidityUSDC.Equal(decimal.NewFromInt(8000)) {
		t.Errorf("Available mismatch: %s", got.AvailableLiquidityUSDC)
	}

	// Save replaces.
	p := samplePool("GROVE-A")
	p.AvailableLiquidityUSDC = decimal.NewFromInt(5000)
	if err := store.Save(ctx, p); err != nil {
		t.Fatalf("Second save failed: %v", err)
	}
	got, _ = store.Get(ctx, "GROVE-A")
	if !got.AvailableLiquidityUSDC.Equal(decimal.NewFromInt(5000)) {
		t.Errorf("Expected replaced pool, got %s", got.AvailableLiquidityUSDC)
	}
}

func TestPoolStore_NotFound(t *testing.T) {
	store := NewPoolStore()

	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestPositionStore_Lifecycle(t *testing.T) {
	store := NewPositionStore()
	ctx := context.Background()

	pos := &domain.LiquidityPosition{
		Asset:             "GROVE-A",
		Provider:          "provider-1",
		LPTokenBalance:    decimal.NewFromInt(100),
		InitialInvestment: decimal.NewFromInt(100),
		ProvidedAt:        1000,
	}

	if err := store.Save(ctx, pos); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(ctx, "GROVE-A", "provider-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.LPTokenBalance.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Balance mismatch: %s", got.LPTokenBalance)
	}

	if err := store.Delete(ctx, "GROVE-A", "provider-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "GROVE-A", "provider-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if err := store.Delete(ctx, "GROVE-A", "provider-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for second delete, got %v", err)
	}
}

func TestPositionStore_GetByAsset(t *testing.T) {
	store := NewPositionStore()
	ctx := context.Background()

	for _, provider := range []string{"zeta", "alpha", "mid"} {
		pos := &domain.LiquidityPosition{
			Asset:          "GROVE-A",
			Provider:       provider,
			LPTokenBalance: decimal.NewFromInt(10),
		}
		if err := store.Save(ctx, pos); err != nil {
			t.Fatalf("Save %s failed: %v", provider, err)
		}
	}
	other := &domain.LiquidityPosition{Asset: "GROVE-B", Provider: "alpha", LPTokenBalance: decimal.NewFromInt(1)}
	if err := store.Save(ctx, other); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	positions, err := store.GetByAsset(ctx, "GROVE-A")
	if err != nil {
		t.Fatalf("GetByAsset failed: %v", err)
	}
	if len(positions) != 3 {
		t.Fatalf("Expected 3 positions, got %d", len(positions))
	}
	for i := 1; i < len(positions); i++ {
		if positions[i].Provider < positions[i-1].Provider {
			t.Error("Positions not ordered by provider")
		}
	}
}

func TestPoolSnapshotStore_InsertAndRange(t *testing.T) {
	store := NewPoolSnapshotStore()
	ctx := context.Background()

	for _, ts := range []int64{3000, 1000, 2000} {
		snap := &domain.PoolSnapshot{
			Asset:                  "GROVE-A",
			TotalLiquidityUSDC:     decimal.NewFromInt(1000),
			AvailableLiquidityUSDC: decimal.NewFromInt(1000),
			TotalLPTokens:          decimal.NewFromInt(1000),
			Timestamp:              ts,
		}
		if err := store.Insert(ctx, snap); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	snaps, err := store.GetByAsset(ctx, "GROVE-A", 1500, 3000)
	if err != nil {
		t.Fatalf("GetByAsset failed: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("Expected 2 snapshots in range, got %d", len(snaps))
	}
	if snaps[0].Timestamp != 2000 || snaps[1].Timestamp != 3000 {
		t.Errorf("Snapshots not ordered: %d, %d", snaps[0].Timestamp, snaps[1].Timestamp)
	}
}
