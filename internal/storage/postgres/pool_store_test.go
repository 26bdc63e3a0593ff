package postgres

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"grovevault-engine/internal/domain"
	"grovevault-engine/internal/storage"
)

func testPool(asset string) *domain.LiquidityPool {
	return &domain.LiquidityPool{
		Asset:                  asset,
		TotalLiquidityUSDC:     decimal.NewFromInt(10000),
		AvailableLiquidityUSDC: decimal.NewFromInt(9000),
		TotalLPTokens:          decimal.NewFromInt(10000),
		CurrentAPY:             decimal.NewFromFloat(8.5),
		UpdatedAt:              1000,
	}
}

func TestPoolStore_SaveAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPoolStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testPool("GROVE-A")))

	got, err := store.Get(ctx, "GROVE-A")
	require.NoError(t, err)
	require.Equal(t, "GROVE-A", got.Asset)
	require.True(t, got.TotalLiquidityUSDC.Equal(decimal.NewFromInt(10000)))
	require.True(t, got.AvailableLiquidityUSDC.Equal(decimal.NewFromInt(9000)))
	require.True(t, got.CurrentAPY.Equal(decimal.NewFromFloat(8.5)))
	require.Equal(t, int64(1000), got.UpdatedAt)
}

func TestPoolStore_SaveOverwrites(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPoolStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testPool("GROVE-A")))

	updated := testPool("GROVE-A")
	updated.TotalLiquidityUSDC = decimal.NewFromInt(12000)
	updated.UpdatedAt = 2000
	require.NoError(t, store.Save(ctx, updated))

	got, err := store.Get(ctx, "GROVE-A")
	require.NoError(t, err)
	require.True(t, got.TotalLiquidityUSDC.Equal(decimal.NewFromInt(12000)))
	require.Equal(t, int64(2000), got.UpdatedAt)
}

func TestPoolStore_GetNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPoolStore(pool)

	_, err := store.Get(context.Background(), "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func testPosition(asset, provider string) *domain.LiquidityPosition {
	return &domain.LiquidityPosition{
		Asset:             asset,
		Provider:          provider,
		LPTokenBalance:    decimal.NewFromInt(500),
		InitialInvestment: decimal.NewFromInt(500),
		ProvidedAt:        1000,
		UpdatedAt:         1000,
	}
}

func TestPositionStore_SaveGetDelete(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPositionStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testPosition("GROVE-A", "provider-1")))

	got, err := store.Get(ctx, "GROVE-A", "provider-1")
	require.NoError(t, err)
	require.True(t, got.LPTokenBalance.Equal(decimal.NewFromInt(500)))

	require.NoError(t, store.Delete(ctx, "GROVE-A", "provider-1"))

	_, err = store.Get(ctx, "GROVE-A", "provider-1")
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.ErrorIs(t, store.Delete(ctx, "GROVE-A", "provider-1"), storage.ErrNotFound)
}

func TestPositionStore_SaveUpserts(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPositionStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testPosition("GROVE-A", "provider-1")))

	updated := testPosition("GROVE-A", "provider-1")
	updated.LPTokenBalance = decimal.NewFromInt(750)
	updated.UpdatedAt = 2000
	require.NoError(t, store.Save(ctx, updated))

	got, err := store.Get(ctx, "GROVE-A", "provider-1")
	require.NoError(t, err)
	require.True(t, got.LPTokenBalance.Equal(decimal.NewFromInt(750)))
	require.Equal(t, int64(2000), got.UpdatedAt)
}

func TestPositionStore_GetByAsset(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPositionStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testPosition("GROVE-A", "provider-2")))
	require.NoError(t, store.Save(ctx, testPosition("GROVE-A", "provider-1")))
	require.NoError(t, store.Save(ctx, testPosition("GROVE-B", "provider-3")))

	got, err := store.GetByAsset(ctx, "GROVE-A")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "provider-1", got[0].Provider)
	require.Equal(t, "provider-2", got[1].Provider)
}
