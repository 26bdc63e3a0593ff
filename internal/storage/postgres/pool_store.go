package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"grovevault-engine/internal/domain"
	"grovevault-engine/internal/storage"
)

// PoolStore implements storage.PoolStore using PostgreSQL.
type PoolStore struct {
	pool *Pool
}

// NewPoolStore creates a new PoolStore.
func NewPoolStore(pool *Pool) *PoolStore {
	return &PoolStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PoolStore = (*PoolStore)(nil)

// Get retrieves the pool for an asset. Returns ErrNotFound if not exists.
func (s *PoolStore) Get(ctx context.Context, asset string) (*domain.LiquidityPool, error) {
	var p domain.LiquidityPool
	err := s.pool.QueryRow(ctx, `
		SELECT asset, total_liquidity_usdc, available_liquidity_usdc, total_lp_tokens, current_apy, updated_at
		FROM pools
		WHERE asset = $1
	`, asset).Scan(
		&p.Asset,
		&p.TotalLiquidityUSDC,
		&p.AvailableLiquidityUSDC,
		&p.TotalLPTokens,
		&p.CurrentAPY,
		&p.UpdatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get pool: %w", err)
	}
	return &p, nil
}

// Save creates or replaces the pool aggregate for an asset.
func (s *PoolStore) Save(ctx context.Context, p *domain.LiquidityPool) error {
	if p == nil || p.Asset == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO pools (asset, total_liquidity_usdc, available_liquidity_usdc, total_lp_tokens, current_apy, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (asset) DO UPDATE SET
			total_liquidity_usdc = EXCLUDED.total_liquidity_usdc,
			available_liquidity_usdc = EXCLUDED.available_liquidity_usdc,
			total_lp_tokens = EXCLUDED.total_lp_tokens,
			current_apy = EXCLUDED.current_apy,
			updated_at = EXCLUDED.updated_at
	`,
		p.Asset,
		p.TotalLiquidityUSDC,
		p.AvailableLiquidityUSDC,
		p.TotalLPTokens,
		p.CurrentAPY,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save pool: %w", err)
	}
	return nil
}

// PositionStore implements storage.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *Pool
}

// NewPositionStore creates a new PositionStore.
func NewPositionStore(pool *Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PositionStore = (*PositionStore)(nil)

// Get retrieves a provider's position. Returns ErrNotFound if not exists.
func (s *PositionStore) Get(ctx context.Context, asset, provider string) (*domain.LiquidityPosition, error) {
	var p domain.LiquidityPosition
	err := s.pool.QueryRow(ctx, `
		SELECT asset, provider, lp_token_balance, initial_investment, provided_at, updated_at
		FROM pool_positions
		WHERE asset = $1 AND provider = $2
	`, asset, provider).Scan(
		&p.Asset,
		&p.Provider,
		&p.LPTokenBalance,
		&p.InitialInvestment,
		&p.ProvidedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get position: %w", err)
	}
	return &p, nil
}

// Save creates or replaces a position.
func (s *PositionStore) Save(ctx context.Context, p *domain.LiquidityPosition) error {
	if p == nil || p.Asset == "" || p.Provider == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO pool_positions (asset, provider, lp_token_balance, initial_investment, provided_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (asset, provider) DO UPDATE SET
			lp_token_balance = EXCLUDED.lp_token_balance,
			initial_investment = EXCLUDED.initial_investment,
			updated_at = EXCLUDED.updated_at
	`,
		p.Asset,
		p.Provider,
		p.LPTokenBalance,
		p.InitialInvestment,
		p.ProvidedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	return nil
}

// Delete removes a position whose LP balance reached zero.
func (s *PositionStore) Delete(ctx context.Context, asset, provider string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM pool_positions WHERE asset = $1 AND provider = $2
	`, asset, provider)
	if err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetByAsset retrieves all positions for an asset, ordered by provider.
func (s *PositionStore) GetByAsset(ctx context.Context, asset string) ([]*domain.LiquidityPosition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT asset, provider, lp_token_balance, initial_investment, provided_at, updated_at
		FROM pool_positions
		WHERE asset = $1
		ORDER BY provider ASC
	`, asset)
	if err != nil {
		return nil, fmt.Errorf("get positions by asset: %w", err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

func scanPositions(rows pgx.Rows) ([]*domain.LiquidityPosition, error) {
	var positions []*domain.LiquidityPosition
	for rows.Next() {
		var p domain.LiquidityPosition
		err := rows.Scan(
			&p.Asset,
			&p.Provider,
			&p.LPTokenBalance,
			&p.InitialInvestment,
			&p.ProvidedAt,
			&p.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan position row: %w", err)
		}
		positions = append(positions, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate position rows: %w", err)
	}
	return positions, nil
}
