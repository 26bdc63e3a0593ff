package liquidity

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"grovevault-engine/internal/assetmover"
	"grovevault-engine/internal/domain"
	"grovevault-engine/internal/observability"
	"grovevault-engine/internal/storage"
)

// ProvideResult reports the outcome of a liquidity deposit.
type ProvideResult struct {
	LPTokensMinted decimal.Decimal
	PoolShare      decimal.Decimal // provider's pool percentage after the deposit
	Pool           *domain.LiquidityPool
}

// WithdrawResult reports the outcome of a liquidity withdrawal.
type WithdrawResult struct {
	USDCReturned decimal.Decimal
	RemainingLP  decimal.Decimal
	Pool         *domain.LiquidityPool
}

// Manager serializes all mutations of a pool aggregate behind a per-asset
// lock, so concurrent deposits and withdrawals never interleave their
// read-modify-write cycles.
type Manager struct {
	pools     storage.PoolStore
	positions storage.PositionStore
	snapshots storage.PoolSnapshotStore
	mover     assetmover.Mover
	logger    *log.Logger
	now       func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// ManagerOptions configures a Manager. Pools and Positions are required;
// Snapshots and Mover are optional.
type ManagerOptions struct {
	Pools     storage.PoolStore
	Positions storage.PositionStore
	Snapshots storage.PoolSnapshotStore
	Mover     assetmover.Mover
	Logger    *log.Logger
	Now       func() time.Time
}

// NewManager creates a pool manager.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Pools == nil || opts.Positions == nil {
		return nil, fmt.Errorf("%w: pool and position stores are required", domain.ErrInvalidArgument)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[liquidity] ", log.LstdFlags)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		pools:     opts.Pools,
		positions: opts.Positions,
		snapshots: opts.Snapshots,
		mover:     opts.Mover,
		logger:    logger,
		now:       now,
		locks:     make(map[string]*sync.Mutex),
	}, nil
}

func (m *Manager) lockFor(asset string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[asset]
	if !ok {
		l = &sync.Mutex{}
		m.locks[asset] = l
	}
	return l
}

// Provide deposits USDC into an asset's pool and mints LP tokens for the
// provider. The first deposit bootstraps the pool 1:1.
func (m *Manager) Provide(ctx context.Context, asset, provider string, usdcAmount decimal.Decimal) (*ProvideResult, error) {
	if asset == "" || provider == "" {
		return nil, fmt.Errorf("%w: asset and provider are required", domain.ErrInvalidArgument)
	}

	lock := m.lockFor(asset)
	lock.Lock()
	defer lock.Unlock()

	pool, err := m.pools.Get(ctx, asset)
	if err != nil {
		if !storage.IsNotFound(err) {
			return nil, fmt.Errorf("load pool %s: %w", asset, err)
		}
		pool = &domain.LiquidityPool{Asset: asset}
	}

	minted, err := LPTokensToMint(usdcAmount, pool.TotalLiquidityUSDC, pool.TotalLPTokens)
	if err != nil {
		observability.RecordRejectedPoolOp("invalid_deposit")
		return nil, err
	}

	nowMs := m.now().UnixMilli()
	pool.TotalLiquidityUSDC = pool.TotalLiquidityUSDC.Add(usdcAmount)
	pool.AvailableLiquidityUSDC = pool.AvailableLiquidityUSDC.Add(usdcAmount)
	pool.TotalLPTokens = pool.TotalLPTokens.Add(minted)
	pool.UpdatedAt = nowMs

	pos, err := m.positions.Get(ctx, asset, provider)
	if err != nil {
		if !storage.IsNotFound(err) {
			return nil, fmt.Errorf("load position %s/%s: %w", asset, provider, err)
		}
		pos = &domain.LiquidityPosition{Asset: asset, Provider: provider, ProvidedAt: nowMs}
	}
	pos.LPTokenBalance = pos.LPTokenBalance.Add(minted)
	pos.InitialInvestment = pos.InitialInvestment.Add(usdcAmount)
	pos.UpdatedAt = nowMs

	if err := m.pools.Save(ctx, pool); err != nil {
		return nil, fmt.Errorf("save pool %s: %w", asset, err)
	}
	if err := m.positions.Save(ctx, pos); err != nil {
		return nil, fmt.Errorf("save position %s/%s: %w", asset, provider, err)
	}
	m.snapshot(ctx, pool, nowMs)

	share, _ := PoolSharePercent(pos.LPTokenBalance, pool.TotalLPTokens)

	observability.RecordPoolDeposit(asset)
	observability.UpdatePoolGauges(asset, pool.AvailableLiquidityUSDC.InexactFloat64(), pool.TotalLPTokens.InexactFloat64())
	m.logger.Printf("deposit settled: asset=%s provider=%s usdc=%s lp_minted=%s share=%s%%",
		asset, provider, usdcAmount, minted, share.StringFixed(4))

	poolCopy := *pool
	return &ProvideResult{LPTokensMinted: minted, PoolShare: share, Pool: &poolCopy}, nil
}

// Withdraw burns LP tokens and pays the provider their proportional USDC.
// Fails with ErrInsufficientLiquidity when the provider's balance or the
// pool's unlent liquidity cannot cover the payout; no state changes on
// failure.
func (m *Manager) Withdraw(ctx context.Context, asset, provider string, lpAmount decimal.Decimal) (*WithdrawResult, error) {
	if asset == "" || provider == "" {
		return nil, fmt.Errorf("%w: asset and provider are required", domain.ErrInvalidArgument)
	}

	lock := m.lockFor(asset)
	lock.Lock()
	defer lock.Unlock()

	pool, err := m.pools.Get(ctx, asset)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, domain.ErrPoolEmpty
		}
		return nil, fmt.Errorf("load pool %s: %w", asset, err)
	}

	pos, err := m.positions.Get(ctx, asset, provider)
	if err != nil {
		if storage.IsNotFound(err) {
			observability.RecordRejectedPoolOp("no_position")
			return nil, fmt.Errorf("%w: provider %s holds no LP tokens for %s", domain.ErrInsufficientLiquidity, provider, asset)
		}
		return nil, fmt.Errorf("load position %s/%s: %w", asset, provider, err)
	}

	if !lpAmount.IsPositive() {
		return nil, fmt.Errorf("%w: lp amount must be positive, got %s", domain.ErrInvalidArgument, lpAmount)
	}
	if lpAmount.GreaterThan(pos.LPTokenBalance) {
		observability.RecordRejectedPoolOp("lp_balance")
		return nil, fmt.Errorf("%w: burn %s exceeds balance %s", domain.ErrInsufficientLiquidity, lpAmount, pos.LPTokenBalance)
	}

	payout, err := USDCFromLPTokens(lpAmount, pool.TotalLiquidityUSDC, pool.TotalLPTokens)
	if err != nil {
		return nil, err
	}
	if payout.GreaterThan(pool.AvailableLiquidityUSDC) {
		observability.RecordRejectedPoolOp("pool_liquidity")
		return nil, fmt.Errorf("%w: payout %s exceeds available %s", domain.ErrInsufficientLiquidity, payout, pool.AvailableLiquidityUSDC)
	}

	nowMs := m.now().UnixMilli()
	if m.mover != nil {
		receipt, err := m.mover.Transfer(ctx, &assetmover.TransferRequest{
			Source:         assetmover.SourcePool,
			ToAddress:      provider,
			Amount:         payout,
			AssetKind:      "USDC",
			IdempotencyKey: fmt.Sprintf("withdraw:%s:%s:%d", asset, provider, nowMs),
		})
		if err != nil {
			return nil, fmt.Errorf("%w: payout to %s: %v", domain.ErrTransferFailed, provider, err)
		}
		m.logger.Printf("withdrawal transfer settled: asset=%s provider=%s ref=%s", asset, provider, receipt.TransactionRef)
	}

	pool.TotalLiquidityUSDC = pool.TotalLiquidityUSDC.Sub(payout)
	pool.AvailableLiquidityUSDC = pool.AvailableLiquidityUSDC.Sub(payout)
	pool.TotalLPTokens = pool.TotalLPTokens.Sub(lpAmount)
	pool.UpdatedAt = nowMs

	pos.LPTokenBalance = pos.LPTokenBalance.Sub(lpAmount)
	pos.UpdatedAt = nowMs

	if pos.LPTokenBalance.IsZero() {
		if err := m.positions.Delete(ctx, asset, provider); err != nil {
			return nil, fmt.Errorf("delete position %s/%s: %w", asset, provider, err)
		}
	} else {
		if err := m.positions.Save(ctx, pos); err != nil {
			return nil, fmt.Errorf("save position %s/%s: %w", asset, provider, err)
		}
	}
	if err := m.pools.Save(ctx, pool); err != nil {
		return nil, fmt.Errorf("save pool %s: %w", asset, err)
	}
	m.snapshot(ctx, pool, nowMs)

	observability.RecordPoolWithdrawal(asset)
	observability.UpdatePoolGauges(asset, pool.AvailableLiquidityUSDC.InexactFloat64(), pool.TotalLPTokens.InexactFloat64())
	m.logger.Printf("withdrawal settled: asset=%s provider=%s lp_burned=%s usdc=%s", asset, provider, lpAmount, payout)

	poolCopy := *pool
	return &WithdrawResult{USDCReturned: payout, RemainingLP: pos.LPTokenBalance, Pool: &poolCopy}, nil
}

// LockLiquidity reserves unlent pool liquidity for a loan principal.
// Called by the lending manager under its own loan bookkeeping.
func (m *Manager) LockLiquidity(ctx context.Context, asset string, amount decimal.Decimal) error {
	return m.adjustAvailable(ctx, asset, amount.Neg())
}

// ReleaseLiquidity returns loan principal (plus any premium) to the pool.
// The premium grows TotalLiquidityUSDC, which is how providers earn yield.
func (m *Manager) ReleaseLiquidity(ctx context.Context, asset string, principal, premium decimal.Decimal) error {
	lock := m.lockFor(asset)
	lock.Lock()
	defer lock.Unlock()

	pool, err := m.pools.Get(ctx, asset)
	if err != nil {
		return fmt.Errorf("load pool %s: %w", asset, err)
	}

	nowMs := m.now().UnixMilli()
	pool.AvailableLiquidityUSDC = pool.AvailableLiquidityUSDC.Add(principal).Add(premium)
	pool.TotalLiquidityUSDC = pool.TotalLiquidityUSDC.Add(premium)
	pool.UpdatedAt = nowMs

	if err := m.pools.Save(ctx, pool); err != nil {
		return fmt.Errorf("save pool %s: %w", asset, err)
	}
	m.snapshot(ctx, pool, nowMs)
	observability.UpdatePoolGauges(asset, pool.AvailableLiquidityUSDC.InexactFloat64(), pool.TotalLPTokens.InexactFloat64())
	return nil
}

func (m *Manager) adjustAvailable(ctx context.Context, asset string, delta decimal.Decimal) error {
	lock := m.lockFor(asset)
	lock.Lock()
	defer lock.Unlock()

	pool, err := m.pools.Get(ctx, asset)
	if err != nil {
		if storage.IsNotFound(err) {
			return domain.ErrPoolEmpty
		}
		return fmt.Errorf("load pool %s: %w", asset, err)
	}

	next := pool.AvailableLiquidityUSDC.Add(delta)
	if next.IsNegative() {
		observability.RecordRejectedPoolOp("pool_liquidity")
		return fmt.Errorf("%w: need %s, available %s", domain.ErrInsufficientLiquidity, delta.Neg(), pool.AvailableLiquidityUSDC)
	}

	nowMs := m.now().UnixMilli()
	pool.AvailableLiquidityUSDC = next
	pool.UpdatedAt = nowMs

	if err := m.pools.Save(ctx, pool); err != nil {
		return fmt.Errorf("save pool %s: %w", asset, err)
	}
	m.snapshot(ctx, pool, nowMs)
	observability.UpdatePoolGauges(asset, pool.AvailableLiquidityUSDC.InexactFloat64(), pool.TotalLPTokens.InexactFloat64())
	return nil
}

// Stats returns the current pool aggregate for an asset.
func (m *Manager) Stats(ctx context.Context, asset string) (*domain.LiquidityPool, error) {
	pool, err := m.pools.Get(ctx, asset)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, domain.ErrPoolEmpty
		}
		return nil, fmt.Errorf("load pool %s: %w", asset, err)
	}
	return pool, nil
}

// Position returns a provider's position with their live pool share percent.
func (m *Manager) Position(ctx context.Context, asset, provider string) (*domain.LiquidityPosition, decimal.Decimal, error) {
	pos, err := m.positions.Get(ctx, asset, provider)
	if err != nil {
		return nil, decimal.Zero, err
	}
	pool, err := m.pools.Get(ctx, asset)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("load pool %s: %w", asset, err)
	}
	share, err := PoolSharePercent(pos.LPTokenBalance, pool.TotalLPTokens)
	if err != nil {
		return nil, decimal.Zero, err
	}
	return pos, share, nil
}

func (m *Manager) snapshot(ctx context.Context, pool *domain.LiquidityPool, nowMs int64) {
	if m.snapshots == nil {
		return
	}
	snap := &domain.PoolSnapshot{
		Asset:                  pool.Asset,
		TotalLiquidityUSDC:     pool.TotalLiquidityUSDC,
		AvailableLiquidityUSDC: pool.AvailableLiquidityUSDC,
		TotalLPTokens:          pool.TotalLPTokens,
		CurrentAPY:             pool.CurrentAPY,
		Timestamp:              nowMs,
	}
	if err := m.snapshots.Insert(ctx, snap); err != nil {
		m.logger.Printf("snapshot insert failed for %s: %v", pool.Asset, err)
	}
}
