// Package engine is the facade over revenue distribution, pool liquidity,
// and loan accounting. It owns the durable-record, cache-invalidation, and
// event-publishing choreography around each operation.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"grovevault-engine/internal/assetmover"
	"grovevault-engine/internal/cache"
	"grovevault-engine/internal/distribution"
	"grovevault-engine/internal/domain"
	kafkaevents "grovevault-engine/internal/events/kafka"
	"grovevault-engine/internal/lending"
	"grovevault-engine/internal/liquidity"
	"grovevault-engine/internal/share"
	"grovevault-engine/internal/storage"
)

// EventPublisher publishes engine lifecycle events. Satisfied by the Kafka
// publisher; nil disables publishing.
type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, event any) error
}

// AddressValidator checks a wallet address before funds move toward it.
type AddressValidator func(address string) error

// Engine wires the accounting cores to storage, cache, and events.
type Engine struct {
	processor     *distribution.Processor
	mover         assetmover.Mover
	liquidity     *liquidity.Manager
	lending       *lending.Manager
	distributions storage.DistributionStore
	audit         storage.TransferAuditStore
	cache         cache.ResultCache
	events        EventPublisher
	validateAddr  AddressValidator
	logger        *log.Logger
	now           func() time.Time
	newID         func() string
}

// Options configures an Engine. Processor, Mover, Liquidity, Lending, and
// Distributions are required; the rest degrade gracefully when nil.
type Options struct {
	Processor     *distribution.Processor
	Mover         assetmover.Mover
	Liquidity     *liquidity.Manager
	Lending       *lending.Manager
	Distributions storage.DistributionStore
	Audit         storage.TransferAuditStore
	Cache         cache.ResultCache
	Events        EventPublisher
	ValidateAddr  AddressValidator
	Logger        *log.Logger
	Now           func() time.Time
}

// New creates an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Processor == nil || opts.Mover == nil || opts.Liquidity == nil ||
		opts.Lending == nil || opts.Distributions == nil {
		return nil, fmt.Errorf("%w: processor, mover, managers and distribution store are required", domain.ErrInvalidArgument)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[engine] ", log.LstdFlags)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		processor:     opts.Processor,
		mover:         opts.Mover,
		liquidity:     opts.Liquidity,
		lending:       opts.Lending,
		distributions: opts.Distributions,
		audit:         opts.Audit,
		cache:         opts.Cache,
		events:        opts.Events,
		validateAddr:  opts.ValidateAddr,
		logger:        logger,
		now:           now,
		newID:         uuid.NewString,
	}, nil
}

// DistributeRequest describes one harvest revenue distribution.
type DistributeRequest struct {
	// DistributionID is the caller-supplied run identifier. Empty generates
	// a fresh one; an ID that is already recorded rejects the run before
	// any funds move.
	DistributionID string
	Event          *domain.RevenueEvent
	FarmerAddress  string
	Holders        []domain.Holder
	TotalSupply    decimal.Decimal
	BatchSize      int // 0 uses the default batch size
}

// DistributeRevenue splits a harvest's revenue 30/70 between the farmer and
// token holders, pays the farmer, runs the holder payouts in batches, and
// records the result durably before reporting it. Per-holder failures are
// contained in the result; the farmer payout failing aborts the run before
// any holder transfer. Re-submitting an already recorded DistributionID is
// rejected up front, before the farmer payout.
func (e *Engine) DistributeRevenue(ctx context.Context, req *DistributeRequest) (*domain.DistributionResult, error) {
	if req == nil || req.Event == nil {
		return nil, fmt.Errorf("%w: revenue event is required", domain.ErrInvalidArgument)
	}
	if req.Event.GroveID == "" || req.Event.HarvestID == "" {
		return nil, fmt.Errorf("%w: grove and harvest ids are required", domain.ErrInvalidArgument)
	}
	if req.FarmerAddress == "" {
		return nil, fmt.Errorf("%w: farmer address is required", domain.ErrInvalidArgument)
	}
	if e.validateAddr != nil {
		if err := e.validateAddr(req.FarmerAddress); err != nil {
			return nil, err
		}
		for _, h := range req.Holders {
			if err := e.validateAddr(h.Address); err != nil {
				return nil, err
			}
		}
	}

	farmerShare, err := share.FarmerShare(req.Event.TotalRevenue)
	if err != nil {
		return nil, err
	}
	entitlements, err := share.Entitlements(req.Event.TotalRevenue, req.Holders, req.TotalSupply)
	if err != nil {
		return nil, err
	}

	distributionID := req.DistributionID
	if distributionID == "" {
		distributionID = e.newID()
	} else if _, err := e.distributions.GetByID(ctx, distributionID); err == nil {
		return nil, fmt.Errorf("distribution %s already recorded: %w", distributionID, storage.ErrDuplicateKey)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("check distribution %s: %w", distributionID, err)
	}

	if farmerShare.IsPositive() {
		_, err := e.mover.Transfer(ctx, &assetmover.TransferRequest{
			Source:         assetmover.SourceTreasury,
			ToAddress:      req.FarmerAddress,
			Amount:         farmerShare,
			AssetKind:      "USDC",
			IdempotencyKey: fmt.Sprintf("%s:farmer", distributionID),
		})
		if err != nil {
			return nil, fmt.Errorf("%w: farmer payout: %v", domain.ErrTransferFailed, err)
		}
	}

	batchSize := req.BatchSize
	if batchSize == 0 {
		batchSize = distribution.DefaultBatchSize
	}
	result, err := e.processor.Run(ctx, distributionID, entitlements, batchSize)
	if err != nil {
		return nil, err
	}
	result.GroveID = req.Event.GroveID
	result.HarvestID = req.Event.HarvestID

	if err := e.distributions.Insert(ctx, result); err != nil {
		return nil, fmt.Errorf("record distribution %s: %w", distributionID, err)
	}

	if e.audit != nil {
		if err := e.audit.InsertResult(ctx, result); err != nil {
			e.logger.Printf("audit insert for %s failed: %v", distributionID, err)
		}
	}
	e.publish(ctx, kafkaevents.TopicDistributionCompleted, distributionID, &kafkaevents.DistributionCompletedEvent{
		DistributionID: result.DistributionID,
		GroveID:        result.GroveID,
		HarvestID:      result.HarvestID,
		TotalHolders:   result.TotalHolders,
		Succeeded:      result.SuccessCount(),
		Failed:         result.FailureCount(),
		CompletedAt:    result.CompletedAt,
	})
	e.invalidate(ctx, cache.DistributionKey(distributionID))

	return result, nil
}

// Distribution returns a recorded run result, memoized because results are
// immutable once recorded.
func (e *Engine) Distribution(ctx context.Context, distributionID string) (*domain.DistributionResult, error) {
	if distributionID == "" {
		return nil, fmt.Errorf("%w: distribution id is required", domain.ErrInvalidArgument)
	}

	key := cache.DistributionKey(distributionID)
	var result domain.DistributionResult
	if e.cached(ctx, key, &result) {
		return &result, nil
	}

	stored, err := e.distributions.GetByID(ctx, distributionID)
	if err != nil {
		return nil, err
	}
	e.memoize(ctx, key, stored, 0)
	return stored, nil
}

// GroveDistributions returns all recorded runs for a grove, newest first.
func (e *Engine) GroveDistributions(ctx context.Context, groveID string) ([]*domain.DistributionResult, error) {
	if groveID == "" {
		return nil, fmt.Errorf("%w: grove id is required", domain.ErrInvalidArgument)
	}
	return e.distributions.GetByGrove(ctx, groveID)
}

// ProvideLiquidity deposits USDC into an asset's pool.
func (e *Engine) ProvideLiquidity(ctx context.Context, asset, provider string, usdcAmount decimal.Decimal) (*liquidity.ProvideResult, error) {
	if e.validateAddr != nil {
		if err := e.validateAddr(provider); err != nil {
			return nil, err
		}
	}

	res, err := e.liquidity.Provide(ctx, asset, provider, usdcAmount)
	if err != nil {
		return nil, err
	}

	e.invalidate(ctx, cache.PoolStatsKey(asset))
	e.publish(ctx, kafkaevents.TopicPoolEvents, asset, &kafkaevents.PoolEvent{
		Asset:     asset,
		Provider:  provider,
		Kind:      "deposit",
		AmountUSD: usdcAmount.String(),
		Timestamp: e.now().UnixMilli(),
	})
	return res, nil
}

// WithdrawLiquidity burns LP tokens for the provider's USDC.
func (e *Engine) WithdrawLiquidity(ctx context.Context, asset, provider string, lpAmount decimal.Decimal) (*liquidity.WithdrawResult, error) {
	res, err := e.liquidity.Withdraw(ctx, asset, provider, lpAmount)
	if err != nil {
		return nil, err
	}

	e.invalidate(ctx, cache.PoolStatsKey(asset))
	e.publish(ctx, kafkaevents.TopicPoolEvents, asset, &kafkaevents.PoolEvent{
		Asset:     asset,
		Provider:  provider,
		Kind:      "withdrawal",
		AmountUSD: res.USDCReturned.String(),
		Timestamp: e.now().UnixMilli(),
	})
	return res, nil
}

// PoolStats returns the current pool aggregate, memoized with a short TTL.
func (e *Engine) PoolStats(ctx context.Context, asset string) (*domain.LiquidityPool, error) {
	if asset == "" {
		return nil, fmt.Errorf("%w: asset is required", domain.ErrInvalidArgument)
	}

	key := cache.PoolStatsKey(asset)
	var pool domain.LiquidityPool
	if e.cached(ctx, key, &pool) {
		return &pool, nil
	}

	stats, err := e.liquidity.Stats(ctx, asset)
	if err != nil {
		return nil, err
	}
	e.memoize(ctx, key, stats, 0)
	return stats, nil
}

// ProviderPosition returns a provider's position and live pool share.
func (e *Engine) ProviderPosition(ctx context.Context, asset, provider string) (*domain.LiquidityPosition, decimal.Decimal, error) {
	return e.liquidity.Position(ctx, asset, provider)
}

// TakeLoan originates a loan against grove token collateral.
func (e *Engine) TakeLoan(ctx context.Context, req *lending.LoanRequest) (*domain.Loan, error) {
	if e.validateAddr != nil && req != nil {
		if err := e.validateAddr(req.BorrowerAddress); err != nil {
			return nil, err
		}
	}

	loan, err := e.lending.Originate(ctx, req)
	if err != nil {
		return nil, err
	}

	e.invalidate(ctx, cache.PoolStatsKey(loan.Asset))
	e.publishLoanEvent(ctx, loan)
	return loan, nil
}

// RepayLoan closes an active loan with full repayment.
func (e *Engine) RepayLoan(ctx context.Context, loanID string) (*domain.Loan, error) {
	loan, err := e.lending.Repay(ctx, loanID)
	if err != nil {
		return nil, err
	}

	e.invalidate(ctx, cache.PoolStatsKey(loan.Asset))
	e.invalidate(ctx, cache.LoanHealthKey(loanID))
	e.publishLoanEvent(ctx, loan)
	return loan, nil
}

// LiquidateLoan liquidates an underwater loan.
func (e *Engine) LiquidateLoan(ctx context.Context, loanID string) (*domain.Loan, error) {
	loan, err := e.lending.Liquidate(ctx, loanID)
	if err != nil {
		return nil, err
	}

	e.invalidate(ctx, cache.PoolStatsKey(loan.Asset))
	e.invalidate(ctx, cache.LoanHealthKey(loanID))
	e.publishLoanEvent(ctx, loan)
	return loan, nil
}

// LoanHealth evaluates a loan's health factor, memoized with a short TTL so
// dashboards polling many loans do not hammer the price feed.
func (e *Engine) LoanHealth(ctx context.Context, loanID string) (*lending.HealthReport, error) {
	if loanID == "" {
		return nil, fmt.Errorf("%w: loan id is required", domain.ErrInvalidArgument)
	}

	key := cache.LoanHealthKey(loanID)
	var report lending.HealthReport
	if e.cached(ctx, key, &report) {
		return &report, nil
	}

	fresh, err := e.lending.Health(ctx, loanID)
	if err != nil {
		return nil, err
	}
	e.memoize(ctx, key, fresh, 10*time.Second)
	return fresh, nil
}

// BorrowerLoans returns all loans for a borrower address.
func (e *Engine) BorrowerLoans(ctx context.Context, borrower string) ([]*domain.Loan, error) {
	return e.lending.Loans(ctx, borrower)
}

// SweepLiquidations liquidates every active loan whose health factor is
// below 1 and invalidates the affected cache entries.
func (e *Engine) SweepLiquidations(ctx context.Context) ([]string, error) {
	liquidated, err := e.lending.SweepLiquidations(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range liquidated {
		e.invalidate(ctx, cache.LoanHealthKey(id))
	}
	return liquidated, nil
}

func (e *Engine) publishLoanEvent(ctx context.Context, loan *domain.Loan) {
	ts := loan.ClosedAt
	if ts == 0 {
		ts = loan.CreatedAt
	}
	e.publish(ctx, kafkaevents.TopicLoanEvents, loan.LoanID, &kafkaevents.LoanEvent{
		LoanID:          loan.LoanID,
		BorrowerAddress: loan.BorrowerAddress,
		Asset:           loan.Asset,
		Status:          loan.Status,
		Timestamp:       ts,
	})
}

func (e *Engine) publish(ctx context.Context, topic, key string, event any) {
	if e.events == nil {
		return
	}
	if err := e.events.Publish(ctx, topic, key, event); err != nil {
		e.logger.Printf("publish %s event: %v", topic, err)
	}
}

func (e *Engine) cached(ctx context.Context, key string, out any) bool {
	if e.cache == nil {
		return false
	}
	raw, ok := e.cache.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		e.cache.Invalidate(ctx, key)
		return false
	}
	return true
}

func (e *Engine) memoize(ctx context.Context, key string, value any, ttl time.Duration) {
	if e.cache == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	e.cache.Set(ctx, key, raw, ttl)
}

func (e *Engine) invalidate(ctx context.Context, key string) {
	if e.cache != nil {
		e.cache.Invalidate(ctx, key)
	}
}
