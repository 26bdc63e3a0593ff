package engine

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"grovevault-engine/internal/assetmover"
	"grovevault-engine/internal/assetmover/stub"
	"grovevault-engine/internal/cache"
	"grovevault-engine/internal/distribution"
	"grovevault-engine/internal/domain"
	"grovevault-engine/internal/lending"
	"grovevault-engine/internal/liquidity"
	"grovevault-engine/internal/pricefeed"
	"grovevault-engine/internal/storage"
	"grovevault-engine/internal/storage/memory"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type publishedEvent struct {
	Topic string
	Key   string
	Event any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(_ context.Context, topic, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Topic: topic, Key: key, Event: event})
	return nil
}

func (p *recordingPublisher) byTopic(topic string) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedEvent
	for _, e := range p.events {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	engine        *Engine
	mover         *stub.Mover
	distributions *memory.DistributionStore
	audit         *memory.TransferAuditStore
	pools         *memory.PoolStore
	prices        *pricefeed.Static
	publisher     *recordingPublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		mover:         stub.NewMover(),
		distributions: memory.NewDistributionStore(),
		audit:         memory.NewTransferAuditStore(),
		pools:         memory.NewPoolStore(),
		prices:        pricefeed.NewStatic(map[string]decimal.Decimal{"GROVE-A": dec("25")}),
		publisher:     &recordingPublisher{},
	}

	logger := log.New(io.Discard, "", 0)
	noSleep := func(context.Context, time.Duration) error { return nil }

	processor := distribution.NewProcessor(distribution.Options{
		Mover:  h.mover,
		Logger: logger,
		Sleep:  noSleep,
	})

	pool, err := liquidity.NewManager(liquidity.ManagerOptions{
		Pools:     h.pools,
		Positions: memory.NewPositionStore(),
		Snapshots: memory.NewPoolSnapshotStore(),
		Mover:     h.mover,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("liquidity.NewManager failed: %v", err)
	}

	loans, err := lending.NewManager(lending.ManagerOptions{
		Loans:  memory.NewLoanStore(),
		Pool:   pool,
		Prices: h.prices,
		Mover:  h.mover,
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("lending.NewManager failed: %v", err)
	}

	eng, err := New(Options{
		Processor:     processor,
		Mover:         h.mover,
		Liquidity:     pool,
		Lending:       loans,
		Distributions: h.distributions,
		Audit:         h.audit,
		Cache:         cache.NewMemoryCache(time.Minute),
		Events:        h.publisher,
		Logger:        logger,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	h.engine = eng
	return h
}

func distributeRequest() *DistributeRequest {
	return &DistributeRequest{
		Event: &domain.RevenueEvent{
			GroveID:      "grove-1",
			HarvestID:    "harvest-1",
			TotalRevenue: dec("1000"),
		},
		FarmerAddress: "farmer-1",
		Holders: []domain.Holder{
			{Address: "holder-1", TokenBalance: dec("600")},
			{Address: "holder-2", TokenBalance: dec("400")},
		},
		TotalSupply: dec("1000"),
	}
}

func TestEngine_DistributeRevenue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	result, err := h.engine.DistributeRevenue(ctx, distributeRequest())
	if err != nil {
		t.Fatalf("DistributeRevenue failed: %v", err)
	}
	if !result.Completed || result.TotalHolders != 2 {
		t.Errorf("Unexpected result: %+v", result)
	}
	if len(result.Successful) != 2 || len(result.Failed) != 0 {
		t.Fatalf("Expected 2 successes, got %d/%d", len(result.Successful), len(result.Failed))
	}
	if !result.Successful[0].ShareAmount.Equal(dec("420")) {
		t.Errorf("Expected holder-1 share 420, got %s", result.Successful[0].ShareAmount)
	}
	if !result.Successful[1].ShareAmount.Equal(dec("280")) {
		t.Errorf("Expected holder-2 share 280, got %s", result.Successful[1].ShareAmount)
	}

	// Farmer is paid first, from the treasury.
	calls := h.mover.Calls()
	if len(calls) != 3 {
		t.Fatalf("Expected 3 transfers, got %d", len(calls))
	}
	if calls[0].ToAddress != "farmer-1" || !calls[0].Amount.Equal(dec("300")) || calls[0].Source != assetmover.SourceTreasury {
		t.Errorf("Unexpected farmer payout: %+v", calls[0])
	}

	// The result is durably recorded and audited before reporting.
	stored, err := h.distributions.GetByID(ctx, result.DistributionID)
	if err != nil {
		t.Fatalf("Result not recorded: %v", err)
	}
	if stored.GroveID != "grove-1" || stored.HarvestID != "harvest-1" {
		t.Errorf("Stored result missing event ids: %+v", stored)
	}
	succ, _ := h.audit.Records(result.DistributionID)
	if len(succ) != 2 {
		t.Errorf("Expected 2 audit rows, got %d", len(succ))
	}

	events := h.publisher.byTopic("distribution_completed")
	if len(events) != 1 || events[0].Key != result.DistributionID {
		t.Errorf("Expected one completion event, got %+v", events)
	}
}

func TestEngine_DistributeRevenueCallerSuppliedID(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := distributeRequest()
	req.DistributionID = "harvest-1-run"

	result, err := h.engine.DistributeRevenue(ctx, req)
	if err != nil {
		t.Fatalf("DistributeRevenue failed: %v", err)
	}
	if result.DistributionID != "harvest-1-run" {
		t.Errorf("Expected caller-supplied id, got %s", result.DistributionID)
	}
	if _, err := h.distributions.GetByID(ctx, "harvest-1-run"); err != nil {
		t.Errorf("Result not recorded under supplied id: %v", err)
	}
}

func TestEngine_DistributeRevenueDuplicateRunRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := distributeRequest()
	req.DistributionID = "harvest-1-run"

	if _, err := h.engine.DistributeRevenue(ctx, req); err != nil {
		t.Fatalf("DistributeRevenue failed: %v", err)
	}

	before := len(h.mover.Calls())
	if _, err := h.engine.DistributeRevenue(ctx, req); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("Expected ErrDuplicateKey on re-run, got %v", err)
	}

	// The rejected re-run moves no funds, not even the farmer payout.
	if got := len(h.mover.Calls()); got != before {
		t.Errorf("Re-run moved funds: %d transfers before, %d after", before, got)
	}
}

func TestEngine_DistributeRevenueFarmerFailureAborts(t *testing.T) {
	h := newHarness(t)
	h.mover.AlwaysFail["farmer-1"] = true

	_, err := h.engine.DistributeRevenue(context.Background(), distributeRequest())
	if !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("Expected ErrTransferFailed, got %v", err)
	}

	// No holder transfer may happen after the farmer payout fails.
	if h.mover.Attempts("holder-1") != 0 || h.mover.Attempts("holder-2") != 0 {
		t.Error("Holder transfers ran after farmer payout failure")
	}
	if results, _ := h.distributions.GetByGrove(context.Background(), "grove-1"); len(results) != 0 {
		t.Errorf("Aborted run must not be recorded, got %d", len(results))
	}
}

func TestEngine_DistributeRevenuePartialFailureIsRecorded(t *testing.T) {
	h := newHarness(t)
	h.mover.AlwaysFail["holder-2"] = true
	ctx := context.Background()

	result, err := h.engine.DistributeRevenue(ctx, distributeRequest())
	if err != nil {
		t.Fatalf("DistributeRevenue failed: %v", err)
	}
	if !result.Completed || len(result.Successful) != 1 || len(result.Failed) != 1 {
		t.Fatalf("Expected contained partial failure, got %+v", result)
	}

	stored, err := h.distributions.GetByID(ctx, result.DistributionID)
	if err != nil {
		t.Fatalf("Result not recorded: %v", err)
	}
	if len(stored.Failed) != 1 || stored.Failed[0].Address != "holder-2" {
		t.Errorf("Failure record missing: %+v", stored.Failed)
	}
}

func TestEngine_DistributionReadThrough(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	result, err := h.engine.DistributeRevenue(ctx, distributeRequest())
	if err != nil {
		t.Fatalf("DistributeRevenue failed: %v", err)
	}

	got, err := h.engine.Distribution(ctx, result.DistributionID)
	if err != nil {
		t.Fatalf("Distribution failed: %v", err)
	}
	if got.DistributionID != result.DistributionID || len(got.Successful) != 2 {
		t.Errorf("Unexpected read result: %+v", got)
	}

	// Second read comes from cache and must match.
	again, err := h.engine.Distribution(ctx, result.DistributionID)
	if err != nil {
		t.Fatalf("Cached read failed: %v", err)
	}
	if again.CompletedAt != got.CompletedAt {
		t.Errorf("Cached result diverged: %d vs %d", again.CompletedAt, got.CompletedAt)
	}
}

func TestEngine_PoolStatsInvalidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.engine.ProvideLiquidity(ctx, "GROVE-A", "lp-1", dec("1000")); err != nil {
		t.Fatalf("ProvideLiquidity failed: %v", err)
	}

	stats, err := h.engine.PoolStats(ctx, "GROVE-A")
	if err != nil {
		t.Fatalf("PoolStats failed: %v", err)
	}
	if !stats.TotalLiquidityUSDC.Equal(dec("1000")) {
		t.Errorf("Expected 1000 total, got %s", stats.TotalLiquidityUSDC)
	}

	// A second deposit invalidates the memoized stats.
	if _, err := h.engine.ProvideLiquidity(ctx, "GROVE-A", "lp-2", dec("500")); err != nil {
		t.Fatalf("ProvideLiquidity failed: %v", err)
	}
	stats, err = h.engine.PoolStats(ctx, "GROVE-A")
	if err != nil {
		t.Fatalf("PoolStats failed: %v", err)
	}
	if !stats.TotalLiquidityUSDC.Equal(dec("1500")) {
		t.Errorf("Expected fresh stats 1500, got %s", stats.TotalLiquidityUSDC)
	}

	if events := h.publisher.byTopic("pool_events"); len(events) != 2 {
		t.Errorf("Expected 2 pool events, got %d", len(events))
	}
}

func TestEngine_LoanLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.engine.ProvideLiquidity(ctx, "GROVE-A", "lp-1", dec("10000")); err != nil {
		t.Fatalf("ProvideLiquidity failed: %v", err)
	}

	loan, err := h.engine.TakeLoan(ctx, &lending.LoanRequest{
		BorrowerAddress:   "borrower-1",
		Asset:             "GROVE-A",
		CollateralTokenID: "token-1",
		CollateralAmount:  dec("50"),
		LoanAmountUSDC:    dec("1000"),
	})
	if err != nil {
		t.Fatalf("TakeLoan failed: %v", err)
	}
	if loan.Status != domain.LoanStatusActive {
		t.Errorf("Expected active loan, got %s", loan.Status)
	}

	report, err := h.engine.LoanHealth(ctx, loan.LoanID)
	if err != nil {
		t.Fatalf("LoanHealth failed: %v", err)
	}
	if !report.HealthFactor.Equal(dec("1.125")) {
		t.Errorf("Expected factor 1.125, got %s", report.HealthFactor)
	}

	// Health is memoized: a price move within the TTL is not observed.
	h.prices.SetPrice("GROVE-A", dec("40"))
	report, err = h.engine.LoanHealth(ctx, loan.LoanID)
	if err != nil {
		t.Fatalf("LoanHealth failed: %v", err)
	}
	if !report.HealthFactor.Equal(dec("1.125")) {
		t.Errorf("Expected memoized factor 1.125, got %s", report.HealthFactor)
	}

	repaid, err := h.engine.RepayLoan(ctx, loan.LoanID)
	if err != nil {
		t.Fatalf("RepayLoan failed: %v", err)
	}
	if repaid.Status != domain.LoanStatusRepaid {
		t.Errorf("Expected repaid, got %s", repaid.Status)
	}

	events := h.publisher.byTopic("loan_events")
	if len(events) != 2 {
		t.Fatalf("Expected 2 loan events, got %d", len(events))
	}

	// Repayment invalidated the health cache; the closed loan reports its
	// terminal status.
	report, err = h.engine.LoanHealth(ctx, loan.LoanID)
	if err != nil {
		t.Fatalf("LoanHealth failed: %v", err)
	}
	if report.Status != domain.LoanStatusRepaid {
		t.Errorf("Expected repaid status, got %s", report.Status)
	}
}

func TestEngine_SweepLiquidations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.engine.ProvideLiquidity(ctx, "GROVE-A", "lp-1", dec("10000")); err != nil {
		t.Fatalf("ProvideLiquidity failed: %v", err)
	}
	loan, err := h.engine.TakeLoan(ctx, &lending.LoanRequest{
		BorrowerAddress:   "borrower-1",
		Asset:             "GROVE-A",
		CollateralTokenID: "token-1",
		CollateralAmount:  dec("50"),
		LoanAmountUSDC:    dec("1000"),
	})
	if err != nil {
		t.Fatalf("TakeLoan failed: %v", err)
	}

	h.prices.SetPrice("GROVE-A", dec("20"))

	liquidated, err := h.engine.SweepLiquidations(ctx)
	if err != nil {
		t.Fatalf("SweepLiquidations failed: %v", err)
	}
	if len(liquidated) != 1 || liquidated[0] != loan.LoanID {
		t.Errorf("Expected %s liquidated, got %v", loan.LoanID, liquidated)
	}
}

func TestEngine_AddressValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Re-create the engine with a validator that rejects everything.
	h2 := newHarness(t)
	h2.engine.validateAddr = func(address string) error {
		return domain.ErrInvalidArgument
	}
	if _, err := h2.engine.DistributeRevenue(ctx, distributeRequest()); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument from validator, got %v", err)
	}

	// Without a validator, plain identifiers pass through.
	if _, err := h.engine.DistributeRevenue(ctx, distributeRequest()); err != nil {
		t.Errorf("Expected success without validator, got %v", err)
	}
}
