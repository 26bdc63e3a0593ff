package lending

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"grovevault-engine/internal/addr"
	"grovevault-engine/internal/assetmover"
	"grovevault-engine/internal/domain"
	"grovevault-engine/internal/liquidity"
	"grovevault-engine/internal/observability"
	"grovevault-engine/internal/storage"
)

// PriceSource supplies the current market price of a grove asset in USDC.
type PriceSource interface {
	Price(ctx context.Context, asset string) (decimal.Decimal, error)
}

// LoanRequest describes a borrow against grove token collateral.
type LoanRequest struct {
	BorrowerAddress   string
	Asset             string
	CollateralTokenID string
	CollateralAmount  decimal.Decimal
	LoanAmountUSDC    decimal.Decimal
}

// HealthReport is the evaluated health of one loan at current prices.
type HealthReport struct {
	LoanID           string          `json:"loan_id"`
	HealthFactor     decimal.Decimal `json:"health_factor"`
	Band             string          `json:"band"`
	AssetPrice       decimal.Decimal `json:"asset_price"`
	LiquidationPrice decimal.Decimal `json:"liquidation_price"`
	Status           string          `json:"status"`
}

// Manager drives the loan lifecycle against the pool's liquidity:
// Originated -> Active on disbursement, Active -> Repaid on full repayment,
// Active -> Liquidated when the health factor drops below 1.
type Manager struct {
	loans  storage.LoanStore
	pool   *liquidity.Manager
	prices PriceSource
	mover  assetmover.Mover
	logger *log.Logger
	now    func() time.Time
	newID  func() string
}

// ManagerOptions configures a loan Manager. Loans, Pool and Prices are
// required; Mover is optional (principal and collateral movements are
// skipped without one, useful in tests).
type ManagerOptions struct {
	Loans  storage.LoanStore
	Pool   *liquidity.Manager
	Prices PriceSource
	Mover  assetmover.Mover
	Logger *log.Logger
	Now    func() time.Time
}

// NewManager creates a loan manager.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Loans == nil || opts.Pool == nil || opts.Prices == nil {
		return nil, fmt.Errorf("%w: loan store, pool manager and price source are required", domain.ErrInvalidArgument)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[lending] ", log.LstdFlags)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		loans:  opts.Loans,
		pool:   opts.Pool,
		prices: opts.Prices,
		mover:  opts.Mover,
		logger: logger,
		now:    now,
		newID:  uuid.NewString,
	}, nil
}

// Originate opens a loan: it checks collateral coverage at current prices,
// derives the escrow vault holding the pledged tokens, locks the principal
// in the pool, disburses it to the borrower, and activates the loan. If
// disbursement fails the locked liquidity is released and the loan record
// stays originated, never active.
func (m *Manager) Originate(ctx context.Context, req *LoanRequest) (*domain.Loan, error) {
	if req == nil || req.BorrowerAddress == "" || req.Asset == "" || req.CollateralTokenID == "" {
		return nil, fmt.Errorf("%w: borrower, asset and collateral token are required", domain.ErrInvalidArgument)
	}

	price, err := m.prices.Price(ctx, req.Asset)
	if err != nil {
		return nil, fmt.Errorf("fetch price for %s: %w", req.Asset, err)
	}

	required, err := CollateralRequired(req.LoanAmountUSDC, price)
	if err != nil {
		return nil, err
	}
	if req.CollateralAmount.LessThan(required) {
		return nil, fmt.Errorf("%w: need %s tokens at price %s, got %s",
			domain.ErrInsufficientCollateral, required, price, req.CollateralAmount)
	}

	repayment, err := RepaymentAmount(req.LoanAmountUSDC)
	if err != nil {
		return nil, err
	}
	liqPrice, err := LiquidationPrice(req.LoanAmountUSDC, req.CollateralAmount)
	if err != nil {
		return nil, err
	}
	vault, err := addr.DeriveVault(req.Asset, req.CollateralTokenID)
	if err != nil {
		return nil, fmt.Errorf("derive collateral vault: %w", err)
	}

	if err := m.pool.LockLiquidity(ctx, req.Asset, req.LoanAmountUSDC); err != nil {
		return nil, err
	}

	loan := &domain.Loan{
		LoanID:            m.newID(),
		BorrowerAddress:   req.BorrowerAddress,
		Asset:             req.Asset,
		CollateralTokenID: req.CollateralTokenID,
		CollateralVault:   vault,
		LoanAmountUSDC:    req.LoanAmountUSDC,
		CollateralAmount:  req.CollateralAmount,
		RepaymentAmount:   repayment,
		LiquidationPrice:  liqPrice,
		Status:            domain.LoanStatusOriginated,
		CreatedAt:         m.now().UnixMilli(),
	}
	if err := m.loans.Insert(ctx, loan); err != nil {
		if relErr := m.pool.ReleaseLiquidity(ctx, req.Asset, req.LoanAmountUSDC, decimal.Zero); relErr != nil {
			m.logger.Printf("release after insert failure: %v", relErr)
		}
		return nil, fmt.Errorf("insert loan: %w", err)
	}

	if m.mover != nil {
		_, err := m.mover.Transfer(ctx, &assetmover.TransferRequest{
			Source:         assetmover.SourcePool,
			ToAddress:      req.BorrowerAddress,
			Amount:         req.LoanAmountUSDC,
			AssetKind:      "USDC",
			IdempotencyKey: fmt.Sprintf("disburse:%s", loan.LoanID),
		})
		if err != nil {
			if relErr := m.pool.ReleaseLiquidity(ctx, req.Asset, req.LoanAmountUSDC, decimal.Zero); relErr != nil {
				m.logger.Printf("release after disburse failure: %v", relErr)
			}
			return nil, fmt.Errorf("%w: disburse loan %s: %v", domain.ErrTransferFailed, loan.LoanID, err)
		}
	}

	if err := m.loans.UpdateStatus(ctx, loan.LoanID, domain.LoanStatusActive, 0); err != nil {
		return nil, fmt.Errorf("activate loan %s: %w", loan.LoanID, err)
	}
	loan.Status = domain.LoanStatusActive

	observability.DefaultMetrics.LoansOriginated.Inc()
	m.logger.Printf("loan originated: id=%s borrower=%s asset=%s vault=%s principal=%s repayment=%s liq_price=%s",
		loan.LoanID, loan.BorrowerAddress, loan.Asset, loan.CollateralVault, loan.LoanAmountUSDC, loan.RepaymentAmount, loan.LiquidationPrice)
	return loan, nil
}

// Repay closes an active loan with full repayment. The premium over the
// principal accrues to the pool, and the collateral is returned to the
// borrower. Partial repayment does not exist in this model.
func (m *Manager) Repay(ctx context.Context, loanID string) (*domain.Loan, error) {
	loan, err := m.loans.GetByID(ctx, loanID)
	if err != nil {
		return nil, fmt.Errorf("load loan %s: %w", loanID, err)
	}
	if loan.Status != domain.LoanStatusActive {
		return nil, fmt.Errorf("%w: loan %s is %s", domain.ErrLoanNotActive, loanID, loan.Status)
	}

	// The terminal status is persisted before the pool is credited so a
	// retry after a store failure hits the ErrLoanNotActive guard instead
	// of releasing principal and premium a second time.
	closedAt := m.now().UnixMilli()
	if err := m.loans.UpdateStatus(ctx, loanID, domain.LoanStatusRepaid, closedAt); err != nil {
		return nil, fmt.Errorf("close loan %s: %w", loanID, err)
	}
	loan.Status = domain.LoanStatusRepaid
	loan.ClosedAt = closedAt

	premium := loan.RepaymentAmount.Sub(loan.LoanAmountUSDC)
	if err := m.pool.ReleaseLiquidity(ctx, loan.Asset, loan.LoanAmountUSDC, premium); err != nil {
		return nil, fmt.Errorf("credit pool for closed loan %s, needs operator attention: %w", loanID, err)
	}

	if m.mover != nil {
		_, err := m.mover.Transfer(ctx, &assetmover.TransferRequest{
			Source:         assetmover.SourcePool,
			ToAddress:      loan.BorrowerAddress,
			Amount:         loan.CollateralAmount,
			AssetKind:      loan.Asset,
			IdempotencyKey: fmt.Sprintf("collateral:%s", loan.LoanID),
		})
		if err != nil {
			m.logger.Printf("collateral return failed for %s, needs operator attention: %v", loanID, err)
		}
	}

	observability.DefaultMetrics.LoansRepaid.Inc()
	m.logger.Printf("loan repaid: id=%s repayment=%s premium=%s", loanID, loan.RepaymentAmount, premium)
	return loan, nil
}

// Liquidate seizes the collateral of an active loan whose health factor has
// dropped below 1 and restores the principal to the pool. Returns
// ErrLoanHealthy when the loan is still covered.
func (m *Manager) Liquidate(ctx context.Context, loanID string) (*domain.Loan, error) {
	loan, err := m.loans.GetByID(ctx, loanID)
	if err != nil {
		return nil, fmt.Errorf("load loan %s: %w", loanID, err)
	}
	if loan.Status != domain.LoanStatusActive {
		return nil, fmt.Errorf("%w: loan %s is %s", domain.ErrLoanNotActive, loanID, loan.Status)
	}

	price, err := m.prices.Price(ctx, loan.Asset)
	if err != nil {
		return nil, fmt.Errorf("fetch price for %s: %w", loan.Asset, err)
	}
	factor, err := HealthFactor(loan.CollateralAmount, price, loan.LoanAmountUSDC)
	if err != nil {
		return nil, err
	}
	if !Liquidatable(factor) {
		return nil, fmt.Errorf("%w: loan %s health factor %s at price %s",
			domain.ErrLoanHealthy, loanID, factor, price)
	}

	// Close first; a retried call cannot credit the pool twice.
	closedAt := m.now().UnixMilli()
	if err := m.loans.UpdateStatus(ctx, loanID, domain.LoanStatusLiquidated, closedAt); err != nil {
		return nil, fmt.Errorf("close loan %s: %w", loanID, err)
	}
	loan.Status = domain.LoanStatusLiquidated
	loan.ClosedAt = closedAt

	if err := m.pool.ReleaseLiquidity(ctx, loan.Asset, loan.LoanAmountUSDC, decimal.Zero); err != nil {
		return nil, fmt.Errorf("credit pool for closed loan %s, needs operator attention: %w", loanID, err)
	}

	observability.DefaultMetrics.LoansLiquidated.Inc()
	m.logger.Printf("loan liquidated: id=%s factor=%s price=%s liq_price=%s",
		loanID, factor, price, loan.LiquidationPrice)
	return loan, nil
}

// Health evaluates a loan's health factor at current prices. Closed loans
// report their terminal status with a zero factor.
func (m *Manager) Health(ctx context.Context, loanID string) (*HealthReport, error) {
	loan, err := m.loans.GetByID(ctx, loanID)
	if err != nil {
		return nil, fmt.Errorf("load loan %s: %w", loanID, err)
	}
	observability.DefaultMetrics.LoanHealthChecks.Inc()

	report := &HealthReport{
		LoanID:           loan.LoanID,
		LiquidationPrice: loan.LiquidationPrice,
		Status:           loan.Status,
	}
	if !loan.Open() {
		return report, nil
	}

	price, err := m.prices.Price(ctx, loan.Asset)
	if err != nil {
		return nil, fmt.Errorf("fetch price for %s: %w", loan.Asset, err)
	}
	factor, err := HealthFactor(loan.CollateralAmount, price, loan.LoanAmountUSDC)
	if err != nil {
		return nil, err
	}

	report.HealthFactor = factor
	report.Band = HealthBand(factor)
	report.AssetPrice = price
	return report, nil
}

// SweepLiquidations walks all active loans and liquidates every one whose
// health factor is below 1. Per-loan failures are logged and skipped so a
// single bad loan never stops the sweep.
func (m *Manager) SweepLiquidations(ctx context.Context) ([]string, error) {
	active, err := m.loans.GetByStatus(ctx, domain.LoanStatusActive)
	if err != nil {
		return nil, fmt.Errorf("list active loans: %w", err)
	}

	var liquidated []string
	for _, loan := range active {
		if _, err := m.Liquidate(ctx, loan.LoanID); err != nil {
			if !errors.Is(err, domain.ErrLoanHealthy) {
				m.logger.Printf("sweep: liquidate %s: %v", loan.LoanID, err)
			}
			continue
		}
		liquidated = append(liquidated, loan.LoanID)
	}
	return liquidated, nil
}

// Loans returns all loans for a borrower.
func (m *Manager) Loans(ctx context.Context, borrower string) ([]*domain.Loan, error) {
	if borrower == "" {
		return nil, fmt.Errorf("%w: borrower is required", domain.ErrInvalidArgument)
	}
	return m.loans.GetByBorrower(ctx, borrower)
}
