package domain

import "github.com/shopspring/decimal"

// Loan statuses. Transitions: Originated -> Active -> {Repaid | Liquidated}.
// Active -> Repaid requires full repayment; partial repayment does not exist
// in this model. Active -> Liquidated is irreversible and permitted only when
// the health factor drops below 1.
const (
	LoanStatusOriginated = "originated"
	LoanStatusActive     = "active"
	LoanStatusRepaid     = "repaid"
	LoanStatusLiquidated = "liquidated"
)

// Health factor bands used for alerting. A factor below 1 makes the loan
// eligible for liquidation.
const (
	HealthBandCritical = "critical" // < 1.1
	HealthBandWarning  = "warning"  // 1.1 - 1.2
	HealthBandModerate = "moderate" // 1.2 - 1.5
	HealthBandHealthy  = "healthy"  // >= 1.5
)

// Loan is one collateralized borrow against grove token collateral.
// Principal and collateral are locked for the loan's lifetime; the loan
// closes only on full repayment or liquidation.
type Loan struct {
	LoanID            string
	BorrowerAddress   string
	Asset             string          // collateral asset kind
	CollateralTokenID string          // token identifier of the pledged collateral
	CollateralVault   string          // derived escrow address holding the pledged tokens
	LoanAmountUSDC    decimal.Decimal // principal, smallest USDC unit
	CollateralAmount  decimal.Decimal // pledged grove tokens
	RepaymentAmount   decimal.Decimal // principal * repayment multiplier
	LiquidationPrice  decimal.Decimal // asset price at which health factor crosses 1
	Status            string
	CreatedAt         int64 // Unix timestamp in milliseconds
	ClosedAt          int64 // Unix ms, 0 while open
}

// Open reports whether the loan still locks principal and collateral.
func (l *Loan) Open() bool {
	return l.Status == LoanStatusOriginated || l.Status == LoanStatusActive
}
