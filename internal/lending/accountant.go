// Package lending implements collateralized loan accounting: origination
// sizing, repayment terms, health factor evaluation, and liquidation.
package lending

import (
	"fmt"

	"github.com/shopspring/decimal"

	"grovevault-engine/internal/domain"
)

// Loan terms. Collateral must be worth 1.25x the principal at origination,
// repayment is a flat 10% premium, and the health factor discounts the
// collateral to 90% of its market value. At origination the health factor is
// therefore 1.25 * 0.90 = 1.125.
var (
	collateralizationRatio = decimal.RequireFromString("1.25")
	liquidationThreshold   = decimal.RequireFromString("0.90")
	repaymentMultiplier    = decimal.RequireFromString("1.10")
)

// Health band boundaries.
var (
	bandCritical = decimal.RequireFromString("1.1")
	bandWarning  = decimal.RequireFromString("1.2")
	bandHealthy  = decimal.RequireFromString("1.5")
)

// CollateralRequired returns the grove tokens needed to back a principal at
// the given asset price.
func CollateralRequired(loanUSDC, assetPrice decimal.Decimal) (decimal.Decimal, error) {
	if !loanUSDC.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: principal must be positive, got %s", domain.ErrInvalidArgument, loanUSDC)
	}
	if !assetPrice.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: asset price must be positive, got %s", domain.ErrInvalidArgument, assetPrice)
	}
	return loanUSDC.Mul(collateralizationRatio).Div(assetPrice), nil
}

// MaxLoanAmount returns the largest principal the given collateral can back
// at the given asset price, rounded down to the smallest USDC unit.
func MaxLoanAmount(collateralAmount, assetPrice decimal.Decimal) (decimal.Decimal, error) {
	if !collateralAmount.IsPositive() || !assetPrice.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: collateral and price must be positive", domain.ErrInvalidArgument)
	}
	return collateralAmount.Mul(assetPrice).Div(collateralizationRatio).RoundDown(0), nil
}

// RepaymentAmount returns principal plus the flat premium, rounded half-up
// to the smallest USDC unit.
func RepaymentAmount(loanUSDC decimal.Decimal) (decimal.Decimal, error) {
	if !loanUSDC.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: principal must be positive, got %s", domain.ErrInvalidArgument, loanUSDC)
	}
	return loanUSDC.Mul(repaymentMultiplier).Round(0), nil
}

// LiquidationPrice returns the asset price at which the health factor
// crosses 1 for the given principal and collateral.
func LiquidationPrice(loanUSDC, collateralAmount decimal.Decimal) (decimal.Decimal, error) {
	if !loanUSDC.IsPositive() || !collateralAmount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: principal and collateral must be positive", domain.ErrInvalidArgument)
	}
	return loanUSDC.Div(collateralAmount.Mul(liquidationThreshold)), nil
}

// HealthFactor returns the discounted collateral value over the principal.
// Below 1 the loan is eligible for liquidation.
func HealthFactor(collateralAmount, assetPrice, loanUSDC decimal.Decimal) (decimal.Decimal, error) {
	if !loanUSDC.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: principal must be positive, got %s", domain.ErrInvalidArgument, loanUSDC)
	}
	if collateralAmount.IsNegative() || assetPrice.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: negative collateral or price", domain.ErrInvalidArgument)
	}
	return collateralAmount.Mul(assetPrice).Mul(liquidationThreshold).Div(loanUSDC), nil
}

// HealthBand classifies a health factor for alerting.
func HealthBand(factor decimal.Decimal) string {
	switch {
	case factor.LessThan(bandCritical):
		return domain.HealthBandCritical
	case factor.LessThan(bandWarning):
		return domain.HealthBandWarning
	case factor.LessThan(bandHealthy):
		return domain.HealthBandModerate
	default:
		return domain.HealthBandHealthy
	}
}

// Liquidatable reports whether a health factor permits liquidation.
func Liquidatable(factor decimal.Decimal) bool {
	return factor.LessThan(decimal.NewFromInt(1))
}
