// Package liquidity maintains the proportional-share accounting for shared
// lending pools: LP token minting on deposit, burning and payout on
// withdrawal, and pool share percentages.
package liquidity

import (
	"fmt"

	"github.com/shopspring/decimal"

	"grovevault-engine/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// LPTokensToMint returns the LP tokens minted for a USDC deposit. An empty
// pool bootstraps 1:1 with the deposit; otherwise minting is proportional so
// existing providers are not diluted.
func LPTokensToMint(usdcAmount, totalLiquidity, totalLPTokens decimal.Decimal) (decimal.Decimal, error) {
	if !usdcAmount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: deposit must be positive, got %s", domain.ErrInvalidArgument, usdcAmount)
	}
	if totalLiquidity.IsNegative() || totalLPTokens.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: negative pool totals", domain.ErrInvalidArgument)
	}

	if totalLiquidity.IsZero() || totalLPTokens.IsZero() {
		return usdcAmount, nil
	}
	return usdcAmount.Mul(totalLPTokens).Div(totalLiquidity), nil
}

// USDCFromLPTokens returns the USDC owed for burning lpAmount LP tokens,
// rounded half-up to the smallest unit and capped at the pool total.
func USDCFromLPTokens(lpAmount, totalLiquidity, totalLPTokens decimal.Decimal) (decimal.Decimal, error) {
	if !lpAmount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: lp amount must be positive, got %s", domain.ErrInvalidArgument, lpAmount)
	}
	if totalLiquidity.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: negative pool liquidity", domain.ErrInvalidArgument)
	}
	if totalLPTokens.IsZero() || totalLPTokens.IsNegative() {
		return decimal.Zero, domain.ErrPoolEmpty
	}

	payout := lpAmount.Mul(totalLiquidity).Div(totalLPTokens).Round(0)
	if payout.GreaterThan(totalLiquidity) {
		payout = totalLiquidity
	}
	return payout, nil
}

// PoolSharePercent returns a provider's percentage of the pool. Defined as
// zero for an empty pool.
func PoolSharePercent(userLP, totalLP decimal.Decimal) (decimal.Decimal, error) {
	if userLP.IsNegative() || totalLP.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: negative lp amounts", domain.ErrInvalidArgument)
	}
	if totalLP.IsZero() {
		return decimal.Zero, nil
	}
	return userLP.Div(totalLP).Mul(hundred), nil
}
