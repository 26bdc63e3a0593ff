// Package share computes originator, investor pool, and per-holder shares of
// a harvest revenue amount. All functions are pure and deterministic; amounts
// are smallest-unit decimals rounded half-up.
package share

import (
	"fmt"

	"github.com/shopspring/decimal"

	"grovevault-engine/internal/domain"
)

// Revenue split rates. The farmer (originator) keeps 30%, token holders
// share the remaining 70% pro rata.
var (
	farmerRate   = decimal.NewFromFloat(0.30)
	investorRate = decimal.NewFromFloat(0.70)
)

// FarmerShare returns the originator's 30% cut of totalRevenue, rounded
// half-up to the smallest unit.
func FarmerShare(totalRevenue decimal.Decimal) (decimal.Decimal, error) {
	if err := validateRevenue(totalRevenue); err != nil {
		return decimal.Zero, err
	}
	if totalRevenue.IsZero() {
		return decimal.Zero, nil
	}
	return totalRevenue.Mul(farmerRate).Round(0), nil
}

// InvestorShare returns the holders' 70% pool. It is computed as the
// remainder after the farmer share so the two always sum exactly to
// totalRevenue regardless of rounding.
func InvestorShare(totalRevenue decimal.Decimal) (decimal.Decimal, error) {
	farmer, err := FarmerShare(totalRevenue)
	if err != nil {
		return decimal.Zero, err
	}
	return totalRevenue.Sub(farmer), nil
}

// HolderShare returns one holder's pro-rata slice of the investor pool,
// rounded half-up. Zero revenue or zero balance short-circuits to zero.
func HolderShare(totalRevenue, tokenBalance, totalSupply decimal.Decimal) (decimal.Decimal, error) {
	if err := validateRevenue(totalRevenue); err != nil {
		return decimal.Zero, err
	}
	if err := validateHolding(tokenBalance, totalSupply); err != nil {
		return decimal.Zero, err
	}
	if totalRevenue.IsZero() || tokenBalance.IsZero() {
		return decimal.Zero, nil
	}

	investor, err := InvestorShare(totalRevenue)
	if err != nil {
		return decimal.Zero, err
	}
	return tokenBalance.Mul(investor).Div(totalSupply).Round(0), nil
}

// Entitlements derives the per-holder share list for one revenue event.
// Each share is rounded half-up, then capped at the remaining investor pool
// so the total paid out can never exceed the pool by rounding drift.
// Holder order is preserved.
func Entitlements(totalRevenue decimal.Decimal, holders []domain.Holder, totalSupply decimal.Decimal) ([]domain.HolderEntitlement, error) {
	if err := validateRevenue(totalRevenue); err != nil {
		return nil, err
	}
	if !totalSupply.IsPositive() {
		return nil, fmt.Errorf("%w: total supply must be positive, got %s", domain.ErrInvalidArgument, totalSupply)
	}

	investor, err := InvestorShare(totalRevenue)
	if err != nil {
		return nil, err
	}

	entitlements := make([]domain.HolderEntitlement, 0, len(holders))
	remaining := investor

	for i, h := range holders {
		if h.Address == "" {
			return nil, fmt.Errorf("%w: holder %d has empty address", domain.ErrInvalidArgument, i)
		}
		if err := validateHolding(h.TokenBalance, totalSupply); err != nil {
			return nil, fmt.Errorf("holder %s: %w", h.Address, err)
		}

		amount := decimal.Zero
		if !totalRevenue.IsZero() && !h.TokenBalance.IsZero() {
			amount = h.TokenBalance.Mul(investor).Div(totalSupply).Round(0)
			if amount.GreaterThan(remaining) {
				amount = remaining
			}
			remaining = remaining.Sub(amount)
		}

		entitlements = append(entitlements, domain.HolderEntitlement{
			Address:      h.Address,
			TokenBalance: h.TokenBalance,
			ShareAmount:  amount,
		})
	}

	return entitlements, nil
}

func validateRevenue(totalRevenue decimal.Decimal) error {
	if totalRevenue.IsNegative() {
		return fmt.Errorf("%w: revenue must be non-negative, got %s", domain.ErrInvalidArgument, totalRevenue)
	}
	return nil
}

func validateHolding(tokenBalance, totalSupply decimal.Decimal) error {
	if !totalSupply.IsPositive() {
		return fmt.Errorf("%w: total supply must be positive, got %s", domain.ErrInvalidArgument, totalSupply)
	}
	if tokenBalance.IsNegative() {
		return fmt.Errorf("%w: token balance must be non-negative, got %s", domain.ErrInvalidArgument, tokenBalance)
	}
	if tokenBalance.GreaterThan(totalSupply) {
		return fmt.Errorf("%w: token balance %s exceeds total supply %s", domain.ErrInvalidArgument, tokenBalance, totalSupply)
	}
	return nil
}
