package domain

import "github.com/shopspring/decimal"

// LiquidityPool is the mutable aggregate for one asset's shared lending pool.
// Mutated only through deposit/withdraw/loan operations, always under the
// pool lock. Invariants: AvailableLiquidityUSDC <= TotalLiquidityUSDC and
// TotalLPTokens >= 0.
type LiquidityPool struct {
	Asset                  string          // asset kind, e.g. "GROVE-A"
	TotalLiquidityUSDC     decimal.Decimal // all USDC ever net-deposited
	AvailableLiquidityUSDC decimal.Decimal // USDC not locked in outstanding loans
	TotalLPTokens          decimal.Decimal // outstanding LP token supply
	CurrentAPY             decimal.Decimal // advertised yield, percent
	UpdatedAt              int64           // Unix timestamp in milliseconds
}

// LiquidityPosition tracks one provider's stake in a pool.
// Created on first deposit; deleted when the LP balance reaches zero.
type LiquidityPosition struct {
	Asset             string
	Provider          string // provider address
	LPTokenBalance    decimal.Decimal
	InitialInvestment decimal.Decimal // cumulative USDC deposited
	ProvidedAt        int64           // first deposit, Unix ms
	UpdatedAt         int64
}

// PoolSnapshot is a point-in-time copy of a pool aggregate, written to the
// analytics store after every mutation.
type PoolSnapshot struct {
	Asset                  string
	TotalLiquidityUSDC     decimal.Decimal
	AvailableLiquidityUSDC decimal.Decimal
	TotalLPTokens          decimal.Decimal
	CurrentAPY             decimal.Decimal
	Timestamp              int64 // Unix timestamp in milliseconds
}
