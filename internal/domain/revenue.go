package domain

import "github.com/shopspring/decimal"

// RevenueEvent is an immutable record of one harvest settlement.
// Amounts are denominated in the smallest USDC unit.
type RevenueEvent struct {
	GroveID      string          // grove that produced the harvest
	HarvestID    string          // unique harvest settlement identifier
	TotalRevenue decimal.Decimal // non-negative, smallest currency unit
}

// Holder is an address owning a proportional token stake in a grove.
type Holder struct {
	Address      string          // token account address (base58)
	TokenBalance decimal.Decimal // 0 <= TokenBalance <= grove total supply
}

// HolderEntitlement is a holder paired with its computed share of one
// revenue event. ShareAmount is derived, never stored input.
type HolderEntitlement struct {
	Address      string
	TokenBalance decimal.Decimal
	ShareAmount  decimal.Decimal // rounded to the smallest unit, half-up
}
