// Package assetmover defines the boundary to the external funds transfer
// primitive. The engine treats the mover as untrusted: any error, timeout, or
// non-success response counts as a retryable failure.
package assetmover

import (
	"context"

	"github.com/shopspring/decimal"
)

// Transfer sources.
const (
	SourceTreasury = "treasury" // originator/farmer payouts
	SourcePool     = "pool"     // holder payouts and loan principal
)

// TransferRequest describes a single funds movement to one address.
type TransferRequest struct {
	Source         string          // SourceTreasury or SourcePool
	ToAddress      string          // destination address
	Amount         decimal.Decimal // smallest currency unit
	AssetKind      string          // e.g. "USDC", "GROVE-A"
	IdempotencyKey string          // dedup key for at-most-once settlement
}

// Receipt confirms a completed transfer.
type Receipt struct {
	TransactionRef string // settlement layer reference
	Timestamp      int64  // Unix timestamp in milliseconds
}

// Mover performs a single transfer and reports success or failure.
type Mover interface {
	Transfer(ctx context.Context, req *TransferRequest) (*Receipt, error)
}
