// Package pricefeed supplies grove asset prices in USDC, either as one-shot
// reads over HTTP or as a streaming WebSocket subscription.
package pricefeed

import (
	"context"

	"github.com/shopspring/decimal"
)

// Quote is one observed asset price.
type Quote struct {
	Asset     string          `json:"asset"`
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"` // Unix milliseconds
}

// Feed returns the current price of an asset in USDC.
type Feed interface {
	Price(ctx context.Context, asset string) (decimal.Decimal, error)
}
