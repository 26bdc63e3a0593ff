// Package cache provides TTL memoization for expensive read paths such as
// pool statistics and loan health reports. Entries expire on their TTL and
// are invalidated explicitly whenever the underlying state mutates.
package cache

import (
	"context"
	"time"
)

// ResultCache stores serialized read results under string keys.
type ResultCache interface {
	// Get returns the cached value and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores a value with a TTL. A zero TTL uses the backend default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)

	// Invalidate removes a key immediately. Unknown keys are a no-op.
	Invalidate(ctx context.Context, key string)
}

// Key builders used across the engine so writers and readers agree on
// invalidation targets.

// PoolStatsKey is the cache key for an asset's pool statistics.
func PoolStatsKey(asset string) string {
	return "pool_stats:" + asset
}

// LoanHealthKey is the cache key for one loan's health report.
func LoanHealthKey(loanID string) string {
	return "loan_health:" + loanID
}

// DistributionKey is the cache key for a distribution run result.
func DistributionKey(distributionID string) string {
	return "distribution:" + distributionID
}
