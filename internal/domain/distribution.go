package domain

import "github.com/shopspring/decimal"

// TransferRecord is one successful (or skipped) holder payout.
// Immutable once appended to a DistributionResult.
type TransferRecord struct {
	Address        string
	ShareAmount    decimal.Decimal
	TransactionRef string // asset mover reference, empty for skipped holders
	Timestamp      int64  // Unix timestamp in milliseconds
	Skipped        bool   // zero-share holder, mover never invoked
}

// FailureRecord is one holder payout that exhausted all transfer attempts.
// Immutable once appended to a DistributionResult.
type FailureRecord struct {
	Address     string
	ShareAmount decimal.Decimal
	ErrorReason string
	Timestamp   int64 // Unix timestamp in milliseconds
}

// DistributionResult accumulates the outcome of one distribution run.
// It is owned exclusively by the processor driving the run, mutated only by
// that processor, and frozen (Completed=true) at run end. Never reused.
type DistributionResult struct {
	DistributionID string
	GroveID        string
	HarvestID      string
	TotalHolders   int
	Successful     []TransferRecord
	Failed         []FailureRecord
	Completed      bool
	StartedAt      int64 // Unix timestamp in milliseconds
	CompletedAt    int64 // Unix timestamp in milliseconds, 0 while in flight
}

// SuccessCount returns the number of paid or skipped holders.
func (r *DistributionResult) SuccessCount() int {
	return len(r.Successful)
}

// FailureCount returns the number of holders whose payout exhausted retries.
func (r *DistributionResult) FailureCount() int {
	return len(r.Failed)
}

// PartialFailure reports whether the run completed with at least one failed
// holder. This is an inspectable outcome, not an error.
func (r *DistributionResult) PartialFailure() bool {
	return r.Completed && len(r.Failed) > 0
}
