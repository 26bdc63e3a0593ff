package storage

import (
	"context"

	"grovevault-engine/internal/domain"
)

// DistributionStore provides durable storage for distribution run results.
// A result must be recorded here before it is reported final to the caller.
type DistributionStore interface {
	// Insert records a completed run. Returns ErrDuplicateKey if the
	// distribution_id already exists.
	Insert(ctx context.Context, r *domain.DistributionResult) error

	// GetByID retrieves a run result. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, distributionID string) (*domain.DistributionResult, error)

	// GetByGrove retrieves all run results for a grove, newest first.
	GetByGrove(ctx context.Context, groveID string) ([]*domain.DistributionResult, error)
}

// PoolStore provides access to liquidity pool aggregates.
type PoolStore interface {
	// Get retrieves the pool for an asset. Returns ErrNotFound if not exists.
	Get(ctx context.Context, asset string) (*domain.LiquidityPool, error)

	// Save creates or replaces the pool aggregate for an asset.
	Save(ctx context.Context, p *domain.LiquidityPool) error
}

// PositionStore provides access to per-provider liquidity positions.
type PositionStore interface {
	// Get retrieves a provider's position. Returns ErrNotFound if not exists.
	Get(ctx context.Context, asset, provider string) (*domain.LiquidityPosition, error)

	// Save creates or replaces a position.
	Save(ctx context.Context, p *domain.LiquidityPosition) error

	// Delete removes a position whose LP balance reached zero.
	// Returns ErrNotFound if not exists.
	Delete(ctx context.Context, asset, provider string) error

	// GetByAsset retrieves all positions for an asset.
	GetByAsset(ctx context.Context, asset string) ([]*domain.LiquidityPosition, error)
}

// LoanStore provides access to loan records.
type LoanStore interface {
	// Insert adds a new loan. Returns ErrDuplicateKey if loan_id exists.
	Insert(ctx context.Context, l *domain.Loan) error

	// GetByID retrieves a loan by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, loanID string) (*domain.Loan, error)

	// UpdateStatus transitions a loan's status and records the close time
	// for terminal states. Returns ErrNotFound if not exists.
	UpdateStatus(ctx context.Context, loanID, status string, closedAt int64) error

	// GetByStatus retrieves all loans in a status.
	GetByStatus(ctx context.Context, status string) ([]*domain.Loan, error)

	// GetByBorrower retrieves all loans for a borrower address.
	GetByBorrower(ctx context.Context, borrower string) ([]*domain.Loan, error)
}

// TransferAuditStore appends distribution transfer outcomes to the
// analytics database. Rows are append-only history, written after the run
// result is durably recorded.
type TransferAuditStore interface {
	// InsertResult appends audit rows for every success and failure record
	// of a completed run.
	InsertResult(ctx context.Context, r *domain.DistributionResult) error
}

// PoolSnapshotStore appends point-in-time pool aggregates for history.
type PoolSnapshotStore interface {
	// Insert appends one snapshot.
	Insert(ctx context.Context, s *domain.PoolSnapshot) error

	// GetByAsset retrieves snapshots for an asset within [start, end],
	// ordered by timestamp ASC.
	GetByAsset(ctx context.Context, asset string, start, end int64) ([]*domain.PoolSnapshot, error)
}
