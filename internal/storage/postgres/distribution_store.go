package postgres

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"grovevault-engine/internal/domain"
	"grovevault-engine/internal/storage"
)

// Per-holder record outcomes.
const (
	outcomeSuccess = "success"
	outcomeSkipped = "skipped"
	outcomeFailure = "failure"
)

// DistributionStore implements storage.DistributionStore using PostgreSQL.
type DistributionStore struct {
	pool *Pool
}

// NewDistributionStore creates a new DistributionStore.
func NewDistributionStore(pool *Pool) *DistributionStore {
	return &DistributionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.DistributionStore = (*DistributionStore)(nil)

// Insert records a completed run with all its per-holder records in one
// transaction. Returns ErrDuplicateKey if the distribution_id exists.
func (s *DistributionStore) Insert(ctx context.Context, r *domain.DistributionResult) error {
	if r == nil || r.DistributionID == "" {
		return storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO distributions (
			distribution_id, grove_id, harvest_id, total_holders, completed, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		r.DistributionID,
		r.GroveID,
		r.HarvestID,
		r.TotalHolders,
		r.Completed,
		r.StartedAt,
		r.CompletedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert distribution: %w", err)
	}

	recordQuery := `
		INSERT INTO distribution_records (
			distribution_id, address, share_amount, outcome, transaction_ref, error_reason, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for _, rec := range r.Successful {
		outcome := outcomeSuccess
		if rec.Skipped {
			outcome = outcomeSkipped
		}
		_, err := tx.Exec(ctx, recordQuery,
			r.DistributionID, rec.Address, rec.ShareAmount, outcome, rec.TransactionRef, "", rec.Timestamp)
		if err != nil {
			return fmt.Errorf("insert transfer record: %w", err)
		}
	}
	for _, rec := range r.Failed {
		_, err := tx.Exec(ctx, recordQuery,
			r.DistributionID, rec.Address, rec.ShareAmount, outcomeFailure, "", rec.ErrorReason, rec.Timestamp)
		if err != nil {
			return fmt.Errorf("insert failure record: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByID retrieves a run result. Returns ErrNotFound if not exists.
func (s *DistributionStore) GetByID(ctx context.Context, distributionID string) (*domain.DistributionResult, error) {
	var r domain.DistributionResult
	err := s.pool.QueryRow(ctx, `
		SELECT distribution_id, grove_id, harvest_id, total_holders, completed, started_at, completed_at
		FROM distributions
		WHERE distribution_id = $1
	`, distributionID).Scan(
		&r.DistributionID,
		&r.GroveID,
		&r.HarvestID,
		&r.TotalHolders,
		&r.Completed,
		&r.StartedAt,
		&r.CompletedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get distribution: %w", err)
	}

	if err := s.loadRecords(ctx, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// GetByGrove retrieves all run results for a grove, newest first.
func (s *DistributionStore) GetByGrove(ctx context.Context, groveID string) ([]*domain.DistributionResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT distribution_id, grove_id, harvest_id, total_holders, completed, started_at, completed_at
		FROM distributions
		WHERE grove_id = $1
		ORDER BY started_at DESC, distribution_id DESC
	`, groveID)
	if err != nil {
		return nil, fmt.Errorf("get distributions by grove: %w", err)
	}
	defer rows.Close()

	var results []*domain.DistributionResult
	for rows.Next() {
		var r domain.DistributionResult
		err := rows.Scan(
			&r.DistributionID,
			&r.GroveID,
			&r.HarvestID,
			&r.TotalHolders,
			&r.Completed,
			&r.StartedAt,
			&r.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan distribution row: %w", err)
		}
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate distribution rows: %w", err)
	}

	for _, r := range results {
		if err := s.loadRecords(ctx, r); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// loadRecords fills the per-holder record slices, preserving insertion order.
func (s *DistributionStore) loadRecords(ctx context.Context, r *domain.DistributionResult) error {
	rows, err := s.pool.Query(ctx, `
		SELECT address, share_amount, outcome, transaction_ref, error_reason, recorded_at
		FROM distribution_records
		WHERE distribution_id = $1
		ORDER BY id ASC
	`, r.DistributionID)
	if err != nil {
		return fmt.Errorf("get distribution records: %w", err)
	}
	defer rows.Close()

	r.Successful = make([]domain.TransferRecord, 0)
	r.Failed = make([]domain.FailureRecord, 0)

	for rows.Next() {
		var (
			address, outcome, txRef, reason string
			amount                          decimal.Decimal
			recordedAt                      int64
		)
		if err := rows.Scan(&address, &amount, &outcome, &txRef, &reason, &recordedAt); err != nil {
			return fmt.Errorf("scan record row: %w", err)
		}

		switch outcome {
		case outcomeFailure:
			r.Failed = append(r.Failed, domain.FailureRecord{
				Address:     address,
				ShareAmount: amount,
				ErrorReason: reason,
				Timestamp:   recordedAt,
			})
		default:
			r.Successful = append(r.Successful, domain.TransferRecord{
				Address:        address,
				ShareAmount:    amount,
				TransactionRef: txRef,
				Timestamp:      recordedAt,
				Skipped:        outcome == outcomeSkipped,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate record rows: %w", err)
	}
	return nil
}
