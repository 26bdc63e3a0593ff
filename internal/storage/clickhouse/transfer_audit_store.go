package clickhouse

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"grovevault-engine/internal/domain"
	"grovevault-engine/internal/storage"
)

// Per-row transfer outcomes.
const (
	outcomeSuccess = "success"
	outcomeSkipped = "skipped"
	outcomeFailure = "failure"
)

// TransferAuditStore implements storage.TransferAuditStore using ClickHouse.
// Rows are append-only history; the relational store remains the source of
// truth for run results.
type TransferAuditStore struct {
	conn *Conn
}

// NewTransferAuditStore creates a new TransferAuditStore.
func NewTransferAuditStore(conn *Conn) *TransferAuditStore {
	return &TransferAuditStore{conn: conn}
}

// Compile-time interface check.
var _ storage.TransferAuditStore = (*TransferAuditStore)(nil)

// InsertResult appends one audit row per success and failure record of a
// completed run, in record order.
func (s *TransferAuditStore) InsertResult(ctx context.Context, r *domain.DistributionResult) error {
	if r == nil || r.DistributionID == "" {
		return storage.ErrInvalidInput
	}
	if len(r.Successful) == 0 && len(r.Failed) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO distribution_transfers (
			distribution_id, grove_id, address, share_amount, outcome,
			transaction_ref, error_reason, recorded_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, rec := range r.Successful {
		outcome := outcomeSuccess
		if rec.Skipped {
			outcome = outcomeSkipped
		}
		err = batch.Append(
			r.DistributionID, r.GroveID, rec.Address, rec.ShareAmount, outcome,
			rec.TransactionRef, "", uint64(rec.Timestamp),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}
	for _, rec := range r.Failed {
		err = batch.Append(
			r.DistributionID, r.GroveID, rec.Address, rec.ShareAmount, outcomeFailure,
			"", rec.ErrorReason, uint64(rec.Timestamp),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// TransferRow is one audit row as stored in the analytics database.
type TransferRow struct {
	DistributionID string
	GroveID        string
	Address        string
	ShareAmount    decimal.Decimal
	Outcome        string
	TransactionRef string
	ErrorReason    string
	RecordedAt     int64
}

// GetByDistribution retrieves all audit rows for a run, in insertion order.
func (s *TransferAuditStore) GetByDistribution(ctx context.Context, distributionID string) ([]*TransferRow, error) {
	query := `
		SELECT distribution_id, grove_id, address, share_amount, outcome,
		       transaction_ref, error_reason, recorded_at
		FROM distribution_transfers
		WHERE distribution_id = ?
		ORDER BY recorded_at ASC
	`

	rows, err := s.conn.Query(ctx, query, distributionID)
	if err != nil {
		return nil, fmt.Errorf("query by distribution id: %w", err)
	}
	defer rows.Close()

	return scanTransferRows(rows)
}

// FailuresByGrove retrieves failed transfer rows for a grove within
// [start, end] (inclusive), oldest first.
func (s *TransferAuditStore) FailuresByGrove(ctx context.Context, groveID string, start, end int64) ([]*TransferRow, error) {
	query := `
		SELECT distribution_id, grove_id, address, share_amount, outcome,
		       transaction_ref, error_reason, recorded_at
		FROM distribution_transfers
		WHERE grove_id = ? AND outcome = ? AND recorded_at >= ? AND recorded_at <= ?
		ORDER BY recorded_at ASC
	`

	rows, err := s.conn.Query(ctx, query, groveID, outcomeFailure, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query failures by grove: %w", err)
	}
	defer rows.Close()

	return scanTransferRows(rows)
}

func scanTransferRows(rows chRows) ([]*TransferRow, error) {
	var result []*TransferRow

	for rows.Next() {
		var r TransferRow
		var recordedAt uint64

		err := rows.Scan(
			&r.DistributionID, &r.GroveID, &r.Address, &r.ShareAmount, &r.Outcome,
			&r.TransactionRef, &r.ErrorReason, &recordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan transfer row: %w", err)
		}

		r.RecordedAt = int64(recordedAt)
		result = append(result, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfer rows: %w", err)
	}

	return result, nil
}
