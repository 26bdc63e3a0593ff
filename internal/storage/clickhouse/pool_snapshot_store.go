package clickhouse

import (
	"context"
	"fmt"

	"grovevault-engine/internal/domain"
	"grovevault-engine/internal/storage"
)

// PoolSnapshotStore implements storage.PoolSnapshotStore using ClickHouse.
type PoolSnapshotStore struct {
	conn *Conn
}

// NewPoolSnapshotStore creates a new PoolSnapshotStore.
func NewPoolSnapshotStore(conn *Conn) *PoolSnapshotStore {
	return &PoolSnapshotStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PoolSnapshotStore = (*PoolSnapshotStore)(nil)

// Insert appends one snapshot.
func (s *PoolSnapshotStore) Insert(ctx context.Context, snap *domain.PoolSnapshot) error {
	if snap == nil || snap.Asset == "" {
		return storage.ErrInvalidInput
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO pool_snapshots (
			asset, total_liquidity_usdc, available_liquidity_usdc,
			total_lp_tokens, current_apy, timestamp_ms
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	err = batch.Append(
		snap.Asset, snap.TotalLiquidityUSDC, snap.AvailableLiquidityUSDC,
		snap.TotalLPTokens, snap.CurrentAPY, uint64(snap.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByAsset retrieves snapshots for an asset within [start, end] (inclusive),
// ordered by timestamp ASC.
func (s *PoolSnapshotStore) GetByAsset(ctx context.Context, asset string, start, end int64) ([]*domain.PoolSnapshot, error) {
	query := `
		SELECT asset, total_liquidity_usdc, available_liquidity_usdc,
		       total_lp_tokens, current_apy, timestamp_ms
		FROM pool_snapshots
		WHERE asset = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, asset, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query snapshots by asset: %w", err)
	}
	defer rows.Close()

	return scanPoolSnapshots(rows)
}

func scanPoolSnapshots(rows chRows) ([]*domain.PoolSnapshot, error) {
	var snaps []*domain.PoolSnapshot

	for rows.Next() {
		var s domain.PoolSnapshot
		var timestampMs uint64

		err := rows.Scan(
			&s.Asset, &s.TotalLiquidityUSDC, &s.AvailableLiquidityUSDC,
			&s.TotalLPTokens, &s.CurrentAPY, &timestampMs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan pool snapshot row: %w", err)
		}

		s.Timestamp = int64(timestampMs)
		snaps = append(snaps, &s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pool snapshot rows: %w", err)
	}

	return snaps, nil
}
