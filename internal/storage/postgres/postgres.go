// Package postgres persists distribution results, pool aggregates, and loan
// records in PostgreSQL through pgx. Driver errors never escape: the stores
// map them onto the shared storage sentinels.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool is the pgx connection pool shared by the distribution, pool, and
// loan stores.
type Pool struct {
	*pgxpool.Pool
}

// NewPool opens a connection pool for the given DSN and verifies
// connectivity with a ping before handing it out.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// Close closes the connection pool.
func (p *Pool) Close() {
	p.Pool.Close()
}

// unique_violation, the only constraint class the stores translate.
const pgErrUniqueViolation = "23505"

// isDuplicateKeyError reports whether err is a unique-constraint violation;
// the stores surface it as storage.ErrDuplicateKey.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation
}

// isNotFoundError reports whether err means no rows matched; the stores
// surface it as storage.ErrNotFound.
func isNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
