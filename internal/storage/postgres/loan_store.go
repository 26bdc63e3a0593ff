package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"grovevault-engine/internal/domain"
	"grovevault-engine/internal/storage"
)

// LoanStore implements storage.LoanStore using PostgreSQL.
type LoanStore struct {
	pool *Pool
}

// NewLoanStore creates a new LoanStore.
func NewLoanStore(pool *Pool) *LoanStore {
	return &LoanStore{pool: pool}
}

// Compile-time interface check.
var _ storage.LoanStore = (*LoanStore)(nil)

const loanColumns = `
	loan_id, borrower_address, asset, collateral_token_id, collateral_vault,
	loan_amount_usdc, collateral_amount, repayment_amount, liquidation_price,
	status, created_at, closed_at
`

// Insert adds a new loan. Returns ErrDuplicateKey if loan_id exists.
func (s *LoanStore) Insert(ctx context.Context, l *domain.Loan) error {
	if l == nil || l.LoanID == "" || l.BorrowerAddress == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO loans (`+loanColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		l.LoanID,
		l.BorrowerAddress,
		l.Asset,
		l.CollateralTokenID,
		l.CollateralVault,
		l.LoanAmountUSDC,
		l.CollateralAmount,
		l.RepaymentAmount,
		l.LiquidationPrice,
		l.Status,
		l.CreatedAt,
		l.ClosedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert loan: %w", err)
	}
	return nil
}

// GetByID retrieves a loan by its ID. Returns ErrNotFound if not exists.
func (s *LoanStore) GetByID(ctx context.Context, loanID string) (*domain.Loan, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+loanColumns+`
		FROM loans
		WHERE loan_id = $1
	`, loanID)

	loan, err := scanLoan(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get loan: %w", err)
	}
	return loan, nil
}

// UpdateStatus transitions a loan's status and records the close time for
// terminal states. Returns ErrNotFound if not exists.
func (s *LoanStore) UpdateStatus(ctx context.Context, loanID, status string, closedAt int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE loans SET status = $2, closed_at = $3 WHERE loan_id = $1
	`, loanID, status, closedAt)
	if err != nil {
		return fmt.Errorf("update loan status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetByStatus retrieves all loans in a status, oldest first.
func (s *LoanStore) GetByStatus(ctx context.Context, status string) ([]*domain.Loan, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+loanColumns+`
		FROM loans
		WHERE status = $1
		ORDER BY created_at ASC, loan_id ASC
	`, status)
	if err != nil {
		return nil, fmt.Errorf("get loans by status: %w", err)
	}
	defer rows.Close()

	return scanLoans(rows)
}

// GetByBorrower retrieves all loans for a borrower address, oldest first.
func (s *LoanStore) GetByBorrower(ctx context.Context, borrower string) ([]*domain.Loan, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+loanColumns+`
		FROM loans
		WHERE borrower_address = $1
		ORDER BY created_at ASC, loan_id ASC
	`, borrower)
	if err != nil {
		return nil, fmt.Errorf("get loans by borrower: %w", err)
	}
	defer rows.Close()

	return scanLoans(rows)
}

func scanLoan(row pgx.Row) (*domain.Loan, error) {
	var l domain.Loan
	err := row.Scan(
		&l.LoanID,
		&l.BorrowerAddress,
		&l.Asset,
		&l.CollateralTokenID,
		&l.CollateralVault,
		&l.LoanAmountUSDC,
		&l.CollateralAmount,
		&l.RepaymentAmount,
		&l.LiquidationPrice,
		&l.Status,
		&l.CreatedAt,
		&l.ClosedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func scanLoans(rows pgx.Rows) ([]*domain.Loan, error) {
	var loans []*domain.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate loan rows: %w", err)
	}
	return loans, nil
}
