package memory

import (
	"context"
	"sort"
	"sync"

	"grovevault-engine/internal/domain"
	"grovevault-engine/internal/storage"
)

// LoanStore is an in-memory implementation of storage.LoanStore.
type LoanStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Loan // keyed by loan_id
}

// NewLoanStore creates a new in-memory loan store.
func NewLoanStore() *LoanStore {
	return &LoanStore{
		data: make(map[string]*domain.Loan),
	}
}

// Insert adds a new loan. Returns ErrDuplicateKey if loan_id exists.
func (s *LoanStore) Insert(_ context.Context, l *domain.Loan) error {
	if l == nil || l.LoanID == "" || l.BorrowerAddress == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[l.LoanID]; exists {
		return storage.ErrDuplicateKey
	}

	loanCopy := *l
	s.data[l.LoanID] = &loanCopy
	return nil
}

// GetByID retrieves a loan by its ID. Returns ErrNotFound if not exists.
func (s *LoanStore) GetByID(_ context.Context, loanID string) (*domain.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.data[loanID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	loanCopy := *l
	return &loanCopy, nil
}

// UpdateStatus transitions a loan's status. Returns ErrNotFound if not exists.
func (s *LoanStore) UpdateStatus(_ context.Context, loanID, status string, closedAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.data[loanID]
	if !ok {
		return storage.ErrNotFound
	}
	l.Status = status
	l.ClosedAt = closedAt
	return nil
}

// GetByStatus retrieves all loans in a status, ordered by creation time ASC.
func (s *LoanStore) GetByStatus(_ context.Context, status string) ([]*domain.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Loan
	for _, l := range s.data {
		if l.Status == status {
			loanCopy := *l
			result = append(result, &loanCopy)
		}
	}

	sortLoans(result)
	return result, nil
}

// GetByBorrower retrieves all loans for a borrower, ordered by creation time ASC.
func (s *LoanStore) GetByBorrower(_ context.Context, borrower string) ([]*domain.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Loan
	for _, l := range s.data {
		if l.BorrowerAddress == borrower {
			loanCopy := *l
			result = append(result, &loanCopy)
		}
	}

	sortLoans(result)
	return result, nil
}

func sortLoans(loans []*domain.Loan) {
	sort.Slice(loans, func(i, j int) bool {
		if loans[i].CreatedAt != loans[j].CreatedAt {
			return loans[i].CreatedAt < loans[j].CreatedAt
		}
		return loans[i].LoanID < loans[j].LoanID
	})
}

var _ storage.LoanStore = (*LoanStore)(nil)
