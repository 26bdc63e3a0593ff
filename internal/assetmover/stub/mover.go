package stub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"grovevault-engine/internal/assetmover"
)

// ErrScriptedFailure is the default error for addresses scripted to fail.
var ErrScriptedFailure = errors.New("scripted transfer failure")

// Mover implements assetmover.Mover for testing. Per-address failure counts
// can be scripted to exercise the processor's retry path: an address with
// FailuresBefore=2 fails its first two attempts and succeeds on the third.
type Mover struct {
	mu sync.Mutex

	// FailuresBefore maps address -> number of attempts that fail before
	// transfers start succeeding. Use AlwaysFail for unconditional failure.
	FailuresBefore map[string]int

	// AlwaysFail lists addresses whose transfers never succeed.
	AlwaysFail map[string]bool

	attempts map[string]int
	calls    []assetmover.TransferRequest
	refSeq   int
}

// NewMover creates a stub mover where every transfer succeeds.
func NewMover() *Mover {
	return &Mover{
		FailuresBefore: make(map[string]int),
		AlwaysFail:     make(map[string]bool),
		attempts:       make(map[string]int),
	}
}

// Transfer records the call and replies according to the scripted behavior.
func (m *Mover) Transfer(_ context.Context, req *assetmover.TransferRequest) (*assetmover.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, *req)
	m.attempts[req.ToAddress]++

	if m.AlwaysFail[req.ToAddress] {
		return nil, fmt.Errorf("%w: %s", ErrScriptedFailure, req.ToAddress)
	}
	if m.attempts[req.ToAddress] <= m.FailuresBefore[req.ToAddress] {
		return nil, fmt.Errorf("%w: %s attempt %d", ErrScriptedFailure, req.ToAddress, m.attempts[req.ToAddress])
	}

	m.refSeq++
	return &assetmover.Receipt{
		TransactionRef: fmt.Sprintf("stub-tx-%d", m.refSeq),
		Timestamp:      time.Now().UnixMilli(),
	}, nil
}

// Attempts returns how many transfer attempts were made for an address.
func (m *Mover) Attempts(address string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[address]
}

// Calls returns a copy of all recorded transfer requests in call order.
func (m *Mover) Calls() []assetmover.TransferRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]assetmover.TransferRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

var _ assetmover.Mover = (*Mover)(nil)
