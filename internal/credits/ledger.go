// Package credits provides the account credit ledger charged once per
// billable remote AI call.
package credits

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/jonathan/storybook-agent/internal/types"
)

// ErrInsufficientCredits reports an account balance too low for the charge.
var ErrInsufficientCredits = errors.New("insufficient credits")

// Ledger deducts credits for billable stage calls. Deduct must be
// idempotent per attempt ID: charging the same attempt twice debits the
// account once.
type Ledger interface {
	Deduct(ctx context.Context, accountID string, attemptID uuid.UUID, stage types.Stage, cost int) error
	Balance(ctx context.Context, accountID string) (int, error)
}

// MemoryLedger is an in-memory Ledger for tests and DB-less runs.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]int
	charged  map[uuid.UUID]bool
}

// NewMemoryLedger returns a ledger with the given starting balances.
func NewMemoryLedger(balances map[string]int) *MemoryLedger {
	b := make(map[string]int, len(balances))
	for k, v := range balances {
		b[k] = v
	}
	return &MemoryLedger{
		balances: b,
		charged:  make(map[uuid.UUID]bool),
	}
}

// Deduct debits cost from the account unless this attempt was already
// charged. Zero-cost charges (repair calls) succeed without touching the
// balance but are still recorded for idempotency.
func (l *MemoryLedger) Deduct(_ context.Context, accountID string, attemptID uuid.UUID, _ types.Stage, cost int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.charged[attemptID] {
		return nil
	}
	if l.balances[accountID] < cost {
		return ErrInsufficientCredits
	}
	l.balances[accountID] -= cost
	l.charged[attemptID] = true
	return nil
}

// Balance returns the account's remaining credits.
func (l *MemoryLedger) Balance(_ context.Context, accountID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[accountID], nil
}
