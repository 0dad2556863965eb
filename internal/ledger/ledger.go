// Package ledger defines the interface to the external collateral custody
// system. The engine only moves logical balance fields; actual token
// transfers happen behind this adapter.
package ledger

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// Adapter moves collateral between the engine's custody and external
// accounts. Calls are fallible; the engine pairs an internal debit with the
// matching external credit so that both apply or neither does.
type Adapter interface {
	// CreditExternal pays collateral out of custody to an external account.
	CreditExternal(ctx context.Context, account string, amount decimal.Decimal) error

	// DebitExternal pulls collateral from an external account into custody.
	DebitExternal(ctx context.Context, account string, amount decimal.Decimal) error
}

// MemoryAdapter is an in-memory Adapter for tests and development. It
// records net settlement per account and can be armed to fail the next
// call, which exercises the engine's rollback path.
type MemoryAdapter struct {
	mu       sync.Mutex
	settled  map[string]decimal.Decimal
	failNext error
}

// NewMemoryAdapter creates an empty in-memory adapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{settled: make(map[string]decimal.Decimal)}
}

// FailNext arms the adapter so its next call returns err.
func (a *MemoryAdapter) FailNext(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failNext = err
}

// Settled returns the net amount credited to an external account.
func (a *MemoryAdapter) Settled(account string) decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settled[account]
}

func (a *MemoryAdapter) CreditExternal(_ context.Context, account string, amount decimal.Decimal) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failNext != nil {
		err := a.failNext
		a.failNext = nil
		return err
	}
	a.settled[account] = a.settled[account].Add(amount)
	return nil
}

func (a *MemoryAdapter) DebitExternal(_ context.Context, account string, amount decimal.Decimal) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failNext != nil {
		err := a.failNext
		a.failNext = nil
		return err
	}
	a.settled[account] = a.settled[account].Sub(amount)
	return nil
}
