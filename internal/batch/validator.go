// Package batch validates the composition of order batches before any order
// executes. Batch-shape failures reject the whole call and leave all state
// untouched.
package batch

import (
	"errors"

	"github.com/tallymarket/clob-engine/internal/model"
)

var (
	// ErrEmptyBatch is returned for a batch with no orders.
	ErrEmptyBatch = errors.New("batch: order batch is empty")

	// ErrBatchTooLarge is returned when a batch exceeds the order limit.
	ErrBatchTooLarge = errors.New("batch: too many orders in one batch")

	// ErrDuplicateSubMarket is returned when two orders in one batch target
	// the same sub-market.
	ErrDuplicateSubMarket = errors.New("batch: batch cannot contain two orders for the same sub-market")
)

// Validator enforces batch-composition rules.
type Validator struct {
	// MaxOrders is the maximum number of orders accepted in one batch.
	MaxOrders int
}

// NewValidator creates a validator with the given batch size limit.
func NewValidator(maxOrders int) *Validator {
	if maxOrders < 1 {
		maxOrders = 1
	}
	return &Validator{MaxOrders: maxOrders}
}

// Check validates batch shape: non-empty, within the size limit, and with
// pairwise-distinct sub-market ids. The size check runs first, so an
// oversized batch fails as too large regardless of distinctness.
func (v *Validator) Check(orders []model.Order) error {
	if len(orders) == 0 {
		return ErrEmptyBatch
	}
	if len(orders) > v.MaxOrders {
		return ErrBatchTooLarge
	}
	seen := make(map[uint64]bool, len(orders))
	for _, o := range orders {
		if seen[o.SubMarketID] {
			return ErrDuplicateSubMarket
		}
		seen[o.SubMarketID] = true
	}
	return nil
}
