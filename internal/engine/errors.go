package engine

import (
	"errors"

	"github.com/tallymarket/clob-engine/internal/auth"
	"github.com/tallymarket/clob-engine/internal/batch"
	"github.com/tallymarket/clob-engine/internal/curve"
	"github.com/tallymarket/clob-engine/internal/store"
)

var (
	// ErrNotAuthorized is returned when the caller lacks the role an
	// operation requires. The check always precedes any state change.
	ErrNotAuthorized = errors.New("engine: caller is not authorized")

	// ErrNotBuyingPeriod is returned for buy orders outside the fair-launch
	// and trading windows.
	ErrNotBuyingPeriod = errors.New("engine: sub-market is not accepting buys")

	// ErrCannotSellYet is returned for sell orders before trading opens.
	// Fair-launch positions cannot be unwound until the launch completes.
	ErrCannotSellYet = errors.New("engine: cannot sell during the fair launch")

	// ErrNotSellingPeriod is returned for sell orders after trading closes.
	ErrNotSellingPeriod = errors.New("engine: sub-market is not accepting sells")

	// ErrInsufficientBalance is returned when an order or withdrawal exceeds
	// the user's custodial balance.
	ErrInsufficientBalance = errors.New("engine: insufficient balance")

	// ErrInsufficientShares is returned when a sell exceeds the user's
	// position.
	ErrInsufficientShares = errors.New("engine: insufficient shares")

	// ErrPriceTooFarOff is returned when an order's realized average price
	// leaves the tolerance band around the requested price per share.
	ErrPriceTooFarOff = errors.New("engine: requested price too far off the realized price")

	// ErrSubMarketNotFound is returned when an order names a sub-market the
	// market does not contain.
	ErrSubMarketNotFound = errors.New("engine: sub-market not found")

	// ErrChoiceNotFound is returned when an order names a choice the
	// sub-market does not contain.
	ErrChoiceNotFound = errors.New("engine: choice not found")

	// ErrNoPosition is returned when a sell or claim targets a position the
	// user never opened.
	ErrNoPosition = errors.New("engine: no position for this choice")

	// ErrNotResolved is returned when a claim arrives before resolution.
	ErrNotResolved = errors.New("engine: sub-market is not resolved")

	// ErrAlreadyResolved is returned when resolution is attempted twice.
	ErrAlreadyResolved = errors.New("engine: sub-market is already resolved")

	// ErrNotWinningChoice is returned when a claim targets a losing choice.
	ErrNotWinningChoice = errors.New("engine: position is not on the winning choice")

	// ErrAlreadyClaimed is returned when a winning position is claimed twice.
	ErrAlreadyClaimed = errors.New("engine: winnings already claimed")

	// ErrAmountOutOfRange rejects non-positive amounts and amounts large
	// enough to overflow downstream arithmetic.
	ErrAmountOutOfRange = errors.New("engine: amount out of range")

	// ErrBadTimeline is returned when a sub-market's phase timestamps are
	// not strictly ordered.
	ErrBadTimeline = errors.New("engine: sub-market timestamps out of order")

	// ErrBadChoiceSet is returned when a sub-market is created with fewer
	// than two choices or duplicate choice ids.
	ErrBadChoiceSet = errors.New("engine: invalid choice set")

	// ErrLedgerUnavailable wraps failures of the external settlement rail.
	// The paired internal balance change is rolled back before it surfaces.
	ErrLedgerUnavailable = errors.New("engine: external ledger unavailable")
)

// Class buckets engine errors for transport-level mapping. The HTTP layer
// translates each class to a status code without inspecting individual
// sentinels.
type Class int

const (
	ClassInternal Class = iota
	ClassValidation
	ClassAuth
	ClassNotFound
	ClassConflict
)

// Classify assigns an error to its transport class. Unknown errors are
// internal.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassInternal
	case errors.Is(err, ErrNotAuthorized), errors.Is(err, auth.ErrNotOwner):
		return ClassAuth
	case errors.Is(err, store.ErrMarketNotFound),
		errors.Is(err, store.ErrUserNotFound),
		errors.Is(err, store.ErrPortfolioNotFound),
		errors.Is(err, ErrSubMarketNotFound),
		errors.Is(err, ErrChoiceNotFound),
		errors.Is(err, ErrNoPosition):
		return ClassNotFound
	case errors.Is(err, ErrNotBuyingPeriod),
		errors.Is(err, ErrCannotSellYet),
		errors.Is(err, ErrNotSellingPeriod),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrInsufficientShares),
		errors.Is(err, ErrPriceTooFarOff),
		errors.Is(err, ErrNotResolved),
		errors.Is(err, ErrAlreadyResolved),
		errors.Is(err, ErrNotWinningChoice),
		errors.Is(err, ErrAlreadyClaimed),
		errors.Is(err, store.ErrAlreadyExists),
		errors.Is(err, curve.ErrReserveExhausted):
		return ClassConflict
	case errors.Is(err, ErrAmountOutOfRange),
		errors.Is(err, ErrBadTimeline),
		errors.Is(err, ErrBadChoiceSet),
		errors.Is(err, batch.ErrEmptyBatch),
		errors.Is(err, batch.ErrBatchTooLarge),
		errors.Is(err, batch.ErrDuplicateSubMarket),
		errors.Is(err, curve.ErrTooFewChoices),
		errors.Is(err, curve.ErrChoiceIndex),
		errors.Is(err, curve.ErrAmountNotPositive),
		errors.Is(err, curve.ErrSeedNotPositive):
		return ClassValidation
	default:
		return ClassInternal
	}
}
