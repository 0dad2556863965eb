// Package store defines the persistence interface for the trading engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/tallymarket/clob-engine/internal/model"
)

var (
	// ErrMarketNotFound is returned when no market exists for an id.
	ErrMarketNotFound = errors.New("store: market not found")

	// ErrUserNotFound is returned when no user account exists for an id.
	ErrUserNotFound = errors.New("store: user account not found")

	// ErrPortfolioNotFound is returned when a (market, user) portfolio was
	// never created.
	ErrPortfolioNotFound = errors.New("store: portfolio not found")

	// ErrAlreadyExists is returned when creating a record whose key is
	// taken.
	ErrAlreadyExists = errors.New("store: record already exists")
)

// Store is the persistence interface. Records are created once, mutated by
// whole-record writes, and never deleted; the engine serializes conflicting
// writes before they reach the store.
type Store interface {
	// --- Market records ---

	// CreateMarket persists a new market with its sub-markets and choices.
	CreateMarket(ctx context.Context, market *model.Market) error

	// GetMarket retrieves a market by id.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// PutMarket replaces a market record after a trade or resolution.
	PutMarket(ctx context.Context, market *model.Market) error

	// ListMarkets returns all markets.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// --- User accounts ---

	// CreateUser persists a new custodial account.
	CreateUser(ctx context.Context, user *model.UserAccount) error

	// GetUser retrieves a user account by id.
	GetUser(ctx context.Context, id string) (*model.UserAccount, error)

	// PutUser replaces a user account after a balance change.
	PutUser(ctx context.Context, user *model.UserAccount) error

	// --- Portfolios ---

	// GetPortfolio retrieves the (market, user) portfolio. Returns
	// ErrPortfolioNotFound when the user never bought into the market.
	GetPortfolio(ctx context.Context, marketID, userID string) (*model.MarketPortfolio, error)

	// PutPortfolio creates or replaces a portfolio record.
	PutPortfolio(ctx context.Context, portfolio *model.MarketPortfolio) error

	// ListPortfoliosByUser returns all portfolios held by one user.
	ListPortfoliosByUser(ctx context.Context, userID string) ([]model.MarketPortfolio, error)
}
