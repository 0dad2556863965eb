package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tallymarket/clob-engine/internal/model"
)

func testMarket(id string) *model.Market {
	return &model.Market{
		ID:        id,
		Authority: "owner",
		SubMarkets: []model.SubMarket{{
			ID:        1,
			Invariant: decimal.NewFromInt(10000),
			Choices: []model.Choice{
				{ID: 1, UsdcPot: decimal.NewFromInt(50), PotShares: decimal.NewFromInt(100)},
				{ID: 2, UsdcPot: decimal.NewFromInt(50), PotShares: decimal.NewFromInt(100)},
			},
		}},
		CreatedAt: time.Now().UTC(),
	}
}

func TestMemoryStoreMarkets(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	if err := ms.CreateMarket(ctx, testMarket("m1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := ms.CreateMarket(ctx, testMarket("m1")); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if _, err := ms.GetMarket(ctx, "nope"); !errors.Is(err, ErrMarketNotFound) {
		t.Fatalf("expected ErrMarketNotFound, got %v", err)
	}
	if err := ms.PutMarket(ctx, testMarket("nope")); !errors.Is(err, ErrMarketNotFound) {
		t.Fatalf("put unknown: expected ErrMarketNotFound, got %v", err)
	}

	m, err := ms.GetMarket(ctx, "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	m.SubMarkets[0].Choices[0].UsdcPot = decimal.NewFromInt(999)

	// The stored copy must not see the caller's mutation.
	again, err := ms.GetMarket(ctx, "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !again.SubMarkets[0].Choices[0].UsdcPot.Equal(decimal.NewFromInt(50)) {
		t.Errorf("stored market was mutated through a returned copy")
	}
}

func TestMemoryStoreUsers(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	u := &model.UserAccount{ID: "alice", Balance: decimal.NewFromInt(10)}
	if err := ms.CreateUser(ctx, u); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := ms.CreateUser(ctx, u); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if _, err := ms.GetUser(ctx, "bob"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	u.Balance = decimal.NewFromInt(25)
	if err := ms.PutUser(ctx, u); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := ms.GetUser(ctx, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Balance.Equal(decimal.NewFromInt(25)) {
		t.Errorf("balance: got %s", got.Balance)
	}
}

func TestMemoryStorePortfolios(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	if _, err := ms.GetPortfolio(ctx, "m1", "alice"); !errors.Is(err, ErrPortfolioNotFound) {
		t.Fatalf("expected ErrPortfolioNotFound, got %v", err)
	}

	p := &model.MarketPortfolio{
		MarketID: "m1",
		UserID:   "alice",
		Positions: []model.Position{
			{SubMarketID: 1, ChoiceID: 1, Shares: decimal.NewFromInt(5)},
		},
	}
	// PutPortfolio upserts: first write creates.
	if err := ms.PutPortfolio(ctx, p); err != nil {
		t.Fatalf("put: %v", err)
	}

	p.Positions[0].Shares = decimal.NewFromInt(8)
	if err := ms.PutPortfolio(ctx, p); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := ms.GetPortfolio(ctx, "m1", "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Positions[0].Shares.Equal(decimal.NewFromInt(8)) {
		t.Errorf("shares: got %s", got.Positions[0].Shares)
	}

	list, err := ms.ListPortfoliosByUser(ctx, "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 portfolio, got %d", len(list))
	}
}
