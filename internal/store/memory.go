package store

import (
	"context"
	"sync"

	"github.com/tallymarket/clob-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu         sync.RWMutex
	markets    map[string]*model.Market
	users      map[string]*model.UserAccount
	portfolios map[portfolioKey]*model.MarketPortfolio
}

type portfolioKey struct {
	marketID string
	userID   string
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets:    make(map[string]*model.Market),
		users:      make(map[string]*model.UserAccount),
		portfolios: make(map[portfolioKey]*model.MarketPortfolio),
	}
}

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[m.ID]; ok {
		return ErrAlreadyExists
	}
	s.markets[m.ID] = copyMarket(m)
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, ErrMarketNotFound
	}
	return copyMarket(m), nil
}

func (s *MemoryStore) PutMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[m.ID]; !ok {
		return ErrMarketNotFound
	}
	s.markets[m.ID] = copyMarket(m)
	return nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *copyMarket(m))
	}
	return markets, nil
}

func (s *MemoryStore) CreateUser(_ context.Context, u *model.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.ID]; ok {
		return ErrAlreadyExists
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) PutUser(_ context.Context, u *model.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.ID]; !ok {
		return ErrUserNotFound
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *MemoryStore) GetPortfolio(_ context.Context, marketID, userID string) (*model.MarketPortfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.portfolios[portfolioKey{marketID, userID}]
	if !ok {
		return nil, ErrPortfolioNotFound
	}
	return copyPortfolio(p), nil
}

func (s *MemoryStore) PutPortfolio(_ context.Context, p *model.MarketPortfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.portfolios[portfolioKey{p.MarketID, p.UserID}] = copyPortfolio(p)
	return nil
}

func (s *MemoryStore) ListPortfoliosByUser(_ context.Context, userID string) ([]model.MarketPortfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.MarketPortfolio
	for key, p := range s.portfolios {
		if key.userID == userID {
			out = append(out, *copyPortfolio(p))
		}
	}
	return out, nil
}

// Deep copies keep callers from mutating stored state through shared
// slices.

func copyMarket(m *model.Market) *model.Market {
	cp := *m
	cp.SubMarkets = make([]model.SubMarket, len(m.SubMarkets))
	for i, sm := range m.SubMarkets {
		cp.SubMarkets[i] = sm
		cp.SubMarkets[i].Choices = append([]model.Choice(nil), sm.Choices...)
	}
	return &cp
}

func copyPortfolio(p *model.MarketPortfolio) *model.MarketPortfolio {
	cp := *p
	cp.Positions = append([]model.Position(nil), p.Positions...)
	return &cp
}
