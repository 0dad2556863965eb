package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tallymarket/clob-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, refresh or invalidate cache) ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.cacheMarket(ctx, m)
	return nil
}

func (s *CachedStore) PutMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.PutMarket(ctx, m); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, marketKey(m.ID))
	return nil
}

func (s *CachedStore) CreateUser(ctx context.Context, u *model.UserAccount) error {
	if err := s.primary.CreateUser(ctx, u); err != nil {
		return err
	}
	s.cacheUser(ctx, u)
	return nil
}

func (s *CachedStore) PutUser(ctx context.Context, u *model.UserAccount) error {
	if err := s.primary.PutUser(ctx, u); err != nil {
		return err
	}
	s.rdb.Del(ctx, userKey(u.ID))
	return nil
}

func (s *CachedStore) PutPortfolio(ctx context.Context, p *model.MarketPortfolio) error {
	if err := s.primary.PutPortfolio(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, portfolioCacheKey(p.MarketID, p.UserID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) GetUser(ctx context.Context, id string) (*model.UserAccount, error) {
	data, err := s.rdb.Get(ctx, userKey(id)).Bytes()
	if err == nil {
		var u model.UserAccount
		if json.Unmarshal(data, &u) == nil {
			return &u, nil
		}
	}

	u, err := s.primary.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheUser(ctx, u)
	return u, nil
}

func (s *CachedStore) GetPortfolio(ctx context.Context, marketID, userID string) (*model.MarketPortfolio, error) {
	data, err := s.rdb.Get(ctx, portfolioCacheKey(marketID, userID)).Bytes()
	if err == nil {
		var p model.MarketPortfolio
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetPortfolio(ctx, marketID, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, portfolioCacheKey(marketID, userID), data, s.ttl)
	}
	return p, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) ListPortfoliosByUser(ctx context.Context, userID string) ([]model.MarketPortfolio, error) {
	return s.primary.ListPortfoliosByUser(ctx, userID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.Market) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(m.ID), data, s.ttl)
	}
}

func (s *CachedStore) cacheUser(ctx context.Context, u *model.UserAccount) {
	if data, err := json.Marshal(u); err == nil {
		s.rdb.Set(ctx, userKey(u.ID), data, s.ttl)
	}
}

func marketKey(id string) string { return fmt.Sprintf("market:%s", id) }
func userKey(id string) string   { return fmt.Sprintf("user:%s", id) }

func portfolioCacheKey(marketID, userID string) string {
	return fmt.Sprintf("portfolio:%s:%s", marketID, userID)
}
