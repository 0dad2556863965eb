package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tallymarket/clob-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Balances are stored as NUMERIC for exact decimal precision; the nested
// sub-market/choice and position structures are read and written whole, so
// they ride as JSONB documents:
//
//	markets    (id TEXT PRIMARY KEY, authority TEXT, sub_markets JSONB, created_at TIMESTAMPTZ)
//	users      (id TEXT PRIMARY KEY, balance NUMERIC, created_at TIMESTAMPTZ)
//	portfolios (market_id TEXT, user_id TEXT, positions JSONB, PRIMARY KEY (market_id, user_id))
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	subMarkets, err := json.Marshal(m.SubMarkets)
	if err != nil {
		return fmt.Errorf("create market %s: %w", m.ID, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO markets (id, authority, sub_markets, created_at)
		 VALUES ($1, $2, $3, $4)`,
		m.ID, m.Authority, subMarkets, m.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	var m model.Market
	var subMarkets []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, authority, sub_markets, created_at FROM markets WHERE id = $1`, id).
		Scan(&m.ID, &m.Authority, &subMarkets, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMarketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	if err := json.Unmarshal(subMarkets, &m.SubMarkets); err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return &m, nil
}

func (s *PostgresStore) PutMarket(ctx context.Context, m *model.Market) error {
	subMarkets, err := json.Marshal(m.SubMarkets)
	if err != nil {
		return fmt.Errorf("put market %s: %w", m.ID, err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET sub_markets = $2 WHERE id = $1`,
		m.ID, subMarkets,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMarketNotFound
	}
	return nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, authority, sub_markets, created_at FROM markets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		var m model.Market
		var subMarkets []byte
		if err := rows.Scan(&m.ID, &m.Authority, &subMarkets, &m.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(subMarkets, &m.SubMarkets); err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.UserAccount) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, balance, created_at) VALUES ($1, $2::NUMERIC, $3)`,
		u.ID, u.Balance.String(), u.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.UserAccount, error) {
	var u model.UserAccount
	var balance string

	err := s.pool.QueryRow(ctx,
		`SELECT id, balance::TEXT, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &balance, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}

	u.Balance, err = decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return &u, nil
}

func (s *PostgresStore) PutUser(ctx context.Context, u *model.UserAccount) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET balance = $2::NUMERIC WHERE id = $1`,
		u.ID, u.Balance.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *PostgresStore) GetPortfolio(ctx context.Context, marketID, userID string) (*model.MarketPortfolio, error) {
	var p model.MarketPortfolio
	var positions []byte

	err := s.pool.QueryRow(ctx,
		`SELECT market_id, user_id, positions FROM portfolios
		 WHERE market_id = $1 AND user_id = $2`, marketID, userID).
		Scan(&p.MarketID, &p.UserID, &positions)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPortfolioNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get portfolio %s/%s: %w", marketID, userID, err)
	}
	if err := json.Unmarshal(positions, &p.Positions); err != nil {
		return nil, fmt.Errorf("get portfolio %s/%s: %w", marketID, userID, err)
	}
	return &p, nil
}

func (s *PostgresStore) PutPortfolio(ctx context.Context, p *model.MarketPortfolio) error {
	positions, err := json.Marshal(p.Positions)
	if err != nil {
		return fmt.Errorf("put portfolio %s/%s: %w", p.MarketID, p.UserID, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO portfolios (market_id, user_id, positions)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (market_id, user_id) DO UPDATE SET positions = EXCLUDED.positions`,
		p.MarketID, p.UserID, positions,
	)
	return err
}

func (s *PostgresStore) ListPortfoliosByUser(ctx context.Context, userID string) ([]model.MarketPortfolio, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT market_id, user_id, positions FROM portfolios WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.MarketPortfolio
	for rows.Next() {
		var p model.MarketPortfolio
		var positions []byte
		if err := rows.Scan(&p.MarketID, &p.UserID, &positions); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(positions, &p.Positions); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
