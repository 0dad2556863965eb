// Package model defines the core domain types shared across the trading
// engine. All monetary and share values use shopspring/decimal — never
// float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Phase is the lifecycle state of a sub-market. Phases advance in order and
// are never revisited: PreLaunch → FairLaunch → Trading → (Closed|Resolved).
type Phase string

const (
	PhasePreLaunch  Phase = "pre_launch"
	PhaseFairLaunch Phase = "fair_launch"
	PhaseTrading    Phase = "trading"
	PhaseClosed     Phase = "closed"
	PhaseResolved   Phase = "resolved"
)

// Market is a container of independent sub-markets created atomically by an
// authorized creator. The sub-market list is fixed at creation.
type Market struct {
	ID         string      `json:"id" db:"id"`
	Authority  string      `json:"authority" db:"authority"`
	SubMarkets []SubMarket `json:"sub_markets" db:"sub_markets"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
}

// SubMarket is one independent multi-way outcome market with its own phase
// clock, choice set, and collateral pots.
//
// Invariant holds the constant-product target for the pricing curve: the
// product of all choice pot-share reserves equals Invariant at rest.
type SubMarket struct {
	ID              uint64          `json:"id" db:"id"`
	Invariant       decimal.Decimal `json:"invariant" db:"invariant"`
	Choices         []Choice        `json:"choices" db:"choices"`
	FairLaunchStart time.Time       `json:"fair_launch_start" db:"fair_launch_start"`
	FairLaunchEnd   time.Time       `json:"fair_launch_end" db:"fair_launch_end"`
	TradingStart    time.Time       `json:"trading_start" db:"trading_start"`
	TradingEnd      time.Time       `json:"trading_end" db:"trading_end"`
	Resolved        bool            `json:"resolved" db:"resolved"`
}

// Choice is one possible outcome of a sub-market.
//
// PotShares is the virtual reserve used only by the pricing curve; it is
// distinct from MintedShares, the cumulative real shares issued against this
// choice and held across all portfolios (plus shares zeroed at claim).
type Choice struct {
	ID            uint64          `json:"id" db:"id"`
	UsdcPot       decimal.Decimal `json:"usdc_pot" db:"usdc_pot"`
	PotShares     decimal.Decimal `json:"pot_shares" db:"pot_shares"`
	MintedShares  decimal.Decimal `json:"minted_shares" db:"minted_shares"`
	FairLaunchPot decimal.Decimal `json:"fair_launch_pot" db:"fair_launch_pot"`
	WinningChoice bool            `json:"winning_choice" db:"winning_choice"`
}

// PhaseAt evaluates the sub-market's phase from the supplied clock value.
// The operative boundary for trading-phase behavior is FairLaunchEnd;
// TradingEnd bounds the window in which trading orders are accepted.
// Resolution overrides time.
func (s *SubMarket) PhaseAt(now time.Time) Phase {
	if s.Resolved {
		return PhaseResolved
	}
	if now.Before(s.FairLaunchStart) {
		return PhasePreLaunch
	}
	if now.Before(s.FairLaunchEnd) {
		return PhaseFairLaunch
	}
	if !now.After(s.TradingEnd) {
		return PhaseTrading
	}
	return PhaseClosed
}

// GetChoice returns a pointer to the choice with the given id, or nil.
func (s *SubMarket) GetChoice(choiceID uint64) *Choice {
	for i := range s.Choices {
		if s.Choices[i].ID == choiceID {
			return &s.Choices[i]
		}
	}
	return nil
}

// TotalPot is the collateral currently backing the sub-market across all
// choices.
func (s *SubMarket) TotalPot() decimal.Decimal {
	total := decimal.Zero
	for i := range s.Choices {
		total = total.Add(s.Choices[i].UsdcPot)
	}
	return total
}

// PotShares returns the choice pot-share reserves in choice order.
func (s *SubMarket) PotShares() []decimal.Decimal {
	out := make([]decimal.Decimal, len(s.Choices))
	for i := range s.Choices {
		out[i] = s.Choices[i].PotShares
	}
	return out
}

// GetSubMarket returns a pointer to the sub-market with the given id, or nil.
func (m *Market) GetSubMarket(subMarketID uint64) *SubMarket {
	for i := range m.SubMarkets {
		if m.SubMarkets[i].ID == subMarketID {
			return &m.SubMarkets[i]
		}
	}
	return nil
}

// UserAccount is a custodial collateral balance record. Balance is never
// negative.
type UserAccount struct {
	ID        string          `json:"id" db:"id"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Position is a per-(sub-market, choice) share holding with its claim flag.
type Position struct {
	SubMarketID uint64          `json:"sub_market_id"`
	ChoiceID    uint64          `json:"choice_id"`
	Shares      decimal.Decimal `json:"shares"`
	Claimed     bool            `json:"claimed"`
}

// MarketPortfolio holds one user's positions within one market. Positions
// are created lazily on first buy and never deleted; selling or claiming
// against a position that was never created fails.
type MarketPortfolio struct {
	MarketID  string     `json:"market_id" db:"market_id"`
	UserID    string     `json:"user_id" db:"user_id"`
	Positions []Position `json:"positions" db:"positions"`
}

// GetPosition returns the position for (subMarketID, choiceID), or nil if
// the user never bought into that choice.
func (p *MarketPortfolio) GetPosition(subMarketID, choiceID uint64) *Position {
	for i := range p.Positions {
		if p.Positions[i].SubMarketID == subMarketID && p.Positions[i].ChoiceID == choiceID {
			return &p.Positions[i]
		}
	}
	return nil
}

// AddShares credits shares to the (subMarketID, choiceID) position, creating
// it if this is the user's first buy into that choice.
func (p *MarketPortfolio) AddShares(subMarketID, choiceID uint64, shares decimal.Decimal) {
	if pos := p.GetPosition(subMarketID, choiceID); pos != nil {
		pos.Shares = pos.Shares.Add(shares)
		return
	}
	p.Positions = append(p.Positions, Position{
		SubMarketID: subMarketID,
		ChoiceID:    choiceID,
		Shares:      shares,
	})
}

// Order is one entry of a batch submitted by the custodian on a user's
// behalf. Amount is shares for by-shares orders and collateral for by-price
// orders.
type Order struct {
	SubMarketID            uint64          `json:"sub_market_id"`
	ChoiceID               uint64          `json:"choice_id"`
	Amount                 decimal.Decimal `json:"amount"`
	RequestedPricePerShare decimal.Decimal `json:"requested_price_per_share"`
}

// OrderResult reports the outcome of one order in a batch. A failed order
// carries Err and applied no state change; prior orders in the same batch
// remain committed.
type OrderResult struct {
	Order    Order           `json:"order"`
	Shares   decimal.Decimal `json:"shares"`
	Cost     decimal.Decimal `json:"cost"`
	Fee      decimal.Decimal `json:"fee"`
	AvgPrice decimal.Decimal `json:"avg_price"`
	Err      error           `json:"-"`
	ErrMsg   string          `json:"error,omitempty"`
}
