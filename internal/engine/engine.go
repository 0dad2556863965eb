// Package engine implements the custodial trading engine: market creation,
// balance custody, fair-launch minting, batched curve trading, resolution,
// and claims.
//
// All monetary values use shopspring/decimal — never float64 for money.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tallymarket/clob-engine/internal/auth"
	"github.com/tallymarket/clob-engine/internal/batch"
	"github.com/tallymarket/clob-engine/internal/curve"
	"github.com/tallymarket/clob-engine/internal/ledger"
	"github.com/tallymarket/clob-engine/internal/metrics"
	"github.com/tallymarket/clob-engine/internal/model"
	"github.com/tallymarket/clob-engine/internal/store"
)

// maxAmount bounds every order, deposit, and withdrawal amount. Values above
// it would lose precision in the float64 root finder.
var maxAmount = decimal.New(1, 15)

// defaultSeed is the per-choice fair-launch pot used when market creation
// does not specify one. Two choices seeded equally open at a price of 0.5.
var defaultSeed = decimal.NewFromInt(50)

// Order kinds, used as metric labels and batch log fields.
const (
	kindBuyByPrice   = "buy_by_price"
	kindBuyByShares  = "buy_by_shares"
	kindSellByPrice  = "sell_by_price"
	kindSellByShares = "sell_by_shares"
	kindFairLaunch   = "fair_launch"
)

// Config carries the collaborators and rates the engine runs with.
type Config struct {
	Store    store.Store
	Registry *auth.Registry
	Ledger   ledger.Adapter
	Maker    *curve.Maker
	Batch    *batch.Validator

	// FeeAccount is the user id fees accrue to. Created on first credit.
	FeeAccount string

	ResolutionFeeRate decimal.Decimal
	WithdrawFeeRate   decimal.Decimal

	// SlippageTolerance is the relative band around the requested price
	// per share within which an order's realized average price must land.
	SlippageTolerance decimal.Decimal

	// Clock overrides time.Now for phase evaluation. Tests use it to step
	// a sub-market through its lifecycle.
	Clock func() time.Time
}

// Engine executes all state-changing operations under one mutex
// (single-instance). For horizontal scaling, replace with distributed
// locking or database-level optimistic concurrency.
type Engine struct {
	mu sync.Mutex

	store    store.Store
	registry *auth.Registry
	ledger   ledger.Adapter
	maker    *curve.Maker
	batch    *batch.Validator

	feeAccount        string
	resolutionFeeRate decimal.Decimal
	withdrawFeeRate   decimal.Decimal
	slippageTol       decimal.Decimal

	clock func() time.Time
}

// New creates an engine from its config.
func New(cfg Config) *Engine {
	clock := cfg.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	feeAccount := cfg.FeeAccount
	if feeAccount == "" {
		feeAccount = "fee-sink"
	}
	return &Engine{
		store:             cfg.Store,
		registry:          cfg.Registry,
		ledger:            cfg.Ledger,
		maker:             cfg.Maker,
		batch:             cfg.Batch,
		feeAccount:        feeAccount,
		resolutionFeeRate: cfg.ResolutionFeeRate,
		withdrawFeeRate:   cfg.WithdrawFeeRate,
		slippageTol:       cfg.SlippageTolerance,
		clock:             clock,
	}
}

// SetAuthorization grants or revokes market-creator status. Owner only,
// idempotent.
func (e *Engine) SetAuthorization(caller, identity string, authorized bool) error {
	if err := e.registry.SetAuthorization(caller, identity, authorized); err != nil {
		return err
	}
	slog.Info("creator authorization set", "identity", identity, "authorized", authorized)
	return nil
}

// --- Market creation ---

// ChoiceParams describes one choice of a new sub-market. A zero Seed takes
// the default house liquidity.
type ChoiceParams struct {
	ID   uint64          `json:"id"`
	Seed decimal.Decimal `json:"seed"`
}

// SubMarketParams describes one sub-market of a new market.
type SubMarketParams struct {
	ID              uint64         `json:"id"`
	Choices         []ChoiceParams `json:"choices"`
	FairLaunchStart time.Time      `json:"fair_launch_start"`
	FairLaunchEnd   time.Time      `json:"fair_launch_end"`
	TradingStart    time.Time      `json:"trading_start"`
	TradingEnd      time.Time      `json:"trading_end"`
}

// CreateMarketParams is the full shape of a market-creation request. All
// sub-markets are created atomically; the set is fixed afterwards.
type CreateMarketParams struct {
	ID         string            `json:"id"`
	SubMarkets []SubMarketParams `json:"sub_markets"`
}

// CreateMarket creates a market with its sub-markets seeded and priced.
// Caller must be an authorized creator.
func (e *Engine) CreateMarket(ctx context.Context, caller string, p CreateMarketParams) (*model.Market, error) {
	if !e.registry.IsAuthorizedCreator(caller) {
		return nil, ErrNotAuthorized
	}
	if len(p.SubMarkets) == 0 {
		return nil, ErrBadChoiceSet
	}

	id := p.ID
	if id == "" {
		id = uuid.New().String()
	}

	market := &model.Market{
		ID:        id,
		Authority: caller,
		CreatedAt: e.clock(),
	}

	seenSub := make(map[uint64]bool, len(p.SubMarkets))
	for _, sp := range p.SubMarkets {
		if seenSub[sp.ID] {
			return nil, ErrBadChoiceSet
		}
		seenSub[sp.ID] = true

		sm, err := buildSubMarket(sp)
		if err != nil {
			return nil, err
		}
		market.SubMarkets = append(market.SubMarkets, *sm)
	}

	if err := e.store.CreateMarket(ctx, market); err != nil {
		return nil, err
	}

	metrics.ActiveMarkets.Inc()
	slog.Info("market created",
		"id", market.ID,
		"authority", caller,
		"sub_markets", len(market.SubMarkets),
	)
	return market, nil
}

func buildSubMarket(p SubMarketParams) (*model.SubMarket, error) {
	if len(p.Choices) < 2 {
		return nil, ErrBadChoiceSet
	}
	if p.FairLaunchStart.After(p.FairLaunchEnd) ||
		p.FairLaunchEnd.After(p.TradingStart) ||
		p.TradingStart.After(p.TradingEnd) {
		return nil, ErrBadTimeline
	}

	seeds := make([]decimal.Decimal, len(p.Choices))
	seenChoice := make(map[uint64]bool, len(p.Choices))
	for i, cp := range p.Choices {
		if seenChoice[cp.ID] {
			return nil, ErrBadChoiceSet
		}
		seenChoice[cp.ID] = true

		seed := cp.Seed
		if seed.IsZero() {
			seed = defaultSeed
		}
		if !seed.IsPositive() || seed.GreaterThan(maxAmount) {
			return nil, ErrAmountOutOfRange
		}
		seeds[i] = seed
	}

	reserves, invariant, err := curve.Seed(seeds)
	if err != nil {
		return nil, err
	}

	sm := &model.SubMarket{
		ID:              p.ID,
		Invariant:       invariant,
		FairLaunchStart: p.FairLaunchStart,
		FairLaunchEnd:   p.FairLaunchEnd,
		TradingStart:    p.TradingStart,
		TradingEnd:      p.TradingEnd,
	}
	for i, cp := range p.Choices {
		sm.Choices = append(sm.Choices, model.Choice{
			ID:            cp.ID,
			UsdcPot:       seeds[i],
			PotShares:     reserves[i],
			FairLaunchPot: seeds[i],
			MintedShares:  decimal.Zero,
		})
	}
	return sm, nil
}

// StartTrading collapses a sub-market's remaining pre-trading windows and
// opens trading immediately. Authorized creators only; a no-op when trading
// is already open, rejected once the sub-market is closed or resolved.
func (e *Engine) StartTrading(ctx context.Context, caller, marketID string, subMarketID uint64) error {
	if !e.registry.IsAuthorizedCreator(caller) {
		return ErrNotAuthorized
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	market, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return err
	}
	sm := market.GetSubMarket(subMarketID)
	if sm == nil {
		return ErrSubMarketNotFound
	}
	if sm.Resolved {
		return ErrAlreadyResolved
	}

	now := e.clock()
	if !now.Before(sm.TradingEnd) {
		return ErrNotBuyingPeriod
	}
	if !now.Before(sm.TradingStart) {
		return nil
	}

	if sm.FairLaunchStart.After(now) {
		sm.FairLaunchStart = now
	}
	if sm.FairLaunchEnd.After(now) {
		sm.FairLaunchEnd = now
	}
	sm.TradingStart = now

	if err := e.store.PutMarket(ctx, market); err != nil {
		return err
	}
	slog.Info("trading opened early",
		"market", marketID,
		"sub_market", subMarketID,
	)
	return nil
}

// --- Custody ---

// CreateUser opens a custodial account with a zero balance. Custodian only.
func (e *Engine) CreateUser(ctx context.Context, caller, userID string) (*model.UserAccount, error) {
	if !e.registry.IsCustodian(caller) {
		return nil, ErrNotAuthorized
	}
	if userID == "" {
		return nil, ErrAmountOutOfRange
	}

	user := &model.UserAccount{
		ID:        userID,
		Balance:   decimal.Zero,
		CreatedAt: e.clock(),
	}
	if err := e.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	slog.Info("user created", "user", userID)
	return user, nil
}

// Deposit moves collateral from the user's external account into custody.
// Custodian only.
func (e *Engine) Deposit(ctx context.Context, caller, userID string, amount decimal.Decimal) (*model.UserAccount, error) {
	if !e.registry.IsCustodian(caller) {
		return nil, ErrNotAuthorized
	}
	if err := checkAmount(amount); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := e.ledger.DebitExternal(ctx, userID, amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}

	user.Balance = user.Balance.Add(amount)
	if err := e.store.PutUser(ctx, user); err != nil {
		// Return the external funds; custody never holds what it cannot record.
		if rerr := e.ledger.CreditExternal(ctx, userID, amount); rerr != nil {
			slog.Error("deposit reversal failed, external debit unmatched",
				"user", userID, "amount", amount.String(), "error", rerr)
		}
		return nil, err
	}

	slog.Info("deposit", "user", userID, "amount", amount.String(), "balance", user.Balance.String())
	return user, nil
}

// Withdraw moves collateral from custody back to the user's external
// account, net of the withdrawal fee. Custodian only. If the external leg
// fails the internal debit is rolled back.
func (e *Engine) Withdraw(ctx context.Context, caller, userID string, amount decimal.Decimal) (*model.UserAccount, error) {
	if !e.registry.IsCustodian(caller) {
		return nil, ErrNotAuthorized
	}
	if err := checkAmount(amount); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Balance.LessThan(amount) {
		return nil, ErrInsufficientBalance
	}

	fee := amount.Mul(e.withdrawFeeRate).RoundCeil(curve.QtyScale)
	net := amount.Sub(fee)
	if !net.IsPositive() {
		return nil, ErrAmountOutOfRange
	}

	user.Balance = user.Balance.Sub(amount)
	if err := e.store.PutUser(ctx, user); err != nil {
		return nil, err
	}

	if err := e.ledger.CreditExternal(ctx, userID, net); err != nil {
		user.Balance = user.Balance.Add(amount)
		if rerr := e.store.PutUser(ctx, user); rerr != nil {
			slog.Error("withdrawal rollback failed, internal debit unmatched",
				"user", userID, "amount", amount.String(), "error", rerr)
		}
		return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}

	e.creditFee(ctx, fee, "withdrawal")
	slog.Info("withdrawal",
		"user", userID,
		"amount", amount.String(),
		"fee", fee.String(),
		"balance", user.Balance.String(),
	)
	return user, nil
}

// --- Trading ---

// BuyByPrice executes a batch of buys that each spend an exact collateral
// amount. Custodian only.
func (e *Engine) BuyByPrice(ctx context.Context, caller, userID, marketID string, orders []model.Order) ([]model.OrderResult, error) {
	return e.executeBatch(ctx, caller, userID, marketID, orders, kindBuyByPrice)
}

// BuyByShares executes a batch of buys that each acquire an exact share
// amount. Custodian only.
func (e *Engine) BuyByShares(ctx context.Context, caller, userID, marketID string, orders []model.Order) ([]model.OrderResult, error) {
	return e.executeBatch(ctx, caller, userID, marketID, orders, kindBuyByShares)
}

// SellByPrice executes a batch of sells that each realize an exact gross
// collateral amount. Custodian only.
func (e *Engine) SellByPrice(ctx context.Context, caller, userID, marketID string, orders []model.Order) ([]model.OrderResult, error) {
	return e.executeBatch(ctx, caller, userID, marketID, orders, kindSellByPrice)
}

// SellByShares executes a batch of sells that each return an exact share
// amount. Custodian only.
func (e *Engine) SellByShares(ctx context.Context, caller, userID, marketID string, orders []model.Order) ([]model.OrderResult, error) {
	return e.executeBatch(ctx, caller, userID, marketID, orders, kindSellByShares)
}

// FairLaunchBuy executes a batch of fair-launch deposits, minting shares
// 1:1 against collateral. Every order must land inside its sub-market's
// fair-launch window. Custodian only.
func (e *Engine) FairLaunchBuy(ctx context.Context, caller, userID, marketID string, orders []model.Order) ([]model.OrderResult, error) {
	return e.executeBatch(ctx, caller, userID, marketID, orders, kindFairLaunch)
}

// executeBatch runs the shared batch pipeline. Batch-shape problems fail the
// whole call before any state change; per-order problems fail only that
// order, with every prior order staying committed and later orders still
// attempted.
func (e *Engine) executeBatch(ctx context.Context, caller, userID, marketID string, orders []model.Order, kind string) ([]model.OrderResult, error) {
	if !e.registry.IsCustodian(caller) {
		return nil, ErrNotAuthorized
	}
	if err := e.batch.Check(orders); err != nil {
		return nil, err
	}
	for _, o := range orders {
		if err := checkAmount(o.Amount); err != nil {
			return nil, err
		}
		// Fair-launch mints settle at exactly 1, so they carry no
		// requested price.
		if kind != kindFairLaunch && !o.RequestedPricePerShare.IsPositive() {
			return nil, ErrAmountOutOfRange
		}
	}

	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	market, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	portfolio, err := e.store.GetPortfolio(ctx, marketID, userID)
	if errors.Is(err, store.ErrPortfolioNotFound) {
		portfolio = &model.MarketPortfolio{MarketID: marketID, UserID: userID}
	} else if err != nil {
		return nil, err
	}

	now := e.clock()
	totalFee := decimal.Zero
	results := make([]model.OrderResult, len(orders))
	filled := 0

	for i, o := range orders {
		res := e.executeOrder(market, user, portfolio, o, kind, now, &totalFee)
		results[i] = res
		if res.Err != nil {
			metrics.OrdersTotal.WithLabelValues(kind, "rejected").Inc()
			continue
		}
		metrics.OrdersTotal.WithLabelValues(kind, "filled").Inc()
		filled++
	}

	if filled > 0 {
		if err := e.store.PutMarket(ctx, market); err != nil {
			return nil, err
		}
		if err := e.store.PutUser(ctx, user); err != nil {
			return nil, err
		}
		if err := e.store.PutPortfolio(ctx, portfolio); err != nil {
			return nil, err
		}
		e.creditFee(ctx, totalFee, "trade")
	}

	metrics.OrderLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	slog.Info("batch executed",
		"kind", kind,
		"user", userID,
		"market", marketID,
		"orders", len(orders),
		"filled", filled,
		"fees", totalFee.String(),
	)
	return results, nil
}

// executeOrder prices and commits one order against the in-memory snapshot.
// On error it leaves market, user, and portfolio untouched.
func (e *Engine) executeOrder(market *model.Market, user *model.UserAccount, portfolio *model.MarketPortfolio, o model.Order, kind string, now time.Time, totalFee *decimal.Decimal) model.OrderResult {
	res := model.OrderResult{Order: o}
	fail := func(err error) model.OrderResult {
		res.Err = err
		res.ErrMsg = err.Error()
		return res
	}

	sm := market.GetSubMarket(o.SubMarketID)
	if sm == nil {
		return fail(ErrSubMarketNotFound)
	}
	idx := -1
	for j := range sm.Choices {
		if sm.Choices[j].ID == o.ChoiceID {
			idx = j
			break
		}
	}
	if idx < 0 {
		return fail(ErrChoiceNotFound)
	}

	phase := sm.PhaseAt(now)
	if kind == kindFairLaunch {
		if phase != model.PhaseFairLaunch {
			return fail(ErrNotBuyingPeriod)
		}
		return e.fairLaunchBuy(sm, idx, user, portfolio, o)
	}
	buying := kind == kindBuyByPrice || kind == kindBuyByShares

	if buying && phase == model.PhaseFairLaunch {
		return e.fairLaunchBuy(sm, idx, user, portfolio, o)
	}
	if phase != model.PhaseTrading {
		if buying {
			return fail(ErrNotBuyingPeriod)
		}
		if phase == model.PhaseFairLaunch || phase == model.PhasePreLaunch {
			return fail(ErrCannotSellYet)
		}
		return fail(ErrNotSellingPeriod)
	}

	reserves := sm.PotShares()
	var quote curve.Quote
	var err error
	switch kind {
	case kindBuyByPrice:
		quote, err = e.maker.BuyByPrice(reserves, sm.Invariant, idx, o.Amount)
	case kindBuyByShares:
		quote, err = e.maker.BuyByShares(reserves, sm.Invariant, idx, o.Amount)
	case kindSellByPrice:
		quote, err = e.maker.SellByPrice(reserves, sm.Invariant, idx, o.Amount)
	case kindSellByShares:
		quote, err = e.maker.SellByShares(reserves, sm.Invariant, idx, o.Amount)
	}
	if err != nil {
		return fail(err)
	}

	// Funds checks come before the slippage band: a seller with no position
	// (or too few shares) learns that, not that the quote moved.
	choice := &sm.Choices[idx]
	var pos *model.Position
	if !buying {
		pos = portfolio.GetPosition(sm.ID, choice.ID)
		if pos == nil {
			return fail(ErrNoPosition)
		}
		if pos.Shares.LessThan(quote.Shares) {
			return fail(ErrInsufficientShares)
		}
	}

	avg := quote.Net.Div(quote.Shares).Round(curve.PriceScale)
	if avg.Sub(o.RequestedPricePerShare).Abs().GreaterThan(o.RequestedPricePerShare.Mul(e.slippageTol)) {
		return fail(ErrPriceTooFarOff)
	}

	if buying {
		if user.Balance.LessThan(quote.Gross) {
			return fail(ErrInsufficientBalance)
		}
		user.Balance = user.Balance.Sub(quote.Gross)
		choice.UsdcPot = choice.UsdcPot.Add(quote.Net)
		choice.MintedShares = choice.MintedShares.Add(quote.Shares)
		portfolio.AddShares(sm.ID, choice.ID, quote.Shares)
		setReserves(sm, curve.ApplyBuy(reserves, idx, quote))
	} else {
		if choice.UsdcPot.LessThan(quote.Gross) {
			return fail(curve.ErrReserveExhausted)
		}
		pos.Shares = pos.Shares.Sub(quote.Shares)
		user.Balance = user.Balance.Add(quote.Net)
		choice.UsdcPot = choice.UsdcPot.Sub(quote.Gross)
		choice.MintedShares = choice.MintedShares.Sub(quote.Shares)
		setReserves(sm, curve.ApplySell(reserves, idx, quote))
	}

	*totalFee = totalFee.Add(quote.Fee)
	res.Shares = quote.Shares
	res.Cost = quote.Gross
	res.Fee = quote.Fee
	res.AvgPrice = avg
	return res
}

// fairLaunchBuy mints shares 1:1 against collateral and reseeds the curve
// from the updated fair-launch pots, so trading opens at prices matching the
// launch-time deposit weights. No fee and no slippage band apply.
func (e *Engine) fairLaunchBuy(sm *model.SubMarket, idx int, user *model.UserAccount, portfolio *model.MarketPortfolio, o model.Order) model.OrderResult {
	res := model.OrderResult{Order: o}
	fail := func(err error) model.OrderResult {
		res.Err = err
		res.ErrMsg = err.Error()
		return res
	}

	if user.Balance.LessThan(o.Amount) {
		return fail(ErrInsufficientBalance)
	}

	pots := make([]decimal.Decimal, len(sm.Choices))
	for j := range sm.Choices {
		pots[j] = sm.Choices[j].FairLaunchPot
	}
	pots[idx] = pots[idx].Add(o.Amount)

	reserves, invariant, err := curve.Seed(pots)
	if err != nil {
		return fail(err)
	}

	choice := &sm.Choices[idx]
	user.Balance = user.Balance.Sub(o.Amount)
	choice.UsdcPot = choice.UsdcPot.Add(o.Amount)
	choice.FairLaunchPot = choice.FairLaunchPot.Add(o.Amount)
	choice.MintedShares = choice.MintedShares.Add(o.Amount)
	portfolio.AddShares(sm.ID, choice.ID, o.Amount)

	sm.Invariant = invariant
	setReserves(sm, reserves)

	res.Shares = o.Amount
	res.Cost = o.Amount
	res.Fee = decimal.Zero
	res.AvgPrice = decimal.NewFromInt(1)
	return res
}

// --- Resolution and claims ---

// Resolve settles a sub-market on its winning choice and skims the
// resolution fee pro rata from every choice pot. Authorized creators only;
// a sub-market resolves at most once.
func (e *Engine) Resolve(ctx context.Context, caller, marketID string, subMarketID, winningChoiceID uint64) error {
	if !e.registry.IsAuthorizedCreator(caller) {
		return ErrNotAuthorized
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	market, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return err
	}
	sm := market.GetSubMarket(subMarketID)
	if sm == nil {
		return ErrSubMarketNotFound
	}
	if sm.Resolved {
		return ErrAlreadyResolved
	}
	winner := sm.GetChoice(winningChoiceID)
	if winner == nil {
		return ErrChoiceNotFound
	}

	fee := decimal.Zero
	for i := range sm.Choices {
		cut := sm.Choices[i].UsdcPot.Mul(e.resolutionFeeRate).RoundCeil(curve.QtyScale)
		sm.Choices[i].UsdcPot = sm.Choices[i].UsdcPot.Sub(cut)
		fee = fee.Add(cut)
	}

	sm.Resolved = true
	winner.WinningChoice = true

	if err := e.store.PutMarket(ctx, market); err != nil {
		return err
	}
	e.creditFee(ctx, fee, "resolution")

	if allResolved(market) {
		metrics.ActiveMarkets.Dec()
	}
	slog.Info("sub-market resolved",
		"market", marketID,
		"sub_market", subMarketID,
		"winner", winningChoiceID,
		"fee", fee.String(),
		"pot", sm.TotalPot().String(),
	)
	return nil
}

// Claim pays out a winning position: shares/mintedShares of the post-fee
// total pot, rounded down. Custodian only; each position claims at most
// once, and only the winning choice pays.
func (e *Engine) Claim(ctx context.Context, caller, userID, marketID string, subMarketID, choiceID uint64) (decimal.Decimal, error) {
	if !e.registry.IsCustodian(caller) {
		return decimal.Zero, ErrNotAuthorized
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	market, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return decimal.Zero, err
	}
	sm := market.GetSubMarket(subMarketID)
	if sm == nil {
		return decimal.Zero, ErrSubMarketNotFound
	}
	choice := sm.GetChoice(choiceID)
	if choice == nil {
		return decimal.Zero, ErrChoiceNotFound
	}
	if !sm.Resolved {
		return decimal.Zero, ErrNotResolved
	}

	portfolio, err := e.store.GetPortfolio(ctx, marketID, userID)
	if errors.Is(err, store.ErrPortfolioNotFound) {
		return decimal.Zero, ErrNoPosition
	}
	if err != nil {
		return decimal.Zero, err
	}
	pos := portfolio.GetPosition(subMarketID, choiceID)
	if pos == nil {
		return decimal.Zero, ErrNoPosition
	}
	if !choice.WinningChoice {
		return decimal.Zero, ErrNotWinningChoice
	}
	if pos.Claimed {
		return decimal.Zero, ErrAlreadyClaimed
	}

	shares := pos.Shares
	payout := decimal.Zero
	if shares.IsPositive() && choice.MintedShares.IsPositive() {
		payout = shares.Div(choice.MintedShares).Mul(sm.TotalPot()).RoundFloor(curve.QtyScale)
	}
	pos.Shares = decimal.Zero
	pos.Claimed = true

	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	user.Balance = user.Balance.Add(payout)

	if err := e.store.PutPortfolio(ctx, portfolio); err != nil {
		return decimal.Zero, err
	}
	if err := e.store.PutUser(ctx, user); err != nil {
		return decimal.Zero, err
	}

	metrics.ClaimsTotal.Inc()
	slog.Info("winnings claimed",
		"market", marketID,
		"sub_market", subMarketID,
		"user", userID,
		"shares", shares.String(),
		"payout", payout.String(),
	)
	return payout, nil
}

// --- Queries ---

// Market returns one market by id.
func (e *Engine) Market(ctx context.Context, id string) (*model.Market, error) {
	return e.store.GetMarket(ctx, id)
}

// Markets lists all markets.
func (e *Engine) Markets(ctx context.Context) ([]model.Market, error) {
	return e.store.ListMarkets(ctx)
}

// User returns one custodial account by id.
func (e *Engine) User(ctx context.Context, id string) (*model.UserAccount, error) {
	return e.store.GetUser(ctx, id)
}

// Portfolio returns a user's positions within one market.
func (e *Engine) Portfolio(ctx context.Context, marketID, userID string) (*model.MarketPortfolio, error) {
	return e.store.GetPortfolio(ctx, marketID, userID)
}

// Portfolios lists a user's portfolios across all markets.
func (e *Engine) Portfolios(ctx context.Context, userID string) ([]model.MarketPortfolio, error) {
	return e.store.ListPortfoliosByUser(ctx, userID)
}

// ChoicePrice pairs a choice with its instantaneous marginal price.
type ChoicePrice struct {
	ChoiceID uint64          `json:"choice_id"`
	Price    decimal.Decimal `json:"price"`
}

// Prices returns the marginal price of every choice in a sub-market.
func (e *Engine) Prices(ctx context.Context, marketID string, subMarketID uint64) ([]ChoicePrice, error) {
	market, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	sm := market.GetSubMarket(subMarketID)
	if sm == nil {
		return nil, ErrSubMarketNotFound
	}

	reserves := sm.PotShares()
	out := make([]ChoicePrice, len(sm.Choices))
	for i := range sm.Choices {
		price, err := curve.Price(reserves, sm.Invariant, i)
		if err != nil {
			return nil, err
		}
		out[i] = ChoicePrice{ChoiceID: sm.Choices[i].ID, Price: price}
	}
	return out, nil
}

// --- Helpers ---

func checkAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() || amount.GreaterThan(maxAmount) {
		return ErrAmountOutOfRange
	}
	return nil
}

func setReserves(sm *model.SubMarket, reserves []decimal.Decimal) {
	for i := range sm.Choices {
		sm.Choices[i].PotShares = reserves[i]
	}
}

func allResolved(m *model.Market) bool {
	for i := range m.SubMarkets {
		if !m.SubMarkets[i].Resolved {
			return false
		}
	}
	return true
}

// creditFee accrues collateral to the fee sink account, creating it on
// first use. Fee accrual is best effort and never fails the operation that
// earned the fee.
func (e *Engine) creditFee(ctx context.Context, amount decimal.Decimal, source string) {
	if !amount.IsPositive() {
		return
	}

	sink, err := e.store.GetUser(ctx, e.feeAccount)
	if errors.Is(err, store.ErrUserNotFound) {
		sink = &model.UserAccount{ID: e.feeAccount, CreatedAt: e.clock()}
		if err := e.store.CreateUser(ctx, sink); err != nil {
			slog.Error("fee sink creation failed", "error", err)
			return
		}
	} else if err != nil {
		slog.Error("fee accrual failed", "error", err)
		return
	}

	sink.Balance = sink.Balance.Add(amount)
	if err := e.store.PutUser(ctx, sink); err != nil {
		slog.Error("fee accrual failed", "error", err)
		return
	}
	metrics.FeeVolume.WithLabelValues(source).Add(amount.InexactFloat64())
}
