// Package curve implements the constant-product virtual-reserve market
// maker that prices trading-phase orders.
//
// Each sub-market carries one virtual pot-share reserve per choice and a
// constant-product invariant seeded from its fair-launch deposits. At rest
// the product of all reserves equals the invariant; a buy adds the net
// collateral amount to every reserve and settles the traded reserve back
// onto the invariant, with the difference minted as real shares. Buying one
// choice therefore moves the implied price of every other choice in the
// same sub-market.
//
// All monetary values use shopspring/decimal — never float64 for money.
// Root finding for by-shares quotes runs in float64, with results
// immediately converted back to decimal and rounded. Rounding never favors
// the trader: amounts charged round up, amounts paid out round down.
package curve

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

var (
	// ErrTooFewChoices is returned when a choice set has fewer than two
	// entries.
	ErrTooFewChoices = errors.New("curve: a sub-market needs at least two choices")

	// ErrChoiceIndex is returned when the traded choice index is out of
	// range.
	ErrChoiceIndex = errors.New("curve: choice index out of range")

	// ErrAmountNotPositive is returned for zero or negative order amounts.
	ErrAmountNotPositive = errors.New("curve: amount must be positive")

	// ErrSeedNotPositive is returned when a fair-launch pot is not positive.
	ErrSeedNotPositive = errors.New("curve: every fair-launch pot must be positive")

	// ErrReserveExhausted is returned when a trade would drain a pot-share
	// reserve to zero or below.
	ErrReserveExhausted = errors.New("curve: trade would exhaust a pot-share reserve")

	// ErrInvalidFeeRate is returned when the fee rate is outside [0, 1).
	ErrInvalidFeeRate = errors.New("curve: fee rate must be in [0, 1)")

	// QtyScale is the number of decimal places for share and collateral
	// quantities.
	QtyScale int32 = 9

	// PriceScale is the number of decimal places for per-share prices.
	PriceScale int32 = 8
)

// Quote is the priced outcome of one order before it is committed.
//
// For buys: Gross is debited from the user's balance, Fee goes to the fee
// sink, and Net (= Gross − Fee) is credited to the traded choice's pot.
// For sells: Gross leaves the traded choice's pot, Fee goes to the fee
// sink, and Net is credited to the user's balance.
type Quote struct {
	Shares decimal.Decimal
	Gross  decimal.Decimal
	Net    decimal.Decimal
	Fee    decimal.Decimal
}

// Maker prices orders against a sub-market's reserve snapshot. It is
// stateless — reserves and the invariant are passed as arguments, not
// stored.
type Maker struct {
	feeRate decimal.Decimal
}

// NewMaker creates a market maker charging the given symmetric fee rate on
// the gross collateral amount of every trading-phase order.
func NewMaker(feeRate decimal.Decimal) (*Maker, error) {
	if feeRate.IsNegative() || feeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, ErrInvalidFeeRate
	}
	return &Maker{feeRate: feeRate}, nil
}

// FeeRate returns the configured fee rate.
func (m *Maker) FeeRate() decimal.Decimal {
	return m.feeRate
}

// Seed derives the pot-share reserves and the constant-product invariant
// from the per-choice fair-launch pots.
//
// invariant = total^n and reserve_i = total · G / pot_i, where G is the
// geometric mean of the pots, so that the reserve product equals the
// invariant and the implied price usdcPot/reserve starts at each choice's
// relative deposit weight. Every reserve strictly grows with the total pot.
func Seed(fairLaunchPots []decimal.Decimal) ([]decimal.Decimal, decimal.Decimal, error) {
	n := len(fairLaunchPots)
	if n < 2 {
		return nil, decimal.Zero, ErrTooFewChoices
	}

	total := decimal.Zero
	logSum := 0.0
	for _, pot := range fairLaunchPots {
		if !pot.IsPositive() {
			return nil, decimal.Zero, ErrSeedNotPositive
		}
		total = total.Add(pot)
		logSum += math.Log(pot.InexactFloat64())
	}

	invariant := total.Pow(decimal.NewFromInt(int64(n)))
	geoMean := decimal.NewFromFloat(math.Exp(logSum / float64(n)))

	reserves := make([]decimal.Decimal, n)
	for i, pot := range fairLaunchPots {
		reserves[i] = total.Mul(geoMean).Div(pot).Round(QtyScale)
	}
	return reserves, invariant, nil
}

// BuyByPrice quotes a buy that spends a gross collateral amount on the
// choice at idx. The net amount is added to every reserve; the traded
// reserve settles at invariant / Π(other reserves), and the difference is
// the shares minted.
func (m *Maker) BuyByPrice(reserves []decimal.Decimal, invariant decimal.Decimal, idx int, gross decimal.Decimal) (Quote, error) {
	if err := checkOrder(reserves, idx, gross); err != nil {
		return Quote{}, err
	}

	fee := gross.Mul(m.feeRate).RoundCeil(QtyScale)
	net := gross.Sub(fee)
	if !net.IsPositive() {
		return Quote{}, ErrAmountNotPositive
	}

	settled := invariant.Div(productExcept(reserves, idx, net))
	shares := reserves[idx].Add(net).Sub(settled).RoundFloor(QtyScale)
	if !shares.IsPositive() {
		return Quote{}, ErrReserveExhausted
	}

	return Quote{Shares: shares, Gross: gross, Net: net, Fee: fee}, nil
}

// BuyByShares quotes a buy of an exact share amount on the choice at idx,
// solving for the net collateral x with
//
//	(r_idx + x − shares) · Π_{j≠idx}(r_j + x) = invariant
//
// Two-choice sets use the closed-form quadratic root; larger sets fall back
// to monotone bisection. The fee is grossed up so it stays the configured
// share of the gross spend.
func (m *Maker) BuyByShares(reserves []decimal.Decimal, invariant decimal.Decimal, idx int, shares decimal.Decimal) (Quote, error) {
	if err := checkOrder(reserves, idx, shares); err != nil {
		return Quote{}, err
	}

	rs := toFloats(reserves)
	inv := invariant.InexactFloat64()
	s := shares.InexactFloat64()

	var x float64
	if len(rs) == 2 {
		// Quadratic: x² + (r_idx − s + r_other)·x + (r_idx − s)·r_other − inv = 0.
		other := rs[1-idx]
		b := rs[idx] - s + other
		c := (rs[idx]-s)*other - inv
		disc := b*b - 4*c
		if disc <= 0 {
			return Quote{}, ErrReserveExhausted
		}
		x = (-b + math.Sqrt(disc)) / 2
	} else {
		f := func(x float64) float64 {
			prod := 1.0
			for j, r := range rs {
				if j != idx {
					prod *= r + x
				}
			}
			return (rs[idx]+x-s)*prod - inv
		}
		root, ok := bisectIncreasing(f, s+maxFloat(rs))
		if !ok {
			return Quote{}, ErrReserveExhausted
		}
		x = root
	}
	if x <= 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return Quote{}, ErrReserveExhausted
	}

	net := decimal.NewFromFloat(x).RoundCeil(QtyScale)
	gross := net.Div(decimal.NewFromInt(1).Sub(m.feeRate)).RoundCeil(QtyScale)
	fee := gross.Sub(net)

	return Quote{Shares: shares, Gross: gross, Net: net, Fee: fee}, nil
}

// SellByShares quotes a sale of an exact share amount from the choice at
// idx, solving for the gross proceeds x with
//
//	(r_idx + shares − x) · Π_{j≠idx}(r_j − x) = invariant
//
// The root lies below every untraded reserve; a sale that would need more
// is rejected rather than draining a reserve.
func (m *Maker) SellByShares(reserves []decimal.Decimal, invariant decimal.Decimal, idx int, shares decimal.Decimal) (Quote, error) {
	if err := checkOrder(reserves, idx, shares); err != nil {
		return Quote{}, err
	}

	rs := toFloats(reserves)
	inv := invariant.InexactFloat64()
	s := shares.InexactFloat64()

	var x float64
	if len(rs) == 2 {
		// Quadratic: x² − (A + B)·x + A·B − inv = 0 with A = r_idx + s,
		// B = r_other. The smaller root is the one below both reserves.
		a := rs[idx] + s
		b := rs[1-idx]
		disc := (a+b)*(a+b) - 4*(a*b-inv)
		if disc < 0 {
			return Quote{}, ErrReserveExhausted
		}
		x = ((a + b) - math.Sqrt(disc)) / 2
	} else {
		hi := minExcept(rs, idx)
		f := func(x float64) float64 {
			prod := 1.0
			for j, r := range rs {
				if j != idx {
					prod *= r - x
				}
			}
			return inv - (rs[idx]+s-x)*prod
		}
		root, ok := bisectBounded(f, hi*(1-1e-12))
		if !ok {
			return Quote{}, ErrReserveExhausted
		}
		x = root
	}
	if x <= 0 || math.IsNaN(x) || x >= minExcept(rs, idx) {
		return Quote{}, ErrReserveExhausted
	}

	gross := decimal.NewFromFloat(x).RoundFloor(QtyScale)
	fee := gross.Mul(m.feeRate).RoundCeil(QtyScale)
	net := gross.Sub(fee)
	if !net.IsPositive() {
		return Quote{}, ErrReserveExhausted
	}

	return Quote{Shares: shares, Gross: gross, Net: net, Fee: fee}, nil
}

// SellByPrice quotes a sale that removes a gross collateral amount from the
// choice at idx; the share amount consumed is
//
//	invariant / Π_{j≠idx}(r_j − gross) − (r_idx − gross)
func (m *Maker) SellByPrice(reserves []decimal.Decimal, invariant decimal.Decimal, idx int, gross decimal.Decimal) (Quote, error) {
	if err := checkOrder(reserves, idx, gross); err != nil {
		return Quote{}, err
	}
	for j, r := range reserves {
		if j != idx && !r.Sub(gross).IsPositive() {
			return Quote{}, ErrReserveExhausted
		}
	}

	settled := invariant.Div(productExcept(reserves, idx, gross.Neg()))
	shares := settled.Sub(reserves[idx].Sub(gross)).RoundCeil(QtyScale)
	if !shares.IsPositive() {
		return Quote{}, ErrReserveExhausted
	}

	fee := gross.Mul(m.feeRate).RoundCeil(QtyScale)
	net := gross.Sub(fee)
	if !net.IsPositive() {
		return Quote{}, ErrReserveExhausted
	}

	return Quote{Shares: shares, Gross: gross, Net: net, Fee: fee}, nil
}

// ApplyBuy returns the reserve set after committing a buy quote: every
// reserve gains the net amount, and the traded reserve gives up the minted
// shares.
func ApplyBuy(reserves []decimal.Decimal, idx int, q Quote) []decimal.Decimal {
	out := make([]decimal.Decimal, len(reserves))
	for j, r := range reserves {
		out[j] = r.Add(q.Net)
	}
	out[idx] = out[idx].Sub(q.Shares)
	return out
}

// ApplySell returns the reserve set after committing a sell quote: every
// reserve loses the gross proceeds, and the traded reserve absorbs the
// returned shares.
func ApplySell(reserves []decimal.Decimal, idx int, q Quote) []decimal.Decimal {
	out := make([]decimal.Decimal, len(reserves))
	for j, r := range reserves {
		out[j] = r.Sub(q.Gross)
	}
	out[idx] = out[idx].Add(q.Shares)
	return out
}

// Price computes the instantaneous marginal price of the choice at idx:
// the collateral cost of the next infinitesimal share. 0.5 at a symmetric
// two-choice equilibrium.
func Price(reserves []decimal.Decimal, invariant decimal.Decimal, idx int) (decimal.Decimal, error) {
	if len(reserves) < 2 {
		return decimal.Zero, ErrTooFewChoices
	}
	if idx < 0 || idx >= len(reserves) {
		return decimal.Zero, ErrChoiceIndex
	}

	rs := toFloats(reserves)
	inv := invariant.InexactFloat64()

	prod := 1.0
	recipSum := 0.0
	for j, r := range rs {
		if j != idx {
			prod *= r
			recipSum += 1 / r
		}
	}
	// ds/dx at x = 0 for s(x) = r_idx + x − inv/Π(r_j + x).
	slope := 1 + (inv/prod)*recipSum
	return decimal.NewFromFloat(1 / slope).Round(PriceScale), nil
}

func checkOrder(reserves []decimal.Decimal, idx int, amount decimal.Decimal) error {
	if len(reserves) < 2 {
		return ErrTooFewChoices
	}
	if idx < 0 || idx >= len(reserves) {
		return ErrChoiceIndex
	}
	if !amount.IsPositive() {
		return ErrAmountNotPositive
	}
	return nil
}

// productExcept multiplies every reserve but idx, each shifted by delta.
func productExcept(reserves []decimal.Decimal, idx int, delta decimal.Decimal) decimal.Decimal {
	prod := decimal.NewFromInt(1)
	for j, r := range reserves {
		if j != idx {
			prod = prod.Mul(r.Add(delta))
		}
	}
	return prod
}

func toFloats(reserves []decimal.Decimal) []float64 {
	out := make([]float64, len(reserves))
	for i, r := range reserves {
		out[i] = r.InexactFloat64()
	}
	return out
}

func maxFloat(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

func minExcept(xs []float64, idx int) float64 {
	m := math.Inf(1)
	for j, x := range xs {
		if j != idx && x < m {
			m = x
		}
	}
	return m
}

// bisectIncreasing finds the root of a monotonically increasing f on
// (0, hi], growing hi if needed. Returns false if no sign change exists.
func bisectIncreasing(f func(float64) float64, hi float64) (float64, bool) {
	lo := 0.0
	for grow := 0; f(hi) < 0; grow++ {
		if grow > 64 {
			return 0, false
		}
		lo = hi
		hi *= 2
	}
	for i := 0; i < 200; i++ {
		mid := (lo + hi) / 2
		if f(mid) < 0 {
			lo = mid
		} else {
			hi = mid
		}
		if hi-lo < 1e-12 {
			break
		}
	}
	return (lo + hi) / 2, true
}

// bisectBounded finds the root of an increasing f on a fixed (0, hi]
// interval. Returns false when f does not change sign inside it.
func bisectBounded(f func(float64) float64, hi float64) (float64, bool) {
	if f(hi) < 0 {
		return 0, false
	}
	lo := 0.0
	for i := 0; i < 200; i++ {
		mid := (lo + hi) / 2
		if f(mid) < 0 {
			lo = mid
		} else {
			hi = mid
		}
		if hi-lo < 1e-12 {
			break
		}
	}
	return (lo + hi) / 2, true
}
