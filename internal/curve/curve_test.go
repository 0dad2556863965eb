package curve

import (
	"testing"

	"github.com/shopspring/decimal"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func mustMaker(t *testing.T, feeRate float64) *Maker {
	t.Helper()
	m, err := NewMaker(d(feeRate))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return m
}

func within(t *testing.T, got, want decimal.Decimal, tol float64, label string) {
	t.Helper()
	if got.Sub(want).Abs().GreaterThan(d(tol)) {
		t.Errorf("%s: got %s, want ≈ %s", label, got, want)
	}
}

// --- Constructor tests ---

func TestNewMaker_Valid(t *testing.T) {
	m := mustMaker(t, 0.005)
	if !m.FeeRate().Equal(d(0.005)) {
		t.Errorf("expected fee rate 0.005, got %s", m.FeeRate())
	}
}

func TestNewMaker_InvalidFeeRate(t *testing.T) {
	for _, rate := range []float64{-0.01, 1, 1.5} {
		if _, err := NewMaker(d(rate)); err != ErrInvalidFeeRate {
			t.Errorf("expected ErrInvalidFeeRate for rate %v, got %v", rate, err)
		}
	}
}

// --- Seeding tests ---

func TestSeed_SymmetricTwoChoice(t *testing.T) {
	reserves, invariant, err := Seed([]decimal.Decimal{d(50), d(50)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !invariant.Equal(d(10000)) {
		t.Errorf("expected invariant 10000, got %s", invariant)
	}
	for i, r := range reserves {
		within(t, r, d(100), 1e-6, "reserve")
		if !r.IsPositive() {
			t.Errorf("reserve %d should be positive, got %s", i, r)
		}
	}
}

func TestSeed_SkewedDepositsSkewReserves(t *testing.T) {
	// The heavier-funded choice gets the smaller reserve, i.e. the higher
	// implied price usdcPot/reserve.
	reserves, _, err := Seed([]decimal.Decimal{d(80), d(20)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reserves[0].GreaterThanOrEqual(reserves[1]) {
		t.Errorf("heavier deposit should hold the smaller reserve: %s vs %s",
			reserves[0], reserves[1])
	}
}

func TestSeed_ThreeChoiceProductMatchesInvariant(t *testing.T) {
	reserves, invariant, err := Seed([]decimal.Decimal{d(50), d(30), d(20)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	prod := decimal.NewFromInt(1)
	for _, r := range reserves {
		prod = prod.Mul(r)
	}
	// total^3 = 1e6; allow rounding noise from the geometric mean.
	within(t, prod, invariant, 1.0, "reserve product")
}

func TestSeed_ReservesGrowWithDeposits(t *testing.T) {
	before, _, _ := Seed([]decimal.Decimal{d(50), d(50)})
	after, _, err := Seed([]decimal.Decimal{d(60), d(50)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range before {
		if after[i].LessThanOrEqual(before[i]) {
			t.Errorf("reserve %d should grow with deposits: %s -> %s",
				i, before[i], after[i])
		}
	}
}

func TestSeed_Rejections(t *testing.T) {
	if _, _, err := Seed([]decimal.Decimal{d(50)}); err != ErrTooFewChoices {
		t.Errorf("expected ErrTooFewChoices, got %v", err)
	}
	if _, _, err := Seed([]decimal.Decimal{d(50), d(0)}); err != ErrSeedNotPositive {
		t.Errorf("expected ErrSeedNotPositive, got %v", err)
	}
}

// --- Buy-by-price tests ---

// The literal scenario from the fair-launch seed: 50/50 pots, reserves
// 100/100, invariant 10000; a gross 5 buy at a 0.5% fee nets 4.975 into the
// pot and mints ≈ 9.714223625 shares at an average price of ≈ 0.5121.
func TestBuyByPrice_ReferenceScenario(t *testing.T) {
	m := mustMaker(t, 0.005)
	reserves := []decimal.Decimal{d(100), d(100)}

	q, err := m.BuyByPrice(reserves, d(10000), 0, d(5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	within(t, q.Fee, d(0.025), 1e-9, "fee")
	within(t, q.Net, d(4.975), 1e-9, "net")
	within(t, q.Shares, d(9.714223625), 1e-6, "shares")

	avg := q.Net.Div(q.Shares)
	within(t, avg, d(0.5121), 1e-4, "avg price")

	after := ApplyBuy(reserves, 0, q)
	within(t, after[0], d(95.260776375), 1e-6, "traded reserve")
	within(t, after[1], d(104.975), 1e-9, "untraded reserve")
}

func TestBuyByPrice_MovesUntradedPrice(t *testing.T) {
	m := mustMaker(t, 0.005)
	reserves := []decimal.Decimal{d(100), d(100)}
	inv := d(10000)

	before, _ := Price(reserves, inv, 1)
	q, err := m.BuyByPrice(reserves, inv, 0, d(5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	after, _ := Price(ApplyBuy(reserves, 0, q), inv, 1)

	if !after.LessThan(before) {
		t.Errorf("buying choice 0 should lower choice 1's price: %s -> %s",
			before, after)
	}
}

func TestBuyByPrice_Rejections(t *testing.T) {
	m := mustMaker(t, 0.005)
	reserves := []decimal.Decimal{d(100), d(100)}

	if _, err := m.BuyByPrice(reserves, d(10000), 0, d(0)); err != ErrAmountNotPositive {
		t.Errorf("expected ErrAmountNotPositive, got %v", err)
	}
	if _, err := m.BuyByPrice(reserves, d(10000), 5, d(1)); err != ErrChoiceIndex {
		t.Errorf("expected ErrChoiceIndex, got %v", err)
	}
	if _, err := m.BuyByPrice([]decimal.Decimal{d(100)}, d(10000), 0, d(1)); err != ErrTooFewChoices {
		t.Errorf("expected ErrTooFewChoices, got %v", err)
	}
}

// --- Buy-by-shares tests ---

func TestBuyByShares_InvertsBuyByPrice(t *testing.T) {
	m := mustMaker(t, 0.005)
	reserves := []decimal.Decimal{d(100), d(100)}
	inv := d(10000)

	byPrice, err := m.BuyByPrice(reserves, inv, 0, d(5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	byShares, err := m.BuyByShares(reserves, inv, 0, byPrice.Shares)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	within(t, byShares.Net, byPrice.Net, 1e-6, "net")
	within(t, byShares.Gross, byPrice.Gross, 1e-6, "gross")
}

func TestBuyByShares_ThreeChoices(t *testing.T) {
	m := mustMaker(t, 0.005)
	reserves, inv, err := Seed([]decimal.Decimal{d(50), d(30), d(20)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	q, err := m.BuyByShares(reserves, inv, 1, d(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !q.Net.IsPositive() || !q.Fee.IsPositive() {
		t.Fatalf("expected positive net and fee, got net=%s fee=%s", q.Net, q.Fee)
	}

	// Committing the quote must land the traded reserve back on the
	// invariant: product of reserves ≈ invariant.
	after := ApplyBuy(reserves, 1, q)
	prod := decimal.NewFromInt(1)
	for _, r := range after {
		prod = prod.Mul(r)
	}
	within(t, prod, inv, 5.0, "post-trade product")
}

// --- Sell tests ---

func TestSellByShares_RoundTripReturnsNet(t *testing.T) {
	m := mustMaker(t, 0.005)
	reserves := []decimal.Decimal{d(100), d(100)}
	inv := d(10000)

	buy, err := m.BuyByPrice(reserves, inv, 0, d(5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	after := ApplyBuy(reserves, 0, buy)

	sell, err := m.SellByShares(after, inv, 0, buy.Shares)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Selling the freshly minted shares pulls the original net deposit back
	// out of the pot, minus the sell-side fee.
	within(t, sell.Gross, buy.Net, 1e-6, "gross proceeds")
	within(t, sell.Net, buy.Net.Mul(d(0.995)), 1e-6, "net proceeds")

	restored := ApplySell(after, 0, sell)
	within(t, restored[0], reserves[0], 1e-6, "restored traded reserve")
	within(t, restored[1], reserves[1], 1e-6, "restored untraded reserve")
}

func TestSellByShares_OversizedSaleKeepsReservesPositive(t *testing.T) {
	// The constant product admits a root for any finite sale: proceeds
	// converge on the smallest untraded reserve without reaching it. An
	// enormous sale therefore quotes, but never drains a reserve. Whether
	// that many shares exist is the caller's check, not the curve's.
	m := mustMaker(t, 0.005)
	reserves := []decimal.Decimal{d(100), d(100)}
	inv := d(10000)

	sell, err := m.SellByShares(reserves, inv, 0, d(100000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sell.Gross.GreaterThanOrEqual(d(100)) {
		t.Errorf("proceeds must stay below the untraded reserve, got %s", sell.Gross)
	}

	after := ApplySell(reserves, 0, sell)
	for i, r := range after {
		if !r.IsPositive() {
			t.Errorf("reserve %d should stay positive, got %s", i, r)
		}
	}
	within(t, after[0].Mul(after[1]), inv, 1, "post-sale reserve product")
}

func TestSellByPrice_SharesCoverProceeds(t *testing.T) {
	m := mustMaker(t, 0.005)
	reserves := []decimal.Decimal{d(100), d(100)}
	inv := d(10000)

	buy, err := m.BuyByPrice(reserves, inv, 0, d(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	after := ApplyBuy(reserves, 0, buy)

	sell, err := m.SellByPrice(after, inv, 0, d(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sell.Shares.IsPositive() {
		t.Fatalf("expected positive share amount, got %s", sell.Shares)
	}
	if sell.Shares.GreaterThan(buy.Shares) {
		t.Errorf("selling 3 of a 10-unit position should not need %s shares", sell.Shares)
	}
	within(t, sell.Net, d(3).Mul(d(0.995)), 1e-6, "net proceeds")
}

func TestSellByPrice_RejectsOversizedProceeds(t *testing.T) {
	m := mustMaker(t, 0.005)
	reserves := []decimal.Decimal{d(100), d(100)}

	if _, err := m.SellByPrice(reserves, d(10000), 0, d(100)); err != ErrReserveExhausted {
		t.Errorf("expected ErrReserveExhausted, got %v", err)
	}
}

// --- Price tests ---

func TestPrice_SymmetricEquilibrium(t *testing.T) {
	price, err := Price([]decimal.Decimal{d(100), d(100)}, d(10000), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	within(t, price, d(0.5), 1e-8, "equilibrium price")
}

func TestPrice_BuyingRaisesOwnPrice(t *testing.T) {
	m := mustMaker(t, 0.005)
	reserves := []decimal.Decimal{d(100), d(100)}
	inv := d(10000)

	before, _ := Price(reserves, inv, 0)
	q, err := m.BuyByPrice(reserves, inv, 0, d(5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	after, _ := Price(ApplyBuy(reserves, 0, q), inv, 0)

	if !after.GreaterThan(before) {
		t.Errorf("buying should raise the traded choice's price: %s -> %s",
			before, after)
	}
}
