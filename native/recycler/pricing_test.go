package recycler

import (
	"errors"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
)

func TestWeightPriceAt(t *testing.T) {
	const deployed = uint64(1_000_000)
	day := uint64(SecondsPerDay)
	half := new(big.Int).Div(Wad(), big.NewInt(2))
	cases := []struct {
		name   string
		params Params
		now    uint64
		want   *big.Int
	}{
		{"flat curve", Params{BasePrice: Wad()}, deployed + 40*day, Wad()},
		{"before deployment", Params{BasePrice: Wad(), DecayRatePPM: 500_000}, deployed - 1, Wad()},
		{"partial day rounds down", Params{BasePrice: Wad(), DecayRatePPM: 500_000}, deployed + day - 1, Wad()},
		{"one day of half decay", Params{BasePrice: Wad(), DecayRatePPM: 500_000}, deployed + day, half},
		{"floored at one", Params{BasePrice: Wad(), DecayRatePPM: 500_000}, deployed + 2*day, big.NewInt(1)},
		{"far past floor", Params{BasePrice: Wad(), DecayRatePPM: 1_000_000}, deployed + 365*day, big.NewInt(1)},
		{"growth only", Params{BasePrice: big.NewInt(100), GrowthSlopePerDay: big.NewInt(10)}, deployed + 3*day, big.NewInt(130)},
		{"growth against decay", Params{BasePrice: big.NewInt(1_000), DecayRatePPM: 100_000, GrowthSlopePerDay: big.NewInt(50)}, deployed + 4*day, big.NewInt(800)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := WeightPriceAt(tc.params, deployed, tc.now)
			if err != nil {
				t.Fatalf("price: %v", err)
			}
			if got.Cmp(tc.want) != 0 {
				t.Fatalf("want %s, got %s", tc.want, got)
			}
		})
	}
}

func TestWeightPriceOverflow(t *testing.T) {
	max := new(uint256.Int).SetAllOne().ToBig()
	_, err := WeightPriceAt(Params{BasePrice: max, GrowthSlopePerDay: big.NewInt(1)}, 0, SecondsPerDay)
	if !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestParamsValidate(t *testing.T) {
	if err := (Params{}).Validate(); !errors.Is(err, ErrPriceZero) {
		t.Fatalf("expected zero price, got %v", err)
	}
	if err := (Params{BasePrice: big.NewInt(1), DecayRatePPM: PPMDenominator + 1}).Validate(); !errors.Is(err, ErrParameterOutOfBounds) {
		t.Fatalf("expected out of bounds, got %v", err)
	}
	if err := (Params{BasePrice: big.NewInt(1), GrowthSlopePerDay: big.NewInt(-1)}).Validate(); !errors.Is(err, ErrParameterOutOfBounds) {
		t.Fatalf("expected negative slope rejection, got %v", err)
	}
	if err := (Params{BasePrice: big.NewInt(1), DecayRatePPM: PPMDenominator}).Validate(); err != nil {
		t.Fatalf("full decay rate must be allowed: %v", err)
	}
}

func TestQuoteRoundTrip(t *testing.T) {
	rates := []*big.Int{
		big.NewInt(1),
		big.NewInt(3),
		big.NewInt(999_999_999_999_999_999),
		Wad(),
		new(big.Int).Mul(big.NewInt(7), Wad()),
		new(big.Int).Div(Wad(), big.NewInt(3)),
	}
	units := []int64{1, 2, 17, 1_000, 123_456_789}
	for _, rate := range rates {
		for _, u := range units {
			target := big.NewInt(u)
			payment, err := PaymentForUnitsCeil(rate, target)
			if err != nil {
				t.Fatalf("ceil quote: %v", err)
			}
			got, err := UnitsForPayment(rate, payment)
			if err != nil {
				t.Fatalf("floor quote: %v", err)
			}
			if got.Cmp(target) < 0 {
				t.Fatalf("rate %s units %d: payment %s buys only %s", rate, u, payment, got)
			}
			if payment.Sign() > 0 {
				less, _ := UnitsForPayment(rate, new(big.Int).Sub(payment, big.NewInt(1)))
				if less.Cmp(target) >= 0 {
					t.Fatalf("rate %s units %d: payment %s is not minimal", rate, u, payment)
				}
			}
		}
	}
	if _, err := PaymentForUnitsCeil(big.NewInt(0), big.NewInt(1)); !errors.Is(err, ErrDivisionByZeroRate) {
		t.Fatalf("expected zero rate, got %v", err)
	}
	if _, err := UnitsForPayment(nil, big.NewInt(1)); !errors.Is(err, ErrDivisionByZeroRate) {
		t.Fatalf("expected zero rate, got %v", err)
	}
}

func TestEngineQuotes(t *testing.T) {
	f := newFixture(t)
	units, err := f.engine.QuoteUnitsToConsume(assetAddr, big.NewInt(1_000))
	if err != nil {
		t.Fatalf("units quote: %v", err)
	}
	requireBig(t, 2_000, units, "units")
	payment, err := f.engine.QuoteNativeForUnitsCeil(assetAddr, big.NewInt(3))
	if err != nil {
		t.Fatalf("native quote: %v", err)
	}
	requireBig(t, 2, payment, "payment")

	f.registry[assetAddr] = Asset{Eligible: false, Enabled: true, Rate: twoPerWad}
	if _, err := f.engine.QuoteNativeForUnitsCeil(assetAddr, big.NewInt(3)); !errors.Is(err, ErrAssetNotEligible) {
		t.Fatalf("expected ineligible asset, got %v", err)
	}
	if _, err := f.engine.QuoteUnitsToConsume(assetAddr, big.NewInt(3)); err != nil {
		t.Fatalf("units quote ignores eligibility: %v", err)
	}
}

func TestMulDivHelpers(t *testing.T) {
	seven := uint256.NewInt(7)
	two := uint256.NewInt(2)
	three := uint256.NewInt(3)
	if z, _ := mulDiv(seven, two, three); z.Uint64() != 4 {
		t.Fatalf("floor(14/3) = %d", z.Uint64())
	}
	if z, _ := mulDivUp(seven, two, three); z.Uint64() != 5 {
		t.Fatalf("ceil(14/3) = %d", z.Uint64())
	}
	if z, _ := mulDivUp(three, two, three); z.Uint64() != 2 {
		t.Fatalf("ceil(6/3) = %d", z.Uint64())
	}
	if _, err := mulDiv(seven, two, new(uint256.Int)); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected division by zero to fail, got %v", err)
	}
	max := new(uint256.Int).SetAllOne()
	if z, err := mulDiv(max, max, max); err != nil || !z.Eq(max) {
		t.Fatalf("wide intermediate product lost precision: %v %v", z, err)
	}
	if _, err := mulDiv(max, max, two); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if saturatingSub(two, seven).Sign() != 0 {
		t.Fatalf("saturating subtraction went negative")
	}
	if _, err := toU256(big.NewInt(-1)); !errors.Is(err, errNegativeAmount) {
		t.Fatalf("expected negative rejection, got %v", err)
	}
}
