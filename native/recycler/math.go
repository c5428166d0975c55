package recycler

import (
	"math/big"

	"github.com/holiman/uint256"
)

const (
	// PPMDenominator is the parts-per-million scale used by DecayRatePPM.
	PPMDenominator = 1_000_000
	// SecondsPerDay is the granularity of the price curve.
	SecondsPerDay = 24 * 60 * 60
)

var (
	wad    = uint256.NewInt(1_000_000_000_000_000_000)
	ppm    = uint256.NewInt(PPMDenominator)
	one    = uint256.NewInt(1)
	wadBig = wad.ToBig()
)

// Wad returns the 1e18 fixed-point scale.
func Wad() *big.Int {
	return new(big.Int).Set(wadBig)
}

func toU256(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, errNegativeAmount
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return out, nil
}

// mulDiv returns floor(x*y/d) with a 512-bit intermediate product.
func mulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrArithmeticOverflow
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return z, nil
}

// mulDivUp returns ceil(x*y/d).
func mulDivUp(x, y, d *uint256.Int) (*uint256.Int, error) {
	z, err := mulDiv(x, y, d)
	if err != nil {
		return nil, err
	}
	if new(uint256.Int).MulMod(x, y, d).IsZero() {
		return z, nil
	}
	return add(z, one)
}

func add(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return z, nil
}

func mul(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return z, nil
}

// saturatingSub returns x-y, or zero when y exceeds x.
func saturatingSub(x, y *uint256.Int) *uint256.Int {
	if x.Lt(y) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(x, y)
}
