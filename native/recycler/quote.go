package recycler

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// UnitsForPayment returns floor(payment*rate/1e18).
func UnitsForPayment(rate, payment *big.Int) (*big.Int, error) {
	r, err := toU256(rate)
	if err != nil {
		return nil, err
	}
	p, err := toU256(payment)
	if err != nil {
		return nil, err
	}
	units, err := unitsForPayment(r, p)
	if err != nil {
		return nil, err
	}
	return units.ToBig(), nil
}

// PaymentForUnitsCeil returns the smallest payment whose floor conversion
// yields at least units, i.e. ceil(units*1e18/rate).
func PaymentForUnitsCeil(rate, units *big.Int) (*big.Int, error) {
	r, err := toU256(rate)
	if err != nil {
		return nil, err
	}
	u, err := toU256(units)
	if err != nil {
		return nil, err
	}
	if r.IsZero() {
		return nil, ErrDivisionByZeroRate
	}
	payment, err := mulDivUp(u, wad, r)
	if err != nil {
		return nil, err
	}
	return payment.ToBig(), nil
}

func unitsForPayment(rate, payment *uint256.Int) (*uint256.Int, error) {
	if rate.IsZero() {
		return nil, ErrDivisionByZeroRate
	}
	return mulDiv(payment, rate, wad)
}

// QuoteUnitsToConsume returns the units a payment of the given size would
// consume for asset.
func (e *Engine) QuoteUnitsToConsume(asset common.Address, payment *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	desc, err := e.describe(asset)
	if err != nil {
		return nil, err
	}
	return UnitsForPayment(desc.Rate, payment)
}

// QuoteNativeForUnitsCeil returns the minimal payment that consumes at least
// units of asset.
func (e *Engine) QuoteNativeForUnitsCeil(asset common.Address, units *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	desc, err := e.describe(asset)
	if err != nil {
		return nil, err
	}
	if !desc.Active() {
		return nil, ErrAssetNotEligible
	}
	return PaymentForUnitsCeil(desc.Rate, units)
}
