package recycler

import (
	"math/big"

	"github.com/holiman/uint256"
)

// DaysElapsed returns the number of whole days between deployedAt and now.
// Timestamps before deployment count as day zero.
func DaysElapsed(deployedAt, now uint64) uint64 {
	if now <= deployedAt {
		return 0
	}
	return (now - deployedAt) / SecondsPerDay
}

// WeightPriceAt evaluates the price curve for the supplied parameters at now.
// The result never drops below one.
func WeightPriceAt(params Params, deployedAt, now uint64) (*big.Int, error) {
	price, err := weightPrice(params, DaysElapsed(deployedAt, now))
	if err != nil {
		return nil, err
	}
	return price.ToBig(), nil
}

func weightPrice(params Params, days uint64) (*uint256.Int, error) {
	base, err := toU256(params.BasePrice)
	if err != nil {
		return nil, err
	}
	slope, err := toU256(params.GrowthSlopePerDay)
	if err != nil {
		return nil, err
	}
	elapsed := uint256.NewInt(days)

	growth, err := mul(slope, elapsed)
	if err != nil {
		return nil, err
	}
	scaledRate, err := mul(uint256.NewInt(params.DecayRatePPM), elapsed)
	if err != nil {
		return nil, err
	}
	decay, err := mulDiv(base, scaledRate, ppm)
	if err != nil {
		return nil, err
	}
	price, err := add(base, growth)
	if err != nil {
		return nil, err
	}
	if !decay.Lt(price) {
		return new(uint256.Int).Set(one), nil
	}
	return new(uint256.Int).Sub(price, decay), nil
}
