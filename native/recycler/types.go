package recycler

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"recycler/core/state"
	"recycler/core/types"
)

// Params configures the weight price curve. The set is only ever replaced as a
// whole.
type Params struct {
	// BasePrice is the day-zero price of one unit of weight, in payment wei
	// per 1e18 weight.
	BasePrice *big.Int
	// DecayRatePPM is the fraction of BasePrice removed per elapsed day,
	// expressed in parts per million.
	DecayRatePPM uint64
	// GrowthSlopePerDay is added to the price for every elapsed day.
	GrowthSlopePerDay *big.Int
}

// Clone returns a deep copy of the parameters.
func (p Params) Clone() Params {
	return Params{
		BasePrice:         copyBig(p.BasePrice),
		DecayRatePPM:      p.DecayRatePPM,
		GrowthSlopePerDay: copyBig(p.GrowthSlopePerDay),
	}
}

// Validate enforces the parameter bounds.
func (p Params) Validate() error {
	if p.BasePrice == nil || p.BasePrice.Sign() <= 0 {
		return ErrPriceZero
	}
	if p.DecayRatePPM > PPMDenominator {
		return ErrParameterOutOfBounds
	}
	if p.GrowthSlopePerDay != nil && p.GrowthSlopePerDay.Sign() < 0 {
		return ErrParameterOutOfBounds
	}
	if _, err := toU256(p.BasePrice); err != nil {
		return err
	}
	if _, err := toU256(p.GrowthSlopePerDay); err != nil {
		return err
	}
	return nil
}

// Asset is the registry's view of a recyclable asset.
type Asset struct {
	Eligible bool
	Enabled  bool
	Decimals uint8
	// Rate is the number of consumable units per 1e18 of payment.
	Rate          *big.Int
	CapacityUnits *big.Int
}

// Active reports whether the asset may currently be recycled.
func (a Asset) Active() bool {
	return a.Eligible && a.Enabled
}

// RecycleResult summarises a successful recycle call.
type RecycleResult struct {
	Participant   common.Address
	Asset         common.Address
	PaymentPaid   *big.Int
	UnitsConsumed *big.Int
	Proceeds      *big.Int
	WeightMinted  *big.Int
	Price         *big.Int
}

// Position is the accounting view of a single participant.
type Position struct {
	Weight     *big.Int
	RewardDebt *big.Int
	Claimable  *big.Int
	Pending    *big.Int
}

// Totals is the global accounting view.
type Totals struct {
	TotalWeight        *big.Int
	AccRewardPerWeight *big.Int
	TotalProceeds      *big.Int
	TotalClaimed       *big.Int
	StrandedProceeds   *big.Int
}

// Registry describes assets. It owns eligibility decisions.
type Registry interface {
	Describe(asset common.Address) (Asset, error)
}

// QuotaLedger tracks recyclable units per participant and asset. Consume must
// fail without effect when the caller is unauthorised or the quota is short.
type QuotaLedger interface {
	QueryQuota(participant, asset common.Address) (*big.Int, error)
	Consume(participant, asset common.Address, units *big.Int) error
}

// Router forwards a payment held by the engine account and returns the amount
// it claims to have credited back. The report is never trusted on its own.
type Router interface {
	Route(participant common.Address, amount *big.Int) (*big.Int, error)
}

// Bank moves base currency between accounts.
type Bank interface {
	Balance(addr common.Address) (*big.Int, error)
	Transfer(from, to common.Address, amount *big.Int) error
}

// engineState describes the journaled storage the engine persists into. Every
// operation runs between Snapshot and either success or RevertToSnapshot.
type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	Snapshot() int
	RevertToSnapshot(id int)
	AppendEvent(evt *types.Event) (*state.EventRecord, error)
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
