package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"recycler/core/types"
)

const (
	// TypeRecyclerInitialized is emitted once when the engine is configured
	// with its owner and first parameter set.
	TypeRecyclerInitialized = "recycler.initialized"
	// TypeRecyclerParamsSet is emitted whenever the owner replaces the price
	// curve parameters.
	TypeRecyclerParamsSet = "recycler.params.set"
	// TypeRecyclerRecycled is emitted for every successful recycle call.
	TypeRecyclerRecycled = "recycler.recycled"
	// TypeRecyclerClaimed is emitted when a participant withdraws proceeds.
	TypeRecyclerClaimed = "recycler.claimed"
	// TypeRecyclerOwnershipTransferStarted is emitted when the owner nominates
	// a successor.
	TypeRecyclerOwnershipTransferStarted = "recycler.ownership.transfer_started"
	// TypeRecyclerOwnershipTransferred is emitted when the nominated successor
	// accepts control.
	TypeRecyclerOwnershipTransferred = "recycler.ownership.transferred"
)

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// RecyclerInitialized captures the initial owner and deployment timestamp.
type RecyclerInitialized struct {
	Owner      common.Address
	DeployedAt uint64
}

// EventType implements the Event interface.
func (RecyclerInitialized) EventType() string { return TypeRecyclerInitialized }

// Event converts the initialisation record to the generic event payload.
func (e RecyclerInitialized) Event() *types.Event {
	return &types.Event{
		Type: TypeRecyclerInitialized,
		Attributes: map[string]string{
			"owner":      e.Owner.Hex(),
			"deployedAt": strconv.FormatUint(e.DeployedAt, 10),
		},
	}
}

// RecyclerParamsSet captures the full parameter set installed by the owner.
type RecyclerParamsSet struct {
	BasePrice         *big.Int
	DecayRatePPM      uint64
	GrowthSlopePerDay *big.Int
}

// EventType implements the Event interface.
func (RecyclerParamsSet) EventType() string { return TypeRecyclerParamsSet }

// Event converts the parameter update to the generic event payload.
func (e RecyclerParamsSet) Event() *types.Event {
	return &types.Event{
		Type: TypeRecyclerParamsSet,
		Attributes: map[string]string{
			"basePrice":         bigString(e.BasePrice),
			"decayRatePPM":      strconv.FormatUint(e.DecayRatePPM, 10),
			"growthSlopePerDay": bigString(e.GrowthSlopePerDay),
		},
	}
}

// RecyclerRecycled captures the inputs and outputs of a recycle call.
type RecyclerRecycled struct {
	Participant   common.Address
	Asset         common.Address
	PaymentPaid   *big.Int
	UnitsConsumed *big.Int
	Proceeds      *big.Int
	WeightMinted  *big.Int
}

// EventType implements the Event interface.
func (RecyclerRecycled) EventType() string { return TypeRecyclerRecycled }

// Event converts the recycle outcome to the generic event payload.
func (e RecyclerRecycled) Event() *types.Event {
	return &types.Event{
		Type: TypeRecyclerRecycled,
		Attributes: map[string]string{
			types.ParticipantKey: e.Participant.Hex(),
			"asset":              e.Asset.Hex(),
			"paymentPaid":        bigString(e.PaymentPaid),
			"unitsConsumed":      bigString(e.UnitsConsumed),
			"proceeds":           bigString(e.Proceeds),
			"weightMinted":       bigString(e.WeightMinted),
		},
	}
}

// RecyclerClaimed captures a successful payout of accrued proceeds.
type RecyclerClaimed struct {
	Participant common.Address
	Amount      *big.Int
}

// EventType implements the Event interface.
func (RecyclerClaimed) EventType() string { return TypeRecyclerClaimed }

// Event converts the claim to the generic event payload.
func (e RecyclerClaimed) Event() *types.Event {
	return &types.Event{
		Type: TypeRecyclerClaimed,
		Attributes: map[string]string{
			types.ParticipantKey: e.Participant.Hex(),
			"amount":             bigString(e.Amount),
		},
	}
}

// RecyclerOwnershipTransferStarted captures the nomination of a successor.
type RecyclerOwnershipTransferStarted struct {
	Owner     common.Address
	Successor common.Address
}

// EventType implements the Event interface.
func (RecyclerOwnershipTransferStarted) EventType() string {
	return TypeRecyclerOwnershipTransferStarted
}

// Event converts the nomination to the generic event payload.
func (e RecyclerOwnershipTransferStarted) Event() *types.Event {
	return &types.Event{
		Type: TypeRecyclerOwnershipTransferStarted,
		Attributes: map[string]string{
			"owner":     e.Owner.Hex(),
			"successor": e.Successor.Hex(),
		},
	}
}

// RecyclerOwnershipTransferred captures the completed hand-over.
type RecyclerOwnershipTransferred struct {
	PreviousOwner common.Address
	NewOwner      common.Address
}

// EventType implements the Event interface.
func (RecyclerOwnershipTransferred) EventType() string { return TypeRecyclerOwnershipTransferred }

// Event converts the hand-over to the generic event payload.
func (e RecyclerOwnershipTransferred) Event() *types.Event {
	return &types.Event{
		Type: TypeRecyclerOwnershipTransferred,
		Attributes: map[string]string{
			"previousOwner": e.PreviousOwner.Hex(),
			"newOwner":      e.NewOwner.Hex(),
		},
	}
}
