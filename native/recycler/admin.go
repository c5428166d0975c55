package recycler

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"recycler/core/events"
)

// Initialize records the owner, the first parameter set and the deployment
// timestamp. It may only run once.
func (e *Engine) Initialize(owner common.Address, params Params) error {
	if err := e.ready(); err != nil {
		return err
	}
	if owner == (common.Address{}) {
		return ErrZeroAddressConfig
	}
	if err := params.Validate(); err != nil {
		return err
	}
	return e.mutate(func(tx *txn) error {
		if ok, err := e.state.KVGet(configKey, nil); err != nil {
			return err
		} else if ok {
			return ErrAlreadyInitialized
		}
		rec := &configRecord{Owner: owner, DeployedAt: e.now()}
		rec.setParams(params)
		if err := e.storeConfig(rec); err != nil {
			return err
		}
		tx.record(events.RecyclerInitialized{Owner: owner, DeployedAt: rec.DeployedAt})
		tx.record(paramsEvent(params))
		return nil
	})
}

func paramsEvent(p Params) events.RecyclerParamsSet {
	return events.RecyclerParamsSet{
		BasePrice:         copyBig(p.BasePrice),
		DecayRatePPM:      p.DecayRatePPM,
		GrowthSlopePerDay: copyBig(p.GrowthSlopePerDay),
	}
}

// SetParams replaces the price curve parameters. Only the owner may call it.
func (e *Engine) SetParams(caller common.Address, params Params) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.mutate(func(tx *txn) error {
		cfg, err := e.loadConfig()
		if err != nil {
			return err
		}
		if caller != cfg.Owner {
			return ErrUnauthorized
		}
		if err := params.Validate(); err != nil {
			return err
		}
		cfg.setParams(params)
		if err := e.storeConfig(cfg); err != nil {
			return err
		}
		tx.record(paramsEvent(params))
		return nil
	})
}

// TransferOwnership nominates successor. The zero address cancels a pending
// nomination.
func (e *Engine) TransferOwnership(caller, successor common.Address) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.mutate(func(tx *txn) error {
		cfg, err := e.loadConfig()
		if err != nil {
			return err
		}
		if caller != cfg.Owner {
			return ErrUnauthorized
		}
		cfg.PendingOwner = successor
		if err := e.storeConfig(cfg); err != nil {
			return err
		}
		tx.record(events.RecyclerOwnershipTransferStarted{Owner: cfg.Owner, Successor: successor})
		return nil
	})
}

// AcceptOwnership completes a transfer started by the previous owner.
func (e *Engine) AcceptOwnership(caller common.Address) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.mutate(func(tx *txn) error {
		cfg, err := e.loadConfig()
		if err != nil {
			return err
		}
		if cfg.PendingOwner == (common.Address{}) || caller != cfg.PendingOwner {
			return ErrUnauthorized
		}
		previous := cfg.Owner
		cfg.Owner = caller
		cfg.PendingOwner = common.Address{}
		if err := e.storeConfig(cfg); err != nil {
			return err
		}
		tx.record(events.RecyclerOwnershipTransferred{PreviousOwner: previous, NewOwner: caller})
		return nil
	})
}

func (e *Engine) config() (*configRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.loadConfig()
}

// Owner returns the current owner.
func (e *Engine) Owner() (common.Address, error) {
	cfg, err := e.config()
	if err != nil {
		return common.Address{}, err
	}
	return cfg.Owner, nil
}

// PendingOwner returns the nominated successor, if any.
func (e *Engine) PendingOwner() (common.Address, error) {
	cfg, err := e.config()
	if err != nil {
		return common.Address{}, err
	}
	return cfg.PendingOwner, nil
}

// Params returns a copy of the active price curve parameters.
func (e *Engine) Params() (Params, error) {
	cfg, err := e.config()
	if err != nil {
		return Params{}, err
	}
	return cfg.params(), nil
}

// DeployedAt returns the unix timestamp the price curve is anchored to.
func (e *Engine) DeployedAt() (uint64, error) {
	cfg, err := e.config()
	if err != nil {
		return 0, err
	}
	return cfg.DeployedAt, nil
}

// Audit recomputes the ledger invariants from persisted state: total weight
// equals the sum of participant weights and outstanding claims never exceed
// the undistributed proceeds held by the engine.
func (e *Engine) Audit() error {
	if err := e.ready(); err != nil {
		return err
	}
	g, err := e.loadGlobal()
	if err != nil {
		return err
	}
	members, err := e.participants()
	if err != nil {
		return err
	}
	weightSum := new(big.Int)
	pendingSum := new(big.Int)
	for _, addr := range members {
		acct, _, err := e.loadAccount(addr)
		if err != nil {
			return err
		}
		pending, err := pendingFor(acct, g)
		if err != nil {
			return err
		}
		weightSum.Add(weightSum, acct.weight.ToBig())
		pendingSum.Add(pendingSum, pending.ToBig())
	}
	if weightSum.Cmp(g.totalWeight.ToBig()) != 0 {
		return fmt.Errorf("%w: weight sum %s != total %s", ErrAuditFailed, weightSum, g.totalWeight.ToBig())
	}
	held := new(big.Int).Sub(g.proceeds.ToBig(), g.claimed.ToBig())
	held.Sub(held, g.stranded.ToBig())
	if pendingSum.Cmp(held) > 0 {
		return fmt.Errorf("%w: pending %s exceeds distributable %s", ErrAuditFailed, pendingSum, held)
	}
	return nil
}
