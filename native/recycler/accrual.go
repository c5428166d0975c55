package recycler

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"recycler/core/events"
)

// accrued returns floor(weight*acc/1e18).
func accrued(weight, acc *uint256.Int) (*uint256.Int, error) {
	return mulDiv(weight, acc, wad)
}

func pendingFor(acct *accountState, g *globalState) (*uint256.Int, error) {
	earned, err := accrued(acct.weight, g.acc)
	if err != nil {
		return nil, err
	}
	return add(acct.claimable, saturatingSub(earned, acct.debt))
}

// harvest moves everything earned so far into claimable and resets the debt
// to the current accumulator.
func harvest(acct *accountState, g *globalState) error {
	earned, err := accrued(acct.weight, g.acc)
	if err != nil {
		return err
	}
	claimable, err := add(acct.claimable, saturatingSub(earned, acct.debt))
	if err != nil {
		return err
	}
	acct.claimable = claimable
	acct.debt = earned
	return nil
}

// Pending returns the proceeds a participant could claim right now.
func (e *Engine) Pending(participant common.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	acct, _, err := e.loadAccount(participant)
	if err != nil {
		return nil, err
	}
	g, err := e.loadGlobal()
	if err != nil {
		return nil, err
	}
	pending, err := pendingFor(acct, g)
	if err != nil {
		return nil, err
	}
	return pending.ToBig(), nil
}

// Claim pays out the caller's accrued proceeds. A caller with nothing to
// claim receives zero and no state changes.
func (e *Engine) Claim(caller common.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if caller == (common.Address{}) {
		return nil, ErrInvalidParticipant
	}
	paid := big.NewInt(0)
	err := e.mutate(func(tx *txn) error {
		acct, _, err := e.loadAccount(caller)
		if err != nil {
			return err
		}
		g, err := e.loadGlobal()
		if err != nil {
			return err
		}
		if err := harvest(acct, g); err != nil {
			return err
		}
		if acct.claimable.IsZero() {
			return nil
		}
		amount := acct.claimable
		acct.claimable = new(uint256.Int)
		claimed, err := add(g.claimed, amount)
		if err != nil {
			return err
		}
		g.claimed = claimed
		if err := e.storeAccount(caller, acct); err != nil {
			return err
		}
		if err := e.storeGlobal(g); err != nil {
			return err
		}
		if err := e.bank.Transfer(e.account, caller, amount.ToBig()); err != nil {
			return fmt.Errorf("%w: %w", ErrClaimTransferFailed, err)
		}
		paid = amount.ToBig()
		tx.record(events.RecyclerClaimed{Participant: caller, Amount: new(big.Int).Set(paid)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}
