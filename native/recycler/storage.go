package recycler

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	configKey       = []byte("recycler/config")
	globalKey       = []byte("recycler/global")
	participantsKey = []byte("recycler/participants")
	accountPrefix   = []byte("recycler/account/")
)

func accountKey(addr common.Address) []byte {
	key := make([]byte, len(accountPrefix)+common.AddressLength)
	copy(key, accountPrefix)
	copy(key[len(accountPrefix):], addr.Bytes())
	return key
}

type configRecord struct {
	Owner             common.Address
	PendingOwner      common.Address
	BasePrice         *big.Int
	DecayRatePPM      uint64
	GrowthSlopePerDay *big.Int
	DeployedAt        uint64
}

func (c *configRecord) params() Params {
	return Params{
		BasePrice:         copyBig(c.BasePrice),
		DecayRatePPM:      c.DecayRatePPM,
		GrowthSlopePerDay: copyBig(c.GrowthSlopePerDay),
	}
}

func (c *configRecord) setParams(p Params) {
	c.BasePrice = copyBig(p.BasePrice)
	c.DecayRatePPM = p.DecayRatePPM
	c.GrowthSlopePerDay = copyBig(p.GrowthSlopePerDay)
}

type globalRecord struct {
	TotalWeight        *big.Int
	AccRewardPerWeight *big.Int
	TotalProceeds      *big.Int
	TotalClaimed       *big.Int
	StrandedProceeds   *big.Int
}

type accountRecord struct {
	Weight     *big.Int
	RewardDebt *big.Int
	Claimable  *big.Int
}

// globalState is the working form of globalRecord.
type globalState struct {
	totalWeight *uint256.Int
	acc         *uint256.Int
	proceeds    *uint256.Int
	claimed     *uint256.Int
	stranded    *uint256.Int
}

type accountState struct {
	weight    *uint256.Int
	debt      *uint256.Int
	claimable *uint256.Int
}

func decodeFields(fields []*big.Int) ([]*uint256.Int, error) {
	out := make([]*uint256.Int, len(fields))
	for i, f := range fields {
		v, err := toU256(f)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *Engine) loadConfig() (*configRecord, error) {
	var rec configRecord
	ok, err := e.state.KVGet(configKey, &rec)
	if err != nil {
		return nil, fmt.Errorf("recycler: load config: %w", err)
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	return &rec, nil
}

func (e *Engine) storeConfig(rec *configRecord) error {
	if err := e.state.KVPut(configKey, rec); err != nil {
		return fmt.Errorf("recycler: store config: %w", err)
	}
	return nil
}

func (e *Engine) loadGlobal() (*globalState, error) {
	var rec globalRecord
	if _, err := e.state.KVGet(globalKey, &rec); err != nil {
		return nil, fmt.Errorf("recycler: load totals: %w", err)
	}
	vals, err := decodeFields([]*big.Int{rec.TotalWeight, rec.AccRewardPerWeight, rec.TotalProceeds, rec.TotalClaimed, rec.StrandedProceeds})
	if err != nil {
		return nil, err
	}
	return &globalState{totalWeight: vals[0], acc: vals[1], proceeds: vals[2], claimed: vals[3], stranded: vals[4]}, nil
}

func (e *Engine) storeGlobal(g *globalState) error {
	rec := globalRecord{
		TotalWeight:        g.totalWeight.ToBig(),
		AccRewardPerWeight: g.acc.ToBig(),
		TotalProceeds:      g.proceeds.ToBig(),
		TotalClaimed:       g.claimed.ToBig(),
		StrandedProceeds:   g.stranded.ToBig(),
	}
	if err := e.state.KVPut(globalKey, rec); err != nil {
		return fmt.Errorf("recycler: store totals: %w", err)
	}
	return nil
}

func (e *Engine) loadAccount(addr common.Address) (*accountState, bool, error) {
	var rec accountRecord
	ok, err := e.state.KVGet(accountKey(addr), &rec)
	if err != nil {
		return nil, false, fmt.Errorf("recycler: load account: %w", err)
	}
	vals, err := decodeFields([]*big.Int{rec.Weight, rec.RewardDebt, rec.Claimable})
	if err != nil {
		return nil, false, err
	}
	return &accountState{weight: vals[0], debt: vals[1], claimable: vals[2]}, ok, nil
}

func (e *Engine) storeAccount(addr common.Address, acct *accountState) error {
	rec := accountRecord{
		Weight:     acct.weight.ToBig(),
		RewardDebt: acct.debt.ToBig(),
		Claimable:  acct.claimable.ToBig(),
	}
	if err := e.state.KVPut(accountKey(addr), rec); err != nil {
		return fmt.Errorf("recycler: store account: %w", err)
	}
	return nil
}

func (e *Engine) participants() ([]common.Address, error) {
	var raw [][]byte
	if err := e.state.KVGetList(participantsKey, &raw); err != nil {
		return nil, fmt.Errorf("recycler: load participants: %w", err)
	}
	out := make([]common.Address, 0, len(raw))
	for _, b := range raw {
		out = append(out, common.BytesToAddress(b))
	}
	return out, nil
}
