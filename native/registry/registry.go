package registry

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"recycler/native/recycler"
)

var (
	ErrUnknownAsset = errors.New("registry: unknown asset")
	ErrInvalidAsset = errors.New("registry: asset address required")
	ErrInvalidRate  = errors.New("registry: rate must not be negative")
)

var indexKey = []byte("registry/assets")

func assetKey(asset common.Address) []byte {
	return append([]byte("registry/asset/"), asset.Bytes()...)
}

type registryState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

// Entry describes a recyclable asset as stored by the registry.
type Entry struct {
	Asset         common.Address
	Symbol        string
	Eligible      bool
	Enabled       bool
	Decimals      uint8
	Rate          *big.Int
	CapacityUnits *big.Int
}

// Registry is a KV-backed asset registry.
type Registry struct {
	state registryState
}

func New(state registryState) *Registry {
	return &Registry{state: state}
}

// Register inserts or replaces an asset entry.
func (r *Registry) Register(entry Entry) error {
	if entry.Asset == (common.Address{}) {
		return ErrInvalidAsset
	}
	if entry.Rate != nil && entry.Rate.Sign() < 0 {
		return ErrInvalidRate
	}
	if entry.CapacityUnits != nil && entry.CapacityUnits.Sign() < 0 {
		return ErrInvalidRate
	}
	entry.Symbol = strings.ToUpper(strings.TrimSpace(entry.Symbol))
	entry.Rate = cloneBig(entry.Rate)
	entry.CapacityUnits = cloneBig(entry.CapacityUnits)
	if err := r.state.KVPut(assetKey(entry.Asset), entry); err != nil {
		return fmt.Errorf("registry: store asset: %w", err)
	}
	return r.state.KVAppend(indexKey, entry.Asset.Bytes())
}

// SetEnabled toggles an existing asset without touching its eligibility.
func (r *Registry) SetEnabled(asset common.Address, enabled bool) error {
	entry, ok, err := r.load(asset)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnknownAsset
	}
	entry.Enabled = enabled
	return r.state.KVPut(assetKey(asset), entry)
}

// Entry returns the stored entry for asset.
func (r *Registry) Entry(asset common.Address) (Entry, error) {
	entry, ok, err := r.load(asset)
	if err != nil {
		return Entry{}, err
	}
	if !ok {
		return Entry{}, ErrUnknownAsset
	}
	return entry, nil
}

// Describe implements the recycler registry view. Unknown assets are reported
// as ineligible.
func (r *Registry) Describe(asset common.Address) (recycler.Asset, error) {
	entry, ok, err := r.load(asset)
	if err != nil {
		return recycler.Asset{}, err
	}
	if !ok {
		return recycler.Asset{}, nil
	}
	return recycler.Asset{
		Eligible:      entry.Eligible,
		Enabled:       entry.Enabled,
		Decimals:      entry.Decimals,
		Rate:          cloneBig(entry.Rate),
		CapacityUnits: cloneBig(entry.CapacityUnits),
	}, nil
}

// List returns every registered asset in registration order.
func (r *Registry) List() ([]Entry, error) {
	var raw [][]byte
	if err := r.state.KVGetList(indexKey, &raw); err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(raw))
	for _, b := range raw {
		entry, ok, err := r.load(common.BytesToAddress(b))
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (r *Registry) load(asset common.Address) (Entry, bool, error) {
	var entry Entry
	ok, err := r.state.KVGet(assetKey(asset), &entry)
	if err != nil {
		return Entry{}, false, fmt.Errorf("registry: load asset: %w", err)
	}
	return entry, ok, nil
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
