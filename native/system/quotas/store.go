// Package quotas persists per-epoch quota counters in the state manager's
// key/value space.
package quotas

import (
	"errors"
	"fmt"
	"strings"

	nativecommon "recycler/native/common"
)

var (
	ErrNoState        = errors.New("quotas: store not initialised")
	ErrAddressMissing = errors.New("quotas: address required")
)

// StoreState is the slice of the state manager the store writes through.
type StoreState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	KVDelete(key []byte) error
}

type counters struct {
	Requests uint32
	Payment  uint64
}

// epochSpace addresses the counters of one module in one epoch. Counter keys
// are quotas/<module>/<epoch>/<addr hex>; the epoch index lists every address
// with a counter so the epoch can be pruned later.
type epochSpace struct {
	module string
	epoch  uint64
}

func space(module string, epoch uint64) epochSpace {
	return epochSpace{module: strings.ToLower(strings.TrimSpace(module)), epoch: epoch}
}

func (s epochSpace) counter(addr []byte) []byte {
	return fmt.Appendf(nil, "quotas/%s/%d/%x", s.module, s.epoch, addr)
}

func (s epochSpace) index() []byte {
	return fmt.Appendf(nil, "quotas/%s/%d/index", s.module, s.epoch)
}

// Store implements nativecommon.QuotaStore.
type Store struct {
	state StoreState
}

func NewStore(state StoreState) *Store {
	return &Store{state: state}
}

func (s *Store) ready(addr []byte, needAddr bool) error {
	if s == nil || s.state == nil {
		return ErrNoState
	}
	if needAddr && len(addr) == 0 {
		return ErrAddressMissing
	}
	return nil
}

func (s *Store) Load(module string, epoch uint64, addr []byte) (nativecommon.QuotaNow, bool, error) {
	if err := s.ready(addr, true); err != nil {
		return nativecommon.QuotaNow{}, false, err
	}
	var rec counters
	ok, err := s.state.KVGet(space(module, epoch).counter(addr), &rec)
	if err != nil {
		return nativecommon.QuotaNow{}, false, fmt.Errorf("quotas: load counters: %w", err)
	}
	return nativecommon.QuotaNow{EpochID: epoch, ReqCount: rec.Requests, PaymentUsed: rec.Payment}, ok, nil
}

// Save writes the counters and, the first time addr is seen in the epoch,
// records it in the epoch index.
func (s *Store) Save(module string, epoch uint64, addr []byte, now nativecommon.QuotaNow) error {
	if err := s.ready(addr, true); err != nil {
		return err
	}
	sp := space(module, epoch)
	key := sp.counter(addr)
	var existing counters
	seen, err := s.state.KVGet(key, &existing)
	if err != nil {
		return fmt.Errorf("quotas: load counters: %w", err)
	}
	if err := s.state.KVPut(key, counters{Requests: now.ReqCount, Payment: now.PaymentUsed}); err != nil {
		return fmt.Errorf("quotas: persist counters: %w", err)
	}
	if seen {
		return nil
	}
	if err := s.state.KVAppend(sp.index(), append([]byte(nil), addr...)); err != nil {
		return fmt.Errorf("quotas: update epoch index: %w", err)
	}
	return nil
}

// PruneEpoch deletes every counter recorded for module in epoch along with
// the epoch index.
func (s *Store) PruneEpoch(module string, epoch uint64) error {
	if err := s.ready(nil, false); err != nil {
		return err
	}
	sp := space(module, epoch)
	var addrs [][]byte
	if err := s.state.KVGetList(sp.index(), &addrs); err != nil {
		return fmt.Errorf("quotas: load epoch index: %w", err)
	}
	for _, addr := range addrs {
		if err := s.state.KVDelete(sp.counter(addr)); err != nil {
			return fmt.Errorf("quotas: prune counter: %w", err)
		}
	}
	if err := s.state.KVDelete(sp.index()); err != nil {
		return fmt.Errorf("quotas: prune index: %w", err)
	}
	return nil
}
