package quotaledger

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnauthorizedConsumer = errors.New("quotaledger: consumer not bound")
	ErrInsufficientQuota    = errors.New("quotaledger: insufficient quota")
	ErrInvalidAmount        = errors.New("quotaledger: amount must be positive")
)

type ledgerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

func quotaKey(participant, asset common.Address) []byte {
	key := make([]byte, 0, 18+2*common.AddressLength)
	key = append(key, "quotaledger/quota/"...)
	key = append(key, participant.Bytes()...)
	return append(key, asset.Bytes()...)
}

func consumerKey(consumer common.Address) []byte {
	return append([]byte("quotaledger/consumer/"), consumer.Bytes()...)
}

// Ledger tracks the units each participant has pre-authorised per asset.
// Only bound consumers may draw quota down.
type Ledger struct {
	state ledgerState
}

func New(state ledgerState) *Ledger {
	return &Ledger{state: state}
}

// Bind authorises consumer to call Consume.
func (l *Ledger) Bind(consumer common.Address) error {
	return l.state.KVPut(consumerKey(consumer), true)
}

// Bound reports whether consumer may draw quota.
func (l *Ledger) Bound(consumer common.Address) (bool, error) {
	var ok bool
	if _, err := l.state.KVGet(consumerKey(consumer), &ok); err != nil {
		return false, err
	}
	return ok, nil
}

// Grant adds units to the participant's quota for asset.
func (l *Ledger) Grant(participant, asset common.Address, units *big.Int) error {
	if units == nil || units.Sign() <= 0 {
		return ErrInvalidAmount
	}
	current, err := l.QueryQuota(participant, asset)
	if err != nil {
		return err
	}
	return l.store(participant, asset, current.Add(current, units))
}

// QueryQuota returns the remaining units.
func (l *Ledger) QueryQuota(participant, asset common.Address) (*big.Int, error) {
	value := new(big.Int)
	if _, err := l.state.KVGet(quotaKey(participant, asset), value); err != nil {
		return nil, fmt.Errorf("quotaledger: load quota: %w", err)
	}
	return value, nil
}

// ConsumeAs draws units on behalf of consumer. Nothing changes on failure.
func (l *Ledger) ConsumeAs(consumer, participant, asset common.Address, units *big.Int) error {
	if units == nil || units.Sign() <= 0 {
		return ErrInvalidAmount
	}
	bound, err := l.Bound(consumer)
	if err != nil {
		return err
	}
	if !bound {
		return ErrUnauthorizedConsumer
	}
	current, err := l.QueryQuota(participant, asset)
	if err != nil {
		return err
	}
	if current.Cmp(units) < 0 {
		return ErrInsufficientQuota
	}
	return l.store(participant, asset, current.Sub(current, units))
}

// For returns a view of the ledger that consumes as consumer.
func (l *Ledger) For(consumer common.Address) *Consumer {
	return &Consumer{ledger: l, consumer: consumer}
}

func (l *Ledger) store(participant, asset common.Address, value *big.Int) error {
	if err := l.state.KVPut(quotaKey(participant, asset), value); err != nil {
		return fmt.Errorf("quotaledger: store quota: %w", err)
	}
	return nil
}

// Consumer is a ledger view bound to a single consuming account.
type Consumer struct {
	ledger   *Ledger
	consumer common.Address
}

func (c *Consumer) QueryQuota(participant, asset common.Address) (*big.Int, error) {
	return c.ledger.QueryQuota(participant, asset)
}

func (c *Consumer) Consume(participant, asset common.Address, units *big.Int) error {
	return c.ledger.ConsumeAs(c.consumer, participant, asset, units)
}
