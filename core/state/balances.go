package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

var balancePrefix = []byte("balance/")

var (
	ErrInsufficientBalance = errors.New("state: insufficient balance")
	ErrBalanceOverflow     = errors.New("state: balance overflow")
	ErrInvalidAmount       = errors.New("state: amount must not be negative")
)

func balanceKey(addr common.Address) []byte {
	buf := make([]byte, len(balancePrefix)+common.AddressLength)
	copy(buf, balancePrefix)
	copy(buf[len(balancePrefix):], addr.Bytes())
	return buf
}

func (m *Manager) loadBalance(addr common.Address) (*uint256.Int, error) {
	data, err := m.read(balanceKey(addr))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return new(uint256.Int), nil
	}
	stored := new(big.Int)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, fmt.Errorf("state: decode balance: %w", err)
	}
	balance, overflow := uint256.FromBig(stored)
	if overflow {
		return nil, ErrBalanceOverflow
	}
	return balance, nil
}

func (m *Manager) storeBalance(addr common.Address, balance *uint256.Int) error {
	encoded, err := rlp.EncodeToBytes(balance.ToBig())
	if err != nil {
		return err
	}
	m.write(balanceKey(addr), encoded, false)
	return nil
}

func toUint256(amount *big.Int) (*uint256.Int, error) {
	if amount == nil {
		return new(uint256.Int), nil
	}
	if amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, ErrBalanceOverflow
	}
	return value, nil
}

// Balance returns the base-currency balance held by addr.
func (m *Manager) Balance(addr common.Address) (*big.Int, error) {
	balance, err := m.loadBalance(addr)
	if err != nil {
		return nil, err
	}
	return balance.ToBig(), nil
}

// SetBalance overwrites the balance of addr.
func (m *Manager) SetBalance(addr common.Address, amount *big.Int) error {
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	return m.storeBalance(addr, value)
}

// Credit increases the balance of addr by amount.
func (m *Manager) Credit(addr common.Address, amount *big.Int) error {
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	if value.IsZero() {
		return nil
	}
	balance, err := m.loadBalance(addr)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(balance, value)
	if overflow {
		return ErrBalanceOverflow
	}
	return m.storeBalance(addr, next)
}

// Debit decreases the balance of addr by amount.
func (m *Manager) Debit(addr common.Address, amount *big.Int) error {
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	if value.IsZero() {
		return nil
	}
	balance, err := m.loadBalance(addr)
	if err != nil {
		return err
	}
	if balance.Lt(value) {
		return ErrInsufficientBalance
	}
	return m.storeBalance(addr, new(uint256.Int).Sub(balance, value))
}

// Transfer moves amount from one account to another. Either both legs apply
// or neither does.
func (m *Manager) Transfer(from, to common.Address, amount *big.Int) error {
	if from == to {
		value, err := toUint256(amount)
		if err != nil {
			return err
		}
		balance, err := m.loadBalance(from)
		if err != nil {
			return err
		}
		if balance.Lt(value) {
			return ErrInsufficientBalance
		}
		return nil
	}
	snap := m.Snapshot()
	if err := m.Debit(from, amount); err != nil {
		m.RevertToSnapshot(snap)
		return err
	}
	if err := m.Credit(to, amount); err != nil {
		m.RevertToSnapshot(snap)
		return err
	}
	return nil
}
