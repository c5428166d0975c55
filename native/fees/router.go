package fees

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrDomainNotConfigured = errors.New("fees: domain not configured")
	ErrInvalidAmount       = errors.New("fees: amount must be positive")
	ErrRouteWalletMissing  = errors.New("fees: route wallet not configured")
)

// Bank moves base currency between accounts.
type Bank interface {
	Transfer(from, to common.Address, amount *big.Int) error
}

// CounterState persists per-payer usage counters and totals.
type CounterState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Router forwards gross payments held by source to the domain's route wallet
// and returns the net amount after the domain fee back to source.
type Router struct {
	source common.Address
	domain string
	policy Policy
	bank   Bank
	state  CounterState
}

// NewRouter constructs a router for payments held by source.
func NewRouter(source common.Address, domain string, policy Policy, bank Bank, state CounterState) (*Router, error) {
	if bank == nil || state == nil {
		return nil, fmt.Errorf("fees: router requires bank and state")
	}
	cfg, ok := policy.DomainConfig(domain)
	if !ok {
		return nil, ErrDomainNotConfigured
	}
	if cfg.RouteWallet == (common.Address{}) {
		return nil, ErrRouteWalletMissing
	}
	if cfg.MDRBps > MaxMDRBps {
		return nil, fmt.Errorf("fees: mdr %d bps exceeds %d", cfg.MDRBps, MaxMDRBps)
	}
	return &Router{source: source, domain: NormalizeDomain(domain), policy: policy.Clone(), bank: bank, state: state}, nil
}

func usageKey(domain string, payer common.Address) []byte {
	return []byte(fmt.Sprintf("fees/usage/%s/%x", domain, payer.Bytes()))
}

func totalsKey(domain string, wallet common.Address) []byte {
	return []byte(fmt.Sprintf("fees/totals/%s/%x", domain, wallet.Bytes()))
}

type totalsRecord struct {
	Gross *big.Int
	Fee   *big.Int
	Net   *big.Int
}

// Route moves amount from the source account to the route wallet, returns the
// net share to the source and reports the net amount credited.
func (r *Router) Route(payer common.Address, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	cfg, _ := r.policy.DomainConfig(r.domain)
	key := usageKey(r.domain, payer)
	var usage uint64
	if _, err := r.state.KVGet(key, &usage); err != nil {
		return nil, fmt.Errorf("fees: load usage: %w", err)
	}
	split := cfg.Split(amount, usage)
	if err := r.bank.Transfer(r.source, cfg.RouteWallet, amount); err != nil {
		return nil, fmt.Errorf("fees: forward gross: %w", err)
	}
	if split.Net.Sign() > 0 {
		if err := r.bank.Transfer(cfg.RouteWallet, r.source, split.Net); err != nil {
			return nil, fmt.Errorf("fees: return net: %w", err)
		}
	}
	if err := r.state.KVPut(key, usage+1); err != nil {
		return nil, fmt.Errorf("fees: store usage: %w", err)
	}
	totals, err := r.Totals()
	if err != nil {
		return nil, err
	}
	totals.add(amount, split)
	rec := totalsRecord{Gross: totals.Gross, Fee: totals.Fee, Net: totals.Net}
	if err := r.state.KVPut(totalsKey(r.domain, cfg.RouteWallet), rec); err != nil {
		return nil, fmt.Errorf("fees: store totals: %w", err)
	}
	return split.Net, nil
}

// Totals returns the accumulated fee accounting for the router's domain.
func (r *Router) Totals() (Totals, error) {
	cfg, _ := r.policy.DomainConfig(r.domain)
	var rec totalsRecord
	if _, err := r.state.KVGet(totalsKey(r.domain, cfg.RouteWallet), &rec); err != nil {
		return Totals{}, fmt.Errorf("fees: load totals: %w", err)
	}
	out := Totals{Domain: r.domain, Wallet: cfg.RouteWallet, Gross: rec.Gross, Fee: rec.Fee, Net: rec.Net}
	return out.Clone(), nil
}
