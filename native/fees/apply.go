package fees

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// DomainRecycle is the fee domain recycle payments are routed under.
const DomainRecycle = "recycle"

// MaxMDRBps is a 100% merchant discount rate.
const MaxMDRBps = 10_000

var bpsDenominator = big.NewInt(MaxMDRBps)

// DomainPolicy is the fee schedule of one domain. The first
// FreeTierAllowance payments of each payer are fee free.
type DomainPolicy struct {
	FreeTierAllowance uint64
	MDRBps            uint32
	RouteWallet       common.Address
}

// Policy maps normalised domain names to their schedules.
type Policy struct {
	Version uint64
	Domains map[string]DomainPolicy
}

func NormalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

// Clone copies the policy, normalising domain keys on the way.
func (p Policy) Clone() Policy {
	out := Policy{Version: p.Version, Domains: make(map[string]DomainPolicy, len(p.Domains))}
	for name, cfg := range p.Domains {
		out.Domains[NormalizeDomain(name)] = cfg
	}
	return out
}

func (p Policy) DomainConfig(domain string) (DomainPolicy, bool) {
	cfg, ok := p.Domains[NormalizeDomain(domain)]
	return cfg, ok
}

// Split is the outcome of charging one payment.
type Split struct {
	Fee      *big.Int
	Net      *big.Int
	FreeTier bool
}

// Split charges gross for a payer that has already made priorUses payments
// in this domain. The fee rounds down and never exceeds gross. A nil or
// non-positive gross yields a zero split.
func (d DomainPolicy) Split(gross *big.Int, priorUses uint64) Split {
	out := Split{Fee: new(big.Int), Net: new(big.Int)}
	if gross == nil || gross.Sign() <= 0 {
		return out
	}
	out.Net.Set(gross)
	switch {
	case priorUses < d.FreeTierAllowance:
		out.FreeTier = true
		return out
	case d.MDRBps == 0:
		return out
	}
	fee := new(big.Int).Mul(gross, new(big.Int).SetUint64(uint64(d.MDRBps)))
	fee.Quo(fee, bpsDenominator)
	if fee.Cmp(gross) > 0 {
		fee.Set(gross)
	}
	out.Fee = fee
	out.Net.Sub(gross, fee)
	return out
}

// Totals accumulates routed amounts for one domain and wallet.
type Totals struct {
	Domain string
	Wallet common.Address
	Gross  *big.Int
	Fee    *big.Int
	Net    *big.Int
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// Clone returns a copy whose amounts are never nil.
func (t Totals) Clone() Totals {
	return Totals{Domain: t.Domain, Wallet: t.Wallet, Gross: copyInt(t.Gross), Fee: copyInt(t.Fee), Net: copyInt(t.Net)}
}

func (t *Totals) add(gross *big.Int, s Split) {
	*t = t.Clone()
	t.Gross.Add(t.Gross, gross)
	t.Fee.Add(t.Fee, s.Fee)
	t.Net.Add(t.Net, s.Net)
}
