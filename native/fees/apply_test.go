package fees

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestSplitFreeTierThenMDR(t *testing.T) {
	cfg := DomainPolicy{FreeTierAllowance: 1, MDRBps: 150, RouteWallet: common.HexToAddress("0xfee")}

	first := cfg.Split(big.NewInt(10_000), 0)
	if !first.FreeTier || first.Fee.Sign() != 0 || first.Net.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("expected free tier on first payment, got %+v", first)
	}

	second := cfg.Split(big.NewInt(10_000), 1)
	if second.FreeTier {
		t.Fatalf("free tier should be exhausted")
	}
	if second.Fee.Cmp(big.NewInt(150)) != 0 || second.Net.Cmp(big.NewInt(9_850)) != 0 {
		t.Fatalf("unexpected fee split fee=%s net=%s", second.Fee, second.Net)
	}
}

func TestSplitEdgeCases(t *testing.T) {
	full := DomainPolicy{MDRBps: MaxMDRBps}.Split(big.NewInt(5), 0)
	if full.Net.Sign() != 0 || full.Fee.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("expected full fee, got fee=%s net=%s", full.Fee, full.Net)
	}
	dust := DomainPolicy{MDRBps: 1}.Split(big.NewInt(10), 0)
	if dust.Fee.Sign() != 0 || dust.Net.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("expected fee to round to zero, got %+v", dust)
	}
	empty := DomainPolicy{MDRBps: 100}.Split(nil, 0)
	if empty.Net.Sign() != 0 || empty.Fee.Sign() != 0 {
		t.Fatalf("expected zero result for nil gross")
	}
}

func TestTotalsCloneNeverNil(t *testing.T) {
	var totals Totals
	totals.add(big.NewInt(100), DomainPolicy{MDRBps: 1_000}.Split(big.NewInt(100), 0))
	clone := totals.Clone()
	if clone.Gross.Int64() != 100 || clone.Fee.Int64() != 10 || clone.Net.Int64() != 90 {
		t.Fatalf("unexpected totals %+v", clone)
	}
	clone.Gross.SetInt64(0)
	if totals.Gross.Int64() != 100 {
		t.Fatalf("clone aliased gross")
	}
	if empty := (Totals{}).Clone(); empty.Gross == nil || empty.Fee.Sign() != 0 {
		t.Fatalf("expected zeroed amounts")
	}
}

func TestPolicyCloneNormalizesDomains(t *testing.T) {
	policy := Policy{Version: 3, Domains: map[string]DomainPolicy{" Recycle ": {MDRBps: 10}}}
	clone := policy.Clone()
	cfg, ok := clone.DomainConfig("RECYCLE")
	if !ok || cfg.MDRBps != 10 {
		t.Fatalf("expected normalised lookup, got %+v ok=%v", cfg, ok)
	}
	clone.Domains["other"] = DomainPolicy{}
	if _, ok := policy.Domains["other"]; ok {
		t.Fatalf("clone aliased the domain map")
	}
}
