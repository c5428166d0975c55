package recycler

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"recycler/core/events"
	"recycler/core/state"
	"recycler/native/fees"
	"recycler/native/quotaledger"
	"recycler/storage"
)

var (
	engineAccount = common.HexToAddress("0xe0")
	ownerAddr     = common.HexToAddress("0x0a")
	alice         = common.HexToAddress("0xa1")
	bob           = common.HexToAddress("0xb2")
	carol         = common.HexToAddress("0xc3")
	assetAddr     = common.HexToAddress("0xa55e7")
	feeWallet     = common.HexToAddress("0xfee")

	// rate of two units per 1e18 payment
	twoPerWad = new(big.Int).Mul(big.NewInt(2), Wad())
)

type staticRegistry map[common.Address]Asset

func (r staticRegistry) Describe(asset common.Address) (Asset, error) {
	return r[asset], nil
}

type staticPauses map[string]bool

func (s staticPauses) IsPaused(module string) bool { return s[module] }

// switchableBank fails outgoing transfers from blocked accounts on demand and
// runs onTransfer before moving funds.
type switchableBank struct {
	*state.Manager
	blocked    map[common.Address]bool
	onTransfer func(from, to common.Address)
}

func (b *switchableBank) Transfer(from, to common.Address, amount *big.Int) error {
	if b.blocked[from] {
		return errors.New("bank: account frozen")
	}
	if b.onTransfer != nil {
		b.onTransfer(from, to)
	}
	return b.Manager.Transfer(from, to, amount)
}

type fixture struct {
	t        *testing.T
	db       *storage.MemDB
	mgr      *state.Manager
	bank     *switchableBank
	registry staticRegistry
	ledger   *quotaledger.Ledger
	engine   *Engine
	emitted  *events.Buffer
	now      time.Time
}

func defaultParams() Params {
	return Params{BasePrice: Wad(), DecayRatePPM: 0, GrowthSlopePerDay: big.NewInt(0)}
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithRouter(t, nil)
}

// newFixtureWithRouter wires an engine against a fresh state. A nil router
// selects the fee router charging 1%.
func newFixtureWithRouter(t *testing.T, build func(f *fixture) Router) *fixture {
	t.Helper()
	db := storage.NewMemDB()
	mgr := state.NewManager(db)
	f := &fixture{
		t:        t,
		db:       db,
		mgr:      mgr,
		bank:     &switchableBank{Manager: mgr, blocked: map[common.Address]bool{}},
		registry: staticRegistry{assetAddr: {Eligible: true, Enabled: true, Decimals: 18, Rate: twoPerWad}},
		ledger:   quotaledger.New(mgr),
		emitted:  &events.Buffer{},
		now:      time.Unix(1_700_000_000, 0),
	}
	if err := f.ledger.Bind(engineAccount); err != nil {
		t.Fatalf("bind: %v", err)
	}
	var router Router
	if build != nil {
		router = build(f)
	} else {
		policy := fees.Policy{Version: 1, Domains: map[string]fees.DomainPolicy{
			fees.DomainRecycle: {MDRBps: 100, RouteWallet: feeWallet},
		}}
		feeRouter, err := fees.NewRouter(engineAccount, fees.DomainRecycle, policy, f.bank, mgr)
		if err != nil {
			t.Fatalf("router: %v", err)
		}
		router = feeRouter
	}
	engine, err := NewEngine(engineAccount, Dependencies{
		State:    mgr,
		Bank:     f.bank,
		Registry: f.registry,
		Ledger:   f.ledger.For(engineAccount),
		Router:   router,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	engine.SetClock(func() time.Time { return f.now })
	engine.SetEmitter(f.emitted)
	f.engine = engine
	if err := engine.Initialize(ownerAddr, defaultParams()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	for _, who := range []common.Address{alice, bob, carol} {
		f.fund(who, big.NewInt(1_000_000))
	}
	return f
}

func (f *fixture) fund(who common.Address, units *big.Int) {
	f.t.Helper()
	if err := f.mgr.Credit(who, new(big.Int).Mul(big.NewInt(1_000), Wad())); err != nil {
		f.t.Fatalf("credit: %v", err)
	}
	if err := f.ledger.Grant(who, assetAddr, units); err != nil {
		f.t.Fatalf("grant: %v", err)
	}
}

func (f *fixture) recycle(who common.Address, payment int64) *RecycleResult {
	f.t.Helper()
	res, err := f.engine.Recycle(who, assetAddr, big.NewInt(payment))
	if err != nil {
		f.t.Fatalf("recycle(%s, %d): %v", who.Hex(), payment, err)
	}
	return res
}

func (f *fixture) balance(who common.Address) *big.Int {
	f.t.Helper()
	bal, err := f.mgr.Balance(who)
	if err != nil {
		f.t.Fatalf("balance: %v", err)
	}
	return bal
}

func (f *fixture) pending(who common.Address) *big.Int {
	f.t.Helper()
	p, err := f.engine.Pending(who)
	if err != nil {
		f.t.Fatalf("pending: %v", err)
	}
	return p
}

func (f *fixture) totals() *Totals {
	f.t.Helper()
	tot, err := f.engine.Totals()
	if err != nil {
		f.t.Fatalf("totals: %v", err)
	}
	return tot
}

func (f *fixture) eventCount() uint64 {
	f.t.Helper()
	n, err := f.mgr.EventCount()
	if err != nil {
		f.t.Fatalf("event count: %v", err)
	}
	return n
}

func requireBig(t *testing.T, want int64, got *big.Int, what string) {
	t.Helper()
	if got == nil || got.Cmp(big.NewInt(want)) != 0 {
		t.Fatalf("%s: want %d, got %v", what, want, got)
	}
}
