package recycler

import (
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"recycler/core/events"
	"recycler/core/types"
	nativecommon "recycler/native/common"
)

const moduleName = "recycler"

// gwei scales payments down for the per-address payment quota.
var gwei = big.NewInt(1_000_000_000)

// Dependencies bundles the collaborators an engine cannot run without.
type Dependencies struct {
	State    engineState
	Bank     Bank
	Registry Registry
	Ledger   QuotaLedger
	Router   Router
}

// Engine converts attached payments into quota consumption, routes them
// through the fee router and distributes the returned proceeds pro rata to
// weight holders.
type Engine struct {
	account  common.Address
	state    engineState
	bank     Bank
	registry Registry
	ledger   QuotaLedger
	router   Router

	emitter    events.Emitter
	pauses     nativecommon.PauseView
	quota      nativecommon.Quota
	quotaStore nativecommon.QuotaStore
	nowFn      func() time.Time

	// holdEvents queues emitted events in held until releaseEvents; set
	// when a Processor owns the commit.
	holdEvents bool
	held       []recordable

	guard nativecommon.ReentrancyGuard
}

// NewEngine constructs an engine holding funds under account.
func NewEngine(account common.Address, deps Dependencies) (*Engine, error) {
	if account == (common.Address{}) {
		return nil, ErrZeroAddressConfig
	}
	if deps.State == nil || deps.Bank == nil || deps.Registry == nil || deps.Ledger == nil || deps.Router == nil {
		return nil, ErrZeroAddressConfig
	}
	return &Engine{
		account:  account,
		state:    deps.State,
		bank:     deps.Bank,
		registry: deps.Registry,
		ledger:   deps.Ledger,
		router:   deps.Router,
		emitter:  events.NoopEmitter{},
		nowFn:    time.Now,
	}, nil
}

// Account returns the address that holds routed proceeds.
func (e *Engine) Account() common.Address { return e.account }

// SetEmitter configures the downstream event sink.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetPauses installs the pause view consulted before every recycle.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetQuota enables per-participant throttling of recycle calls.
func (e *Engine) SetQuota(q nativecommon.Quota, store nativecommon.QuotaStore) {
	if e == nil {
		return
	}
	e.quota = q
	e.quotaStore = store
}

// SetClock overrides the time source used for pricing and quotas.
func (e *Engine) SetClock(now func() time.Time) {
	if e == nil {
		return
	}
	if now == nil {
		now = time.Now
	}
	e.nowFn = now
}

func (e *Engine) now() uint64 {
	unix := e.nowFn().Unix()
	if unix < 0 {
		return 0
	}
	return uint64(unix)
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return nil
}

func (e *Engine) describe(asset common.Address) (Asset, error) {
	desc, err := e.registry.Describe(asset)
	if err != nil {
		return Asset{}, fmt.Errorf("recycler: describe asset: %w", err)
	}
	return desc, nil
}

type recordable interface {
	events.Event
	Event() *types.Event
}

// txn collects the events of a single operation until it succeeds.
type txn struct {
	events []recordable
}

func (t *txn) record(evt recordable) { t.events = append(t.events, evt) }

// mutate runs fn under the reentrancy guard inside a state snapshot. Any error
// or panic reverts every write fn made, including those of collaborators that
// share the same state.
func (e *Engine) mutate(fn func(tx *txn) error) (err error) {
	if err := e.guard.Enter(); err != nil {
		return ErrReentrantCall
	}
	defer e.guard.Exit()

	snapshot := e.state.Snapshot()
	done := false
	defer func() {
		if !done {
			e.state.RevertToSnapshot(snapshot)
		}
	}()

	tx := &txn{}
	if err := fn(tx); err != nil {
		return err
	}
	for _, evt := range tx.events {
		if _, err := e.state.AppendEvent(evt.Event()); err != nil {
			return fmt.Errorf("recycler: record event: %w", err)
		}
	}
	done = true
	if e.holdEvents {
		e.held = append(e.held, tx.events...)
		return nil
	}
	for _, evt := range tx.events {
		e.emitter.Emit(evt)
	}
	return nil
}

// releaseEvents drops or delivers the events held since the last release.
func (e *Engine) releaseEvents(deliver bool) {
	held := e.held
	e.held = nil
	if !deliver {
		return
	}
	for _, evt := range held {
		e.emitter.Emit(evt)
	}
}

// CurrentWeightPrice evaluates the price curve at the current time.
func (e *Engine) CurrentWeightPrice() (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	return WeightPriceAt(cfg.params(), cfg.DeployedAt, e.now())
}

func paymentGwei(payment *big.Int) uint64 {
	scaled := new(big.Int).Quo(payment, gwei)
	if !scaled.IsUint64() {
		return math.MaxUint64
	}
	return scaled.Uint64()
}

// Recycle checks asset and quota, attaches payment from caller, consumes the
// matching quota units of asset, routes the payment and mints weight for the
// proceeds. Either every effect lands or none does.
func (e *Engine) Recycle(caller, asset common.Address, payment *big.Int) (*RecycleResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if caller == (common.Address{}) {
		return nil, ErrInvalidParticipant
	}
	if payment == nil || payment.Sign() <= 0 {
		return nil, ErrNoPaymentProvided
	}
	amount, err := toU256(payment)
	if err != nil {
		return nil, err
	}

	var result *RecycleResult
	err = e.mutate(func(tx *txn) error {
		now := e.now()
		cfg, err := e.loadConfig()
		if err != nil {
			return err
		}
		if e.quota.Enabled() && e.quotaStore != nil {
			epoch := e.quota.EpochAt(int64(now))
			if _, err := nativecommon.Apply(e.quotaStore, moduleName, epoch, caller.Bytes(), e.quota, 1, paymentGwei(payment)); err != nil {
				return err
			}
		}

		desc, err := e.describe(asset)
		if err != nil {
			return err
		}
		if !desc.Active() {
			return ErrAssetNotEligible
		}
		rate, err := toU256(desc.Rate)
		if err != nil {
			return err
		}
		units, err := unitsForPayment(rate, amount)
		if err != nil {
			return err
		}
		if units.IsZero() {
			return ErrZeroComputedUnits
		}
		available, err := e.ledger.QueryQuota(caller, asset)
		if err != nil {
			return fmt.Errorf("recycler: query quota: %w", err)
		}
		if available == nil || available.Cmp(units.ToBig()) < 0 {
			return ErrInsufficientQuota
		}

		if err := e.bank.Transfer(caller, e.account, amount.ToBig()); err != nil {
			return fmt.Errorf("recycler: attach payment: %w", err)
		}

		acct, known, err := e.loadAccount(caller)
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

		if err := e.ledger.Consume(caller, asset, units.ToBig()); err != nil {
			return fmt.Errorf("recycler: consume quota: %w", err)
		}

		proceeds, err := e.route(caller, amount)
		if err != nil {
			return err
		}

		if g.totalWeight.IsZero() {
			if g.stranded, err = add(g.stranded, proceeds); err != nil {
				return err
			}
		} else {
			perWeight, err := mulDiv(proceeds, wad, g.totalWeight)
			if err != nil {
				return err
			}
			if g.acc, err = add(g.acc, perWeight); err != nil {
				return err
			}
		}
		if g.proceeds, err = add(g.proceeds, proceeds); err != nil {
			return err
		}

		price, err := weightPrice(cfg.params(), DaysElapsed(cfg.DeployedAt, now))
		if err != nil {
			return err
		}
		if price.IsZero() {
			return ErrPriceZero
		}
		minted, err := mulDiv(proceeds, wad, price)
		if err != nil {
			return err
		}
		if !minted.IsZero() {
			if g.totalWeight, err = add(g.totalWeight, minted); err != nil {
				return err
			}
			if acct.weight, err = add(acct.weight, minted); err != nil {
				return err
			}
		}
		if acct.debt, err = accrued(acct.weight, g.acc); err != nil {
			return err
		}

		if err := e.storeAccount(caller, acct); err != nil {
			return err
		}
		if err := e.storeGlobal(g); err != nil {
			return err
		}
		if !known {
			if err := e.state.KVAppend(participantsKey, caller.Bytes()); err != nil {
				return fmt.Errorf("recycler: index participant: %w", err)
			}
		}

		result = &RecycleResult{
			Participant:   caller,
			Asset:         asset,
			PaymentPaid:   amount.ToBig(),
			UnitsConsumed: units.ToBig(),
			Proceeds:      proceeds.ToBig(),
			WeightMinted:  minted.ToBig(),
			Price:         price.ToBig(),
		}
		tx.record(events.RecyclerRecycled{
			Participant:   caller,
			Asset:         asset,
			PaymentPaid:   result.PaymentPaid,
			UnitsConsumed: result.UnitsConsumed,
			Proceeds:      result.Proceeds,
			WeightMinted:  result.WeightMinted,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// route hands the attached payment to the router and measures what actually
// came back to the engine account. The measured delta must match the report.
func (e *Engine) route(caller common.Address, payment *uint256.Int) (*uint256.Int, error) {
	before, err := e.balance()
	if err != nil {
		return nil, err
	}
	if before.Lt(payment) {
		return nil, errEngineBalanceShrank
	}
	base := new(uint256.Int).Sub(before, payment)

	reported, err := e.router.Route(caller, payment.ToBig())
	if err != nil {
		return nil, fmt.Errorf("recycler: route payment: %w", err)
	}
	after, err := e.balance()
	if err != nil {
		return nil, err
	}
	if after.Lt(base) || reported == nil {
		return nil, ErrRouterAmountMismatch
	}
	measured := new(uint256.Int).Sub(after, base)
	if reported.Sign() < 0 || measured.ToBig().Cmp(reported) != 0 {
		return nil, ErrRouterAmountMismatch
	}
	if measured.IsZero() {
		return nil, ErrRouterZeroProceeds
	}
	return measured, nil
}

func (e *Engine) balance() (*uint256.Int, error) {
	bal, err := e.bank.Balance(e.account)
	if err != nil {
		return nil, fmt.Errorf("recycler: engine balance: %w", err)
	}
	return toU256(bal)
}

// Position returns the accounting view of participant.
func (e *Engine) Position(participant common.Address) (*Position, error) {
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
	return &Position{
		Weight:     acct.weight.ToBig(),
		RewardDebt: acct.debt.ToBig(),
		Claimable:  acct.claimable.ToBig(),
		Pending:    pending.ToBig(),
	}, nil
}

// Totals returns the global accounting view.
func (e *Engine) Totals() (*Totals, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	g, err := e.loadGlobal()
	if err != nil {
		return nil, err
	}
	return &Totals{
		TotalWeight:        g.totalWeight.ToBig(),
		AccRewardPerWeight: g.acc.ToBig(),
		TotalProceeds:      g.proceeds.ToBig(),
		TotalClaimed:       g.claimed.ToBig(),
		StrandedProceeds:   g.stranded.ToBig(),
	}, nil
}
