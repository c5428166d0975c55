package recycler

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"recycler/core/state"
	"recycler/observability/metrics"
)

// Store is the journaled state an engine runs against, seen from the side
// that decides when writes become durable.
type Store interface {
	Commit() error
	Discard()
	EventCount() (uint64, error)
	Events(offset, limit uint64) ([]state.EventRecord, error)
	VerifyEvents() error
}

// Processor serialises every engine operation and commits the journaled state
// after each successful mutation. Engine events reach the emitter only after
// the commit succeeds.
//
// The mutex is not reentrant. Bank, router, registry and ledger collaborators
// must never call back into the Processor while an operation is running; doing
// so deadlocks. Callbacks into the Engine itself are rejected with
// ErrReentrantCall.
type Processor struct {
	mu      sync.Mutex
	engine  *Engine
	store   Store
	logger  *slog.Logger
	metrics *metrics.RecyclerMetrics
}

// NewProcessor wraps engine. store must be the state the engine writes to.
func NewProcessor(engine *Engine, store Store, logger *slog.Logger, m *metrics.RecyclerMetrics) (*Processor, error) {
	if engine == nil || store == nil {
		return nil, errNilState
	}
	if logger == nil {
		logger = slog.Default()
	}
	engine.holdEvents = true
	return &Processor{engine: engine, store: store, logger: logger.With("module", moduleName), metrics: m}, nil
}

// Engine exposes the wrapped engine. Callers must not mutate through it
// outside the processor.
func (p *Processor) Engine() *Engine { return p.engine }

func (p *Processor) finish(op string, err error) error {
	if err != nil {
		p.store.Discard()
		p.engine.releaseEvents(false)
		reason := Reason(err)
		p.metrics.ObserveFailure(op, reason)
		p.logger.Warn("recycler: operation rejected", "op", op, "reason", reason, "error", err)
		return err
	}
	if err := p.store.Commit(); err != nil {
		p.store.Discard()
		p.engine.releaseEvents(false)
		p.metrics.ObserveCommitFailure()
		p.logger.Error("recycler: commit state", "op", op, "error", err)
		return fmt.Errorf("recycler: commit: %w", err)
	}
	p.engine.releaseEvents(true)
	return nil
}

func (p *Processor) observeWeight() {
	totals, err := p.engine.Totals()
	if err != nil {
		return
	}
	p.metrics.SetTotalWeight(totals.TotalWeight)
}

// Initialized reports whether the engine has an owner and parameters.
func (p *Processor) Initialized() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.engine.Owner()
	if errors.Is(err, ErrNotInitialized) {
		return false, nil
	}
	return err == nil, err
}

func (p *Processor) Initialize(owner common.Address, params Params) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.finish("initialize", p.engine.Initialize(owner, params)); err != nil {
		return err
	}
	p.logger.Info("recycler: initialized", "owner", owner.Hex(), "basePrice", params.BasePrice.String())
	return nil
}

func (p *Processor) Recycle(caller, asset common.Address, payment *big.Int) (*RecycleResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	result, err := p.engine.Recycle(caller, asset, payment)
	if err := p.finish("recycle", err); err != nil {
		return nil, err
	}
	p.metrics.ObserveRecycle(asset.Hex(), result.PaymentPaid, result.Proceeds, result.Price)
	p.observeWeight()
	p.logger.Info("recycler: recycled",
		"participant", caller.Hex(),
		"asset", asset.Hex(),
		"payment", result.PaymentPaid.String(),
		"units", result.UnitsConsumed.String(),
		"proceeds", result.Proceeds.String(),
		"weight", result.WeightMinted.String())
	return result, nil
}

func (p *Processor) Claim(caller common.Address) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	amount, err := p.engine.Claim(caller)
	if err := p.finish("claim", err); err != nil {
		return nil, err
	}
	if amount.Sign() > 0 {
		p.metrics.ObserveClaim(amount)
		p.logger.Info("recycler: claimed", "participant", caller.Hex(), "amount", amount.String())
	}
	return amount, nil
}

func (p *Processor) SetParams(caller common.Address, params Params) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.finish("set_params", p.engine.SetParams(caller, params)); err != nil {
		return err
	}
	p.logger.Info("recycler: params updated",
		"basePrice", params.BasePrice.String(),
		"decayRatePPM", params.DecayRatePPM,
		"growthSlopePerDay", copyBig(params.GrowthSlopePerDay).String())
	return nil
}

func (p *Processor) TransferOwnership(caller, successor common.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finish("transfer_ownership", p.engine.TransferOwnership(caller, successor))
}

func (p *Processor) AcceptOwnership(caller common.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.finish("accept_ownership", p.engine.AcceptOwnership(caller)); err != nil {
		return err
	}
	p.logger.Info("recycler: ownership transferred", "owner", caller.Hex())
	return nil
}

// PruneQuotaCounters clears rate-quota counters of finished epochs.
func (p *Processor) PruneQuotaCounters() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cleared, err := p.engine.PruneQuotaCounters()
	if err := p.finish("prune_quota", err); err != nil {
		return 0, err
	}
	if cleared > 0 {
		p.logger.Debug("recycler: pruned quota counters", "epochs", cleared)
	}
	return cleared, nil
}

func (p *Processor) CurrentWeightPrice() (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.CurrentWeightPrice()
}

func (p *Processor) QuoteUnitsToConsume(asset common.Address, payment *big.Int) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.QuoteUnitsToConsume(asset, payment)
}

func (p *Processor) QuoteNativeForUnitsCeil(asset common.Address, units *big.Int) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.QuoteNativeForUnitsCeil(asset, units)
}

func (p *Processor) Pending(participant common.Address) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.Pending(participant)
}

func (p *Processor) Position(participant common.Address) (*Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.Position(participant)
}

func (p *Processor) Totals() (*Totals, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.Totals()
}

func (p *Processor) Params() (Params, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.Params()
}

func (p *Processor) Owner() (common.Address, common.Address, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	owner, err := p.engine.Owner()
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	pending, err := p.engine.PendingOwner()
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	return owner, pending, nil
}

// Events returns committed event records starting at offset.
func (p *Processor) Events(offset, limit uint64) ([]state.EventRecord, uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	total, err := p.store.EventCount()
	if err != nil {
		return nil, 0, err
	}
	records, err := p.store.Events(offset, limit)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// Audit checks the ledger invariants and the event hash chain.
func (p *Processor) Audit() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.engine.Audit(); err != nil {
		return err
	}
	return p.store.VerifyEvents()
}
