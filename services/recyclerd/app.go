// Package recyclerd assembles the recycler engine and its collaborators from
// a daemon configuration.
package recyclerd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"recycler/config"
	"recycler/core/events"
	"recycler/core/state"
	"recycler/crypto"
	nativecommon "recycler/native/common"
	"recycler/native/fees"
	"recycler/native/quotaledger"
	"recycler/native/recycler"
	"recycler/native/registry"
	"recycler/native/system/quotas"
	"recycler/observability"
	"recycler/observability/metrics"
	"recycler/storage"
)

// App owns the open database and the processor serving it.
type App struct {
	Processor *recycler.Processor
	Registry  *registry.Registry
	Router    *fees.Router
	Account   common.Address

	db     storage.Database
	state  *state.Manager
	epoch  time.Duration
	logger *slog.Logger
}

// Option customises New.
type Option func(*options)

type options struct {
	passphrase func() (string, error)
	emitters   []events.Emitter
}

// WithPassphrase overrides how the engine keystore passphrase is resolved.
// The default reads the variable named by KeystorePassEnv.
func WithPassphrase(fn func() (string, error)) Option {
	return func(o *options) {
		if fn != nil {
			o.passphrase = fn
		}
	}
}

// WithEmitter adds a sink for engine events next to the metrics counter.
func WithEmitter(e events.Emitter) Option {
	return func(o *options) {
		if e != nil {
			o.emitters = append(o.emitters, e)
		}
	}
}

// Open builds an App backed by the configured storage under cfg.DataDir.
func Open(cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("recyclerd: config required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("recyclerd: create data dir: %w", err)
	}
	db, err := storage.Open(cfg.Storage.Backend, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("recyclerd: open state: %w", err)
	}
	app, err := New(cfg, db, logger, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return app, nil
}

// New builds an App on top of db. The caller keeps ownership of db only when
// New fails.
func New(cfg *config.Config, db storage.Database, logger *slog.Logger, opts ...Option) (*App, error) {
	if cfg == nil || db == nil {
		return nil, errors.New("recyclerd: config and database required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	o := options{passphrase: func() (string, error) { return cfg.KeystorePassphrase(), nil }}
	for _, opt := range opts {
		opt(&o)
	}
	account, err := engineAccount(cfg, o.passphrase, logger)
	if err != nil {
		return nil, err
	}
	owner, err := crypto.ParseAddress(cfg.Owner)
	if err != nil {
		return nil, fmt.Errorf("recyclerd: owner: %w", err)
	}
	params, err := engineParams(cfg.Params)
	if err != nil {
		return nil, err
	}
	routeWallet, err := crypto.ParseAddress(cfg.Fees.RouteWallet)
	if err != nil {
		return nil, fmt.Errorf("recyclerd: route wallet: %w", err)
	}

	mgr := state.NewManager(db)
	reg := registry.New(mgr)
	ledger := quotaledger.New(mgr)
	policy := fees.Policy{
		Version: cfg.Fees.PolicyVersion,
		Domains: map[string]fees.DomainPolicy{
			cfg.Fees.Domain: {
				FreeTierAllowance: cfg.Fees.FreeTierAllowance,
				MDRBps:            cfg.Fees.MDRBps,
				RouteWallet:       routeWallet,
			},
		},
	}
	router, err := fees.NewRouter(account, cfg.Fees.Domain, policy, mgr, mgr)
	if err != nil {
		return nil, fmt.Errorf("recyclerd: fee router: %w", err)
	}

	engine, err := recycler.NewEngine(account, recycler.Dependencies{
		State:    mgr,
		Bank:     mgr,
		Registry: reg,
		Ledger:   ledger.For(account),
		Router:   router,
	})
	if err != nil {
		return nil, fmt.Errorf("recyclerd: engine: %w", err)
	}
	engine.SetEmitter(append(events.Multi{observability.EventCounter{}}, o.emitters...))
	engine.SetPauses(cfg.Pauses)
	quota := quotaFromConfig(cfg.Quota)
	engine.SetQuota(quota, quotas.NewStore(mgr))

	proc, err := recycler.NewProcessor(engine, mgr, logger, metrics.Recycler())
	if err != nil {
		return nil, err
	}
	app := &App{
		Processor: proc,
		Registry:  reg,
		Router:    router,
		Account:   account,
		db:        db,
		state:     mgr,
		epoch:     time.Duration(quota.EpochSeconds) * time.Second,
		logger:    logger,
	}
	if err := app.bootstrap(cfg, owner, params, ledger); err != nil {
		return nil, err
	}
	return app, nil
}

func engineAccount(cfg *config.Config, passphrase func() (string, error), logger *slog.Logger) (common.Address, error) {
	if raw := strings.TrimSpace(cfg.EngineAccount); raw != "" {
		addr, err := crypto.ParseAddress(raw)
		if err != nil {
			return common.Address{}, fmt.Errorf("recyclerd: engine account: %w", err)
		}
		return addr, nil
	}
	pass, err := passphrase()
	if err != nil {
		return common.Address{}, fmt.Errorf("recyclerd: engine keystore passphrase: %w", err)
	}
	key, created, err := crypto.LoadOrCreateKeystore(cfg.KeystorePath, pass)
	if err != nil {
		return common.Address{}, fmt.Errorf("recyclerd: engine keystore: %w", err)
	}
	addr := key.Address()
	if created {
		logger.Info("recyclerd: generated engine account", "address", addr.Hex(), "keystore", cfg.KeystorePath)
	}
	return addr, nil
}

func engineParams(p config.Params) (recycler.Params, error) {
	base, err := config.ParseAmount(p.BasePrice)
	if err != nil {
		return recycler.Params{}, fmt.Errorf("recyclerd: base price: %w", err)
	}
	slope, err := config.ParseAmount(p.GrowthSlopePerDay)
	if err != nil {
		return recycler.Params{}, fmt.Errorf("recyclerd: growth slope: %w", err)
	}
	return recycler.Params{BasePrice: base, DecayRatePPM: p.DecayRatePPM, GrowthSlopePerDay: slope}, nil
}

func quotaFromConfig(q config.Quota) nativecommon.Quota {
	return nativecommon.Quota{
		MaxRequestsPerEpoch: q.MaxRequestsPerEpoch,
		MaxPaymentPerEpoch:  q.MaxPaymentPerEpoch,
		EpochSeconds:        q.EpochSeconds,
	}
}

func registryEntry(asset config.Asset) (registry.Entry, error) {
	addr, err := crypto.ParseAddress(asset.Address)
	if err != nil {
		return registry.Entry{}, err
	}
	rate, err := config.ParseAmount(asset.Rate)
	if err != nil {
		return registry.Entry{}, err
	}
	capacity, err := config.ParseAmount(asset.CapacityUnits)
	if err != nil {
		return registry.Entry{}, err
	}
	return registry.Entry{
		Asset:         addr,
		Symbol:        asset.Symbol,
		Eligible:      asset.Eligible,
		Enabled:       asset.Enabled,
		Decimals:      asset.Decimals,
		Rate:          rate,
		CapacityUnits: capacity,
	}, nil
}

// bootstrap syncs the asset registry with the configuration on every start.
// The first start also binds the engine to the quota ledger, seeds the
// configured allocations and initialises the engine, all in one commit.
func (a *App) bootstrap(cfg *config.Config, owner common.Address, params recycler.Params, ledger *quotaledger.Ledger) error {
	for i, asset := range cfg.Assets {
		entry, err := registryEntry(asset)
		if err != nil {
			a.state.Discard()
			return fmt.Errorf("recyclerd: assets[%d]: %w", i, err)
		}
		if err := a.Registry.Register(entry); err != nil {
			a.state.Discard()
			return fmt.Errorf("recyclerd: register %s: %w", entry.Asset.Hex(), err)
		}
	}

	initialized, err := a.Processor.Initialized()
	if err != nil {
		a.state.Discard()
		return err
	}
	if initialized {
		if err := a.state.Commit(); err != nil {
			return fmt.Errorf("recyclerd: commit registry: %w", err)
		}
		return nil
	}

	if err := ledger.Bind(a.Account); err != nil {
		a.state.Discard()
		return fmt.Errorf("recyclerd: bind quota ledger: %w", err)
	}
	if err := seedAllocations(a.state, ledger, cfg.Allocations); err != nil {
		a.state.Discard()
		return err
	}
	if err := a.Processor.Initialize(owner, params); err != nil {
		return fmt.Errorf("recyclerd: initialise engine: %w", err)
	}
	a.logger.Info("recyclerd: engine initialised",
		"owner", owner.Hex(),
		"account", a.Account.Hex(),
		"assets", len(cfg.Assets),
		"allocations", len(cfg.Allocations))
	return nil
}

type balanceSetter interface {
	SetBalance(addr common.Address, amount *big.Int) error
}

func seedAllocations(bank balanceSetter, ledger *quotaledger.Ledger, allocs []config.Allocation) error {
	for i, alloc := range allocs {
		addr, err := crypto.ParseAddress(alloc.Address)
		if err != nil {
			return fmt.Errorf("recyclerd: allocations[%d]: %w", i, err)
		}
		balance, err := config.ParseAmount(alloc.Balance)
		if err != nil {
			return fmt.Errorf("recyclerd: allocations[%d].balance: %w", i, err)
		}
		if err := bank.SetBalance(addr, balance); err != nil {
			return fmt.Errorf("recyclerd: seed balance %s: %w", addr.Hex(), err)
		}
		for j, grant := range alloc.Quotas {
			asset, err := crypto.ParseAddress(grant.Asset)
			if err != nil {
				return fmt.Errorf("recyclerd: allocations[%d].quotas[%d]: %w", i, j, err)
			}
			units, err := config.ParseAmount(grant.Units)
			if err != nil {
				return fmt.Errorf("recyclerd: allocations[%d].quotas[%d].units: %w", i, j, err)
			}
			if units.Sign() == 0 {
				continue
			}
			if err := ledger.Grant(addr, asset, units); err != nil {
				return fmt.Errorf("recyclerd: grant quota %s/%s: %w", addr.Hex(), asset.Hex(), err)
			}
		}
	}
	return nil
}

// RunJanitor prunes finished rate-quota epochs until ctx is cancelled.
func (a *App) RunJanitor(ctx context.Context) {
	interval := a.epoch / 2
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Processor.PruneQuotaCounters(); err != nil {
				a.logger.Warn("recyclerd: prune quota counters", "error", err)
			}
		}
	}
}

// Close releases the database.
func (a *App) Close() {
	if a == nil || a.db == nil {
		return
	}
	a.db.Close()
}
