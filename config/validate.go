package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"recycler/crypto"
)

const (
	maxDecayRatePPM = 1_000_000
	maxMDRBps       = 10_000
	minSecretLength = 16
)

// ParseAmount parses a non-negative base-10 integer. Underscores are accepted
// as digit separators.
func ParseAmount(raw string) (*big.Int, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(raw), "_", "")
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must not be negative", raw)
	}
	return value, nil
}

func parseNonZeroAddress(field, raw string) (common.Address, error) {
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%s: %w", field, err)
	}
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%s: zero address", field)
	}
	return addr, nil
}

// Validate checks every field that the daemon would otherwise reject while
// wiring.
func (cfg *Config) Validate() error {
	if _, err := parseNonZeroAddress("owner", cfg.Owner); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.EngineAccount) != "" {
		if _, err := parseNonZeroAddress("engine_account", cfg.EngineAccount); err != nil {
			return err
		}
	}

	base, err := ParseAmount(cfg.Params.BasePrice)
	if err != nil {
		return fmt.Errorf("params.base_price: %w", err)
	}
	if base.Sign() == 0 {
		return fmt.Errorf("params.base_price must be positive")
	}
	if cfg.Params.DecayRatePPM > maxDecayRatePPM {
		return fmt.Errorf("params.decay_rate_ppm %d exceeds %d", cfg.Params.DecayRatePPM, maxDecayRatePPM)
	}
	if _, err := ParseAmount(cfg.Params.GrowthSlopePerDay); err != nil {
		return fmt.Errorf("params.growth_slope_per_day: %w", err)
	}

	seen := make(map[common.Address]struct{}, len(cfg.Assets))
	for i, asset := range cfg.Assets {
		addr, err := parseNonZeroAddress(fmt.Sprintf("assets[%d].address", i), asset.Address)
		if err != nil {
			return err
		}
		if _, dup := seen[addr]; dup {
			return fmt.Errorf("assets[%d]: duplicate asset %s", i, addr.Hex())
		}
		seen[addr] = struct{}{}
		if _, err := ParseAmount(asset.Rate); err != nil {
			return fmt.Errorf("assets[%d].rate: %w", i, err)
		}
		if _, err := ParseAmount(asset.CapacityUnits); err != nil {
			return fmt.Errorf("assets[%d].capacity_units: %w", i, err)
		}
	}

	if cfg.Fees.MDRBps > maxMDRBps {
		return fmt.Errorf("fees.mdr_bps %d exceeds %d", cfg.Fees.MDRBps, maxMDRBps)
	}
	if _, err := parseNonZeroAddress("fees.route_wallet", cfg.Fees.RouteWallet); err != nil {
		return err
	}

	if len(cfg.HMACSecret()) < minSecretLength {
		return fmt.Errorf("auth: hmac secret must be at least %d characters", minSecretLength)
	}
	if cfg.RateLimit.RequestsPerSecond < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must not be negative")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Backend)) {
	case "", "leveldb", "bolt", "bbolt":
	default:
		return fmt.Errorf("storage.backend %q must be leveldb or bolt", cfg.Storage.Backend)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not a known level", cfg.Logging.Level)
	}
	if cfg.Archive.Enabled() {
		switch strings.ToLower(strings.TrimSpace(cfg.Archive.Driver)) {
		case "", "sqlite", "postgres", "postgresql":
		default:
			return fmt.Errorf("archive.driver %q must be sqlite or postgres", cfg.Archive.Driver)
		}
	}

	for i, alloc := range cfg.Allocations {
		if _, err := parseNonZeroAddress(fmt.Sprintf("allocations[%d].address", i), alloc.Address); err != nil {
			return err
		}
		if _, err := ParseAmount(alloc.Balance); err != nil {
			return fmt.Errorf("allocations[%d].balance: %w", i, err)
		}
		for j, grant := range alloc.Quotas {
			if _, err := parseNonZeroAddress(fmt.Sprintf("allocations[%d].quotas[%d].asset", i, j), grant.Asset); err != nil {
				return err
			}
			if _, err := ParseAmount(grant.Units); err != nil {
				return fmt.Errorf("allocations[%d].quotas[%d].units: %w", i, j, err)
			}
		}
	}
	return nil
}
