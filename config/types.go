package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML and TOML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText renders the duration in time.Duration notation.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Params holds the initial price curve. Amounts are decimal strings so that
// values above 2^64 survive both encodings.
type Params struct {
	BasePrice         string `toml:"BasePrice" yaml:"base_price"`
	DecayRatePPM      uint64 `toml:"DecayRatePPM" yaml:"decay_rate_ppm"`
	GrowthSlopePerDay string `toml:"GrowthSlopePerDay" yaml:"growth_slope_per_day"`
}

// Asset seeds the asset registry.
type Asset struct {
	Address       string `toml:"Address" yaml:"address"`
	Symbol        string `toml:"Symbol" yaml:"symbol"`
	Eligible      bool   `toml:"Eligible" yaml:"eligible"`
	Enabled       bool   `toml:"Enabled" yaml:"enabled"`
	Decimals      uint8  `toml:"Decimals" yaml:"decimals"`
	Rate          string `toml:"Rate" yaml:"rate"`
	CapacityUnits string `toml:"CapacityUnits" yaml:"capacity_units"`
}

// Fees configures the fee router the engine forwards payments through.
type Fees struct {
	Domain            string `toml:"Domain" yaml:"domain"`
	PolicyVersion     uint64 `toml:"PolicyVersion" yaml:"policy_version"`
	MDRBps            uint32 `toml:"MDRBps" yaml:"mdr_bps"`
	FreeTierAllowance uint64 `toml:"FreeTierAllowance" yaml:"free_tier_allowance"`
	RouteWallet       string `toml:"RouteWallet" yaml:"route_wallet"`
}

// Pauses toggles modules off without redeploying.
type Pauses struct {
	Recycler bool `toml:"Recycler" yaml:"recycler"`
}

// IsPaused implements the module pause view.
func (p Pauses) IsPaused(module string) bool {
	switch strings.ToLower(strings.TrimSpace(module)) {
	case "recycler":
		return p.Recycler
	default:
		return false
	}
}

// Quota defines rate limits for recycle calls on a per-address basis.
type Quota struct {
	MaxRequestsPerEpoch uint32 `toml:"MaxRequestsPerEpoch" yaml:"max_requests_per_epoch"`
	MaxPaymentPerEpoch  uint64 `toml:"MaxPaymentPerEpoch" yaml:"max_payment_per_epoch"` // in gwei
	EpochSeconds        uint32 `toml:"EpochSeconds" yaml:"epoch_seconds"`
}

// Auth configures HS256 bearer tokens for API callers.
type Auth struct {
	HMACSecret    string   `toml:"HMACSecret" yaml:"hmac_secret"`
	HMACSecretEnv string   `toml:"HMACSecretEnv" yaml:"hmac_secret_env"`
	Issuer        string   `toml:"Issuer" yaml:"issuer"`
	Audience      string   `toml:"Audience" yaml:"audience"`
	TokenTTL      Duration `toml:"TokenTTL" yaml:"token_ttl"`
}

// RateLimit bounds requests per client identity.
type RateLimit struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond" yaml:"requests_per_second"`
	Burst             int     `toml:"Burst" yaml:"burst"`
}

// Telemetry configures OTLP export.
type Telemetry struct {
	Environment string `toml:"Environment" yaml:"environment"`
	Endpoint    string `toml:"Endpoint" yaml:"endpoint"`
	Insecure    bool   `toml:"Insecure" yaml:"insecure"`
	Metrics     bool   `toml:"Metrics" yaml:"metrics"`
	Traces      bool   `toml:"Traces" yaml:"traces"`
}

// Allocation seeds balances and quota for development networks.
type Allocation struct {
	Address string       `toml:"Address" yaml:"address"`
	Balance string       `toml:"Balance" yaml:"balance"`
	Quotas  []QuotaGrant `toml:"Quotas" yaml:"quotas"`
}

// QuotaGrant pre-authorises units of an asset for an allocation.
type QuotaGrant struct {
	Asset string `toml:"Asset" yaml:"asset"`
	Units string `toml:"Units" yaml:"units"`
}

// Storage selects the state backend.
type Storage struct {
	Backend string `toml:"Backend" yaml:"backend"` // leveldb or bolt
}

// Logging configures level and an optional rotating log file.
type Logging struct {
	Level      string `toml:"Level" yaml:"level"`
	File       string `toml:"File" yaml:"file"`
	MaxSizeMB  int    `toml:"MaxSizeMB" yaml:"max_size_mb"`
	MaxBackups int    `toml:"MaxBackups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"MaxAgeDays" yaml:"max_age_days"`
	Compress   bool   `toml:"Compress" yaml:"compress"`
}

// Archive mirrors the event log into SQL. An empty DSN disables it.
type Archive struct {
	Driver   string   `toml:"Driver" yaml:"driver"` // sqlite or postgres
	DSN      string   `toml:"DSN" yaml:"dsn"`
	Interval Duration `toml:"Interval" yaml:"interval"`
}

// Enabled reports whether an archive database is configured.
func (a Archive) Enabled() bool {
	return strings.TrimSpace(a.DSN) != ""
}

// Stream toggles the websocket event stream.
type Stream struct {
	Enabled bool `toml:"Enabled" yaml:"enabled"`
}
