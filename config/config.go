package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddress       string       `toml:"ListenAddress" yaml:"listen"`
	DataDir             string       `toml:"DataDir" yaml:"data_dir"`
	KeystorePath        string       `toml:"KeystorePath" yaml:"keystore"`
	KeystorePassEnv     string       `toml:"KeystorePassEnv" yaml:"keystore_pass_env"`
	EngineAccount       string       `toml:"EngineAccount" yaml:"engine_account"`
	Owner               string       `toml:"Owner" yaml:"owner"`
	Params              Params       `toml:"Params" yaml:"params"`
	Assets              []Asset      `toml:"Assets" yaml:"assets"`
	Fees                Fees         `toml:"Fees" yaml:"fees"`
	Pauses              Pauses       `toml:"Pauses" yaml:"pauses"`
	Quota               Quota        `toml:"Quota" yaml:"quota"`
	Auth                Auth         `toml:"Auth" yaml:"auth"`
	RateLimit           RateLimit    `toml:"RateLimit" yaml:"rate_limit"`
	Telemetry           Telemetry    `toml:"Telemetry" yaml:"telemetry"`
	Allocations         []Allocation `toml:"Allocations" yaml:"allocations"`
	Storage             Storage      `toml:"Storage" yaml:"storage"`
	Logging             Logging      `toml:"Logging" yaml:"logging"`
	Archive             Archive      `toml:"Archive" yaml:"archive"`
	Stream              Stream       `toml:"Stream" yaml:"stream"`
	ShutdownGracePeriod Duration     `toml:"ShutdownGracePeriod" yaml:"shutdown_grace_period"`
}

// Load reads configuration from path. Files ending in .yaml or .yml are
// decoded as YAML, everything else as TOML.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	default:
		meta, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s has unknown field %s", path, undecoded[0].String())
		}
	}
	cfg.applyDefaults(path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults(path string) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8088"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./recycler-data"
	}
	if strings.TrimSpace(cfg.EngineAccount) == "" && strings.TrimSpace(cfg.KeystorePath) == "" {
		cfg.KeystorePath = defaultKeystorePath(path)
	}
	if strings.TrimSpace(cfg.Fees.Domain) == "" {
		cfg.Fees.Domain = "recycle"
	}
	if strings.TrimSpace(cfg.Params.GrowthSlopePerDay) == "" {
		cfg.Params.GrowthSlopePerDay = "0"
	}
	if cfg.Quota.EpochSeconds == 0 {
		cfg.Quota.EpochSeconds = 3600
	}
	if cfg.Auth.TokenTTL.Duration == 0 {
		cfg.Auth.TokenTTL.Duration = time.Hour
	}
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 10
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 20
	}
	if strings.TrimSpace(cfg.Storage.Backend) == "" {
		cfg.Storage.Backend = "leveldb"
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Archive.Enabled() {
		if strings.TrimSpace(cfg.Archive.Driver) == "" {
			cfg.Archive.Driver = "sqlite"
		}
		if cfg.Archive.Interval.Duration == 0 {
			cfg.Archive.Interval.Duration = 5 * time.Second
		}
	}
	if cfg.ShutdownGracePeriod.Duration == 0 {
		cfg.ShutdownGracePeriod.Duration = 5 * time.Second
	}
}

// HMACSecret resolves the token signing secret, preferring the environment
// variable when one is named.
func (cfg *Config) HMACSecret() string {
	if env := strings.TrimSpace(cfg.Auth.HMACSecretEnv); env != "" {
		if value := strings.TrimSpace(os.Getenv(env)); value != "" {
			return value
		}
	}
	return strings.TrimSpace(cfg.Auth.HMACSecret)
}

// KeystorePassphrase returns the passphrase protecting the engine keystore.
func (cfg *Config) KeystorePassphrase() string {
	if env := strings.TrimSpace(cfg.KeystorePassEnv); env != "" {
		return os.Getenv(env)
	}
	return ""
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "engine.keystore")
}
