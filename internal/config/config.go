// Package config loads server configuration from a YAML file with
// environment-variable overrides. A .env file is honored when present.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Roles   RolesConfig   `yaml:"roles"`
	Fees    FeesConfig    `yaml:"fees"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port           string `yaml:"port"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// StorageConfig holds the store DSNs. An empty DatabaseURL selects the
// in-memory store; RedisURL adds a read-through cache over PostgreSQL.
type StorageConfig struct {
	DatabaseURL     string `yaml:"database_url"`
	RedisURL        string `yaml:"redis_url"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
}

// RolesConfig fixes the owner and custodian identities at startup.
type RolesConfig struct {
	Owner      string   `yaml:"owner"`
	Custodians []string `yaml:"custodians"`
	FeeAccount string   `yaml:"fee_account"`
}

// FeesConfig carries fee and tolerance rates as decimal strings, e.g.
// "0.005" for 0.5%. Strings keep the YAML exact; rates are parsed once at
// load time.
type FeesConfig struct {
	TradeRate         decimal.Decimal `yaml:"-"`
	ResolutionRate    decimal.Decimal `yaml:"-"`
	WithdrawRate      decimal.Decimal `yaml:"-"`
	SlippageTolerance decimal.Decimal `yaml:"-"`

	TradeRateRaw         string `yaml:"trade_rate"`
	ResolutionRateRaw    string `yaml:"resolution_rate"`
	WithdrawRateRaw      string `yaml:"withdraw_rate"`
	SlippageToleranceRaw string `yaml:"slippage_tolerance"`
}

// LogConfig controls the log level.
type LogConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
}

// Load reads the YAML config at path and applies env overrides. A missing
// file yields the defaults, so the server runs with no config at all.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	if err := setDefaults(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// CacheTTL returns the Redis cache entry lifetime.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Storage.CacheTTLSeconds) * time.Second
}

// Timeout returns the per-request HTTP timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}

// SlogLevel translates the configured level name for log/slog.
func (c *Config) SlogLevel() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Storage.RedisURL = v
	}
	if v := os.Getenv("OWNER_ID"); v != "" {
		cfg.Roles.Owner = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func setDefaults(cfg *Config) error {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Server.TimeoutSeconds <= 0 {
		cfg.Server.TimeoutSeconds = 30
	}
	if cfg.Storage.CacheTTLSeconds <= 0 {
		cfg.Storage.CacheTTLSeconds = 30
	}
	if cfg.Roles.Owner == "" {
		cfg.Roles.Owner = "owner"
	}
	if len(cfg.Roles.Custodians) == 0 {
		cfg.Roles.Custodians = []string{cfg.Roles.Owner}
	}
	if cfg.Roles.FeeAccount == "" {
		cfg.Roles.FeeAccount = "fee-sink"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	var err error
	if cfg.Fees.TradeRate, err = parseRate(cfg.Fees.TradeRateRaw, "0.005"); err != nil {
		return fmt.Errorf("config: trade_rate: %w", err)
	}
	if cfg.Fees.ResolutionRate, err = parseRate(cfg.Fees.ResolutionRateRaw, "0.00025"); err != nil {
		return fmt.Errorf("config: resolution_rate: %w", err)
	}
	if cfg.Fees.WithdrawRate, err = parseRate(cfg.Fees.WithdrawRateRaw, "0.01"); err != nil {
		return fmt.Errorf("config: withdraw_rate: %w", err)
	}
	if cfg.Fees.SlippageTolerance, err = parseRate(cfg.Fees.SlippageToleranceRaw, "0.01"); err != nil {
		return fmt.Errorf("config: slippage_tolerance: %w", err)
	}
	return nil
}

func parseRate(raw, fallback string) (decimal.Decimal, error) {
	if raw == "" {
		raw = fallback
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, err
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("rate %s outside [0, 1)", rate)
	}
	return rate, nil
}
