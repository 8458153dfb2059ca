// Package config loads and validates the buybackd runtime configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"buybackd/native/buyback"
)

// Duration wraps time.Duration to support YAML unmarshalling.
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
	raw := value.Value
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

// Config captures runtime configuration for buybackd.
type Config struct {
	ListenAddress string               `yaml:"listen"`
	DatabasePath  string               `yaml:"database"`
	EngineParams  string               `yaml:"engine_params"`
	Environment   string               `yaml:"environment"`
	LogFile       string               `yaml:"log_file"`
	Oracle        OracleConfig         `yaml:"oracle"`
	Sources       []Source             `yaml:"sources"`
	Pair          Pair                 `yaml:"pair"`
	Ledger        LedgerConfig         `yaml:"ledger"`
	Bank          BankConfig           `yaml:"bank"`
	Auth          AuthConfig           `yaml:"auth"`
	RateLimits    map[string]RateLimit `yaml:"rate_limits"`
	Telemetry     TelemetryConfig      `yaml:"telemetry"`
}

// OracleConfig tunes the price aggregation loop.
type OracleConfig struct {
	Interval Duration `yaml:"interval"`
	MaxAge   Duration `yaml:"max_age"`
	MinFeeds int      `yaml:"min_feeds"`
}

// Source describes an upstream oracle feed.
type Source struct {
	Name     string            `yaml:"name"`
	Type     string            `yaml:"type"`
	Endpoint string            `yaml:"endpoint"`
	APIKey   string            `yaml:"api_key"`
	Assets   map[string]string `yaml:"assets"`
}

// Pair identifies the base/quote pair the engine prices against.
type Pair struct {
	Base  string `yaml:"base"`
	Quote string `yaml:"quote"`
}

// LedgerConfig points at the external debt ledger service.
type LedgerConfig struct {
	URL      string `yaml:"url"`
	Token    string `yaml:"token"`
	Receiver string `yaml:"receiver"`
}

// BankConfig points at the custody service holding engine balances.
type BankConfig struct {
	URL       string `yaml:"url"`
	Token     string `yaml:"token"`
	PayAsset  string `yaml:"pay_asset"`
	SellAsset string `yaml:"sell_asset"`
	Treasury  string `yaml:"treasury"`
}

// CredentialConfig binds a bearer token to a settlement address.
type CredentialConfig struct {
	Token   string `yaml:"token"`
	Address string `yaml:"address"`
}

// AuthConfig configures API bearer credentials.
type AuthConfig struct {
	Owner   CredentialConfig   `yaml:"owner"`
	Admin   CredentialConfig   `yaml:"admin"`
	Traders []CredentialConfig `yaml:"traders"`
}

// RateLimit caps request volume for one API route group.
type RateLimit struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// TelemetryConfig controls the OTLP exporters.
type TelemetryConfig struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
	Headers  string `yaml:"headers"`
	Metrics  bool   `yaml:"metrics"`
	Traces   bool   `yaml:"traces"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7085"
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "/var/data/buybackd.sqlite"
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.Oracle.Interval.Duration == 0 {
		cfg.Oracle.Interval.Duration = 30 * time.Second
	}
	if cfg.Oracle.MaxAge.Duration == 0 {
		cfg.Oracle.MaxAge.Duration = 2 * time.Minute
	}
	if cfg.Oracle.MinFeeds <= 0 {
		cfg.Oracle.MinFeeds = 1
	}
	if cfg.Bank.PayAsset == "" {
		cfg.Bank.PayAsset = "ZUSD"
	}
	if cfg.Bank.SellAsset == "" {
		cfg.Bank.SellAsset = "NHB"
	}
}

func validate(cfg Config) error {
	if len(cfg.Sources) == 0 {
		return fmt.Errorf("at least one oracle source must be configured")
	}
	if strings.TrimSpace(cfg.Pair.Base) == "" || strings.TrimSpace(cfg.Pair.Quote) == "" {
		return fmt.Errorf("oracle pair must be configured")
	}
	if strings.TrimSpace(cfg.EngineParams) == "" {
		return fmt.Errorf("engine_params path must be configured")
	}
	if strings.TrimSpace(cfg.Ledger.URL) == "" {
		return fmt.Errorf("ledger url must be configured")
	}
	if _, err := ParseAddress(cfg.Ledger.Receiver); err != nil {
		return fmt.Errorf("ledger receiver: %w", err)
	}
	if strings.TrimSpace(cfg.Bank.URL) == "" {
		return fmt.Errorf("bank url must be configured")
	}
	if _, err := ParseAddress(cfg.Bank.Treasury); err != nil {
		return fmt.Errorf("bank treasury: %w", err)
	}
	if strings.TrimSpace(cfg.Auth.Owner.Token) == "" {
		return fmt.Errorf("owner credential must be configured")
	}
	if _, err := ParseAddress(cfg.Auth.Owner.Address); err != nil {
		return fmt.Errorf("owner address: %w", err)
	}
	if strings.TrimSpace(cfg.Auth.Admin.Token) != "" {
		if _, err := ParseAddress(cfg.Auth.Admin.Address); err != nil {
			return fmt.Errorf("admin address: %w", err)
		}
	}
	for i, trader := range cfg.Auth.Traders {
		if strings.TrimSpace(trader.Token) == "" {
			return fmt.Errorf("trader %d: token required", i)
		}
		if _, err := ParseAddress(trader.Address); err != nil {
			return fmt.Errorf("trader %d address: %w", i, err)
		}
	}
	return nil
}

// ParseAddress decodes a 0x-prefixed hex address, rejecting blanks and the
// zero address.
func ParseAddress(value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return common.Address{}, fmt.Errorf("address required")
	}
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", value)
	}
	addr := common.HexToAddress(trimmed)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("zero address not allowed")
	}
	return addr, nil
}

// LoadEngineParams reads the engine parameter file referenced by the runtime
// configuration and normalises it into validated engine parameters.
func LoadEngineParams(path string) (buyback.Parameters, error) {
	var raw buyback.Config
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return buyback.Parameters{}, fmt.Errorf("decode engine params: %w", err)
	}
	params, err := raw.Parameters()
	if err != nil {
		return buyback.Parameters{}, fmt.Errorf("engine params: %w", err)
	}
	if err := params.Validate(); err != nil {
		return buyback.Parameters{}, fmt.Errorf("engine params: %w", err)
	}
	return params, nil
}
