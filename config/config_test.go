package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleConfig = `
listen: ":9090"
database: "/tmp/buybackd-test.sqlite"
engine_params: "%s"
environment: "test"
oracle:
  interval: "15s"
  max_age: "90s"
  min_feeds: 2
sources:
  - name: "coingecko"
    type: "coingecko"
    assets:
      NHB: "nhb-token"
pair:
  base: "NHB"
  quote: "USD"
ledger:
  url: "http://ledger.local"
  token: "ledger-token"
  receiver: "0x00000000000000000000000000000000000000D1"
bank:
  url: "http://bank.local"
  token: "bank-token"
  treasury: "0x00000000000000000000000000000000000000E1"
auth:
  owner:
    token: "owner-token"
    address: "0x00000000000000000000000000000000000000A1"
  admin:
    token: "admin-token"
    address: "0x00000000000000000000000000000000000000A2"
  traders:
    - token: "trader-token"
      address: "0x00000000000000000000000000000000000000C1"
rate_limits:
  quote:
    requests_per_minute: 600
    burst: 20
`

const sampleEngineParams = `
DiscountBps = 250
BaselineBuffer = "500000000"
MinAdminDiscountBps = 50
MaxAdminDiscountBps = 500
MinAdminBaselineBuffer = "0"
MaxAdminBaselineBuffer = "1000000000"
PayDecimals = 6
SellDecimals = 18
`

func writeSampleFiles(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	paramsPath := filepath.Join(dir, "engine.toml")
	if err := os.WriteFile(paramsPath, []byte(sampleEngineParams), 0o600); err != nil {
		t.Fatalf("write engine params: %v", err)
	}
	configPath := filepath.Join(dir, "config.yaml")
	rendered := strings.Replace(sampleConfig, "%s", paramsPath, 1)
	if err := os.WriteFile(configPath, []byte(rendered), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return configPath
}

func TestLoadParsesConfig(t *testing.T) {
	cfg, err := Load(writeSampleFiles(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":9090" {
		t.Fatalf("unexpected listen %q", cfg.ListenAddress)
	}
	if cfg.Oracle.Interval.Duration != 15*time.Second {
		t.Fatalf("unexpected interval %s", cfg.Oracle.Interval.Duration)
	}
	if cfg.Oracle.MinFeeds != 2 {
		t.Fatalf("unexpected min feeds %d", cfg.Oracle.MinFeeds)
	}
	if cfg.Pair.Base != "NHB" || cfg.Pair.Quote != "USD" {
		t.Fatalf("unexpected pair %+v", cfg.Pair)
	}
	if len(cfg.Auth.Traders) != 1 {
		t.Fatalf("unexpected traders %+v", cfg.Auth.Traders)
	}
	limit, ok := cfg.RateLimits["quote"]
	if !ok || limit.RequestsPerMinute != 600 || limit.Burst != 20 {
		t.Fatalf("unexpected rate limit %+v", cfg.RateLimits)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	paramsPath := filepath.Join(dir, "engine.toml")
	if err := os.WriteFile(paramsPath, []byte(sampleEngineParams), 0o600); err != nil {
		t.Fatalf("write engine params: %v", err)
	}
	minimal := strings.Replace(sampleConfig, `listen: ":9090"`, "", 1)
	minimal = strings.Replace(minimal, `interval: "15s"`, "", 1)
	minimal = strings.Replace(minimal, "%s", paramsPath, 1)
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(minimal), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":7085" {
		t.Fatalf("default listen not applied: %q", cfg.ListenAddress)
	}
	if cfg.Oracle.Interval.Duration != 30*time.Second {
		t.Fatalf("default interval not applied: %s", cfg.Oracle.Interval.Duration)
	}
	if cfg.Bank.PayAsset != "ZUSD" {
		t.Fatalf("default pay asset not applied: %q", cfg.Bank.PayAsset)
	}
}

func TestLoadRejectsIncompleteConfig(t *testing.T) {
	cases := map[string]func(string) string{
		"missing sources": func(raw string) string {
			return strings.Replace(raw, `  - name: "coingecko"
    type: "coingecko"
    assets:
      NHB: "nhb-token"
`, "", 1)
		},
		"missing ledger receiver": func(raw string) string {
			return strings.Replace(raw, `receiver: "0x00000000000000000000000000000000000000D1"`, `receiver: ""`, 1)
		},
		"missing owner token": func(raw string) string {
			return strings.Replace(raw, `token: "owner-token"`, `token: ""`, 1)
		},
		"invalid trader address": func(raw string) string {
			return strings.Replace(raw, `address: "0x00000000000000000000000000000000000000C1"`, `address: "not-an-address"`, 1)
		},
	}
	dir := t.TempDir()
	paramsPath := filepath.Join(dir, "engine.toml")
	if err := os.WriteFile(paramsPath, []byte(sampleEngineParams), 0o600); err != nil {
		t.Fatalf("write engine params: %v", err)
	}
	for name, mutate := range cases {
		rendered := mutate(strings.Replace(sampleConfig, "%s", paramsPath, 1))
		path := filepath.Join(dir, strings.ReplaceAll(name, " ", "-")+".yaml")
		if err := os.WriteFile(path, []byte(rendered), 0o600); err != nil {
			t.Fatalf("%s: write config: %v", name, err)
		}
		if _, err := Load(path); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestParseAddress(t *testing.T) {
	if _, err := ParseAddress("0x00000000000000000000000000000000000000A1"); err != nil {
		t.Fatalf("valid address rejected: %v", err)
	}
	for _, invalid := range []string{"", "  ", "0x00", "0x0000000000000000000000000000000000000000", "nope"} {
		if _, err := ParseAddress(invalid); err == nil {
			t.Fatalf("address %q accepted", invalid)
		}
	}
}

func TestLoadEngineParams(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.toml")
	if err := os.WriteFile(path, []byte(sampleEngineParams), 0o600); err != nil {
		t.Fatalf("write engine params: %v", err)
	}
	params, err := LoadEngineParams(path)
	if err != nil {
		t.Fatalf("load engine params: %v", err)
	}
	if params.DiscountBps != 250 {
		t.Fatalf("unexpected discount %d", params.DiscountBps)
	}
	if params.BaselineBuffer.String() != "500000000" {
		t.Fatalf("unexpected baseline %s", params.BaselineBuffer)
	}

	crossed := strings.Replace(sampleEngineParams, "MinAdminDiscountBps = 50", "MinAdminDiscountBps = 600", 1)
	badPath := filepath.Join(dir, "bad.toml")
	if err := os.WriteFile(badPath, []byte(crossed), 0o600); err != nil {
		t.Fatalf("write bad params: %v", err)
	}
	if _, err := LoadEngineParams(badPath); err == nil {
		t.Fatalf("expected validation error for crossed window")
	}
}
