// Package config loads the bridge daemon's YAML configuration, applies
// environment-variable overrides, and supports hot reload: a Watcher re-reads
// the file when it changes and hands each successfully parsed Config to its
// subscribers.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainConfig holds per-chain adapter tuning.
type ChainConfig struct {
	NetworkID        int64  `yaml:"network_id"`
	RPCEndpoint      string `yaml:"rpc_endpoint"`
	ContractAddr     string `yaml:"contract_addr"`
	MinConfirmations int    `yaml:"min_confirmations"`
	SubmitRetry      struct {
		MaxAttempts int `yaml:"max_attempts"`
		BaseDelayMs int `yaml:"base_delay_ms"`
	} `yaml:"submit_retry"`
	StateDeadline struct {
		LockConfirmedSec   int `yaml:"lock_confirmed_sec"`
		UnlockConfirmedSec int `yaml:"unlock_confirmed_sec"`
	} `yaml:"state_deadline"`
}

// RiskConfig controls the Quoted→RiskCheck→Admitted transition's
// fail-open/fail-closed behavior when the remote risk engine is unreachable.
type RiskConfig struct {
	Endpoint   string `yaml:"endpoint"`
	Policy     string `yaml:"policy"` // "fail-open" or "fail-closed"
	TimeoutMs  int    `yaml:"timeout_ms"`
	CacheTTLMs int    `yaml:"cache_ttl_ms"`
}

// CircuitConfig tunes the per-provider breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold"`
	CooldownSec      int `yaml:"cooldown_sec"`
}

// QuoteConfig holds the quote engine's rate-source weighting.
type QuoteConfig struct {
	RateWeights struct {
		Oracle float64 `yaml:"oracle"`
		DEX    float64 `yaml:"dex"`
	} `yaml:"rate_weights"`
}

// StoreConfig is the Postgres connection the swap store uses.
type StoreConfig struct {
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MigrationsTable string `yaml:"migrations_table"`
}

// AuditConfig controls the append-only transition log.
type AuditConfig struct {
	LogPath string `yaml:"log_path"`
}

// Config is the full daemon configuration tree.
type Config struct {
	Chain   map[string]ChainConfig `yaml:"chain"`
	Risk    RiskConfig             `yaml:"risk"`
	Circuit CircuitConfig          `yaml:"circuit"`
	Quote   QuoteConfig            `yaml:"quote"`
	Store   StoreConfig            `yaml:"store"`
	Audit   AuditConfig            `yaml:"audit"`
}

// Default returns a Config with the teacher-derived baseline confirmation
// counts (12 for EVM, 6 for Bitcoin) and a safe fail-closed risk policy.
func Default() *Config {
	cfg := &Config{
		Chain: map[string]ChainConfig{
			"ethereum": {MinConfirmations: 12},
			"bitcoin":  {MinConfirmations: 6},
		},
		Risk: RiskConfig{Policy: "fail-closed", TimeoutMs: 2000, CacheTTLMs: 30000},
	}
	cfg.Circuit.FailureThreshold = 5
	cfg.Circuit.CooldownSec = 30
	cfg.Quote.RateWeights.Oracle = 0.6
	cfg.Quote.RateWeights.DEX = 0.4
	cfg.Audit.LogPath = "/var/log/bridged/transfers.ndjson"
	return cfg
}

// Load reads path as YAML, starting from Default(), then applies any
// BRIDGE_<SECTION>_<KEY> environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides lets an operator override the risk policy, store DSN,
// circuit failure threshold, and each configured chain's RPC endpoint
// without editing the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BRIDGE_RISK_POLICY"); v != "" {
		cfg.Risk.Policy = v
	}
	if v := os.Getenv("BRIDGE_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("BRIDGE_CIRCUIT_FAILURE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Circuit.FailureThreshold = n
		}
	}
	for key, chain := range cfg.Chain {
		envKey := "BRIDGE_CHAIN_" + strings.ToUpper(key) + "_RPC_ENDPOINT"
		if v := os.Getenv(envKey); v != "" {
			chain.RPCEndpoint = v
			cfg.Chain[key] = chain
		}
	}
}
