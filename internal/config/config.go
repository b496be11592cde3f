// Package config loads and validates the reconciler configuration. The whole
// surface is consumed once at construction; nothing re-reads it at runtime.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Loop interval bounds. Values outside this range are a configuration
	// error, never silently clamped.
	MinIntervalSeconds = 60
	MaxIntervalSeconds = 1800
)

// Config is the full driftguard configuration.
type Config struct {
	Reconciliation ReconciliationConfig `yaml:"reconciliation"`
	Exchange       ExchangeConfig       `yaml:"exchange"`
	Ledger         LedgerConfig         `yaml:"ledger"`
	Redis          RedisConfig          `yaml:"redis"`
	Alerts         AlertsConfig         `yaml:"alerts"`
	HTTP           HTTPConfig           `yaml:"http"`
	Log            LogConfig            `yaml:"log"`
}

// ReconciliationConfig tunes the detector, correction policy, and loop.
type ReconciliationConfig struct {
	IntervalSeconds       int     `yaml:"interval_seconds"`
	QuantityTolerancePct  float64 `yaml:"quantity_tolerance_pct"`
	PriceTolerancePct     float64 `yaml:"price_tolerance_pct"`
	FetchTimeoutSeconds   int     `yaml:"fetch_timeout_seconds"`
	CorrectionMaxRetries  int     `yaml:"correction_max_retries"`
	CorrectionBackoffMs   int     `yaml:"correction_backoff_ms"`
	EscalateAfterFailures int     `yaml:"escalate_after_failures"`
}

// Interval returns the tick interval as a duration.
func (c ReconciliationConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// FetchTimeout bounds each snapshot fetch independently.
func (c ReconciliationConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// CorrectionBackoff is the base delay between correction-write retries.
func (c ReconciliationConfig) CorrectionBackoff() time.Duration {
	return time.Duration(c.CorrectionBackoffMs) * time.Millisecond
}

// ExchangeConfig holds the exchange REST API settings.
type ExchangeConfig struct {
	BaseURL               string  `yaml:"base_url"`
	APIKey                string  `yaml:"api_key"`
	APISecret             string  `yaml:"api_secret"`
	RateLimitRPS          float64 `yaml:"rate_limit_rps"`
	RequestTimeoutSeconds int     `yaml:"request_timeout_seconds"`
	MaxRetries            int     `yaml:"max_retries"`
}

// LedgerConfig holds the internal position ledger database settings.
type LedgerConfig struct {
	DSN                 string `yaml:"dsn"`
	QueryTimeoutSeconds int    `yaml:"query_timeout_seconds"`
}

// RedisConfig holds the status cache settings. Disabled by default.
type RedisConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// AlertsConfig holds the escalation channel settings. With an empty
// webhook URL alerts go to the log only.
type AlertsConfig struct {
	WebhookURL            string `yaml:"webhook_url"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
}

// HTTPConfig holds the monitoring endpoint settings.
type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns a configuration with all defaults applied.
func Default() Config {
	return Config{
		Reconciliation: ReconciliationConfig{
			IntervalSeconds:       300,
			QuantityTolerancePct:  1.0,
			PriceTolerancePct:     0.1,
			FetchTimeoutSeconds:   15,
			CorrectionMaxRetries:  3,
			CorrectionBackoffMs:   250,
			EscalateAfterFailures: 3,
		},
		Exchange: ExchangeConfig{
			BaseURL:               "https://fapi.binance.com",
			RateLimitRPS:          5.0,
			RequestTimeoutSeconds: 10,
			MaxRetries:            3,
		},
		Ledger: LedgerConfig{
			QueryTimeoutSeconds: 5,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			TTLSeconds: 900,
		},
		Alerts: AlertsConfig{
			RequestTimeoutSeconds: 5,
		},
		HTTP: HTTPConfig{
			ListenAddr: ":8087",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML config file, applies defaults for unset fields, and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate enforces construction-time invariants. Any violation is fatal:
// a reconciler must refuse to start rather than run with a clamped or
// guessed value.
func (c Config) Validate() error {
	r := c.Reconciliation
	if r.IntervalSeconds < MinIntervalSeconds || r.IntervalSeconds > MaxIntervalSeconds {
		return fmt.Errorf("reconciliation interval %ds out of range [%d, %d]",
			r.IntervalSeconds, MinIntervalSeconds, MaxIntervalSeconds)
	}
	if r.QuantityTolerancePct <= 0 {
		return fmt.Errorf("quantity tolerance must be positive, got %g", r.QuantityTolerancePct)
	}
	if r.PriceTolerancePct <= 0 {
		return fmt.Errorf("price tolerance must be positive, got %g", r.PriceTolerancePct)
	}
	if r.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("fetch timeout must be positive, got %ds", r.FetchTimeoutSeconds)
	}
	if r.CorrectionMaxRetries < 0 {
		return fmt.Errorf("correction max retries must be non-negative, got %d", r.CorrectionMaxRetries)
	}
	if r.EscalateAfterFailures <= 0 {
		return fmt.Errorf("escalate_after_failures must be positive, got %d", r.EscalateAfterFailures)
	}
	if c.Exchange.RateLimitRPS <= 0 {
		return fmt.Errorf("exchange rate limit must be positive, got %g", c.Exchange.RateLimitRPS)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis enabled but no addr configured")
	}
	return nil
}
