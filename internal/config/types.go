package config

import (
	"strings"
	"time"
)

// Config is the full configuration tree for the sync engine.
type Config struct {
	App      AppConfig      `toml:"app"`
	Exchange ExchangeConfig `toml:"exchange"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	Sync     SyncConfig     `toml:"sync"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// ExchangeConfig describes the upstream market data source. Credentials may
// also arrive via BINANCE_API_KEY / BINANCE_SECRET_KEY, which win over the
// file so secrets stay out of it.
type ExchangeConfig struct {
	Name        string      `toml:"name"`
	APIKey      string      `toml:"api_key"`
	SecretKey   string      `toml:"secret_key"`
	Sandbox     bool        `toml:"sandbox"`
	RESTBaseURL string      `toml:"rest_base_url"`
	Proxy       ProxyConfig `toml:"proxy"`

	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
	PageLimit         int     `toml:"page_limit"`

	MaxAttempts     int `toml:"max_attempts"`
	RetryMinDelayMs int `toml:"retry_min_delay_ms"`
	RetryMaxDelayMs int `toml:"retry_max_delay_ms"`
	TimeoutSeconds  int `toml:"timeout_seconds"`
}

func (e ExchangeConfig) RetryMinDelay() time.Duration {
	return time.Duration(e.RetryMinDelayMs) * time.Millisecond
}

func (e ExchangeConfig) RetryMaxDelay() time.Duration {
	return time.Duration(e.RetryMaxDelayMs) * time.Millisecond
}

func (e ExchangeConfig) HTTPTimeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

type ProxyConfig struct {
	Enabled bool   `toml:"enabled"`
	RESTURL string `toml:"rest_url"`
}

func (p *ProxyConfig) normalize() {
	if p == nil {
		return
	}
	p.RESTURL = strings.TrimSpace(p.RESTURL)
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

// RedisConfig enables the distributed job lock. Disabled, the scheduler falls
// back to an in-process locker, which is correct for single-instance setups.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	LockPrefix string `toml:"lock_prefix"`
}

type SyncConfig struct {
	MaxConcurrent  int `toml:"max_concurrent"`
	MaxSpanCandles int `toml:"max_span_candles"`
	// LeaseTTLMinutes must outlast the longest plausible run.
	LeaseTTLMinutes          int `toml:"lease_ttl_minutes"`
	FailureBackoffMinSeconds int `toml:"failure_backoff_min_seconds"`
	FailureBackoffMaxSeconds int `toml:"failure_backoff_max_seconds"`

	Jobs []JobSpec `toml:"jobs"`
}

func (s SyncConfig) LeaseTTL() time.Duration {
	return time.Duration(s.LeaseTTLMinutes) * time.Minute
}

func (s SyncConfig) FailureBackoffMin() time.Duration {
	return time.Duration(s.FailureBackoffMinSeconds) * time.Second
}

func (s SyncConfig) FailureBackoffMax() time.Duration {
	return time.Duration(s.FailureBackoffMaxSeconds) * time.Second
}

// JobSpec declares one sync job in the file. Jobs are upserted into the store
// by name on startup; jobs created through the API live only in the store.
type JobSpec struct {
	Symbol       string `toml:"symbol"`
	Timeframe    string `toml:"timeframe"`
	Kind         string `toml:"kind"`
	LookbackDays int    `toml:"lookback_days"`
	Cadence      string `toml:"cadence"`
	Disabled     bool   `toml:"disabled"`
}

// Name derives the stable job identity used for store upserts.
func (j JobSpec) Name(exchange string) string {
	return strings.ToLower(strings.TrimSpace(exchange)) + ":" +
		strings.ToUpper(strings.TrimSpace(j.Symbol)) + ":" +
		strings.ToLower(strings.TrimSpace(j.Timeframe))
}

// keySet tracks which field paths were set explicitly in the file, so
// defaults never clobber a deliberate zero value.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	_, ok := k[strings.ToLower(strings.TrimSpace(path))]
	return ok
}

// fieldDefault is one field's default-value rule.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
