package config

import "strings"

const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppHTTPAddr = ":9880"
	defaultAppLogPath  = "/data/logs/klinesync.log"

	defaultExchangeName = "binance"
	defaultExchangeRPS  = 10
	defaultBurst        = 1
	defaultPageLimit    = 500
	defaultMaxAttempts  = 5
	defaultRetryMinMs   = 500
	defaultRetryMaxMs   = 30000
	defaultHTTPTimeout  = 15

	defaultDatabasePath = "/data/db/klinesync.db"

	defaultRedisAddr  = "localhost:6379"
	defaultLockPrefix = "klinesync:lock:"

	defaultMaxConcurrent  = 2
	defaultMaxSpanCandles = 500
	defaultLeaseTTLMin    = 30
	defaultBackoffMinSec  = 30
	defaultBackoffMaxSec  = 1800

	defaultLookbackDays = 365
	defaultJobKind      = "backfill"
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Exchange.applyDefaults(keys)
	c.Database.applyDefaults(keys)
	c.Redis.applyDefaults(keys)
	c.Sync.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (e *ExchangeConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	e.Proxy.normalize()
	applyFieldDefaults(keys,
		stringFieldDefault("exchange.name", &e.Name, defaultExchangeName),
		fieldDefault{
			key:   "exchange.requests_per_second",
			need:  func() bool { return e.RequestsPerSecond <= 0 },
			apply: func() { e.RequestsPerSecond = defaultExchangeRPS },
		},
		fieldDefault{
			key:   "exchange.burst",
			need:  func() bool { return e.Burst <= 0 },
			apply: func() { e.Burst = defaultBurst },
		},
		fieldDefault{
			key:   "exchange.page_limit",
			need:  func() bool { return e.PageLimit <= 0 },
			apply: func() { e.PageLimit = defaultPageLimit },
		},
		fieldDefault{
			key:   "exchange.max_attempts",
			need:  func() bool { return e.MaxAttempts <= 0 },
			apply: func() { e.MaxAttempts = defaultMaxAttempts },
		},
		fieldDefault{
			key:   "exchange.retry_min_delay_ms",
			need:  func() bool { return e.RetryMinDelayMs <= 0 },
			apply: func() { e.RetryMinDelayMs = defaultRetryMinMs },
		},
		fieldDefault{
			key:   "exchange.retry_max_delay_ms",
			need:  func() bool { return e.RetryMaxDelayMs <= 0 },
			apply: func() { e.RetryMaxDelayMs = defaultRetryMaxMs },
		},
		fieldDefault{
			key:   "exchange.timeout_seconds",
			need:  func() bool { return e.TimeoutSeconds <= 0 },
			apply: func() { e.TimeoutSeconds = defaultHTTPTimeout },
		},
	)
}

func (d *DatabaseConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("database.path", &d.Path, defaultDatabasePath),
	)
}

func (r *RedisConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("redis.addr", &r.Addr, defaultRedisAddr),
		stringFieldDefault("redis.lock_prefix", &r.LockPrefix, defaultLockPrefix),
	)
}

func (s *SyncConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "sync.max_concurrent",
			need:  func() bool { return s.MaxConcurrent <= 0 },
			apply: func() { s.MaxConcurrent = defaultMaxConcurrent },
		},
		fieldDefault{
			key:   "sync.max_span_candles",
			need:  func() bool { return s.MaxSpanCandles <= 0 },
			apply: func() { s.MaxSpanCandles = defaultMaxSpanCandles },
		},
		fieldDefault{
			key:   "sync.lease_ttl_minutes",
			need:  func() bool { return s.LeaseTTLMinutes <= 0 },
			apply: func() { s.LeaseTTLMinutes = defaultLeaseTTLMin },
		},
		fieldDefault{
			key:   "sync.failure_backoff_min_seconds",
			need:  func() bool { return s.FailureBackoffMinSeconds <= 0 },
			apply: func() { s.FailureBackoffMinSeconds = defaultBackoffMinSec },
		},
		fieldDefault{
			key:   "sync.failure_backoff_max_seconds",
			need:  func() bool { return s.FailureBackoffMaxSeconds <= 0 },
			apply: func() { s.FailureBackoffMaxSeconds = defaultBackoffMaxSec },
		},
	)
	for i := range s.Jobs {
		j := &s.Jobs[i]
		j.Symbol = strings.ToUpper(strings.TrimSpace(j.Symbol))
		j.Timeframe = strings.ToLower(strings.TrimSpace(j.Timeframe))
		j.Kind = strings.ToLower(strings.TrimSpace(j.Kind))
		if j.Kind == "" {
			j.Kind = defaultJobKind
		}
		if j.LookbackDays <= 0 {
			j.LookbackDays = defaultLookbackDays
		}
		if strings.TrimSpace(j.Cadence) == "" {
			// Re-sync once per candle boundary.
			j.Cadence = j.Timeframe
		}
	}
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
