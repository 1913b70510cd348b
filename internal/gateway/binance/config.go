package binance

import (
	"strings"
	"time"
)

const (
	defaultPageLimit = 500
	maxPageLimit     = 1000
)

type Config struct {
	APIKey      string
	SecretKey   string
	Sandbox     bool
	RESTBaseURL string
	HTTPTimeout time.Duration

	ProxyEnabled bool
	RESTProxyURL string

	// RequestsPerSecond / Burst parameterize the shared token bucket.
	RequestsPerSecond float64
	Burst             int

	// PageLimit is the number of candles requested per page.
	PageLimit int

	// Retry bounds for transient per-request failures.
	MaxAttempts   int
	RetryMinDelay time.Duration
	RetryMaxDelay time.Duration

	// BreakerThreshold consecutive failures open the circuit for
	// BreakerCooldown before a probe is allowed through.
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	out.RESTBaseURL = strings.TrimSpace(out.RESTBaseURL)
	if out.RESTBaseURL == "" {
		if out.Sandbox {
			out.RESTBaseURL = "https://testnet.binance.vision"
		} else {
			out.RESTBaseURL = "https://api.binance.com"
		}
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	out.RESTProxyURL = strings.TrimSpace(out.RESTProxyURL)
	if out.RequestsPerSecond <= 0 {
		// Spot kline weight keeps well under the documented ceiling at 10 rps.
		out.RequestsPerSecond = 10
	}
	if out.Burst <= 0 {
		out.Burst = 1
	}
	if out.PageLimit <= 0 {
		out.PageLimit = defaultPageLimit
	}
	if out.PageLimit > maxPageLimit {
		out.PageLimit = maxPageLimit
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 5
	}
	if out.RetryMinDelay <= 0 {
		out.RetryMinDelay = 500 * time.Millisecond
	}
	if out.RetryMaxDelay <= 0 {
		out.RetryMaxDelay = 30 * time.Second
	}
	if out.BreakerThreshold <= 0 {
		out.BreakerThreshold = 10
	}
	if out.BreakerCooldown <= 0 {
		out.BreakerCooldown = time.Minute
	}
	return out
}
