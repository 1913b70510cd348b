package config

import (
	"fmt"
	"strings"

	"klinesync/internal/market"
	"klinesync/internal/store/model"
)

func validate(c *Config) error {
	if err := c.Exchange.validate(); err != nil {
		return err
	}
	if err := c.Sync.validate(); err != nil {
		return err
	}
	if c.Redis.Enabled && strings.TrimSpace(c.Redis.Addr) == "" {
		return fmt.Errorf("redis.addr cannot be empty when redis is enabled")
	}
	return nil
}

func (e *ExchangeConfig) validate() error {
	if strings.ToLower(strings.TrimSpace(e.Name)) != "binance" {
		return fmt.Errorf("exchange.name %q is not supported (only binance)", e.Name)
	}
	if e.Proxy.Enabled && e.Proxy.RESTURL == "" {
		return fmt.Errorf("exchange.proxy.rest_url cannot be empty when proxy is enabled")
	}
	if e.PageLimit > 1000 {
		return fmt.Errorf("exchange.page_limit must be <= 1000 (got %d)", e.PageLimit)
	}
	return nil
}

func (s *SyncConfig) validate() error {
	seen := make(map[string]bool, len(s.Jobs))
	for i, j := range s.Jobs {
		if strings.TrimSpace(j.Symbol) == "" {
			return fmt.Errorf("sync.jobs[%d] missing symbol", i)
		}
		if _, err := market.ParseTimeframe(j.Timeframe); err != nil {
			return fmt.Errorf("sync.jobs[%d] (%s): %w", i, j.Symbol, err)
		}
		if !model.JobKind(j.Kind).Valid() {
			return fmt.Errorf("sync.jobs[%d] (%s): unknown kind %q", i, j.Symbol, j.Kind)
		}
		key := j.Symbol + ":" + j.Timeframe
		if seen[key] {
			return fmt.Errorf("sync.jobs[%d] duplicates %s", i, key)
		}
		seen[key] = true
	}
	return nil
}
