// Package binance implements market.Source on the Binance spot REST API.
package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"golang.org/x/time/rate"

	"klinesync/internal/market"
	"klinesync/internal/pkg/circuit"
	"klinesync/internal/retry"
)

// ErrUpstreamOpen is returned while the exchange breaker is open. Callers
// treat it like any other fetch failure; the scheduler's backoff spaces the
// next attempt past the cooldown.
var ErrUpstreamOpen = fmt.Errorf("upstream circuit open")

// Source wraps the go-binance SDK behind a shared rate limiter and a retry
// policy. One Source per exchange: every job syncing from it draws from the
// same token bucket, so no job can starve another of request budget.
type Source struct {
	cfg     Config
	client  *binance.Client
	limiter *rate.Limiter
	policy  *retry.Policy
	breaker *circuit.Breaker
	nowFn   func() time.Time
}

func New(cfg Config) (*Source, error) {
	final := cfg.withDefaults()
	client := binance.NewClient(final.APIKey, final.SecretKey)
	client.BaseURL = final.RESTBaseURL
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyEnabled && final.RESTProxyURL != "" {
		proxyURL, err := url.Parse(final.RESTProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	return &Source{
		cfg:     final,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(final.RequestsPerSecond), final.Burst),
		policy:  retry.NewPolicy(final.MaxAttempts, final.RetryMinDelay, final.RetryMaxDelay, 2),
		breaker: circuit.NewBreaker("binance", final.BreakerThreshold, final.BreakerCooldown),
		nowFn:   time.Now,
	}, nil
}

// FetchRange returns a lazy page iterator over [start, end). The iterator is
// finite and not restartable; callers re-fetch by calling FetchRange again.
func (s *Source) FetchRange(ctx context.Context, symbol string, tf market.Timeframe, start, end int64) market.Iterator {
	return &rangeIterator{
		src:    s,
		symbol: toExchangeSymbol(symbol),
		tf:     tf,
		cursor: start,
		end:    end,
	}
}

// FetchLatest returns the most recent closed candles, oldest first.
func (s *Source) FetchLatest(ctx context.Context, symbol string, tf market.Timeframe, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	kls, err := s.fetchPage(ctx, toExchangeSymbol(symbol), tf, 0, 0, limit)
	if err != nil {
		return nil, err
	}
	return market.SanitizeCandles(kls, tf, s.nowFn().UTC()), nil
}

// Ping checks upstream reachability via the server-time endpoint.
func (s *Source) Ping(ctx context.Context) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := s.client.NewServerTimeService().Do(ctx)
	return err
}

// fetchPage performs one rate-limited, retried klines request. start/end of 0
// mean "unbounded" and fall through to the exchange defaults.
func (s *Source) fetchPage(ctx context.Context, symbol string, tf market.Timeframe, start, end int64, limit int) ([]market.Candle, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if tf.IsZero() {
		return nil, fmt.Errorf("timeframe is required")
	}
	for attempt := 1; ; attempt++ {
		if !s.breaker.Allow() {
			return nil, fmt.Errorf("klines %s %s: %w", symbol, tf, ErrUpstreamOpen)
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		svc := s.client.NewKlinesService().Symbol(symbol).Interval(tf.String()).Limit(limit)
		if start > 0 {
			svc = svc.StartTime(start)
		}
		if end > 0 {
			// Binance treats endTime as inclusive; our ranges are closed-open.
			svc = svc.EndTime(end - 1)
		}
		kls, err := svc.Do(ctx)
		if err == nil {
			s.breaker.RecordSuccess()
			return convertKlines(kls)
		}
		if retry.Classify(err) != retry.KindPermanent {
			// Permanent errors (bad symbol, auth) say nothing about upstream
			// health, so they never trip the breaker.
			s.breaker.RecordFailure()
		}
		delay, ok := s.policy.Next(attempt, err)
		if !ok {
			return nil, fmt.Errorf("klines %s %s: %w", symbol, tf, err)
		}
		if sleepErr := retry.Sleep(ctx, delay); sleepErr != nil {
			return nil, sleepErr
		}
	}
}

// toExchangeSymbol converts "BTC/USDT" to the slash-free form Binance expects.
func toExchangeSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(symbol), "/", ""))
}
