package binance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klinesync/internal/market"
)

func klineRow(openTime, step int64) []any {
	return []any{
		openTime,
		"100.1", "110.2", "90.3", "105.4", "12.5",
		openTime + step - 1,
		"1300.0", 42, "6.0", "650.0", "0",
	}
}

// klineHandler emulates /api/v3/klines cursor pagination with a fixed series
// of candles spaced by step, pageMax rows per response.
func klineHandler(t *testing.T, seriesStart, step int64, total, pageMax int) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/klines", r.URL.Path)
		start, _ := strconv.ParseInt(r.URL.Query().Get("startTime"), 10, 64)
		end, _ := strconv.ParseInt(r.URL.Query().Get("endTime"), 10, 64)

		rows := make([]any, 0, pageMax)
		for i := 0; i < total && len(rows) < pageMax; i++ {
			openTime := seriesStart + int64(i)*step
			if start > 0 && openTime < start {
				continue
			}
			if end > 0 && openTime > end {
				break
			}
			rows = append(rows, klineRow(openTime, step))
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(rows))
	}
}

func newTestSource(t *testing.T, handler http.Handler) *Source {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	src, err := New(Config{
		RESTBaseURL:       srv.URL,
		RequestsPerSecond: 10000,
		Burst:             100,
		PageLimit:         4,
		MaxAttempts:       3,
		RetryMinDelay:     time.Millisecond,
		RetryMaxDelay:     5 * time.Millisecond,
	})
	require.NoError(t, err)
	// Keep every served candle "closed" from the sanitizer's point of view.
	src.nowFn = func() time.Time { return time.UnixMilli(1 << 62) }
	return src
}

func TestFetchRangePagesThroughWindow(t *testing.T) {
	step := market.MustTimeframe("4h").Milliseconds()
	src := newTestSource(t, klineHandler(t, 0, step, 10, 4))

	it := src.FetchRange(context.Background(), "BTC/USDT", market.MustTimeframe("4h"), 0, 10*step)

	var got []market.Candle
	pages := 0
	for it.Next(context.Background()) {
		pages++
		got = append(got, it.Page()...)
	}
	require.NoError(t, it.Err())

	assert.Equal(t, 3, pages, "10 candles at 4 per page")
	require.Len(t, got, 10)
	for i, c := range got {
		assert.Equal(t, int64(i)*step, c.OpenTime)
	}
	assert.True(t, got[0].Open.Equal(decimal.RequireFromString("100.1")))
	assert.Equal(t, int64(42), got[0].Trades)
}

func TestFetchRangeRespectsClosedOpenEnd(t *testing.T) {
	step := market.MustTimeframe("1h").Milliseconds()
	src := newTestSource(t, klineHandler(t, 0, step, 10, 10))

	// End is exclusive: the candle opening exactly at end must not appear.
	it := src.FetchRange(context.Background(), "BTCUSDT", market.MustTimeframe("1h"), 0, 3*step)

	var got []market.Candle
	for it.Next(context.Background()) {
		got = append(got, it.Page()...)
	}
	require.NoError(t, it.Err())
	require.Len(t, got, 3)
	assert.Equal(t, 2*step, got[len(got)-1].OpenTime)
}

func TestFetchRangeEmptyUpstream(t *testing.T) {
	step := market.MustTimeframe("1h").Milliseconds()
	src := newTestSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("[]"))
	}))

	it := src.FetchRange(context.Background(), "BTCUSDT", market.MustTimeframe("1h"), 0, 10*step)
	assert.False(t, it.Next(context.Background()))
	assert.NoError(t, it.Err())
}

func TestFetchRangePermanentErrorFailsFast(t *testing.T) {
	calls := 0
	src := newTestSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}))

	it := src.FetchRange(context.Background(), "NOPE", market.MustTimeframe("1h"), 0, 1000)
	assert.False(t, it.Next(context.Background()))
	assert.Error(t, it.Err())
	assert.Equal(t, 1, calls, "invalid symbol must not be retried")
}

func TestFetchRangeRetriesTransientError(t *testing.T) {
	step := market.MustTimeframe("1h").Milliseconds()
	calls := 0
	inner := klineHandler(t, 0, step, 2, 10)
	src := newTestSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"code":-1000,"msg":"internal error"}`))
			return
		}
		inner(w, r)
	}))

	it := src.FetchRange(context.Background(), "BTCUSDT", market.MustTimeframe("1h"), 0, 2*step)
	require.True(t, it.Next(context.Background()))
	assert.Len(t, it.Page(), 2)
	assert.GreaterOrEqual(t, calls, 2)
}

func TestFetchLatest(t *testing.T) {
	step := market.MustTimeframe("1h").Milliseconds()
	src := newTestSource(t, klineHandler(t, 0, step, 5, 10))

	got, err := src.FetchLatest(context.Background(), "BTC/USDT", market.MustTimeframe("1h"), 5)
	require.NoError(t, err)
	assert.Len(t, got, 5)
}

func TestToExchangeSymbol(t *testing.T) {
	assert.Equal(t, "BTCUSDT", toExchangeSymbol("BTC/USDT"))
	assert.Equal(t, "ETHUSDT", toExchangeSymbol(" ethusdt "))
}

