package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one OHLCV bucket. Times are milliseconds since epoch; OpenTime
// identifies the candle within a (exchange, symbol, timeframe) series.
type Candle struct {
	OpenTime    int64           `json:"open_time"`
	CloseTime   int64           `json:"close_time"`
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	Volume      decimal.Decimal `json:"volume"`
	QuoteVolume decimal.Decimal `json:"quote_volume"`
	Trades      int64           `json:"trades"`
}

// Valid reports whether the candle is well formed: positive prices and
// open/close inside [low, high].
func (c Candle) Valid() bool {
	if c.OpenTime <= 0 {
		return false
	}
	zero := decimal.Zero
	if !c.Open.GreaterThan(zero) || !c.High.GreaterThan(zero) ||
		!c.Low.GreaterThan(zero) || !c.Close.GreaterThan(zero) {
		return false
	}
	if c.Low.GreaterThan(c.Open) || c.Open.GreaterThan(c.High) {
		return false
	}
	if c.Low.GreaterThan(c.Close) || c.Close.GreaterThan(c.High) {
		return false
	}
	return c.Volume.GreaterThanOrEqual(zero)
}

// SanitizeCandles drops malformed candles and any candle whose close time has
// not yet passed. The exchange reports the bucket currently forming as a
// regular kline; storing it would freeze a non-final value.
func SanitizeCandles(candles []Candle, tf Timeframe, now time.Time) []Candle {
	if len(candles) == 0 {
		return candles
	}
	cutoff := now.UnixMilli()
	out := make([]Candle, 0, len(candles))
	for _, c := range candles {
		if !c.Valid() {
			continue
		}
		if c.OpenTime+tf.Milliseconds() > cutoff {
			continue
		}
		out = append(out, c)
	}
	return out
}
