package binance

import (
	"context"

	"klinesync/internal/market"
)

// rangeIterator pages through [cursor, end), advancing the cursor past the
// last candle of each page the way the upstream cursor pagination expects.
type rangeIterator struct {
	src    *Source
	symbol string
	tf     market.Timeframe

	cursor int64
	end    int64

	page []market.Candle
	err  error
	done bool
}

func (it *rangeIterator) Next(ctx context.Context) bool {
	if it.done || it.err != nil {
		return false
	}
	for {
		if it.cursor >= it.end {
			it.done = true
			return false
		}
		raw, err := it.src.fetchPage(ctx, it.symbol, it.tf, it.cursor, it.end, it.src.cfg.PageLimit)
		if err != nil {
			it.err = err
			it.done = true
			return false
		}
		if len(raw) == 0 {
			// Upstream has nothing (left) in the window, e.g. before listing.
			it.done = true
			return false
		}
		it.cursor = raw[len(raw)-1].OpenTime + it.tf.Milliseconds()
		page := market.SanitizeCandles(raw, it.tf, it.src.nowFn().UTC())
		if len(page) == 0 {
			// Page held only the still-forming candle; try to advance again.
			continue
		}
		it.page = page
		return true
	}
}

func (it *rangeIterator) Page() []market.Candle { return it.page }

func (it *rangeIterator) Err() error { return it.err }
