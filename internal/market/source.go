package market

import "context"

// Iterator walks the pages of one FetchRange call, sql.Rows style. The
// sequence is finite and not restartable; a fresh FetchRange starts over.
type Iterator interface {
	// Next fetches the next page. It returns false when the range is
	// exhausted or a page failed; Err distinguishes the two.
	Next(ctx context.Context) bool
	// Page returns the candles fetched by the last successful Next call.
	Page() []Candle
	// Err returns the error that terminated iteration, if any.
	Err() error
}

// Source is a rate-limited upstream of candle history.
type Source interface {
	// FetchRange streams closed candles covering [start, end) oldest first,
	// transparently following upstream pagination.
	FetchRange(ctx context.Context, symbol string, tf Timeframe, start, end int64) Iterator

	// FetchLatest returns the most recent closed candles, newest window.
	FetchLatest(ctx context.Context, symbol string, tf Timeframe, limit int) ([]Candle, error)

	// Ping verifies upstream connectivity.
	Ping(ctx context.Context) error
}
