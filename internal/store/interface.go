package store

import (
	"context"
	"errors"

	"klinesync/internal/market"
	"klinesync/internal/store/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// SeriesKey identifies one candle series.
type SeriesKey struct {
	ExchangeID int64
	SymbolID   int64
	Timeframe  market.Timeframe
}

// KlineStore owns persisted candle data. Writes are idempotent upserts; the
// unique-key invariant is enforced here, not by callers.
type KlineStore interface {
	// UpsertKlines writes candles last-write-wins on the series key and
	// returns the number of rows written.
	UpsertKlines(ctx context.Context, key SeriesKey, candles []market.Candle) (int64, error)
	// PresentRanges reports which closed-open sub-ranges of [start, end) are
	// already stored, ordered oldest first.
	PresentRanges(ctx context.Context, key SeriesKey, start, end int64) ([]market.TimeRange, error)
	// LatestOpenTime returns the newest stored open time, or ErrNotFound.
	LatestOpenTime(ctx context.Context, key SeriesKey) (int64, error)
	// KlineCount counts stored candles for the series.
	KlineCount(ctx context.Context, key SeriesKey) (int64, error)
	// Klines reads stored candles in [start, end) oldest first.
	Klines(ctx context.Context, key SeriesKey, start, end int64, limit int) ([]market.Candle, error)
	// DeleteKlinesBefore removes candles older than the cutoff. Retention is
	// an operator action; the sync engine never calls this.
	DeleteKlinesBefore(ctx context.Context, key SeriesKey, cutoff int64) (int64, error)
}

// RefStore owns exchange and symbol reference data.
type RefStore interface {
	GetOrCreateExchange(ctx context.Context, code string, sandbox bool) (*model.Exchange, error)
	GetOrCreateSymbol(ctx context.Context, exchangeID int64, symbol string) (*model.Symbol, error)
	FindSymbol(ctx context.Context, exchangeID int64, symbol string) (*model.Symbol, error)
}

// JobStore owns SyncJob rows. The scheduler is its only writer.
type JobStore interface {
	ListJobs(ctx context.Context) ([]model.SyncJob, error)
	GetJob(ctx context.Context, id int64) (*model.SyncJob, error)
	SaveJob(ctx context.Context, job *model.SyncJob) error
	DeleteJob(ctx context.Context, id int64) error
	SetJobEnabled(ctx context.Context, id int64, enabled bool) error
	// DisableJob marks a job disabled with an operator-visible reason.
	DisableJob(ctx context.Context, id int64, reason string) error
}

// RunStore owns JobRun bookkeeping. The executor creates and finalizes runs;
// the scheduler reads them back for crash recovery.
type RunStore interface {
	CreateRun(ctx context.Context, run *model.JobRun) error
	FinishRun(ctx context.Context, run *model.JobRun) error
	LatestIncompleteRun(ctx context.Context, jobID int64) (*model.JobRun, error)
	ListRuns(ctx context.Context, jobID int64, limit int) ([]model.JobRun, error)
}

// Store is the full persistence surface.
type Store interface {
	KlineStore
	RefStore
	JobStore
	RunStore
	Close() error
}
