package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"klinesync/internal/market"
)

// Exchange is reference data created at configuration time.
type Exchange struct {
	ID          int64  `gorm:"column:id;primaryKey" json:"id"`
	Code        string `gorm:"column:code;uniqueIndex" json:"code"`
	DisplayName string `gorm:"column:display_name" json:"display_name"`
	APIBaseURL  string `gorm:"column:api_base_url" json:"api_base_url,omitempty"`
	// RateLimitMs is the documented minimum spacing between requests.
	RateLimitMs int64 `gorm:"column:rate_limit_ms" json:"rate_limit_ms,omitempty"`
	Sandbox     bool  `gorm:"column:sandbox" json:"sandbox"`
	IsActive    bool  `gorm:"column:is_active" json:"is_active"`
}

func (Exchange) TableName() string { return "exchanges" }

// Symbol is a trading pair on one exchange.
type Symbol struct {
	ID         int64  `gorm:"column:id;primaryKey" json:"id"`
	ExchangeID int64  `gorm:"column:exchange_id;uniqueIndex:idx_exchange_symbol,priority:1" json:"exchange_id"`
	Symbol     string `gorm:"column:symbol;uniqueIndex:idx_exchange_symbol,priority:2" json:"symbol"`
	BaseAsset  string `gorm:"column:base_asset" json:"base_asset"`
	QuoteAsset string `gorm:"column:quote_asset" json:"quote_asset"`
	IsActive   bool   `gorm:"column:is_active" json:"is_active"`
	IsTrading  bool   `gorm:"column:is_trading" json:"is_trading"`
}

func (Symbol) TableName() string { return "symbols" }

// Kline is one stored candle. The composite unique index is the identity the
// upsert path relies on; duplicate keys are impossible after a completed write.
type Kline struct {
	ID          int64           `gorm:"column:id;primaryKey"`
	ExchangeID  int64           `gorm:"column:exchange_id;uniqueIndex:idx_kline_key,priority:1;index:idx_kline_series,priority:1"`
	SymbolID    int64           `gorm:"column:symbol_id;uniqueIndex:idx_kline_key,priority:2;index:idx_kline_series,priority:2"`
	Timeframe   string          `gorm:"column:timeframe;uniqueIndex:idx_kline_key,priority:3;index:idx_kline_series,priority:3"`
	OpenTime    int64           `gorm:"column:open_time;uniqueIndex:idx_kline_key,priority:4;index:idx_kline_series,priority:4"`
	Open        decimal.Decimal `gorm:"column:open;type:decimal(30,10)"`
	High        decimal.Decimal `gorm:"column:high;type:decimal(30,10)"`
	Low         decimal.Decimal `gorm:"column:low;type:decimal(30,10)"`
	Close       decimal.Decimal `gorm:"column:close;type:decimal(30,10)"`
	Volume      decimal.Decimal `gorm:"column:volume;type:decimal(30,10)"`
	QuoteVolume decimal.Decimal `gorm:"column:quote_volume;type:decimal(30,10)"`
	Trades      int64           `gorm:"column:trades"`
	UpdatedAt   time.Time       `gorm:"column:updated_at"`
}

func (Kline) TableName() string { return "klines" }

// Candle converts the stored row back to the domain type.
func (k Kline) Candle(tf market.Timeframe) market.Candle {
	return market.Candle{
		OpenTime:    k.OpenTime,
		CloseTime:   k.OpenTime + tf.Milliseconds() - 1,
		Open:        k.Open,
		High:        k.High,
		Low:         k.Low,
		Close:       k.Close,
		Volume:      k.Volume,
		QuoteVolume: k.QuoteVolume,
		Trades:      k.Trades,
	}
}

// JobKind is the closed set of sync job variants.
type JobKind string

const (
	// JobKindBackfill keeps the full lookback window covered.
	JobKindBackfill JobKind = "backfill"
	// JobKindIncremental only extends the series past the latest stored candle.
	JobKindIncremental JobKind = "incremental"
)

func (k JobKind) Valid() bool {
	return k == JobKindBackfill || k == JobKindIncremental
}

// SyncJob is a persisted, schedulable unit of sync work.
type SyncJob struct {
	ID         int64   `gorm:"column:id;primaryKey" json:"id"`
	Name       string  `gorm:"column:name;uniqueIndex" json:"name"`
	ExchangeID int64   `gorm:"column:exchange_id" json:"exchange_id"`
	SymbolID   int64   `gorm:"column:symbol_id" json:"symbol_id"`
	Symbol     string  `gorm:"column:symbol" json:"symbol"`
	Timeframe  string  `gorm:"column:timeframe" json:"timeframe"`
	Kind       JobKind `gorm:"column:kind" json:"kind"`
	// LookbackDays bounds the desired window for backfill jobs and seeds an
	// empty series for incremental jobs.
	LookbackDays int `gorm:"column:lookback_days" json:"lookback_days"`
	// Cadence is either an interval code ("4h") or a cron expression.
	Cadence        string    `gorm:"column:cadence" json:"cadence"`
	Enabled        bool      `gorm:"column:enabled" json:"enabled"`
	DisabledReason string    `gorm:"column:disabled_reason" json:"disabled_reason,omitempty"`
	CreatedAt      time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (SyncJob) TableName() string { return "sync_jobs" }

// RunOutcome is the terminal (or in-flight) state of one JobRun.
type RunOutcome string

const (
	RunOutcomeRunning   RunOutcome = "running"
	RunOutcomeSucceeded RunOutcome = "succeeded"
	RunOutcomePartial   RunOutcome = "partial"
	RunOutcomeFailed    RunOutcome = "failed"
)

// JobRun records one execution attempt. Rows with outcome "running" after a
// process restart are crash-interrupted work the scheduler must resume.
type JobRun struct {
	ID              string         `gorm:"column:id;primaryKey" json:"id"`
	JobID           int64          `gorm:"column:job_id;index" json:"job_id"`
	Outcome         RunOutcome     `gorm:"column:outcome;index" json:"outcome"`
	WindowStart     int64          `gorm:"column:window_start" json:"window_start"`
	WindowEnd       int64          `gorm:"column:window_end" json:"window_end"`
	RangesAttempted datatypes.JSON `gorm:"column:ranges_attempted;type:TEXT" json:"ranges_attempted,omitempty"`
	RangesCompleted datatypes.JSON `gorm:"column:ranges_completed;type:TEXT" json:"ranges_completed,omitempty"`
	CandlesWritten  int64          `gorm:"column:candles_written" json:"candles_written"`
	Error           string         `gorm:"column:error" json:"error,omitempty"`
	StartedAt       time.Time      `gorm:"column:started_at" json:"started_at"`
	FinishedAt      *time.Time     `gorm:"column:finished_at" json:"finished_at,omitempty"`
}

func (JobRun) TableName() string { return "job_runs" }

// SetAttempted / SetCompleted marshal range lists into the JSON columns.
func (r *JobRun) SetAttempted(ranges []market.TimeRange) error {
	return marshalRanges(&r.RangesAttempted, ranges)
}

func (r *JobRun) SetCompleted(ranges []market.TimeRange) error {
	return marshalRanges(&r.RangesCompleted, ranges)
}

func (r *JobRun) Attempted() ([]market.TimeRange, error) {
	return unmarshalRanges(r.RangesAttempted)
}

func (r *JobRun) Completed() ([]market.TimeRange, error) {
	return unmarshalRanges(r.RangesCompleted)
}

func marshalRanges(dst *datatypes.JSON, ranges []market.TimeRange) error {
	if len(ranges) == 0 {
		*dst = nil
		return nil
	}
	raw, err := json.Marshal(ranges)
	if err != nil {
		return err
	}
	*dst = datatypes.JSON(raw)
	return nil
}

func unmarshalRanges(raw datatypes.JSON) ([]market.TimeRange, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out []market.TimeRange
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
