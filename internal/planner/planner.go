// Package planner computes the minimal fetch plan for a sync job by diffing
// the desired window against what the store already holds.
package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"klinesync/internal/market"
	"klinesync/internal/store"
	"klinesync/internal/store/model"
)

// ErrBadJob marks a job definition the planner cannot work with. The
// scheduler disables such jobs instead of retrying them forever.
var ErrBadJob = errors.New("planner: bad job definition")

// rangeReader is the slice of the store the planner needs.
type rangeReader interface {
	PresentRanges(ctx context.Context, key store.SeriesKey, start, end int64) ([]market.TimeRange, error)
	LatestOpenTime(ctx context.Context, key store.SeriesKey) (int64, error)
}

type Planner struct {
	store rangeReader
	// maxSpanCandles caps a single plan entry so one fetch failure only
	// forfeits a bounded amount of work.
	maxSpanCandles int64
}

const defaultMaxSpanCandles = 500

func New(s rangeReader, maxSpanCandles int64) *Planner {
	if maxSpanCandles <= 0 {
		maxSpanCandles = defaultMaxSpanCandles
	}
	return &Planner{store: s, maxSpanCandles: maxSpanCandles}
}

// Plan returns the ordered (oldest first) sub-ranges of the job's desired
// window that are not yet stored, each capped to maxSpanCandles.
func (p *Planner) Plan(ctx context.Context, job *model.SyncJob, now time.Time) ([]market.TimeRange, error) {
	tf, err := market.ParseTimeframe(job.Timeframe)
	if err != nil {
		return nil, fmt.Errorf("%w: job %q: %v", ErrBadJob, job.Name, err)
	}
	if !job.Kind.Valid() {
		return nil, fmt.Errorf("%w: job %q: unknown kind %q", ErrBadJob, job.Name, job.Kind)
	}
	if job.LookbackDays <= 0 {
		return nil, fmt.Errorf("%w: job %q: lookback must be positive", ErrBadJob, job.Name)
	}
	key := store.SeriesKey{ExchangeID: job.ExchangeID, SymbolID: job.SymbolID, Timeframe: tf}

	desired, err := p.desiredWindow(ctx, key, job, tf, now)
	if err != nil {
		return nil, err
	}
	if desired.IsEmpty() {
		return nil, nil
	}

	present, err := p.store.PresentRanges(ctx, key, desired.Start, desired.End)
	if err != nil {
		return nil, fmt.Errorf("present ranges: %w", err)
	}
	gaps := market.Subtract(desired, present)
	return market.SplitBySpan(gaps, p.maxSpanCandles*tf.Milliseconds()), nil
}

// desiredWindow computes [start, end) aligned to timeframe buckets. The end
// is the open of the bucket currently forming, so only closed candles are
// ever requested.
func (p *Planner) desiredWindow(ctx context.Context, key store.SeriesKey, job *model.SyncJob, tf market.Timeframe, now time.Time) (market.TimeRange, error) {
	nowMs := now.UTC().UnixMilli()
	end := tf.Truncate(nowMs)
	lookbackStart := tf.Truncate(nowMs - int64(job.LookbackDays)*24*time.Hour.Milliseconds())
	if lookbackStart >= end {
		// Clock skew or a sub-bucket lookback: nothing to do rather than a
		// negative window.
		return market.TimeRange{}, nil
	}

	start := lookbackStart
	if job.Kind == model.JobKindIncremental {
		latest, err := p.store.LatestOpenTime(ctx, key)
		switch {
		case errors.Is(err, store.ErrNotFound):
			// Empty series: seed from the lookback window once.
		case err != nil:
			return market.TimeRange{}, fmt.Errorf("latest open time: %w", err)
		default:
			start = latest + tf.Milliseconds()
			if start >= end {
				return market.TimeRange{}, nil
			}
		}
	}
	return market.TimeRange{Start: start, End: end}, nil
}
