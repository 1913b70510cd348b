// Package executor runs one sync job end to end: plan, fetch, upsert, record.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"klinesync/internal/logger"
	"klinesync/internal/market"
	"klinesync/internal/retry"
	"klinesync/internal/store"
	"klinesync/internal/store/model"
)

// jobPlanner yields the missing sub-ranges for a job.
type jobPlanner interface {
	Plan(ctx context.Context, job *model.SyncJob, now time.Time) ([]market.TimeRange, error)
}

// jobStore is the store surface the executor touches.
type jobStore interface {
	UpsertKlines(ctx context.Context, key store.SeriesKey, candles []market.Candle) (int64, error)
	CreateRun(ctx context.Context, run *model.JobRun) error
	FinishRun(ctx context.Context, run *model.JobRun) error
}

type Executor struct {
	store   jobStore
	source  market.Source
	planner jobPlanner

	// storeRetryDelay spaces the single retry after a failed upsert.
	storeRetryDelay time.Duration
	nowFn           func() time.Time
}

func New(s jobStore, src market.Source, p jobPlanner) *Executor {
	return &Executor{
		store:           s,
		source:          src,
		planner:         p,
		storeRetryDelay: 2 * time.Second,
		nowFn:           time.Now,
	}
}

// Run executes the job once and returns the finalized JobRun. The returned
// error is non-nil only for planner/bookkeeping failures the scheduler must
// react to (a bad job definition, a store that cannot record runs); fetch
// failures are expressed through the run outcome instead.
func (e *Executor) Run(ctx context.Context, job *model.SyncJob) (*model.JobRun, error) {
	now := e.nowFn().UTC()
	run := &model.JobRun{JobID: job.ID, Outcome: model.RunOutcomeRunning, StartedAt: now}
	if err := e.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	plan, err := e.planner.Plan(ctx, job, now)
	if err != nil {
		run.Outcome = model.RunOutcomeFailed
		run.Error = err.Error()
		if finErr := e.store.FinishRun(ctx, run); finErr != nil {
			logger.Errorf("job %s: finalize failed run: %v", job.Name, finErr)
		}
		return run, err
	}
	if len(plan) == 0 {
		run.Outcome = model.RunOutcomeSucceeded
		return run, e.store.FinishRun(ctx, run)
	}

	run.WindowStart = plan[0].Start
	run.WindowEnd = plan[len(plan)-1].End
	if err := run.SetAttempted(plan); err != nil {
		return nil, fmt.Errorf("encode plan: %w", err)
	}

	tf, err := market.ParseTimeframe(job.Timeframe)
	if err != nil {
		// The planner already validated the timeframe; this is unreachable
		// unless the job mutated mid-run.
		return nil, err
	}
	key := store.SeriesKey{ExchangeID: job.ExchangeID, SymbolID: job.SymbolID, Timeframe: tf}

	var (
		completed []market.TimeRange
		rangeErrs []string
	)
	logger.Infof("job %s: syncing %d range(s) in [%d,%d)", job.Name, len(plan), run.WindowStart, run.WindowEnd)
	for _, rng := range plan {
		fetch := e.syncRange
		if useLatestFetch(job, tf, plan, rng, now) {
			fetch = e.syncLatest
		}
		written, rangeErr := fetch(ctx, key, job.Symbol, tf, rng)
		run.CandlesWritten += written
		if rangeErr != nil {
			// Best-effort forward progress: later ranges may still succeed,
			// and everything upserted so far stays.
			rangeErrs = append(rangeErrs, fmt.Sprintf("%s: %v", rng, rangeErr))
			logger.Warnf("job %s: range %s incomplete: %v", job.Name, rng, rangeErr)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		completed = append(completed, rng)
	}

	if err := run.SetCompleted(completed); err != nil {
		return nil, fmt.Errorf("encode completed ranges: %w", err)
	}
	switch {
	case len(rangeErrs) == 0:
		run.Outcome = model.RunOutcomeSucceeded
	case len(completed) > 0:
		run.Outcome = model.RunOutcomePartial
	default:
		run.Outcome = model.RunOutcomeFailed
	}
	run.Error = strings.Join(rangeErrs, "; ")
	if err := e.store.FinishRun(ctx, run); err != nil {
		return nil, fmt.Errorf("finish run: %w", err)
	}
	logger.Infof("job %s: run %s finished outcome=%s ranges=%d/%d candles=%d",
		job.Name, run.ID, run.Outcome, len(completed), len(plan), run.CandlesWritten)
	return run, nil
}

// latestFetchMax caps how many candles the single-request fast path covers.
const latestFetchMax = 500

// useLatestFetch reports whether the range is the steady-state incremental
// tick: one short trailing range reaching the current closed boundary, which
// a single latest-candles request serves without cursor pagination.
func useLatestFetch(job *model.SyncJob, tf market.Timeframe, plan []market.TimeRange, rng market.TimeRange, now time.Time) bool {
	return job.Kind == model.JobKindIncremental &&
		len(plan) == 1 &&
		tf.Candles(rng.Start, rng.End) <= latestFetchMax &&
		rng.End >= tf.Truncate(now.UnixMilli())
}

// syncLatest fills one trailing range from a latest-candles request.
func (e *Executor) syncLatest(ctx context.Context, key store.SeriesKey, symbol string, tf market.Timeframe, rng market.TimeRange) (int64, error) {
	n := int(tf.Candles(rng.Start, rng.End))
	candles, err := e.source.FetchLatest(ctx, symbol, tf, n)
	if err != nil {
		return 0, err
	}
	kept := candles[:0]
	for _, c := range candles {
		if rng.Contains(c.OpenTime) {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return 0, nil
	}
	return e.upsertPage(ctx, key, kept)
}

// syncRange streams one sub-range from the gateway into the store.
func (e *Executor) syncRange(ctx context.Context, key store.SeriesKey, symbol string, tf market.Timeframe, rng market.TimeRange) (int64, error) {
	it := e.source.FetchRange(ctx, symbol, tf, rng.Start, rng.End)
	var written int64
	for it.Next(ctx) {
		n, err := e.upsertPage(ctx, key, it.Page())
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, it.Err()
}

// upsertPage writes one page, retrying once after a short delay. Persistent
// store failure surfaces like a fetch failure for the enclosing range.
func (e *Executor) upsertPage(ctx context.Context, key store.SeriesKey, page []market.Candle) (int64, error) {
	n, err := e.store.UpsertKlines(ctx, key, page)
	if err == nil {
		return n, nil
	}
	if errors.Is(err, context.Canceled) {
		return 0, err
	}
	logger.Warnf("upsert %d candles failed, retrying once: %v", len(page), err)
	if sleepErr := retry.Sleep(ctx, e.storeRetryDelay); sleepErr != nil {
		return 0, sleepErr
	}
	n, err = e.store.UpsertKlines(ctx, key, page)
	if err != nil {
		return 0, fmt.Errorf("upsert: %w", err)
	}
	return n, nil
}
