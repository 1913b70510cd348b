package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klinesync/internal/market"
	"klinesync/internal/planner"
	"klinesync/internal/store"
	"klinesync/internal/store/model"
)

var tf4h = market.MustTimeframe("4h")

func testJob() *model.SyncJob {
	return &model.SyncJob{
		ID: 1, Name: "binance:BTC/USDT:4h", ExchangeID: 1, SymbolID: 7,
		Symbol: "BTC/USDT", Timeframe: "4h", Kind: model.JobKindBackfill,
		LookbackDays: 365, Cadence: "4h", Enabled: true,
	}
}

func candlesFor(rng market.TimeRange) []market.Candle {
	var out []market.Candle
	for ts := rng.Start; ts < rng.End; ts += tf4h.Milliseconds() {
		out = append(out, market.Candle{
			OpenTime: ts,
			Open:     decimal.NewFromInt(100),
			High:     decimal.NewFromInt(110),
			Low:      decimal.NewFromInt(90),
			Close:    decimal.NewFromInt(105),
			Volume:   decimal.NewFromInt(1),
		})
	}
	return out
}

// fakePlanner returns a fixed plan.
type fakePlanner struct {
	plan []market.TimeRange
	err  error
}

func (f *fakePlanner) Plan(context.Context, *model.SyncJob, time.Time) ([]market.TimeRange, error) {
	return f.plan, f.err
}

// fakeSource serves candlesFor each requested range, failing ranges listed in
// failRanges after zero pages. FetchLatest answers with the fixed latest
// slice when set.
type fakeSource struct {
	failRanges map[market.TimeRange]error
	fetched    []market.TimeRange

	latest      []market.Candle
	latestCalls int
	latestLimit int
}

func (f *fakeSource) FetchRange(_ context.Context, _ string, _ market.Timeframe, start, end int64) market.Iterator {
	rng := market.TimeRange{Start: start, End: end}
	f.fetched = append(f.fetched, rng)
	if err, ok := f.failRanges[rng]; ok {
		return &fakeIterator{err: err}
	}
	return &fakeIterator{pages: [][]market.Candle{candlesFor(rng)}}
}

func (f *fakeSource) FetchLatest(_ context.Context, _ string, _ market.Timeframe, limit int) ([]market.Candle, error) {
	f.latestCalls++
	f.latestLimit = limit
	if f.latest == nil {
		return nil, errors.New("unexpected latest fetch")
	}
	return f.latest, nil
}

func (f *fakeSource) Ping(context.Context) error { return nil }

type fakeIterator struct {
	pages [][]market.Candle
	cur   []market.Candle
	err   error
}

func (it *fakeIterator) Next(context.Context) bool {
	if len(it.pages) == 0 {
		return false
	}
	it.cur = it.pages[0]
	it.pages = it.pages[1:]
	return true
}

func (it *fakeIterator) Page() []market.Candle { return it.cur }
func (it *fakeIterator) Err() error            { return it.err }

// fakeStore keeps runs and upserted candles in memory.
type fakeStore struct {
	upserted   map[store.SeriesKey][]market.Candle
	runs       []*model.JobRun
	finished   []*model.JobRun
	upsertFail int // fail this many upsert calls before succeeding
	upsertErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{upserted: make(map[store.SeriesKey][]market.Candle)}
}

func (f *fakeStore) UpsertKlines(_ context.Context, key store.SeriesKey, candles []market.Candle) (int64, error) {
	if f.upsertFail > 0 {
		f.upsertFail--
		if f.upsertErr == nil {
			f.upsertErr = errors.New("database is locked")
		}
		return 0, f.upsertErr
	}
	f.upserted[key] = append(f.upserted[key], candles...)
	return int64(len(candles)), nil
}

func (f *fakeStore) CreateRun(_ context.Context, run *model.JobRun) error {
	run.ID = fmt.Sprintf("run-%d", len(f.runs)+1)
	f.runs = append(f.runs, run)
	return nil
}

func (f *fakeStore) FinishRun(_ context.Context, run *model.JobRun) error {
	f.finished = append(f.finished, run)
	return nil
}

func TestRunAllRangesSucceed(t *testing.T) {
	step := tf4h.Milliseconds()
	plan := []market.TimeRange{{Start: 0, End: 4 * step}, {Start: 4 * step, End: 8 * step}}
	st := newFakeStore()
	src := &fakeSource{}
	ex := New(st, src, &fakePlanner{plan: plan})

	run, err := ex.Run(context.Background(), testJob())
	require.NoError(t, err)

	assert.Equal(t, model.RunOutcomeSucceeded, run.Outcome)
	assert.Equal(t, int64(8), run.CandlesWritten)
	assert.Empty(t, run.Error)

	completed, err := run.Completed()
	require.NoError(t, err)
	assert.Equal(t, plan, completed)

	// Ranges fetched strictly in order, oldest first.
	assert.Equal(t, plan, src.fetched)
	require.Len(t, st.finished, 1)
}

func TestRunPartialFailureContinues(t *testing.T) {
	step := tf4h.Milliseconds()
	plan := []market.TimeRange{
		{Start: 0, End: 2 * step},
		{Start: 2 * step, End: 4 * step},
		{Start: 4 * step, End: 6 * step},
	}
	st := newFakeStore()
	src := &fakeSource{failRanges: map[market.TimeRange]error{
		plan[1]: errors.New("klines: 503"),
	}}
	ex := New(st, src, &fakePlanner{plan: plan})

	run, err := ex.Run(context.Background(), testJob())
	require.NoError(t, err)

	assert.Equal(t, model.RunOutcomePartial, run.Outcome)
	assert.Contains(t, run.Error, "503")
	assert.Equal(t, int64(4), run.CandlesWritten, "completed ranges stay written")

	completed, err := run.Completed()
	require.NoError(t, err)
	assert.Equal(t, []market.TimeRange{plan[0], plan[2]}, completed, "failure does not abort later ranges")

	attempted, err := run.Attempted()
	require.NoError(t, err)
	assert.Equal(t, plan, attempted)
}

func TestRunAllRangesFail(t *testing.T) {
	step := tf4h.Milliseconds()
	plan := []market.TimeRange{{Start: 0, End: step}, {Start: step, End: 2 * step}}
	src := &fakeSource{failRanges: map[market.TimeRange]error{
		plan[0]: errors.New("boom"),
		plan[1]: errors.New("boom"),
	}}
	ex := New(newFakeStore(), src, &fakePlanner{plan: plan})

	run, err := ex.Run(context.Background(), testJob())
	require.NoError(t, err)
	assert.Equal(t, model.RunOutcomeFailed, run.Outcome)
	assert.Equal(t, int64(0), run.CandlesWritten)
}

func TestRunEmptyPlanSucceeds(t *testing.T) {
	st := newFakeStore()
	ex := New(st, &fakeSource{}, &fakePlanner{})

	run, err := ex.Run(context.Background(), testJob())
	require.NoError(t, err)
	assert.Equal(t, model.RunOutcomeSucceeded, run.Outcome)
	assert.Equal(t, int64(0), run.CandlesWritten)
	require.Len(t, st.finished, 1)
}

func TestRunPlannerErrorFailsRun(t *testing.T) {
	st := newFakeStore()
	planErr := fmt.Errorf("%w: nonsense timeframe", planner.ErrBadJob)
	ex := New(st, &fakeSource{}, &fakePlanner{err: planErr})

	run, err := ex.Run(context.Background(), testJob())
	require.ErrorIs(t, err, planner.ErrBadJob)
	require.NotNil(t, run)
	assert.Equal(t, model.RunOutcomeFailed, run.Outcome)
	assert.Contains(t, run.Error, "nonsense")
	require.Len(t, st.finished, 1, "failed run is still recorded")
}

func TestRunIncrementalUsesLatestFetch(t *testing.T) {
	step := tf4h.Milliseconds()
	rng := market.TimeRange{Start: 6 * step, End: 8 * step}
	st := newFakeStore()
	// Upstream answers with more history than the gap; only the in-range
	// candles may be written.
	src := &fakeSource{latest: candlesFor(market.TimeRange{Start: 4 * step, End: 8 * step})}
	ex := New(st, src, &fakePlanner{plan: []market.TimeRange{rng}})
	ex.nowFn = func() time.Time { return time.UnixMilli(8 * step).UTC() }

	job := testJob()
	job.Kind = model.JobKindIncremental

	run, err := ex.Run(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, model.RunOutcomeSucceeded, run.Outcome)
	assert.Equal(t, int64(2), run.CandlesWritten)
	assert.Equal(t, 1, src.latestCalls, "one latest request serves the trailing tick")
	assert.Equal(t, 2, src.latestLimit)
	assert.Empty(t, src.fetched, "no cursor pagination needed")
}

func TestRunIncrementalGapStillPaginates(t *testing.T) {
	step := tf4h.Milliseconds()
	plan := []market.TimeRange{
		{Start: 0, End: 2 * step},
		{Start: 6 * step, End: 8 * step},
	}
	st := newFakeStore()
	src := &fakeSource{}
	ex := New(st, src, &fakePlanner{plan: plan})
	ex.nowFn = func() time.Time { return time.UnixMilli(8 * step).UTC() }

	job := testJob()
	job.Kind = model.JobKindIncremental

	run, err := ex.Run(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, model.RunOutcomeSucceeded, run.Outcome)
	assert.Equal(t, plan, src.fetched, "a plan with gaps goes through range paging")
	assert.Equal(t, 0, src.latestCalls)
}

func TestRunStoreErrorRetriedOnce(t *testing.T) {
	step := tf4h.Milliseconds()
	plan := []market.TimeRange{{Start: 0, End: 2 * step}}
	st := newFakeStore()
	st.upsertFail = 1
	ex := New(st, &fakeSource{}, &fakePlanner{plan: plan})
	ex.storeRetryDelay = 0

	run, err := ex.Run(context.Background(), testJob())
	require.NoError(t, err)
	assert.Equal(t, model.RunOutcomeSucceeded, run.Outcome)
	assert.Equal(t, int64(2), run.CandlesWritten)
}

func TestRunStoreErrorPersistentMarksRangeIncomplete(t *testing.T) {
	step := tf4h.Milliseconds()
	plan := []market.TimeRange{{Start: 0, End: 2 * step}}
	st := newFakeStore()
	st.upsertFail = 2
	ex := New(st, &fakeSource{}, &fakePlanner{plan: plan})
	ex.storeRetryDelay = 0

	run, err := ex.Run(context.Background(), testJob())
	require.NoError(t, err)
	assert.Equal(t, model.RunOutcomeFailed, run.Outcome)
	assert.Contains(t, run.Error, "upsert")
}
