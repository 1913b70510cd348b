package synchttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klinesync/internal/market"
	"klinesync/internal/scheduler"
	"klinesync/internal/store"
	"klinesync/internal/store/model"
)

type fakeController struct {
	statuses  []scheduler.JobStatus
	added     []*model.SyncJob
	paused    []int64
	resumed   []int64
	removed   []int64
	triggered []int64
	addErr    error
}

func (f *fakeController) Jobs() []scheduler.JobStatus { return f.statuses }

func (f *fakeController) AddJob(_ context.Context, job *model.SyncJob) error {
	if f.addErr != nil {
		return f.addErr
	}
	job.ID = int64(len(f.added) + 1)
	f.added = append(f.added, job)
	return nil
}

func (f *fakeController) RemoveJob(_ context.Context, id int64) error {
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeController) Pause(_ context.Context, id int64) error {
	f.paused = append(f.paused, id)
	return nil
}

func (f *fakeController) Resume(_ context.Context, id int64) error {
	f.resumed = append(f.resumed, id)
	return nil
}

func (f *fakeController) TriggerNow(id int64) error {
	f.triggered = append(f.triggered, id)
	return nil
}

type fakeData struct {
	runs    []model.JobRun
	candles []market.Candle
	ranges  []market.TimeRange
	symbols map[string]*model.Symbol
}

func (f *fakeData) ListRuns(context.Context, int64, int) ([]model.JobRun, error) {
	return f.runs, nil
}

func (f *fakeData) Klines(context.Context, store.SeriesKey, int64, int64, int) ([]market.Candle, error) {
	return f.candles, nil
}

func (f *fakeData) PresentRanges(context.Context, store.SeriesKey, int64, int64) ([]market.TimeRange, error) {
	return f.ranges, nil
}

func (f *fakeData) KlineCount(context.Context, store.SeriesKey) (int64, error) {
	return int64(len(f.candles)), nil
}

func (f *fakeData) GetOrCreateSymbol(_ context.Context, _ int64, symbol string) (*model.Symbol, error) {
	if s, ok := f.symbols[symbol]; ok {
		return s, nil
	}
	s := &model.Symbol{ID: int64(len(f.symbols) + 1), ExchangeID: 1, Symbol: symbol}
	if f.symbols == nil {
		f.symbols = make(map[string]*model.Symbol)
	}
	f.symbols[symbol] = s
	return s, nil
}

func (f *fakeData) FindSymbol(_ context.Context, _ int64, symbol string) (*model.Symbol, error) {
	if s, ok := f.symbols[symbol]; ok {
		return s, nil
	}
	return nil, store.ErrNotFound
}

func newTestServer(t *testing.T, jobs *fakeController, data *fakeData) http.Handler {
	t.Helper()
	srv, err := NewServer(ServerConfig{Jobs: jobs, Data: data, ExchangeID: 1, ExchangeCode: "binance"})
	require.NoError(t, err)
	return srv.Handler()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestHealthz(t *testing.T) {
	h := newTestServer(t, &fakeController{}, &fakeData{})
	rec := doJSON(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthzReportsUpstream(t *testing.T) {
	srv, err := NewServer(ServerConfig{
		Jobs: &fakeController{}, Data: &fakeData{},
		Upstream: fakePinger{}, ExchangeID: 1, ExchangeCode: "binance",
	})
	require.NoError(t, err)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["upstream"])

	srv, err = NewServer(ServerConfig{
		Jobs: &fakeController{}, Data: &fakeData{},
		Upstream: fakePinger{err: fmt.Errorf("dial tcp: timeout")},
		ExchangeID: 1, ExchangeCode: "binance",
	})
	require.NoError(t, err)

	// An unreachable exchange is reported but never fails the probe.
	rec = doJSON(t, srv.Handler(), http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp["upstream"], "timeout")
}

func TestListJobs(t *testing.T) {
	jobs := &fakeController{statuses: []scheduler.JobStatus{{
		Job:   model.SyncJob{ID: 1, Name: "binance:BTC/USDT:4h"},
		State: scheduler.StateScheduled,
	}}}
	h := newTestServer(t, jobs, &fakeData{})

	rec := doJSON(t, h, http.MethodGet, "/api/sync/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Jobs []scheduler.JobStatus `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, "binance:BTC/USDT:4h", resp.Jobs[0].Job.Name)
}

func TestCreateJob(t *testing.T) {
	jobs := &fakeController{}
	data := &fakeData{}
	h := newTestServer(t, jobs, data)

	rec := doJSON(t, h, http.MethodPost, "/api/sync/jobs", map[string]any{
		"symbol":    "eth/usdt",
		"timeframe": "1h",
		"kind":      "incremental",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	require.Len(t, jobs.added, 1)
	job := jobs.added[0]
	assert.Equal(t, "binance:ETH/USDT:1h", job.Name)
	assert.Equal(t, model.JobKindIncremental, job.Kind)
	assert.Equal(t, 365, job.LookbackDays, "lookback defaults when omitted")
	assert.Equal(t, "1h", job.Cadence, "cadence defaults to the timeframe")
	assert.True(t, job.Enabled)
}

func TestCreateJobValidation(t *testing.T) {
	h := newTestServer(t, &fakeController{}, &fakeData{})

	cases := []map[string]any{
		{"timeframe": "4h"},                                         // missing symbol
		{"symbol": "BTC/USDT", "timeframe": "13m"},                  // bad timeframe
		{"symbol": "BTC/USDT", "timeframe": "4h", "kind": "wrong"},  // bad kind
	}
	for i, body := range cases {
		rec := doJSON(t, h, http.MethodPost, "/api/sync/jobs", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, fmt.Sprintf("case %d: %s", i, rec.Body.String()))
	}
}

func TestJobActions(t *testing.T) {
	jobs := &fakeController{}
	h := newTestServer(t, jobs, &fakeData{})

	assert.Equal(t, http.StatusOK, doJSON(t, h, http.MethodPost, "/api/sync/jobs/3/pause", nil).Code)
	assert.Equal(t, http.StatusOK, doJSON(t, h, http.MethodPost, "/api/sync/jobs/3/resume", nil).Code)
	assert.Equal(t, http.StatusAccepted, doJSON(t, h, http.MethodPost, "/api/sync/jobs/3/trigger", nil).Code)
	assert.Equal(t, http.StatusOK, doJSON(t, h, http.MethodDelete, "/api/sync/jobs/3", nil).Code)

	assert.Equal(t, []int64{3}, jobs.paused)
	assert.Equal(t, []int64{3}, jobs.resumed)
	assert.Equal(t, []int64{3}, jobs.triggered)
	assert.Equal(t, []int64{3}, jobs.removed)

	assert.Equal(t, http.StatusBadRequest, doJSON(t, h, http.MethodPost, "/api/sync/jobs/abc/pause", nil).Code)
}

func TestJobRuns(t *testing.T) {
	data := &fakeData{runs: []model.JobRun{
		{ID: "r1", JobID: 3, Outcome: model.RunOutcomeSucceeded, CandlesWritten: 42},
	}}
	h := newTestServer(t, &fakeController{}, data)

	rec := doJSON(t, h, http.MethodGet, "/api/sync/jobs/3/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Runs []model.JobRun `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Runs, 1)
	assert.Equal(t, int64(42), resp.Runs[0].CandlesWritten)
}

func TestKlinesAndCoverage(t *testing.T) {
	tf := market.MustTimeframe("4h")
	data := &fakeData{
		symbols: map[string]*model.Symbol{
			"BTC/USDT": {ID: 7, ExchangeID: 1, Symbol: "BTC/USDT"},
		},
		candles: tfCandles(tf, 3),
		ranges:  []market.TimeRange{{Start: 0, End: 3 * tf.Milliseconds()}},
	}
	h := newTestServer(t, &fakeController{}, data)

	rec := doJSON(t, h, http.MethodGet, "/api/sync/klines?symbol=btc/usdt&timeframe=4h", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodGet, "/api/sync/coverage?symbol=BTC/USDT&timeframe=4h&start=0&end=100000000", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Present     []market.TimeRange `json:"present"`
		TotalStored int64              `json:"total_stored"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Present, 1)
	assert.Equal(t, int64(3), resp.TotalStored)

	// Unknown symbols 404 instead of returning an empty series.
	rec = doJSON(t, h, http.MethodGet, "/api/sync/klines?symbol=DOGE/USDT&timeframe=4h", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/sync/klines?timeframe=4h", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func tfCandles(tf market.Timeframe, n int) []market.Candle {
	out := make([]market.Candle, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, market.Candle{OpenTime: int64(i) * tf.Milliseconds()})
	}
	return out
}
