package synchttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"klinesync/internal/logger"
	"klinesync/internal/market"
	"klinesync/internal/scheduler"
	"klinesync/internal/store"
	"klinesync/internal/store/model"
)

// JobController is the scheduler surface the API drives.
type JobController interface {
	Jobs() []scheduler.JobStatus
	AddJob(ctx context.Context, job *model.SyncJob) error
	RemoveJob(ctx context.Context, id int64) error
	Pause(ctx context.Context, id int64) error
	Resume(ctx context.Context, id int64) error
	TriggerNow(id int64) error
}

// DataReader is the read-only store surface the API queries.
type DataReader interface {
	ListRuns(ctx context.Context, jobID int64, limit int) ([]model.JobRun, error)
	Klines(ctx context.Context, key store.SeriesKey, start, end int64, limit int) ([]market.Candle, error)
	PresentRanges(ctx context.Context, key store.SeriesKey, start, end int64) ([]market.TimeRange, error)
	KlineCount(ctx context.Context, key store.SeriesKey) (int64, error)
	GetOrCreateSymbol(ctx context.Context, exchangeID int64, symbol string) (*model.Symbol, error)
	FindSymbol(ctx context.Context, exchangeID int64, symbol string) (*model.Symbol, error)
}

type Router struct {
	jobs         JobController
	data         DataReader
	exchangeID   int64
	exchangeCode string
}

func NewRouter(jobs JobController, data DataReader, exchangeID int64, exchangeCode string) *Router {
	if exchangeCode == "" {
		exchangeCode = "binance"
	}
	return &Router{jobs: jobs, data: data, exchangeID: exchangeID, exchangeCode: exchangeCode}
}

func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/jobs", r.handleListJobs)
	group.POST("/jobs", r.handleCreateJob)
	group.GET("/jobs/:id", r.handleJobDetail)
	group.GET("/jobs/:id/runs", r.handleJobRuns)
	group.POST("/jobs/:id/pause", r.handlePause)
	group.POST("/jobs/:id/resume", r.handleResume)
	group.POST("/jobs/:id/trigger", r.handleTrigger)
	group.DELETE("/jobs/:id", r.handleDeleteJob)
	group.GET("/klines", r.handleKlines)
	group.GET("/coverage", r.handleCoverage)
}

func (r *Router) handleListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": r.jobs.Jobs()})
}

// createJobRequest is the POST /jobs payload.
type createJobRequest struct {
	Symbol       string `json:"symbol" binding:"required"`
	Timeframe    string `json:"timeframe" binding:"required"`
	Kind         string `json:"kind"`
	LookbackDays int    `json:"lookback_days"`
	Cadence      string `json:"cadence"`
}

func (r *Router) handleCreateJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	req.Timeframe = strings.ToLower(strings.TrimSpace(req.Timeframe))
	if _, err := market.ParseTimeframe(req.Timeframe); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	kind := model.JobKind(strings.ToLower(strings.TrimSpace(req.Kind)))
	if kind == "" {
		kind = model.JobKindBackfill
	}
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown kind " + strconv.Quote(string(kind))})
		return
	}
	if req.LookbackDays <= 0 {
		req.LookbackDays = 365
	}
	if strings.TrimSpace(req.Cadence) == "" {
		req.Cadence = req.Timeframe
	}

	ctx := c.Request.Context()
	sym, err := r.data.GetOrCreateSymbol(ctx, r.exchangeID, req.Symbol)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	job := &model.SyncJob{
		Name:         r.exchangeCode + ":" + sym.Symbol + ":" + req.Timeframe,
		ExchangeID:   r.exchangeID,
		SymbolID:     sym.ID,
		Symbol:       sym.Symbol,
		Timeframe:    req.Timeframe,
		Kind:         kind,
		LookbackDays: req.LookbackDays,
		Cadence:      req.Cadence,
		Enabled:      true,
	}
	if err := r.jobs.AddJob(ctx, job); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] created job %s ip=%s", job.Name, c.ClientIP())
	c.JSON(http.StatusCreated, gin.H{"job": job})
}

func (r *Router) handleJobDetail(c *gin.Context) {
	id, ok := parseJobID(c)
	if !ok {
		return
	}
	for _, js := range r.jobs.Jobs() {
		if js.Job.ID == id {
			c.JSON(http.StatusOK, gin.H{"job": js})
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
}

func (r *Router) handleJobRuns(c *gin.Context) {
	id, ok := parseJobID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 {
		limit = 20
	}
	if limit > 200 {
		limit = 200
	}
	runs, err := r.data.ListRuns(c.Request.Context(), id, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (r *Router) handlePause(c *gin.Context) {
	r.jobAction(c, r.jobs.Pause, "paused")
}

func (r *Router) handleResume(c *gin.Context) {
	r.jobAction(c, r.jobs.Resume, "resumed")
}

func (r *Router) handleTrigger(c *gin.Context) {
	id, ok := parseJobID(c)
	if !ok {
		return
	}
	if err := r.jobs.TriggerNow(id); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] triggered job %d ip=%s", id, c.ClientIP())
	c.JSON(http.StatusAccepted, gin.H{"status": "triggered"})
}

func (r *Router) handleDeleteJob(c *gin.Context) {
	id, ok := parseJobID(c)
	if !ok {
		return
	}
	if err := r.jobs.RemoveJob(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] deleted job %d ip=%s", id, c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (r *Router) jobAction(c *gin.Context, fn func(context.Context, int64) error, status string) {
	id, ok := parseJobID(c)
	if !ok {
		return
	}
	if err := fn(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] job %d %s ip=%s", id, status, c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"status": status})
}

func (r *Router) handleKlines(c *gin.Context) {
	key, ok := r.seriesKey(c)
	if !ok {
		return
	}
	start, _ := strconv.ParseInt(c.DefaultQuery("start", "0"), 10, 64)
	end, _ := strconv.ParseInt(c.DefaultQuery("end", "0"), 10, 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "500"))
	if limit <= 0 || limit > 1000 {
		limit = 500
	}
	candles, err := r.data.Klines(c.Request.Context(), key, start, end, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"klines": candles, "count": len(candles)})
}

func (r *Router) handleCoverage(c *gin.Context) {
	key, ok := r.seriesKey(c)
	if !ok {
		return
	}
	start, _ := strconv.ParseInt(c.DefaultQuery("start", "0"), 10, 64)
	end, _ := strconv.ParseInt(c.DefaultQuery("end", "0"), 10, 64)
	if end <= start {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end must be greater than start"})
		return
	}
	ranges, err := r.data.PresentRanges(c.Request.Context(), key, start, end)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	total, err := r.data.KlineCount(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"present": ranges, "total_stored": total})
}

// seriesKey resolves symbol+timeframe query params into a store key.
func (r *Router) seriesKey(c *gin.Context) (store.SeriesKey, bool) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return store.SeriesKey{}, false
	}
	tf, err := market.ParseTimeframe(c.Query("timeframe"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return store.SeriesKey{}, false
	}
	sym, err := r.data.FindSymbol(c.Request.Context(), r.exchangeID, symbol)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown symbol " + symbol})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return store.SeriesKey{}, false
	}
	return store.SeriesKey{ExchangeID: r.exchangeID, SymbolID: sym.ID, Timeframe: tf}, true
}

func parseJobID(c *gin.Context) (int64, bool) {
	id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	if id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return 0, false
	}
	return id, true
}
