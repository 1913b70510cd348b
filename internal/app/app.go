// Package app wires configuration, storage, the exchange gateway, the
// scheduler and the HTTP API into one runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"klinesync/internal/config"
	"klinesync/internal/executor"
	"klinesync/internal/logger"
	"klinesync/internal/market"
	"klinesync/internal/scheduler"
	"klinesync/internal/store"
	synchttp "klinesync/internal/transport/http/sync"
)

type App struct {
	cfg   *config.Config
	store store.Store
	exec  *executor.Executor
	sched *scheduler.Scheduler
	http  *synchttp.Server

	exchangeID int64
	watcher    *config.Watcher
}

// Run starts the scheduler and the HTTP API and blocks until ctx is canceled
// or a component fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()

	if err := a.sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer a.sched.Stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.http.Start(ctx); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	logger.Infof("klinesync started env=%s http=%s jobs=%d",
		a.cfg.App.Env, a.http.Addr(), len(a.cfg.Sync.Jobs))
	<-ctx.Done()
	return group.Wait()
}

// SyncOnce runs every enabled job a single time, sequentially, and returns
// the first hard failure. Meant for cron-driven or one-shot deployments.
func (a *App) SyncOnce(ctx context.Context) error {
	jobs, err := a.store.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	var firstErr error
	for i := range jobs {
		job := jobs[i]
		if !job.Enabled {
			continue
		}
		run, err := a.exec.Run(ctx, &job)
		if err != nil {
			logger.Errorf("sync-once: job %s: %v", job.Name, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		logger.Infof("sync-once: job %s outcome=%s candles=%d", job.Name, run.Outcome, run.CandlesWritten)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return firstErr
}

// TailCandles follows the store as a downstream consumer would: every
// interval it logs the newest stored candle per enabled job. No trading
// logic lives here; it exists to watch a deployment's data flow.
func (a *App) TailCandles(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		a.logLatest(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *App) logLatest(ctx context.Context) {
	jobs, err := a.store.ListJobs(ctx)
	if err != nil {
		logger.Errorf("tail: list jobs: %v", err)
		return
	}
	for _, job := range jobs {
		if !job.Enabled {
			continue
		}
		tf, err := market.ParseTimeframe(job.Timeframe)
		if err != nil {
			continue
		}
		key := store.SeriesKey{ExchangeID: job.ExchangeID, SymbolID: job.SymbolID, Timeframe: tf}
		latest, err := a.store.LatestOpenTime(ctx, key)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				logger.Warnf("tail: %s: %v", job.Name, err)
			}
			continue
		}
		candles, err := a.store.Klines(ctx, key, latest, latest+tf.Milliseconds(), 1)
		if err != nil || len(candles) == 0 {
			continue
		}
		c := candles[0]
		logger.Infof("tail: %s open_time=%d close=%s volume=%s",
			job.Name, c.OpenTime, c.Close, c.Volume)
	}
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warnf("close store: %v", err)
		}
	}
}
