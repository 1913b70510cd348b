package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"klinesync/internal/config"
	"klinesync/internal/executor"
	"klinesync/internal/gateway/binance"
	"klinesync/internal/lock"
	"klinesync/internal/logger"
	"klinesync/internal/planner"
	"klinesync/internal/scheduler"
	"klinesync/internal/store/gormstore"
	synchttp "klinesync/internal/transport/http/sync"
)

// New builds the application: opens storage, seeds reference data and jobs
// from the file, and wires the gateway, planner, executor, scheduler and API.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	st, err := gormstore.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	exchange, err := st.GetOrCreateExchange(ctx, cfg.Exchange.Name, cfg.Exchange.Sandbox)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("seed exchange: %w", err)
	}
	if err := seedJobs(ctx, st, exchange.ID, cfg); err != nil {
		st.Close()
		return nil, err
	}

	source, err := binance.New(binance.Config{
		APIKey:            cfg.Exchange.APIKey,
		SecretKey:         cfg.Exchange.SecretKey,
		Sandbox:           cfg.Exchange.Sandbox,
		RESTBaseURL:       cfg.Exchange.RESTBaseURL,
		HTTPTimeout:       cfg.Exchange.HTTPTimeout(),
		ProxyEnabled:      cfg.Exchange.Proxy.Enabled,
		RESTProxyURL:      cfg.Exchange.Proxy.RESTURL,
		RequestsPerSecond: cfg.Exchange.RequestsPerSecond,
		Burst:             cfg.Exchange.Burst,
		PageLimit:         cfg.Exchange.PageLimit,
		MaxAttempts:       cfg.Exchange.MaxAttempts,
		RetryMinDelay:     cfg.Exchange.RetryMinDelay(),
		RetryMaxDelay:     cfg.Exchange.RetryMaxDelay(),
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("build gateway: %w", err)
	}

	locker := buildLocker(cfg)
	pl := planner.New(st, int64(cfg.Sync.MaxSpanCandles))
	exec := executor.New(st, source, pl)
	sched := scheduler.New(st, exec, locker, scheduler.Options{
		MaxConcurrent:     int64(cfg.Sync.MaxConcurrent),
		LeaseTTL:          cfg.Sync.LeaseTTL(),
		FailureBackoffMin: cfg.Sync.FailureBackoffMin(),
		FailureBackoffMax: cfg.Sync.FailureBackoffMax(),
	})

	httpSrv, err := synchttp.NewServer(synchttp.ServerConfig{
		Addr:         cfg.App.HTTPAddr,
		Jobs:         sched,
		Data:         st,
		Upstream:     source,
		ExchangeID:   exchange.ID,
		ExchangeCode: exchange.Code,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("build http server: %w", err)
	}

	return &App{
		cfg:        cfg,
		store:      st,
		exec:       exec,
		sched:      sched,
		http:       httpSrv,
		exchangeID: exchange.ID,
	}, nil
}

func buildLocker(cfg *config.Config) lock.Locker {
	if !cfg.Redis.Enabled {
		return lock.NewMemoryLocker()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	logger.Infof("using redis job lock at %s", cfg.Redis.Addr)
	return lock.NewRedisLocker(client, cfg.Redis.LockPrefix)
}

// WatchConfig reloads job definitions when the file changes. Exchange and
// storage settings are fixed for the process lifetime; only the sync section
// is re-applied.
func (a *App) WatchConfig(path string) error {
	w, err := config.Watch(path)
	if err != nil {
		return err
	}
	w.Subscribe(func(next *config.Config) {
		ctx := context.Background()
		if err := seedJobs(ctx, a.store, a.exchangeID, next); err != nil {
			logger.Errorf("config reload: seed jobs: %v", err)
			return
		}
		if err := a.sched.Reload(ctx); err != nil {
			logger.Errorf("config reload: scheduler reload: %v", err)
		}
	})
	a.watcher = w
	return nil
}
