package main

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"klinesync/internal/app"
	"klinesync/internal/config"
	"klinesync/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfgPath := os.Getenv("KLINESYNC_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}
	mode := "serve"
	if len(os.Args) > 1 {
		mode = strings.ToLower(strings.TrimSpace(os.Args[1]))
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		log.Fatalf("init log file failed: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("config loaded env=%s exchange=%s jobs=%d", cfg.App.Env, cfg.Exchange.Name, len(cfg.Sync.Jobs))

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("init app failed: %v", err)
	}

	switch mode {
	case "serve":
		if err := a.WatchConfig(cfgPath); err != nil {
			logger.Warnf("config watch disabled: %v", err)
		}
		if err := a.Run(ctx); err != nil {
			log.Fatalf("run failed: %v", err)
		}
	case "sync-once":
		defer a.Close()
		if err := a.SyncOnce(ctx); err != nil {
			log.Fatalf("sync-once failed: %v", err)
		}
	case "tail":
		defer a.Close()
		if err := a.TailCandles(ctx, 30*time.Second); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatalf("tail failed: %v", err)
		}
	default:
		log.Fatalf("unknown mode %q (want serve, sync-once or tail)", mode)
	}
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
