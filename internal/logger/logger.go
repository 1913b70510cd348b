// Package logger is the Printf-style logging facade shared by every package,
// backed by log/slog.
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"log/slog"
)

// facade owns the slog handler and rebuilds it when the sink changes. The
// level var is shared across rebuilds so SetLevel applies retroactively.
type facade struct {
	mu    sync.RWMutex
	out   io.Writer
	level slog.LevelVar
	log   *slog.Logger
}

var std = newFacade(os.Stdout)

func newFacade(w io.Writer) *facade {
	f := &facade{out: w}
	f.level.Set(slog.LevelInfo)
	f.rebuild()
	return f
}

// rebuild swaps the handler for the current sink. Caller holds f.mu or is
// the constructor.
func (f *facade) rebuild() {
	f.log = slog.New(slog.NewTextHandler(f.out, &slog.HandlerOptions{Level: &f.level}))
}

func (f *facade) logf(level slog.Level, format string, args []any) {
	f.mu.RLock()
	l := f.log
	f.mu.RUnlock()
	ctx := context.Background()
	if !l.Enabled(ctx, level) {
		return
	}
	l.Log(ctx, level, fmt.Sprintf(format, args...))
}

// SetOutput redirects all subsequent log lines to w.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	std.mu.Lock()
	std.out = w
	std.rebuild()
	std.mu.Unlock()
}

// SetLevel accepts "debug", "info", "warn"/"warning" or "error"; anything
// else falls back to info.
func SetLevel(name string) {
	std.level.Set(parseLevel(name))
}

func parseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func Debugf(format string, v ...any) { std.logf(slog.LevelDebug, format, v) }
func Infof(format string, v ...any)  { std.logf(slog.LevelInfo, format, v) }
func Warnf(format string, v ...any)  { std.logf(slog.LevelWarn, format, v) }
func Errorf(format string, v ...any) { std.logf(slog.LevelError, format, v) }
