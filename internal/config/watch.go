package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"klinesync/internal/logger"
)

// ChangeListener receives the freshly loaded configuration after a file change.
type ChangeListener func(*Config)

// Watcher reloads the config file on filesystem changes and fans the result
// out to subscribers. A file that fails to load or validate is ignored; the
// previous configuration stays in effect.
type Watcher struct {
	path string
	v    *viper.Viper

	mu        sync.Mutex
	listeners []ChangeListener
}

func Watch(path string) (*Watcher, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config watcher requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config failed: %w", err)
	}
	w := &Watcher{path: path, v: v}
	v.OnConfigChange(func(evt fsnotify.Event) {
		cfg, err := Load(w.path)
		if err != nil {
			logger.Errorf("config reload failed (%s): %v", evt.Name, err)
			return
		}
		logger.Infof("config reloaded from %s", w.path)
		w.notify(cfg)
	})
	v.WatchConfig()
	return w, nil
}

// Subscribe registers a listener for future reloads.
func (w *Watcher) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

func (w *Watcher) notify(cfg *Config) {
	w.mu.Lock()
	listeners := append([]ChangeListener(nil), w.listeners...)
	w.mu.Unlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("config listener panic: %v", r)
				}
			}()
			cb(cfg)
		}(fn)
	}
}
