// Package synchttp exposes the operator API: job control, run history and
// stored candle queries.
package synchttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"klinesync/internal/logger"
)

// Pinger reports upstream exchange reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wraps the gin engine and its listener lifecycle.
type Server struct {
	addr     string
	router   *gin.Engine
	upstream Pinger
}

// ServerConfig describes the API's dependencies.
type ServerConfig struct {
	Addr         string
	Jobs         JobController
	Data         DataReader
	Upstream     Pinger
	ExchangeID   int64
	ExchangeCode string
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Jobs == nil || cfg.Data == nil {
		return nil, errors.New("sync http server requires scheduler and store")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9880"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{addr: cfg.Addr, router: router, upstream: cfg.Upstream}
	router.GET("/healthz", s.health)
	api := NewRouter(cfg.Jobs, cfg.Data, cfg.ExchangeID, cfg.ExchangeCode)
	api.Register(router.Group("/api/sync"))

	return s, nil
}

// health always answers 200 while the process is alive; the upstream field
// reports exchange reachability without failing the probe, so a Binance
// outage does not restart the service.
func (s *Server) health(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if s.upstream != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.upstream.Ping(ctx); err != nil {
			resp["upstream"] = err.Error()
		} else {
			resp["upstream"] = "ok"
		}
	}
	c.JSON(http.StatusOK, resp)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s",
			method, path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}

func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is canceled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
