// Package server runs the broker's listeners: the public API server
// and a separate metrics server, with coordinated shutdown.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/pehchan-id/pehchan/internal/config"
	"github.com/pehchan-id/pehchan/internal/metrics"
	"github.com/pehchan-id/pehchan/internal/observability/logger"
)

const shutdownGrace = 10 * time.Second

// Server owns the two HTTP listeners.
type Server struct {
	cfg     *config.Config
	handler http.Handler
}

// New wraps the assembled handler.
func New(cfg *config.Config, handler http.Handler) *Server {
	return &Server{cfg: cfg, handler: handler}
}

// Run serves until ctx is cancelled, then drains both listeners. The
// metrics listener is separate so scrapes never traverse the gateway
// and an exhausted API server still reports.
func (s *Server) Run(ctx context.Context) error {
	api := &http.Server{
		Addr:         s.cfg.Server.Addr,
		Handler:      s.handler,
		ReadTimeout:  parseDur(s.cfg.Server.ReadTimeout, 10*time.Second),
		WriteTimeout: parseDur(s.cfg.Server.WriteTimeout, 30*time.Second),
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(prometheus.NewRegistry()))
	mon := &http.Server{
		Addr:         s.cfg.Server.MetricsAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.L().Info("api server listening", logger.String("addr", api.Addr))
		if err := api.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.L().Info("metrics server listening", logger.String("addr", mon.Addr))
		if err := mon.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		logger.L().Info("shutting down")
		_ = mon.Shutdown(shutdownCtx)
		return api.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func parseDur(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
