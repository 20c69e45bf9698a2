// Package server is the HTTP front end: one listener per configured
// bind, a chi middleware chain, and a catch-all handler that feeds
// every request into the pipeline executor.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/oxlabs/ox-webservice/internal/config"
	"github.com/oxlabs/ox-webservice/internal/metrics"
	"github.com/oxlabs/ox-webservice/internal/pipeline"
)

const requestTimeout = 30 * time.Second

// Server owns every configured listener. Build it after the module
// registry and executor are ready; Start blocks until the first
// listener fails or ctx is cancelled.
type Server struct {
	exec    *pipeline.Executor
	metrics *metrics.Metrics
	logger  *slog.Logger

	listeners []*listener
}

type listener struct {
	cfg config.Listener
	srv *http.Server
}

// New wires a server for every listener in cfg.
func New(cfg *config.Config, exec *pipeline.Executor, m *metrics.Metrics, logger *slog.Logger) (*Server, error) {
	s := &Server{exec: exec, metrics: m, logger: logger}

	for _, lc := range cfg.Listeners {
		handler := s.newHandler(lc.Protocol)
		srv := &http.Server{
			Addr:              fmt.Sprintf("%s:%d", lc.BindAddress, lc.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		if lc.Protocol == "https" {
			tlsConf, err := newTLSConfig(lc.Hosts)
			if err != nil {
				return nil, fmt.Errorf("listener :%d: %w", lc.Port, err)
			}
			srv.TLSConfig = tlsConf
		}
		s.listeners = append(s.listeners, &listener{cfg: lc, srv: srv})
	}
	return s, nil
}

// newHandler builds the middleware chain and mounts the ops endpoints
// ahead of the pipeline catch-all.
func (s *Server) newHandler(protocol string) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(s.logger))
	r.Use(TimeoutMiddleware(requestTimeout))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "ox-webservice")
	})

	r.Get("/-/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/-/metrics", s.metrics.Handler())

	r.HandleFunc("/*", s.pipelineHandler(protocol))
	return r
}

// Start runs every listener and returns the first failure.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, len(s.listeners))
	for _, l := range s.listeners {
		l := l
		s.logger.Info("listener starting",
			"protocol", l.cfg.Protocol, "addr", l.srv.Addr)
		go func() {
			var err error
			if l.cfg.Protocol == "https" {
				// Certificates come from the SNI table in TLSConfig.
				err = l.srv.ListenAndServeTLS("", "")
			} else {
				err = l.srv.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("listener %s: %w", l.srv.Addr, err)
			}
		}()
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

// Shutdown drains every listener.
func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error
	for _, l := range s.listeners {
		if err := l.srv.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
