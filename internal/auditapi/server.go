// Package auditapi serves a read-only HTTP view of the audit ledger and the
// lineage log for auditors, plus Prometheus metrics.
package auditapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/leapstack-labs/lakegov/internal/acl"
	"github.com/leapstack-labs/lakegov/internal/audit"
	"github.com/leapstack-labs/lakegov/internal/governance"
	"github.com/leapstack-labs/lakegov/internal/lineage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// Config holds configuration for the audit server.
type Config struct {
	Gate      *acl.Gate
	Principal governance.Principal
	Ledger    *audit.Ledger
	Lineage   *lineage.Log
	Addr      string
	Logger    *slog.Logger
	// Background tasks run for the lifetime of Serve, e.g. a policy watcher.
	Background []func(ctx context.Context) error
}

// Server is the audit HTTP server.
type Server struct {
	ledger     *audit.Ledger
	lineage    *lineage.Log
	addr       string
	logger     *slog.Logger
	registry   *prometheus.Registry
	background []func(ctx context.Context) error
}

// NewServer checks that the principal may read the warehouse and builds the
// server.
func NewServer(ctx context.Context, cfg Config) (*Server, error) {
	if err := cfg.Gate.CheckRead(ctx, cfg.Principal, governance.LayerWarehouse); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	registry := prometheus.NewRegistry()
	if err := registry.Register(NewCollector(cfg.Ledger, cfg.Lineage, logger)); err != nil {
		return nil, fmt.Errorf("failed to register ledger collector: %w", err)
	}
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register go collector: %w", err)
	}

	return &Server{
		ledger:     cfg.Ledger,
		lineage:    cfg.Lineage,
		addr:       cfg.Addr,
		logger:     logger,
		registry:   registry,
		background: cfg.Background,
	}, nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
	)

	h := &handlers{ledger: s.ledger, lineage: s.lineage, logger: s.logger}
	r.Get("/healthz", h.health)
	r.Route("/runs", func(r chi.Router) {
		r.Get("/", h.listRuns)
		r.Get("/{id}", h.getRun)
	})
	r.Route("/gdpr", func(r chi.Router) {
		r.Get("/", h.listGDPR)
		r.Get("/{id}", h.getGDPR)
	})
	r.Route("/exports", func(r chi.Router) {
		r.Get("/", h.listExports)
		r.Get("/{id}", h.getExport)
	})
	r.Get("/lineage", h.listLineage)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return r
}

// Serve listens on the configured address and blocks until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is cancelled.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	s.logger.Info("starting audit server", "addr", ln.Addr().String())

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	for _, task := range s.background {
		eg.Go(func() error { return task(egctx) })
	}

	eg.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down audit server")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}
