// Package server exposes the HTTP API: discovery refresh, operation
// dispatch, the service directory, health and metrics.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dbfleet/dbfleet/cache"
	"github.com/dbfleet/dbfleet/config"
	"github.com/dbfleet/dbfleet/discovery"
	"github.com/dbfleet/dbfleet/telemetry"
	"github.com/dbfleet/dbfleet/types"
)

// InventoryService answers discovery requests from the cache,
// refreshing when needed.
type InventoryService interface {
	Refresh(ctx context.Context, force bool) (*cache.Entry, *discovery.AggregateResult, error)
}

// OperationService dispatches operation requests.
type OperationService interface {
	Dispatch(ctx context.Context, req types.OperationRequest) (*types.OperationResult, error)
}

// ServiceDirectory lists resolved downstream endpoints with health.
type ServiceDirectory interface {
	Endpoints() []types.ServiceEndpoint
}

// Server is the HTTP front end.
type Server struct {
	httpServer   *http.Server
	grace        time.Duration
	crossAccount bool

	inventory  InventoryService
	operations OperationService
	directory  ServiceDirectory

	logger *telemetry.Logger
}

// New creates the server and wires its routes.
func New(cfg config.Server, crossAccount bool, inventory InventoryService, operations OperationService, directory ServiceDirectory) *Server {
	s := &Server{
		grace:        cfg.ShutdownGrace,
		crossAccount: crossAccount,
		inventory:    inventory,
		operations:   operations,
		directory:    directory,
		logger:       telemetry.NewLogger("server"),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/discovery", s.handleDiscovery)
	mux.HandleFunc("POST /api/v1/operations", s.handleOperation)
	mux.HandleFunc("GET /api/v1/services", s.handleServices)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.HandlerFor(telemetry.PrometheusRegistry, promhttp.HandlerOpts{}))
	return mux
}

// ListenAndServe blocks until the listener fails or is shut down.
func (s *Server) ListenAndServe() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests within the grace period.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.grace)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
