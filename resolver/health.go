package resolver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dbfleet/dbfleet/telemetry"
)

// Prober checks one endpoint URL. Swapped out in tests.
type Prober interface {
	Probe(ctx context.Context, url string) error
}

// HTTPProber probes with a GET against the endpoint URL.
type HTTPProber struct {
	Client *http.Client
}

// NewHTTPProber creates a prober with a bounded per-probe timeout.
func NewHTTPProber(timeout time.Duration) *HTTPProber {
	return &HTTPProber{Client: &http.Client{Timeout: timeout}}
}

// Probe performs the request. Any 5xx or transport error is a failed
// check.
func (p *HTTPProber) Probe(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build probe request: %w", err)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("probe returned %d", resp.StatusCode)
	}
	return nil
}

// HealthChecker drives the fixed-interval health loop. It is the only
// writer of endpoint health state.
type HealthChecker struct {
	resolver *Resolver
	prober   Prober
	interval time.Duration
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
}

// NewHealthChecker creates the loop for a resolver.
func NewHealthChecker(r *Resolver, prober Prober, interval time.Duration) *HealthChecker {
	return &HealthChecker{
		resolver: r,
		prober:   prober,
		interval: interval,
		logger:   telemetry.NewLogger("health"),
	}
}

// WithMetrics attaches OTEL metrics.
func (h *HealthChecker) WithMetrics(m *telemetry.Metrics) *HealthChecker {
	h.metrics = m
	return h
}

// Run probes every endpoint once per interval until the context ends.
// The first sweep happens immediately so endpoints leave the unknown
// state without waiting a full interval.
func (h *HealthChecker) Run(ctx context.Context) error {
	h.sweep(ctx)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.sweep(ctx)
		}
	}
}

// SweepOnce probes every endpoint a single time, for one-shot tooling.
func (h *HealthChecker) SweepOnce(ctx context.Context) {
	h.sweep(ctx)
}

// sweep probes all endpoints once.
func (h *HealthChecker) sweep(ctx context.Context) {
	for _, endpoint := range h.resolver.Endpoints() {
		err := h.prober.Probe(ctx, endpoint.URL)
		h.resolver.recordProbe(endpoint.LogicalName, err)

		if h.metrics != nil {
			h.metrics.HealthChecks.Add(ctx, 1)
		}
		if err != nil {
			h.logger.WithContext(ctx).Warn().
				Str("service", endpoint.LogicalName).
				Err(err).
				Msg("health check failed")
		}
	}
}
