// Package fallback builds the degraded responses returned when an
// operation cannot reach its executor. A fallback never claims the
// operation ran; it tells the caller why it did not and that a retry
// is safe.
package fallback

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/dbfleet/dbfleet/telemetry"
	"github.com/dbfleet/dbfleet/types"
)

// Responder turns executor failures into degraded operation results.
type Responder struct {
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

// NewResponder creates a fallback responder.
func NewResponder() *Responder {
	return &Responder{
		logger: telemetry.NewLogger("fallback"),
		now:    time.Now,
	}
}

// WithMetrics attaches OTEL metrics.
func (r *Responder) WithMetrics(m *telemetry.Metrics) *Responder {
	r.metrics = m
	return r
}

// Degraded builds the response for a request whose executor could not
// be used. The cause decides the detail text shown to the caller.
func (r *Responder) Degraded(ctx context.Context, req types.OperationRequest, cause error) *types.OperationResult {
	reason := reasonFor(cause)

	r.logger.Warn().
		Str("instance_id", req.InstanceID).
		Str("operation", string(req.Operation)).
		Str("reason", reason).
		Err(cause).
		Msg("Returning degraded fallback response")

	if r.metrics != nil {
		r.metrics.FallbackResponses.Add(ctx, 1,
			metric.WithAttributes(attribute.String("reason", reason)))
	}

	return &types.OperationResult{
		Status:    types.StatusDegraded,
		Detail:    reason + "; the operation was not performed and may be retried",
		RequestID: req.IdempotencyKey,
		Fallback:  true,
		Timestamp: r.now().UTC(),
	}
}

func reasonFor(cause error) string {
	var circular *types.CircularDependencyError
	var downstream *types.DownstreamUnavailableError

	switch {
	case errors.As(cause, &circular):
		return "executor resolution points back at this service"
	case errors.As(cause, &downstream):
		return "executor service " + downstream.Service + " is unreachable"
	default:
		return "executor service is unavailable"
	}
}
