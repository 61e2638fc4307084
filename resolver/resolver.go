// Package resolver maps logical downstream service names to live
// endpoint URLs with rolling health state. It refuses to hand out an
// endpoint that points back at this service's own front door.
package resolver

import (
	"strings"
	"sync"
	"time"

	"github.com/dbfleet/dbfleet/config"
	"github.com/dbfleet/dbfleet/telemetry"
	"github.com/dbfleet/dbfleet/types"
)

// endpointState is mutated only by the health-check loop; Resolve
// takes last-value-wins snapshots under the read lock.
type endpointState struct {
	logicalName         string
	url                 string
	healthStatus        types.HealthStatus
	lastHealthCheckAt   time.Time
	consecutiveFailures int
}

// resolution is a cached Resolve result with its own short TTL,
// independent of the inventory cache.
type resolution struct {
	endpoint types.ServiceEndpoint
	at       time.Time
}

// Resolver resolves logical service names to endpoints.
type Resolver struct {
	selfIdentity     string
	failureThreshold int
	resolutionTTL    time.Duration
	logger           *telemetry.Logger

	mu          sync.RWMutex
	endpoints   map[string]*endpointState
	resolutions map[string]resolution

	now func() time.Time
}

// New creates a resolver from static configuration. Endpoint health
// starts unknown until the first probe completes.
func New(cfg config.Resolver) *Resolver {
	r := &Resolver{
		selfIdentity:     cfg.SelfIdentity,
		failureThreshold: cfg.FailureThreshold,
		resolutionTTL:    cfg.ResolutionTTL,
		logger:           telemetry.NewLogger("resolver"),
		endpoints:        make(map[string]*endpointState, len(cfg.Endpoints)),
		resolutions:      make(map[string]resolution),
		now:              time.Now,
	}
	for name, url := range cfg.Endpoints {
		r.endpoints[name] = &endpointState{
			logicalName:  name,
			url:          url,
			healthStatus: types.HealthUnknown,
		}
	}
	return r
}

// Resolve returns the endpoint for a logical name. A URL carrying the
// resolver's own identity fails closed with CircularDependencyError —
// returning it would create an infinite call loop through our own
// front door.
func (r *Resolver) Resolve(logicalName string) (*types.ServiceEndpoint, error) {
	r.mu.RLock()
	cached, ok := r.resolutions[logicalName]
	r.mu.RUnlock()
	if ok && r.now().Sub(cached.at) < r.resolutionTTL {
		endpoint := cached.endpoint
		return &endpoint, nil
	}

	r.mu.RLock()
	state, ok := r.endpoints[logicalName]
	if !ok {
		r.mu.RUnlock()
		return nil, &types.OperationValidationError{Field: "service", Reason: "unknown logical service " + logicalName}
	}
	endpoint := types.ServiceEndpoint{
		LogicalName:         state.logicalName,
		URL:                 state.url,
		HealthStatus:        state.healthStatus,
		LastHealthCheckAt:   state.lastHealthCheckAt,
		ConsecutiveFailures: state.consecutiveFailures,
	}
	r.mu.RUnlock()

	if r.isCircular(endpoint.URL) {
		r.logger.Error().
			Str("service", logicalName).
			Str("url", endpoint.URL).
			Msg("refusing self-referential endpoint")
		return nil, &types.CircularDependencyError{LogicalName: logicalName, URL: endpoint.URL}
	}

	r.mu.Lock()
	r.resolutions[logicalName] = resolution{endpoint: endpoint, at: r.now()}
	r.mu.Unlock()

	return &endpoint, nil
}

// isCircular reports whether the URL embeds our own front-door
// identity.
func (r *Resolver) isCircular(url string) bool {
	return r.selfIdentity != "" && strings.Contains(url, r.selfIdentity)
}

// Endpoints returns a snapshot of every registered endpoint, for the
// service-discovery query surface.
func (r *Resolver) Endpoints() []types.ServiceEndpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.ServiceEndpoint, 0, len(r.endpoints))
	for _, state := range r.endpoints {
		out = append(out, types.ServiceEndpoint{
			LogicalName:         state.logicalName,
			URL:                 state.url,
			HealthStatus:        state.healthStatus,
			LastHealthCheckAt:   state.lastHealthCheckAt,
			ConsecutiveFailures: state.consecutiveFailures,
		})
	}
	return out
}

// recordProbe applies one health-check outcome. healthy→degraded after
// failureThreshold consecutive failures; one success restores healthy.
func (r *Resolver) recordProbe(logicalName string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.endpoints[logicalName]
	if !ok {
		return
	}
	state.lastHealthCheckAt = r.now()

	if err == nil {
		state.consecutiveFailures = 0
		state.healthStatus = types.HealthHealthy
		return
	}

	state.consecutiveFailures++
	if state.consecutiveFailures >= r.failureThreshold {
		state.healthStatus = types.HealthDegraded
	} else if state.healthStatus == types.HealthUnknown {
		// Stay unknown until the threshold decides either way.
		return
	}
}
