package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbfleet/dbfleet/config"
	"github.com/dbfleet/dbfleet/types"
)

func resolverConfig() config.Resolver {
	return config.Resolver{
		SelfIdentity:     "api-front-door",
		FailureThreshold: 3,
		ResolutionTTL:    30 * time.Second,
		Endpoints: map[string]string{
			"executor":  "https://executor.internal.example.com",
			"reporting": "https://reporting.internal.example.com",
		},
	}
}

func TestResolve(t *testing.T) {
	r := New(resolverConfig())

	endpoint, err := r.Resolve("executor")
	require.NoError(t, err)
	assert.Equal(t, "https://executor.internal.example.com", endpoint.URL)
	assert.Equal(t, types.HealthUnknown, endpoint.HealthStatus)
}

func TestResolve_UnknownService(t *testing.T) {
	r := New(resolverConfig())

	_, err := r.Resolve("ghost")
	require.Error(t, err)

	var valErr *types.OperationValidationError
	assert.True(t, errors.As(err, &valErr))
}

func TestResolve_CircularDependencyFailsClosed(t *testing.T) {
	cfg := resolverConfig()
	cfg.Endpoints["executor"] = "https://api-front-door.execute-api.eu-west-1.amazonaws.com/ops"
	r := New(cfg)

	_, err := r.Resolve("executor")
	require.Error(t, err)

	var circErr *types.CircularDependencyError
	require.True(t, errors.As(err, &circErr))
	assert.Equal(t, "executor", circErr.LogicalName)
}

func TestResolve_CachesWithinTTL(t *testing.T) {
	r := New(resolverConfig())

	first, err := r.Resolve("executor")
	require.NoError(t, err)

	// Health changes after the resolution is cached.
	r.recordProbe("executor", nil)

	second, err := r.Resolve("executor")
	require.NoError(t, err)
	assert.Equal(t, first.HealthStatus, second.HealthStatus, "cached resolution served within TTL")

	// Past the TTL the fresh health state shows up.
	r.now = func() time.Time { return time.Now().Add(time.Minute) }
	third, err := r.Resolve("executor")
	require.NoError(t, err)
	assert.Equal(t, types.HealthHealthy, third.HealthStatus)
}

func TestHealthTransitions(t *testing.T) {
	r := New(resolverConfig())
	probeErr := errors.New("connection refused")

	// Below threshold: still unknown.
	r.recordProbe("executor", probeErr)
	r.recordProbe("executor", probeErr)
	endpoint := findEndpoint(t, r, "executor")
	assert.Equal(t, types.HealthUnknown, endpoint.HealthStatus)
	assert.Equal(t, 2, endpoint.ConsecutiveFailures)

	// Threshold reached: degraded.
	r.recordProbe("executor", probeErr)
	endpoint = findEndpoint(t, r, "executor")
	assert.Equal(t, types.HealthDegraded, endpoint.HealthStatus)

	// One success restores healthy and resets the counter.
	r.recordProbe("executor", nil)
	endpoint = findEndpoint(t, r, "executor")
	assert.Equal(t, types.HealthHealthy, endpoint.HealthStatus)
	assert.Equal(t, 0, endpoint.ConsecutiveFailures)
}

func TestHealthy_StaysHealthyBelowThreshold(t *testing.T) {
	r := New(resolverConfig())
	r.recordProbe("executor", nil)

	r.recordProbe("executor", errors.New("blip"))
	endpoint := findEndpoint(t, r, "executor")
	assert.Equal(t, types.HealthHealthy, endpoint.HealthStatus)
	assert.Equal(t, 1, endpoint.ConsecutiveFailures)
}

func findEndpoint(t *testing.T, r *Resolver, name string) types.ServiceEndpoint {
	t.Helper()
	for _, e := range r.Endpoints() {
		if e.LogicalName == name {
			return e
		}
	}
	t.Fatalf("endpoint %s not found", name)
	return types.ServiceEndpoint{}
}

type fakeProber struct {
	errs map[string]error
}

func (f *fakeProber) Probe(ctx context.Context, url string) error {
	return f.errs[url]
}

func TestHealthChecker_SweepsAllEndpoints(t *testing.T) {
	r := New(resolverConfig())
	prober := &fakeProber{errs: map[string]error{
		"https://reporting.internal.example.com": errors.New("refused"),
	}}
	checker := NewHealthChecker(r, prober, time.Hour)

	checker.sweep(context.Background())

	executor := findEndpoint(t, r, "executor")
	assert.Equal(t, types.HealthHealthy, executor.HealthStatus)

	reporting := findEndpoint(t, r, "reporting")
	assert.Equal(t, 1, reporting.ConsecutiveFailures)
}
