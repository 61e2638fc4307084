package fallback

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dbfleet/dbfleet/types"
)

func TestDegraded_CircularCause(t *testing.T) {
	r := NewResponder()
	req := types.OperationRequest{
		InstanceID:     "orders-db",
		Operation:      types.OpStop,
		IdempotencyKey: "key-1",
	}

	result := r.Degraded(context.Background(), req, &types.CircularDependencyError{
		LogicalName: "db-executor",
		URL:         "https://dbfleet.internal",
	})

	assert.Equal(t, types.StatusDegraded, result.Status)
	assert.True(t, result.Fallback)
	assert.Equal(t, "key-1", result.RequestID)
	assert.Contains(t, result.Detail, "points back at this service")
	assert.Contains(t, result.Detail, "may be retried")
	assert.False(t, result.Timestamp.IsZero())
}

func TestDegraded_DownstreamCause(t *testing.T) {
	r := NewResponder()

	result := r.Degraded(context.Background(), types.OperationRequest{}, &types.DownstreamUnavailableError{
		Service: "db-executor",
		Err:     errors.New("connection refused"),
	})

	assert.Equal(t, types.StatusDegraded, result.Status)
	assert.Contains(t, result.Detail, "db-executor")
	assert.Contains(t, result.Detail, "unreachable")
}

func TestDegraded_UnknownCause(t *testing.T) {
	r := NewResponder()

	result := r.Degraded(context.Background(), types.OperationRequest{}, errors.New("boom"))

	assert.Equal(t, types.StatusDegraded, result.Status)
	assert.Contains(t, result.Detail, "unavailable")
}
