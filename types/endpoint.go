package types

import "time"

// HealthStatus of a resolved downstream endpoint.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthUnknown  HealthStatus = "unknown"
)

// ServiceEndpoint is a resolved downstream service.
type ServiceEndpoint struct {
	LogicalName         string       `json:"logical_name"`
	URL                 string       `json:"url"`
	HealthStatus        HealthStatus `json:"health_status"`
	LastHealthCheckAt   time.Time    `json:"last_health_check_at"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
}

// Reachable reports whether the endpoint may still receive traffic.
// Degraded endpoints are reachable. An unknown endpoint counts as
// reachable only while it has no recorded failures; one that has been
// failing since startup without ever passing a probe is reported
// unreachable.
func (e *ServiceEndpoint) Reachable() bool {
	switch e.HealthStatus {
	case HealthHealthy, HealthDegraded:
		return true
	default:
		return e.ConsecutiveFailures == 0
	}
}
