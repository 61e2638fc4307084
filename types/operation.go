package types

import "time"

// Operation is an action dispatched against a discovered instance.
type Operation string

const (
	OpStart       Operation = "start"
	OpStop        Operation = "stop"
	OpReboot      Operation = "reboot"
	OpSnapshot    Operation = "snapshot"
	OpHealthCheck Operation = "health_check"
)

// AllowedOperations is the full set of dispatchable operations.
var AllowedOperations = map[Operation]bool{
	OpStart:       true,
	OpStop:        true,
	OpReboot:      true,
	OpSnapshot:    true,
	OpHealthCheck: true,
}

// Valid reports whether the operation is in the allowed set.
func (o Operation) Valid() bool {
	return AllowedOperations[o]
}

// OperationRequest is an inbound request to act on an instance.
type OperationRequest struct {
	InstanceID        string            `json:"instance_id"`
	Operation         Operation         `json:"operation"`
	Region            string            `json:"region"`
	AccountID         string            `json:"account_id"`
	Parameters        map[string]string `json:"parameters,omitempty"`
	RequesterIdentity string            `json:"requester_identity"`
	IdempotencyKey    string            `json:"idempotency_key,omitempty"`
}

// OperationStatus is the terminal state of a dispatched operation.
type OperationStatus string

const (
	StatusAccepted OperationStatus = "accepted"
	StatusRejected OperationStatus = "rejected"
	StatusDegraded OperationStatus = "degraded"
	StatusFailed   OperationStatus = "failed"
)

// OperationResult is the outcome returned to the caller.
type OperationResult struct {
	Status     OperationStatus `json:"status"`
	Detail     string          `json:"detail,omitempty"`
	RequestID  string          `json:"request_id,omitempty"`
	StaleMatch bool            `json:"stale_match,omitempty"`
	Fallback   bool            `json:"fallback,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}
