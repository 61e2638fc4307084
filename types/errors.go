package types

import "fmt"

// AuthAssumeRoleError means the credential exchange for one account was
// denied. Isolated to that account; sibling scans continue.
type AuthAssumeRoleError struct {
	AccountID string
	Err       error
}

func (e *AuthAssumeRoleError) Error() string {
	return fmt.Sprintf("assume role failed for account %s: %v", e.AccountID, e.Err)
}

func (e *AuthAssumeRoleError) Unwrap() error { return e.Err }

// ScanError means enumeration failed for one (account, region) pair.
type ScanError struct {
	AccountID string
	Region    string
	Err       error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan failed for %s/%s: %v", e.AccountID, e.Region, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// ThrottlingError is a provider rate-limit response. Retried with
// backoff before surfacing as a ScanError.
type ThrottlingError struct {
	Err error
}

func (e *ThrottlingError) Error() string {
	return fmt.Sprintf("throttled: %v", e.Err)
}

func (e *ThrottlingError) Unwrap() error { return e.Err }

// CacheRefreshError means a refresh failed. Stale data is served when
// any exists; only a first-ever failure propagates.
type CacheRefreshError struct {
	Key string
	Err error
}

func (e *CacheRefreshError) Error() string {
	return fmt.Sprintf("cache refresh failed for key %s: %v", e.Key, e.Err)
}

func (e *CacheRefreshError) Unwrap() error { return e.Err }

// CircularDependencyError means a resolved endpoint points back at the
// resolver's own identity. Always fatal for that resolution.
type CircularDependencyError struct {
	LogicalName string
	URL         string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("service %s resolves to own identity: %s", e.LogicalName, e.URL)
}

// OperationValidationError is a 4xx-class request defect. Never retried.
type OperationValidationError struct {
	Field  string
	Reason string
}

func (e *OperationValidationError) Error() string {
	return fmt.Sprintf("invalid operation request: %s: %s", e.Field, e.Reason)
}

// UnknownInstanceError means the operation target has no record in the
// cached inventory. Maps to a not-found response, never retried.
type UnknownInstanceError struct {
	InstanceID string
	AccountID  string
	Region     string
}

func (e *UnknownInstanceError) Error() string {
	return fmt.Sprintf("instance %s/%s/%s not found in inventory", e.AccountID, e.Region, e.InstanceID)
}

// DuplicateInFlightError means an identical operation is still being
// dispatched inside the idempotency window.
type DuplicateInFlightError struct {
	InstanceID     string
	IdempotencyKey string
}

func (e *DuplicateInFlightError) Error() string {
	return fmt.Sprintf("duplicate operation for %s still in flight (key %s)", e.InstanceID, e.IdempotencyKey)
}

// DownstreamUnavailableError means the executor could not be reached.
// Triggers a degraded fallback, not a hard failure.
type DownstreamUnavailableError struct {
	Service string
	Err     error
}

func (e *DownstreamUnavailableError) Error() string {
	return fmt.Sprintf("downstream %s unavailable: %v", e.Service, e.Err)
}

func (e *DownstreamUnavailableError) Unwrap() error { return e.Err }
