package scanner

import (
	"context"
	"errors"
	"time"

	"github.com/aws/smithy-go"
	"github.com/cenkalti/backoff/v5"

	"github.com/dbfleet/dbfleet/types"
)

// throttleCodes are provider responses retried with backoff. Anything
// else fails the attempt immediately.
var throttleCodes = map[string]bool{
	"Throttling":                             true,
	"ThrottlingException":                    true,
	"RequestLimitExceeded":                   true,
	"TooManyRequestsException":               true,
	"ProvisionedThroughputExceededException": true,
}

// RetryPolicy retries throttled enumeration calls with bounded
// exponential backoff. Backoff state is per call, so one throttled
// (account, region) pair does not slow down others.
type RetryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// NewRetryPolicy returns the default policy.
func NewRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxTries:        4,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// Do runs op, retrying only throttling errors. Exhausted retries
// surface the final throttling error wrapped as such.
func (p *RetryPolicy) Do(ctx context.Context, op func() ([]types.InventoryRecord, error)) ([]types.InventoryRecord, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval

	return backoff.Retry(ctx, func() ([]types.InventoryRecord, error) {
		records, err := op()
		if err == nil {
			return records, nil
		}
		if IsThrottle(err) {
			return nil, &types.ThrottlingError{Err: err}
		}
		return nil, backoff.Permanent(err)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(p.MaxTries))
}

// IsThrottle reports whether the error is a provider rate-limit
// response.
func IsThrottle(err error) bool {
	var throttle *types.ThrottlingError
	if errors.As(err, &throttle) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return throttleCodes[apiErr.ErrorCode()]
	}
	return false
}
