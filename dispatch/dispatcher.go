// Package dispatch validates operation requests against the inventory
// and forwards them to the executor service, journaling every state
// transition and deduplicating retries inside the idempotency window.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/dbfleet/dbfleet/fallback"
	"github.com/dbfleet/dbfleet/telemetry"
	"github.com/dbfleet/dbfleet/types"
	"github.com/dbfleet/dbfleet/wal"
)

// InventoryLookup answers exact natural-key lookups against the
// inventory cache.
type InventoryLookup interface {
	Lookup(accountID, region, instanceID string) (types.InventoryRecord, bool)
}

// EndpointResolver resolves the executor's logical service name.
type EndpointResolver interface {
	Resolve(logicalName string) (*types.ServiceEndpoint, error)
}

// Journal records dispatch state transitions.
type Journal interface {
	Append(entryType wal.EntryType, instanceID, idempotencyKey string, data interface{}) error
	AppendError(entryType wal.EntryType, instanceID, idempotencyKey string, data interface{}, cause error) error
	ReplaySince(cutoff time.Time) ([]wal.Entry, error)
}

// completedRecord is the journal payload of a terminal entry, carried
// so the idempotency window survives a restart.
type completedRecord struct {
	Operation types.Operation       `json:"operation"`
	Result    types.OperationResult `json:"result"`
}

// Dispatcher runs the request lifecycle: received, validated,
// dispatched, then one of completed, rejected, degraded or failed.
type Dispatcher struct {
	inventory InventoryLookup
	resolver  EndpointResolver
	executor  Executor
	responder *fallback.Responder
	journal   Journal
	dedup     *Deduper

	executorService string
	window          time.Duration
	retryInterval   time.Duration

	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

// New creates a dispatcher.
func New(inventory InventoryLookup, resolver EndpointResolver, executor Executor, responder *fallback.Responder, journal Journal, executorService string, window time.Duration) *Dispatcher {
	return &Dispatcher{
		inventory:       inventory,
		resolver:        resolver,
		executor:        executor,
		responder:       responder,
		journal:         journal,
		dedup:           NewDeduper(window),
		executorService: executorService,
		window:          window,
		retryInterval:   time.Second,
		logger:          telemetry.NewLogger("dispatch"),
		now:             time.Now,
	}
}

// WithMetrics attaches OTEL metrics.
func (d *Dispatcher) WithMetrics(m *telemetry.Metrics) *Dispatcher {
	d.metrics = m
	return d
}

// RestoreWindow rebuilds the idempotency window from the journal so
// duplicates of operations that reached a terminal result before a
// restart still replay that result.
func (d *Dispatcher) RestoreWindow() error {
	entries, err := d.journal.ReplaySince(d.now().Add(-d.window))
	if err != nil {
		return fmt.Errorf("failed to replay journal: %w", err)
	}

	restored := 0
	for _, entry := range entries {
		switch entry.Type {
		case wal.EntryCompleted, wal.EntryDegraded, wal.EntryFailed:
		default:
			continue
		}
		var rec completedRecord
		if err := json.Unmarshal(entry.Data, &rec); err != nil {
			continue
		}
		key := dedupKey(entry.InstanceID, rec.Operation, entry.IdempotencyKey)
		d.dedup.Seed(key, entry.Timestamp, &rec.Result)
		restored++
	}

	d.logger.Info().Int("entries", restored).Msg("Restored idempotency window from journal")
	return nil
}

// Dispatch runs one operation request to a terminal state. The
// returned error is a request defect (validation or duplicate); all
// executor trouble is folded into the result instead.
func (d *Dispatcher) Dispatch(ctx context.Context, req types.OperationRequest) (*types.OperationResult, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "dispatch.operation", trace.WithAttributes(
		attribute.String("instance_id", req.InstanceID),
		attribute.String("operation", string(req.Operation)),
	))
	defer span.End()

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.New().String()
	}

	if err := d.journal.Append(wal.EntryReceived, req.InstanceID, req.IdempotencyKey, map[string]string{
		"operation": string(req.Operation),
		"requester": req.RequesterIdentity,
	}); err != nil {
		return nil, fmt.Errorf("failed to journal request: %w", err)
	}

	record, err := d.validate(req)
	if err != nil {
		_ = d.journal.AppendError(wal.EntryRejected, req.InstanceID, req.IdempotencyKey, nil, err)
		return nil, err
	}

	key := dedupKey(req.InstanceID, req.Operation, req.IdempotencyKey)
	outcome, prior := d.dedup.Begin(key)
	switch outcome {
	case InFlight:
		dup := &types.DuplicateInFlightError{InstanceID: req.InstanceID, IdempotencyKey: req.IdempotencyKey}
		_ = d.journal.AppendError(wal.EntryRejected, req.InstanceID, req.IdempotencyKey, nil, dup)
		return nil, dup
	case Replay:
		d.logger.Debug().
			Str("instance_id", req.InstanceID).
			Str("idempotency_key", req.IdempotencyKey).
			Msg("Replaying result for duplicate operation")
		replayed := *prior
		return &replayed, nil
	}

	if err := d.journal.Append(wal.EntryValidated, req.InstanceID, req.IdempotencyKey, nil); err != nil {
		d.dedup.Abandon(key)
		return nil, fmt.Errorf("failed to journal validation: %w", err)
	}

	if record.Stale {
		d.logger.Warn().
			Str("instance_id", req.InstanceID).
			Str("account_id", req.AccountID).
			Msg("Operation targets a stale inventory record")
	}

	result := d.execute(ctx, req, record.Stale)
	d.dedup.Finish(key, result)

	if d.metrics != nil {
		d.metrics.OperationsDispatched.Add(ctx, 1,
			metric.WithAttributes(attribute.String("status", string(result.Status))))
	}
	return result, nil
}

// validate checks request shape and that the target exists in the
// inventory. Returns the matched record.
func (d *Dispatcher) validate(req types.OperationRequest) (types.InventoryRecord, error) {
	var zero types.InventoryRecord

	switch {
	case req.InstanceID == "":
		return zero, &types.OperationValidationError{Field: "instance_id", Reason: "must not be empty"}
	case req.AccountID == "":
		return zero, &types.OperationValidationError{Field: "account_id", Reason: "must not be empty"}
	case req.Region == "":
		return zero, &types.OperationValidationError{Field: "region", Reason: "must not be empty"}
	case !req.Operation.Valid():
		return zero, &types.OperationValidationError{Field: "operation", Reason: fmt.Sprintf("%q is not a dispatchable operation", req.Operation)}
	}

	record, ok := d.inventory.Lookup(req.AccountID, req.Region, req.InstanceID)
	if !ok {
		return zero, &types.UnknownInstanceError{
			InstanceID: req.InstanceID,
			AccountID:  req.AccountID,
			Region:     req.Region,
		}
	}
	return record, nil
}

// execute resolves the executor and invokes it, producing a terminal
// result. Resolution trouble and transport failures degrade; executor
// rejections fail.
func (d *Dispatcher) execute(ctx context.Context, req types.OperationRequest, staleMatch bool) *types.OperationResult {
	endpoint, err := d.resolver.Resolve(d.executorService)
	if err != nil {
		return d.degrade(ctx, req, staleMatch, err)
	}
	if !endpoint.Reachable() {
		return d.degrade(ctx, req, staleMatch, &types.DownstreamUnavailableError{
			Service: endpoint.LogicalName,
			Err:     fmt.Errorf("endpoint is %s after %d failed probes", endpoint.HealthStatus, endpoint.ConsecutiveFailures),
		})
	}

	if err := d.journal.Append(wal.EntryDispatched, req.InstanceID, req.IdempotencyKey, nil); err != nil {
		d.logger.Error().Err(err).Msg("Failed to journal dispatch")
	}

	result, err := d.invoke(ctx, *endpoint, req)
	if err != nil {
		var downstream *types.DownstreamUnavailableError
		if errors.As(err, &downstream) {
			return d.degrade(ctx, req, staleMatch, err)
		}
		failed := d.finalize(&types.OperationResult{
			Status: types.StatusFailed,
			Detail: err.Error(),
		}, req, staleMatch)
		if jerr := d.journal.AppendError(wal.EntryFailed, req.InstanceID, req.IdempotencyKey, completedRecord{
			Operation: req.Operation,
			Result:    *failed,
		}, err); jerr != nil {
			d.logger.Error().Err(jerr).Msg("Failed to journal failure")
		}
		return failed
	}

	result = d.finalize(result, req, staleMatch)
	if err := d.journal.Append(wal.EntryCompleted, req.InstanceID, req.IdempotencyKey, completedRecord{
		Operation: req.Operation,
		Result:    *result,
	}); err != nil {
		d.logger.Error().Err(err).Msg("Failed to journal completion")
	}
	return result
}

// invoke calls the executor, retrying a transport failure once.
func (d *Dispatcher) invoke(ctx context.Context, endpoint types.ServiceEndpoint, req types.OperationRequest) (*types.OperationResult, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.retryInterval

	return backoff.Retry(ctx, func() (*types.OperationResult, error) {
		result, err := d.executor.Invoke(ctx, endpoint, req)
		if err == nil {
			return result, nil
		}
		var downstream *types.DownstreamUnavailableError
		if errors.As(err, &downstream) {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(2))
}

// degrade journals and returns a fallback response.
func (d *Dispatcher) degrade(ctx context.Context, req types.OperationRequest, staleMatch bool, cause error) *types.OperationResult {
	result := d.responder.Degraded(ctx, req, cause)
	result = d.finalize(result, req, staleMatch)

	if err := d.journal.AppendError(wal.EntryDegraded, req.InstanceID, req.IdempotencyKey, completedRecord{
		Operation: req.Operation,
		Result:    *result,
	}, cause); err != nil {
		d.logger.Error().Err(err).Msg("Failed to journal degraded response")
	}
	return result
}

// finalize stamps the fields every terminal result carries.
func (d *Dispatcher) finalize(result *types.OperationResult, req types.OperationRequest, staleMatch bool) *types.OperationResult {
	if result.RequestID == "" {
		result.RequestID = req.IdempotencyKey
	}
	if result.Timestamp.IsZero() {
		result.Timestamp = d.now().UTC()
	}
	result.StaleMatch = staleMatch
	return result
}

func dedupKey(instanceID string, op types.Operation, idempotencyKey string) string {
	return fmt.Sprintf("%s|%s|%s", instanceID, op, idempotencyKey)
}
