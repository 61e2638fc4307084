// Package discovery fans region scans out across the configured
// account×region matrix and aggregates the results with per-pair
// failure isolation.
package discovery

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dbfleet/dbfleet/broker"
	"github.com/dbfleet/dbfleet/config"
	"github.com/dbfleet/dbfleet/telemetry"
	"github.com/dbfleet/dbfleet/types"
)

// CredentialSource yields credentials for a target account.
type CredentialSource interface {
	Assume(ctx context.Context, target types.AccountTarget) (*broker.Credentials, error)
}

// RegionScanner enumerates one (account, region) pair.
type RegionScanner interface {
	Scan(ctx context.Context, creds *broker.Credentials, region string) ([]types.InventoryRecord, error)
}

// PairError is a failure isolated to one (account, region) pair.
type PairError struct {
	AccountID string    `json:"account_id"`
	Region    string    `json:"region"`
	Error     string    `json:"error"`
	At        time.Time `json:"at"`
}

// AggregateResult is the outcome of one discovery cycle. The
// coordinator always returns one; partial failure is surfaced through
// AccountsScanned < AccountsAttempted and PerPairErrors, never hidden.
type AggregateResult struct {
	Records           []types.InventoryRecord `json:"records"`
	AccountsAttempted int                     `json:"accounts_attempted"`
	AccountsScanned   int                     `json:"accounts_scanned"`
	PerPairErrors     []PairError             `json:"per_pair_errors,omitempty"`
	StartedAt         time.Time               `json:"started_at"`
	Duration          time.Duration           `json:"duration"`
}

// pairResult tags one (account, region) attempt; successes and
// failures are collected independently, never short-circuiting the
// batch.
type pairResult struct {
	accountID string
	region    string
	records   []types.InventoryRecord
	err       error
}

// Coordinator runs discovery cycles over the account matrix.
type Coordinator struct {
	creds   CredentialSource
	scanner RegionScanner
	cfg     config.Discovery
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
}

// NewCoordinator creates a discovery coordinator.
func NewCoordinator(creds CredentialSource, scanner RegionScanner, cfg config.Discovery) *Coordinator {
	return &Coordinator{
		creds:   creds,
		scanner: scanner,
		cfg:     cfg,
		logger:  telemetry.NewLogger("discovery"),
	}
}

// WithMetrics attaches OTEL metrics.
func (c *Coordinator) WithMetrics(m *telemetry.Metrics) *Coordinator {
	c.metrics = m
	return c
}

// Discover scans every (account, region) pair concurrently and merges
// the successes. A failing pair is reported and skipped; it never
// aborts siblings. The whole cycle honors the configured deadline:
// pairs still in flight when it expires are reported as timeouts.
func (c *Coordinator) Discover(ctx context.Context, targets []types.AccountTarget) *AggregateResult {
	ctx, span := telemetry.Tracer.Start(ctx, "discovery.cycle")
	defer span.End()

	start := time.Now()
	if c.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Deadline)
		defer cancel()
	}

	results := c.fanOut(ctx, targets)
	aggregate := c.reduce(targets, results)
	aggregate.StartedAt = start
	aggregate.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Int("accounts_attempted", aggregate.AccountsAttempted),
		attribute.Int("accounts_scanned", aggregate.AccountsScanned),
		attribute.Int("records", len(aggregate.Records)),
	)

	if c.metrics != nil {
		totalPairs := 0
		for _, t := range targets {
			totalPairs += len(t.Regions)
		}
		c.metrics.ScanDuration.Record(ctx, aggregate.Duration.Seconds())
		c.metrics.InstancesDiscovered.Record(ctx, int64(len(aggregate.Records)))
		c.metrics.PairsFailed.Add(ctx, int64(len(aggregate.PerPairErrors)))
		c.metrics.PairsScanned.Add(ctx, int64(totalPairs-len(aggregate.PerPairErrors)))
	}

	c.logger.WithContext(ctx).Info().
		Int("accounts_attempted", aggregate.AccountsAttempted).
		Int("accounts_scanned", aggregate.AccountsScanned).
		Int("records", len(aggregate.Records)).
		Int("pair_errors", len(aggregate.PerPairErrors)).
		Dur("duration", aggregate.Duration).
		Msg("discovery cycle complete")

	return aggregate
}

// fanOut launches one worker per (account, region) pair, bounded by
// MaxInFlight.
func (c *Coordinator) fanOut(ctx context.Context, targets []types.AccountTarget) []pairResult {
	var wg sync.WaitGroup
	sem := make(chan struct{}, c.cfg.MaxInFlight)
	out := make(chan pairResult)

	for _, target := range targets {
		for _, region := range target.Regions {
			wg.Add(1)
			go func(target types.AccountTarget, region string) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				out <- c.scanPair(ctx, target, region)
			}(target, region)
		}
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	var results []pairResult
	for r := range out {
		results = append(results, r)
	}
	return results
}

// scanPair handles one (account, region) attempt end to end.
func (c *Coordinator) scanPair(ctx context.Context, target types.AccountTarget, region string) pairResult {
	result := pairResult{accountID: target.AccountID, region: region}

	creds, err := c.creds.Assume(ctx, target)
	if err != nil {
		c.logger.WithContext(ctx).Warn().
			Str("account_id", target.AccountID).
			Err(err).
			Msg("skipping account, credential exchange failed")
		result.err = err
		return result
	}

	records, err := c.scanner.Scan(ctx, creds, region)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = &types.ScanError{AccountID: target.AccountID, Region: region, Err: context.DeadlineExceeded}
		}
		c.logger.WithContext(ctx).Warn().
			Str("account_id", target.AccountID).
			Str("region", region).
			Err(err).
			Msg("pair scan failed")
		result.err = err
		return result
	}

	result.records = records
	return result
}

// reduce merges tagged pair results into the aggregate: union of all
// successful records de-duplicated by natural key, most recent
// discovered_at winning.
func (c *Coordinator) reduce(targets []types.AccountTarget, results []pairResult) *AggregateResult {
	aggregate := &AggregateResult{AccountsAttempted: len(targets)}

	byKey := make(map[string]types.InventoryRecord)
	scannedAccounts := make(map[string]bool)
	failedAccounts := make(map[string]bool)

	for _, r := range results {
		if r.err != nil {
			failedAccounts[r.accountID] = true
			aggregate.PerPairErrors = append(aggregate.PerPairErrors, PairError{
				AccountID: r.accountID,
				Region:    r.region,
				Error:     r.err.Error(),
				At:        time.Now().UTC(),
			})
			continue
		}
		scannedAccounts[r.accountID] = true
		for _, record := range r.records {
			key := record.NaturalKey()
			existing, ok := byKey[key]
			if !ok || record.DiscoveredAt.After(existing.DiscoveredAt) {
				byKey[key] = record
			}
		}
	}

	// An account counts as scanned only when every one of its pairs
	// succeeded.
	for account := range scannedAccounts {
		if !failedAccounts[account] {
			aggregate.AccountsScanned++
		}
	}

	aggregate.Records = make([]types.InventoryRecord, 0, len(byKey))
	for _, record := range byKey {
		aggregate.Records = append(aggregate.Records, record)
	}
	sort.Slice(aggregate.Records, func(i, j int) bool {
		return aggregate.Records[i].NaturalKey() < aggregate.Records[j].NaturalKey()
	})

	sort.Slice(aggregate.PerPairErrors, func(i, j int) bool {
		if aggregate.PerPairErrors[i].AccountID != aggregate.PerPairErrors[j].AccountID {
			return aggregate.PerPairErrors[i].AccountID < aggregate.PerPairErrors[j].AccountID
		}
		return aggregate.PerPairErrors[i].Region < aggregate.PerPairErrors[j].Region
	})

	return aggregate
}
