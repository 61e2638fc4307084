// Package scanner enumerates managed database instances in one
// (account, region) pair and normalizes them into inventory records.
package scanner

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/memorydb"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/redshift"

	"github.com/dbfleet/dbfleet/broker"
	"github.com/dbfleet/dbfleet/config"
	"github.com/dbfleet/dbfleet/telemetry"
	"github.com/dbfleet/dbfleet/types"
)

// Lister enumerates one engine family's instances in a region.
type Lister interface {
	Engine() string
	List(ctx context.Context) ([]types.InventoryRecord, error)
}

// ListerFactory builds the engine listers for one scan. Swapped out in
// tests for fakes.
type ListerFactory func(cfg aws.Config, accountID, region string, classifier *Classifier) []Lister

// Scanner scans one (account, region) pair at a time.
type Scanner struct {
	classifier *Classifier
	factory    ListerFactory
	retry      *RetryPolicy
	logger     *telemetry.Logger
}

// New creates a scanner with the default AWS listers.
func New(classification config.Classification) *Scanner {
	return &Scanner{
		classifier: NewClassifier(classification),
		factory:    defaultListers,
		retry:      NewRetryPolicy(),
		logger:     telemetry.NewLogger("scanner"),
	}
}

// WithListerFactory overrides lister construction.
func (s *Scanner) WithListerFactory(f ListerFactory) *Scanner {
	s.factory = f
	return s
}

// Scan enumerates all managed database instances visible with the
// given credentials in one region. Pagination is fully drained; an
// error mid-scan discards partial results for this pair so they never
// pollute the aggregate.
func (s *Scanner) Scan(ctx context.Context, creds *broker.Credentials, region string) ([]types.InventoryRecord, error) {
	awsCfg := aws.Config{
		Region: region,
		Credentials: credentials.NewStaticCredentialsProvider(
			creds.AccessKeyID,
			creds.SecretAccessKey,
			creds.SessionToken,
		),
	}

	start := time.Now()
	var records []types.InventoryRecord

	for _, lister := range s.factory(awsCfg, creds.AccountID, region, s.classifier) {
		engineRecords, err := s.retry.Do(ctx, func() ([]types.InventoryRecord, error) {
			return lister.List(ctx)
		})
		if err != nil {
			return nil, &types.ScanError{AccountID: creds.AccountID, Region: region, Err: err}
		}
		records = append(records, engineRecords...)
	}

	s.logger.WithContext(ctx).Debug().
		Str("account_id", creds.AccountID).
		Str("region", region).
		Int("records", len(records)).
		Dur("duration", time.Since(start)).
		Msg("region scan complete")

	return records, nil
}

// defaultListers wires the real AWS engine listers.
func defaultListers(cfg aws.Config, accountID, region string, classifier *Classifier) []Lister {
	return []Lister{
		&RDSInstanceLister{client: rds.NewFromConfig(cfg), accountID: accountID, region: region, classifier: classifier},
		&RDSClusterLister{client: rds.NewFromConfig(cfg), accountID: accountID, region: region, classifier: classifier},
		&RedshiftLister{client: redshift.NewFromConfig(cfg), accountID: accountID, region: region, classifier: classifier},
		&MemoryDBLister{client: memorydb.NewFromConfig(cfg), accountID: accountID, region: region, classifier: classifier},
	}
}
