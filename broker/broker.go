// Package broker exchanges the hub account's identity for short-lived
// scoped credentials in target accounts via STS AssumeRole with an
// external-id challenge.
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/dbfleet/dbfleet/telemetry"
	"github.com/dbfleet/dbfleet/types"
)

// refreshMargin is how long before expiry credentials are considered
// due for proactive refresh. Expired credentials are never served.
const refreshMargin = 5 * time.Minute

const sessionDurationSeconds = 3600

// Credentials is the short-lived credential material for one account.
type Credentials struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expiration      time.Time
}

// Expired reports whether the credentials are past their validity window.
func (c *Credentials) Expired(now time.Time) bool {
	return !now.Before(c.Expiration)
}

// needsRefresh reports whether the credentials are inside the proactive
// refresh margin.
func (c *Credentials) needsRefresh(now time.Time) bool {
	return now.After(c.Expiration.Add(-refreshMargin))
}

// STSAPI is the subset of the STS client the broker uses.
type STSAPI interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

// Broker assumes cross-account roles and caches the resulting
// credentials in memory for their validity window.
type Broker struct {
	client      STSAPI
	sessionName string
	logger      *telemetry.Logger

	mu    sync.Mutex
	cache map[string]*Credentials

	now func() time.Time
}

// New creates a credential broker backed by the given STS client.
func New(client STSAPI, sessionName string) *Broker {
	if sessionName == "" {
		sessionName = "dbfleet-discovery"
	}
	return &Broker{
		client:      client,
		sessionName: sessionName,
		logger:      telemetry.NewLogger("broker"),
		cache:       make(map[string]*Credentials),
		now:         time.Now,
	}
}

// Assume returns valid credentials for the target account, reusing
// cached credentials until they enter the refresh margin. Failures are
// isolated per account; callers skip the account and continue.
func (b *Broker) Assume(ctx context.Context, target types.AccountTarget) (*Credentials, error) {
	b.mu.Lock()
	cached, ok := b.cache[target.AccountID]
	b.mu.Unlock()

	if ok && !cached.needsRefresh(b.now()) {
		return cached, nil
	}

	creds, err := b.exchange(ctx, target)
	if err != nil {
		// A cached credential that is due for refresh but not yet
		// expired still works; prefer it over failing the account.
		if ok && !cached.Expired(b.now()) {
			b.logger.WithContext(ctx).Warn().
				Str("account_id", target.AccountID).
				Err(err).
				Msg("proactive refresh failed, serving unexpired credentials")
			return cached, nil
		}
		return nil, &types.AuthAssumeRoleError{AccountID: target.AccountID, Err: err}
	}

	b.mu.Lock()
	b.cache[target.AccountID] = creds
	b.mu.Unlock()

	return creds, nil
}

// exchange performs the STS AssumeRole call.
func (b *Broker) exchange(ctx context.Context, target types.AccountTarget) (*Credentials, error) {
	input := &sts.AssumeRoleInput{
		RoleArn:         aws.String(target.RoleARN()),
		RoleSessionName: aws.String(b.sessionName),
		DurationSeconds: aws.Int32(sessionDurationSeconds),
	}
	if target.ExternalID != "" {
		input.ExternalId = aws.String(target.ExternalID)
	}

	b.logger.WithContext(ctx).Debug().
		Str("account_id", target.AccountID).
		Str("role_arn", target.RoleARN()).
		Str("external_id_digest", telemetry.RedactSecret(target.ExternalID)).
		Msg("assuming cross-account role")

	out, err := b.client.AssumeRole(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("AssumeRole(%s): %w", target.RoleARN(), err)
	}
	if out.Credentials == nil {
		return nil, fmt.Errorf("AssumeRole(%s): empty credentials in response", target.RoleARN())
	}

	return &Credentials{
		AccountID:       target.AccountID,
		AccessKeyID:     aws.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: aws.ToString(out.Credentials.SecretAccessKey),
		SessionToken:    aws.ToString(out.Credentials.SessionToken),
		Expiration:      aws.ToTime(out.Credentials.Expiration),
	}, nil
}

// Invalidate drops cached credentials for an account.
func (b *Broker) Invalidate(accountID string) {
	b.mu.Lock()
	delete(b.cache, accountID)
	b.mu.Unlock()
}
