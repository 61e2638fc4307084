package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of the DynamoDB client the mirror uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Mirror writes cache entries to a DynamoDB table for consumers
// outside this process. Expiry is enforced by the table's native TTL
// attribute (expires_at, epoch seconds).
type Mirror struct {
	client DynamoAPI
	table  string
}

// NewMirror creates a DynamoDB mirror for the given table.
func NewMirror(client DynamoAPI, table string) *Mirror {
	return &Mirror{client: client, table: table}
}

// Write stores one entry. The payload is the JSON inventory array;
// expires_at carries the TTL for DynamoDB-side expiry.
func (m *Mirror) Write(ctx context.Context, entry *Entry) error {
	payload, err := json.Marshal(entry.Records)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	expiresAt := entry.FetchedAt.Add(entry.TTL).Unix()

	_, err = m.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(m.table),
		Item: map[string]dynamodbtypes.AttributeValue{
			"cache_key":  &dynamodbtypes.AttributeValueMemberS{Value: entry.Key},
			"payload":    &dynamodbtypes.AttributeValueMemberS{Value: string(payload)},
			"fetched_at": &dynamodbtypes.AttributeValueMemberN{Value: strconv.FormatInt(entry.FetchedAt.Unix(), 10)},
			"expires_at": &dynamodbtypes.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt, 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to write cache mirror item: %w", err)
	}
	return nil
}
