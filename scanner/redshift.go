package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/redshift"
	redshifttypes "github.com/aws/aws-sdk-go-v2/service/redshift/types"

	"github.com/dbfleet/dbfleet/types"
)

// RedshiftAPI is the subset of the Redshift client the lister uses.
type RedshiftAPI interface {
	DescribeClusters(ctx context.Context, params *redshift.DescribeClustersInput, optFns ...func(*redshift.Options)) (*redshift.DescribeClustersOutput, error)
}

// RedshiftLister scans Redshift clusters.
type RedshiftLister struct {
	client     RedshiftAPI
	accountID  string
	region     string
	classifier *Classifier
}

func (l *RedshiftLister) Engine() string { return "redshift" }

// List drains DescribeClusters pagination.
func (l *RedshiftLister) List(ctx context.Context) ([]types.InventoryRecord, error) {
	var records []types.InventoryRecord

	input := &redshift.DescribeClustersInput{}
	for {
		output, err := l.client.DescribeClusters(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to describe Redshift clusters: %w", err)
		}
		for _, cluster := range output.Clusters {
			records = append(records, l.buildRecord(cluster))
		}
		if output.Marker == nil {
			break
		}
		input.Marker = output.Marker
	}

	return records, nil
}

func (l *RedshiftLister) buildRecord(cluster redshifttypes.Cluster) types.InventoryRecord {
	var endpoint string
	var port int32
	if cluster.Endpoint != nil {
		endpoint = aws.ToString(cluster.Endpoint.Address)
		port = aws.ToInt32(cluster.Endpoint.Port)
	}

	tags := convertRedshiftTags(cluster.Tags)
	id := aws.ToString(cluster.ClusterIdentifier)
	now := time.Now().UTC()

	return types.InventoryRecord{
		InstanceID:   id,
		AccountID:    l.accountID,
		Region:       l.region,
		Engine:       "redshift",
		Status:       aws.ToString(cluster.ClusterStatus),
		Environment:  l.classifier.Classify(id, tags),
		Endpoint:     endpoint,
		Port:         port,
		Tags:         tags,
		DiscoveredAt: now,
		LastUpdated:  now,
	}
}

func convertRedshiftTags(tags []redshifttypes.Tag) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	result := make(map[string]string, len(tags))
	for _, tag := range tags {
		result[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return result
}
