package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/memorydb"
	memorydbtypes "github.com/aws/aws-sdk-go-v2/service/memorydb/types"

	"github.com/dbfleet/dbfleet/types"
)

// MemoryDBAPI is the subset of the MemoryDB client the lister uses.
type MemoryDBAPI interface {
	DescribeClusters(ctx context.Context, params *memorydb.DescribeClustersInput, optFns ...func(*memorydb.Options)) (*memorydb.DescribeClustersOutput, error)
}

// MemoryDBLister scans MemoryDB clusters. DescribeClusters carries no
// tags, so classification relies on naming patterns alone.
type MemoryDBLister struct {
	client     MemoryDBAPI
	accountID  string
	region     string
	classifier *Classifier
}

func (l *MemoryDBLister) Engine() string { return "memorydb" }

// List drains DescribeClusters pagination.
func (l *MemoryDBLister) List(ctx context.Context) ([]types.InventoryRecord, error) {
	var records []types.InventoryRecord

	input := &memorydb.DescribeClustersInput{}
	for {
		output, err := l.client.DescribeClusters(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to describe MemoryDB clusters: %w", err)
		}
		for _, cluster := range output.Clusters {
			records = append(records, l.buildRecord(cluster))
		}
		if output.NextToken == nil {
			break
		}
		input.NextToken = output.NextToken
	}

	return records, nil
}

func (l *MemoryDBLister) buildRecord(cluster memorydbtypes.Cluster) types.InventoryRecord {
	var endpoint string
	var port int32
	if cluster.ClusterEndpoint != nil {
		endpoint = aws.ToString(cluster.ClusterEndpoint.Address)
		port = cluster.ClusterEndpoint.Port
	}

	id := aws.ToString(cluster.Name)
	now := time.Now().UTC()

	return types.InventoryRecord{
		InstanceID:   id,
		AccountID:    l.accountID,
		Region:       l.region,
		Engine:       "memorydb",
		Status:       aws.ToString(cluster.Status),
		Environment:  l.classifier.Classify(id, nil),
		Endpoint:     endpoint,
		Port:         port,
		DiscoveredAt: now,
		LastUpdated:  now,
	}
}
