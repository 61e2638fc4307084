package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"

	"github.com/dbfleet/dbfleet/types"
)

// RDSAPI is the subset of the RDS client the listers use.
type RDSAPI interface {
	DescribeDBInstances(ctx context.Context, params *rds.DescribeDBInstancesInput, optFns ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error)
	DescribeDBClusters(ctx context.Context, params *rds.DescribeDBClustersInput, optFns ...func(*rds.Options)) (*rds.DescribeDBClustersOutput, error)
}

// RDSInstanceLister scans standalone RDS instances.
type RDSInstanceLister struct {
	client     RDSAPI
	accountID  string
	region     string
	classifier *Classifier
}

func (l *RDSInstanceLister) Engine() string { return "rds" }

// List drains DescribeDBInstances pagination.
func (l *RDSInstanceLister) List(ctx context.Context) ([]types.InventoryRecord, error) {
	var records []types.InventoryRecord

	input := &rds.DescribeDBInstancesInput{}
	for {
		output, err := l.client.DescribeDBInstances(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to describe RDS instances: %w", err)
		}
		for _, instance := range output.DBInstances {
			records = append(records, l.buildInstanceRecord(instance))
		}
		if output.Marker == nil {
			break
		}
		input.Marker = output.Marker
	}

	return records, nil
}

func (l *RDSInstanceLister) buildInstanceRecord(instance rdstypes.DBInstance) types.InventoryRecord {
	var endpoint string
	var port int32
	if instance.Endpoint != nil {
		endpoint = aws.ToString(instance.Endpoint.Address)
		port = aws.ToInt32(instance.Endpoint.Port)
	}

	tags := convertRDSTags(instance.TagList)
	id := aws.ToString(instance.DBInstanceIdentifier)
	now := time.Now().UTC()

	return types.InventoryRecord{
		InstanceID:   id,
		AccountID:    l.accountID,
		Region:       l.region,
		Engine:       aws.ToString(instance.Engine),
		Status:       aws.ToString(instance.DBInstanceStatus),
		Environment:  l.classifier.Classify(id, tags),
		Endpoint:     endpoint,
		Port:         port,
		MultiAZ:      aws.ToBool(instance.MultiAZ),
		Tags:         tags,
		DiscoveredAt: now,
		LastUpdated:  now,
	}
}

// RDSClusterLister scans Aurora clusters.
type RDSClusterLister struct {
	client     RDSAPI
	accountID  string
	region     string
	classifier *Classifier
}

func (l *RDSClusterLister) Engine() string { return "aurora" }

// List drains DescribeDBClusters pagination.
func (l *RDSClusterLister) List(ctx context.Context) ([]types.InventoryRecord, error) {
	var records []types.InventoryRecord

	input := &rds.DescribeDBClustersInput{}
	for {
		output, err := l.client.DescribeDBClusters(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to describe DB clusters: %w", err)
		}
		for _, cluster := range output.DBClusters {
			records = append(records, l.buildClusterRecord(cluster))
		}
		if output.Marker == nil {
			break
		}
		input.Marker = output.Marker
	}

	return records, nil
}

func (l *RDSClusterLister) buildClusterRecord(cluster rdstypes.DBCluster) types.InventoryRecord {
	tags := convertRDSTags(cluster.TagList)
	id := aws.ToString(cluster.DBClusterIdentifier)
	now := time.Now().UTC()

	return types.InventoryRecord{
		InstanceID:   id,
		AccountID:    l.accountID,
		Region:       l.region,
		Engine:       aws.ToString(cluster.Engine),
		EngineMode:   aws.ToString(cluster.EngineMode),
		Status:       aws.ToString(cluster.Status),
		Environment:  l.classifier.Classify(id, tags),
		Endpoint:     aws.ToString(cluster.Endpoint),
		Port:         aws.ToInt32(cluster.Port),
		MultiAZ:      aws.ToBool(cluster.MultiAZ),
		Tags:         tags,
		DiscoveredAt: now,
		LastUpdated:  now,
	}
}

// convertRDSTags flattens RDS tags into a plain map.
func convertRDSTags(tags []rdstypes.Tag) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	result := make(map[string]string, len(tags))
	for _, tag := range tags {
		result[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return result
}
