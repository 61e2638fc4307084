package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds dbfleet operational metrics, OTEL naming conventions.
type Metrics struct {
	PairsScanned         metric.Int64Counter
	PairsFailed          metric.Int64Counter
	InstancesDiscovered  metric.Int64Gauge
	ScanDuration         metric.Float64Histogram
	CacheRefreshes       metric.Int64Counter
	CacheStaleServes     metric.Int64Counter
	HealthChecks         metric.Int64Counter
	OperationsDispatched metric.Int64Counter
	FallbackResponses    metric.Int64Counter
}

// NewMetrics registers dbfleet metrics on the global meter.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("dbfleet")

	pairsScanned, err := meter.Int64Counter(
		"dbfleet.discovery.pairs_scanned",
		metric.WithDescription("Account/region pairs scanned successfully"),
		metric.WithUnit("{pair}"),
	)
	if err != nil {
		return nil, err
	}

	pairsFailed, err := meter.Int64Counter(
		"dbfleet.discovery.pairs_failed",
		metric.WithDescription("Account/region pairs that failed to scan"),
		metric.WithUnit("{pair}"),
	)
	if err != nil {
		return nil, err
	}

	instancesDiscovered, err := meter.Int64Gauge(
		"dbfleet.inventory.instances",
		metric.WithDescription("Managed database instances in the latest aggregate"),
		metric.WithUnit("{instance}"),
	)
	if err != nil {
		return nil, err
	}

	scanDuration, err := meter.Float64Histogram(
		"dbfleet.discovery.duration",
		metric.WithDescription("Duration of full discovery cycles"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	cacheRefreshes, err := meter.Int64Counter(
		"dbfleet.cache.refreshes",
		metric.WithDescription("Inventory cache refreshes"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, err
	}

	cacheStaleServes, err := meter.Int64Counter(
		"dbfleet.cache.stale_serves",
		metric.WithDescription("Reads answered with stale data after a failed refresh"),
		metric.WithUnit("{read}"),
	)
	if err != nil {
		return nil, err
	}

	healthChecks, err := meter.Int64Counter(
		"dbfleet.resolver.health_checks",
		metric.WithDescription("Endpoint health probes performed"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, err
	}

	operationsDispatched, err := meter.Int64Counter(
		"dbfleet.dispatch.operations",
		metric.WithDescription("Operations dispatched to the executor"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	fallbackResponses, err := meter.Int64Counter(
		"dbfleet.fallback.responses",
		metric.WithDescription("Degraded fallback responses returned to callers"),
		metric.WithUnit("{response}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		PairsScanned:         pairsScanned,
		PairsFailed:          pairsFailed,
		InstancesDiscovered:  instancesDiscovered,
		ScanDuration:         scanDuration,
		CacheRefreshes:       cacheRefreshes,
		CacheStaleServes:     cacheStaleServes,
		HealthChecks:         healthChecks,
		OperationsDispatched: operationsDispatched,
		FallbackResponses:    fallbackResponses,
	}, nil
}
