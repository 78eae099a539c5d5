package output

import "time"

// MetricsCollector defines the secondary port for metrics collection.
type MetricsCollector interface {
	// IncQueryCount increments the query counter.
	IncQueryCount(source, operation string, success bool)

	// ObserveQueryDuration records query duration.
	ObserveQueryDuration(source, operation string, duration time.Duration)

	// ObserveFeatureCount records the number of features returned by a query.
	ObserveFeatureCount(source string, count int)

	// IncMalformedRecords counts records skipped because they could not be resolved.
	IncMalformedRecords(source string)

	// SetSourcesLoaded sets the number of registered sources.
	SetSourcesLoaded(count int)

	// SetSourcesReady sets the number of connected sources.
	SetSourcesReady(count int)

	// IncStorageOperations increments storage operation counter.
	IncStorageOperations(operation string, success bool)

	// ObserveStorageDuration records storage operation duration.
	ObserveStorageDuration(operation string, duration time.Duration)
}

// NoOpMetrics is a no-op implementation of MetricsCollector.
type NoOpMetrics struct{}

// IncQueryCount implements MetricsCollector.
func (n *NoOpMetrics) IncQueryCount(_, _ string, _ bool) {}

// ObserveQueryDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveQueryDuration(_, _ string, _ time.Duration) {}

// ObserveFeatureCount implements MetricsCollector.
func (n *NoOpMetrics) ObserveFeatureCount(_ string, _ int) {}

// IncMalformedRecords implements MetricsCollector.
func (n *NoOpMetrics) IncMalformedRecords(_ string) {}

// SetSourcesLoaded implements MetricsCollector.
func (n *NoOpMetrics) SetSourcesLoaded(_ int) {}

// SetSourcesReady implements MetricsCollector.
func (n *NoOpMetrics) SetSourcesReady(_ int) {}

// IncStorageOperations implements MetricsCollector.
func (n *NoOpMetrics) IncStorageOperations(_ string, _ bool) {}

// ObserveStorageDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveStorageDuration(_ string, _ time.Duration) {}
