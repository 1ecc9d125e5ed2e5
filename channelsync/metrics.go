package channelsync

import "time"

// MetricsCollector provides hooks for collecting synchronization metrics
type MetricsCollector interface {
	// RecordSyncDuration records how long a synchronization operation took
	RecordSyncDuration(operation string, duration time.Duration)

	// RecordSyncItems records the number of successful and failed items
	RecordSyncItems(successful, failed int)

	// RecordSyncErrors records synchronization errors by type
	RecordSyncErrors(operation string, errorType string)

	// RecordConflicts records the number of conflicts resolved
	RecordConflicts(resolved int)
}

// NoOpMetricsCollector is a default implementation that does nothing
type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) RecordSyncDuration(operation string, duration time.Duration) {}
func (n *NoOpMetricsCollector) RecordSyncItems(successful, failed int)                      {}
func (n *NoOpMetricsCollector) RecordSyncErrors(operation string, errorType string)         {}
func (n *NoOpMetricsCollector) RecordConflicts(resolved int)                                {}
