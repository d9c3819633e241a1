package state

// Metric name constants used as keys in Snapshot.Metrics.
const (
	MetricSourceKeysEstimated = "source.keys.estimated"
	MetricKeysMigrated        = "migrate.keys.applied"
	MetricKeysSkipped         = "migrate.keys.skipped"
	MetricKeysFailed          = "migrate.keys.failed"
	MetricBytesRead           = "migrate.bytes.read"
	MetricCrossSlotDropped    = "migrate.keys.cross_slot_dropped"
	MetricCheckpointSavedUnix = "checkpoint.last_saved_unix"
	MetricCheckKeysCompared   = "check.keys.compared"
	MetricCheckKeysMismatched = "check.keys.mismatched"
)
