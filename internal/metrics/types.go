package metrics

// Metric name constants following Prometheus naming conventions
// Format: rnr_{component}_{metric}_{unit}

// Recording metrics
const (
	MetricRecordsWrittenTotal  = "rnr_records_written_total"
	MetricBytesWrittenTotal    = "rnr_bytes_written_total"
	MetricRecordsFilteredTotal = "rnr_records_filtered_total"
	MetricWriteDuration        = "rnr_write_duration_seconds"
	MetricRecorderBuffered     = "rnr_recorder_buffered"
)

// Replay metrics
const (
	MetricRecordsReplayedTotal   = "rnr_records_replayed_total"
	MetricRecordsSuppressedTotal = "rnr_records_suppressed_total"
	MetricReplayLag              = "rnr_replay_lag_seconds"
	MetricReplayQueueDepth       = "rnr_replay_queue_depth"
)

// Node-level metrics
const (
	MetricMode                  = "rnr_mode"
	MetricEnabled               = "rnr_enabled"
	MetricControlCallsTotal     = "rnr_control_calls_total"
	MetricBackgroundErrorsTotal = "rnr_background_errors_total"
	MetricSessionsTotal         = "rnr_sessions_total"
	MetricAPIRequestsTotal      = "rnr_api_requests_total"
	MetricAPIRequestDuration    = "rnr_api_request_duration_seconds"
)

// Label name constants
const (
	LabelNode        = "node"
	LabelMessageType = "message_type"
	LabelMode        = "mode"
	LabelDelivery    = "delivery"
	LabelOperation   = "operation"
	LabelStatus      = "status"
	LabelKind        = "kind"
	LabelMethod      = "method"
	LabelEndpoint    = "endpoint"
)

// Mode label values; the mode gauge is 1 for the active mode and 0 otherwise
var modes = []string{"off", "write", "replay"}

// Write latency buckets: 10µs .. ~5s
var writeBuckets = []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}

// Replay lag buckets: 100µs .. 1s
var lagBuckets = []float64{0.0001, 0.0005, 0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.5, 1}
