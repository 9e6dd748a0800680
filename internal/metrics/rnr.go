package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RnRMetrics tracks recording and replay activity. A nil *RnRMetrics is
// valid and records nothing.
type RnRMetrics struct {
	recordsWritten    *prometheus.CounterVec
	bytesWritten      *prometheus.CounterVec
	recordsFiltered   *prometheus.CounterVec
	writeDuration     *prometheus.HistogramVec
	recorderBuffered  *prometheus.GaugeVec
	recordsReplayed   *prometheus.CounterVec
	recordsSuppressed *prometheus.CounterVec
	replayLag         *prometheus.HistogramVec
	queueDepth        *prometheus.GaugeVec
}

// NewRnRMetrics initializes recording and replay metrics with the collector
func NewRnRMetrics(collector *Collector) *RnRMetrics {
	return &RnRMetrics{
		recordsWritten:    collector.Counter(MetricRecordsWrittenTotal, "Total records committed to log files", LabelMessageType),
		bytesWritten:      collector.Counter(MetricBytesWrittenTotal, "Total payload bytes committed to log files", LabelMessageType),
		recordsFiltered:   collector.Counter(MetricRecordsFilteredTotal, "Total published messages dropped by the record filter"),
		writeDuration:     collector.Histogram(MetricWriteDuration, "Duration of a single record write in seconds", writeBuckets),
		recorderBuffered:  collector.Gauge(MetricRecorderBuffered, "Messages waiting in the recorder buffer"),
		recordsReplayed:   collector.Counter(MetricRecordsReplayedTotal, "Total records delivered by replay", LabelMessageType, LabelDelivery),
		recordsSuppressed: collector.Counter(MetricRecordsSuppressedTotal, "Total records suppressed by the replay filter", LabelMessageType),
		replayLag:         collector.Histogram(MetricReplayLag, "Delay between a record's scheduled and actual delivery in seconds", lagBuckets, LabelDelivery),
		queueDepth:        collector.Gauge(MetricReplayQueueDepth, "Messages waiting in the replay queue"),
	}
}

// RecordWrite records one committed record
func (m *RnRMetrics) RecordWrite(messageType string, bytes int, duration time.Duration) {
	if m == nil {
		return
	}
	m.recordsWritten.WithLabelValues(messageType).Inc()
	m.bytesWritten.WithLabelValues(messageType).Add(float64(bytes))
	m.writeDuration.WithLabelValues().Observe(duration.Seconds())
}

// RecordFiltered counts messages dropped before recording
func (m *RnRMetrics) RecordFiltered(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.recordsFiltered.WithLabelValues().Add(float64(n))
}

// UpdateRecorderBuffered sets the recorder buffer gauge
func (m *RnRMetrics) UpdateRecorderBuffered(n int) {
	if m == nil {
		return
	}
	m.recorderBuffered.WithLabelValues().Set(float64(n))
}

// RecordReplayed records one delivered record
func (m *RnRMetrics) RecordReplayed(messageType, delivery string, lag time.Duration) {
	if m == nil {
		return
	}
	m.recordsReplayed.WithLabelValues(messageType, delivery).Inc()
	if lag < 0 {
		lag = 0
	}
	m.replayLag.WithLabelValues(delivery).Observe(lag.Seconds())
}

// RecordSuppressed records one filtered replay record
func (m *RnRMetrics) RecordSuppressed(messageType string) {
	if m == nil {
		return
	}
	m.recordsSuppressed.WithLabelValues(messageType).Inc()
}

// UpdateQueueDepth sets the replay queue gauge
func (m *RnRMetrics) UpdateQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues().Set(float64(n))
}
