package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// NodeMetrics tracks node-level metrics
type NodeMetrics struct {
	mode               *prometheus.GaugeVec
	enabled            *prometheus.GaugeVec
	controlCallsTotal  *prometheus.CounterVec
	backgroundErrors   *prometheus.CounterVec
	sessionsTotal      *prometheus.CounterVec
	apiRequestsTotal   *prometheus.CounterVec
	apiRequestDuration *prometheus.HistogramVec
}

// NewNodeMetrics initializes node-level metrics with the collector
func NewNodeMetrics(collector *Collector) *NodeMetrics {
	m := &NodeMetrics{
		mode:               collector.Gauge(MetricMode, "Current mode (1 for the active mode label)", LabelMode),
		enabled:            collector.Gauge(MetricEnabled, "Whether the current mode is enabled"),
		controlCallsTotal:  collector.Counter(MetricControlCallsTotal, "Total control calls by operation and status", LabelOperation, LabelStatus),
		backgroundErrors:   collector.Counter(MetricBackgroundErrorsTotal, "Total background task failures by error kind", LabelMode, LabelKind),
		sessionsTotal:      collector.Counter(MetricSessionsTotal, "Total sessions started by mode", LabelMode),
		apiRequestsTotal:   collector.Counter(MetricAPIRequestsTotal, "Total HTTP/gRPC requests by method, endpoint, and status", LabelMethod, LabelEndpoint, LabelStatus),
		apiRequestDuration: collector.Histogram(MetricAPIRequestDuration, "API request latency in seconds", nil, LabelMethod, LabelEndpoint),
	}
	m.SetMode("off", false)
	return m
}

// SetMode updates the mode and enabled gauges
func (m *NodeMetrics) SetMode(mode string, enabled bool) {
	if m == nil {
		return
	}
	mode = strings.ToLower(mode)
	for _, name := range modes {
		v := 0.0
		if name == mode {
			v = 1
		}
		m.mode.WithLabelValues(name).Set(v)
	}
	e := 0.0
	if enabled {
		e = 1
	}
	m.enabled.WithLabelValues().Set(e)
}

// RecordControlCall records a control call with status ("ok" or an error kind)
func (m *NodeMetrics) RecordControlCall(operation, status string) {
	if m == nil {
		return
	}
	m.controlCallsTotal.WithLabelValues(operation, status).Inc()
}

// RecordBackgroundError records a failure of the recorder or scheduler
func (m *NodeMetrics) RecordBackgroundError(mode, kind string) {
	if m == nil {
		return
	}
	m.backgroundErrors.WithLabelValues(strings.ToLower(mode), kind).Inc()
}

// RecordSessionStarted counts a session start
func (m *NodeMetrics) RecordSessionStarted(mode string) {
	if m == nil {
		return
	}
	m.sessionsTotal.WithLabelValues(strings.ToLower(mode)).Inc()
}

// RecordAPIRequest records an API request
func (m *NodeMetrics) RecordAPIRequest(method, endpoint, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.apiRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	m.apiRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
}
