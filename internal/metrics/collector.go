package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector owns the Prometheus registry the rnr metric sets register into
type Collector struct {
	registry *prometheus.Registry
	factory  promauto.Factory
}

// Option configures a Collector
type Option func(*collectorOptions)

type collectorOptions struct {
	node    string
	process bool
}

// WithNode adds a constant node label to every rnr metric
func WithNode(name string) Option {
	return func(o *collectorOptions) { o.node = name }
}

// WithProcessMetrics also exports Go runtime and process metrics
func WithProcessMetrics() Option {
	return func(o *collectorOptions) { o.process = true }
}

// NewCollector creates a collector over a fresh registry
func NewCollector(opts ...Option) *Collector {
	var o collectorOptions
	for _, opt := range opts {
		opt(&o)
	}

	reg := prometheus.NewRegistry()
	if o.process {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	var r prometheus.Registerer = reg
	if o.node != "" {
		r = prometheus.WrapRegistererWith(prometheus.Labels{LabelNode: o.node}, reg)
	}
	return &Collector{registry: reg, factory: promauto.With(r)}
}

// Counter registers a counter vector
func (c *Collector) Counter(name, help string, labels ...string) *prometheus.CounterVec {
	return c.factory.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
}

// Gauge registers a gauge vector
func (c *Collector) Gauge(name, help string, labels ...string) *prometheus.GaugeVec {
	return c.factory.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
}

// Histogram registers a histogram vector; nil buckets use prometheus.DefBuckets
func (c *Collector) Histogram(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	if buckets == nil {
		buckets = prometheus.DefBuckets
	}
	return c.factory.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}, labels)
}

// Registry returns the underlying registry, for /metrics handlers
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
