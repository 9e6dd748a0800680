package tracing

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/polysync/rnr/internal/logger"
	"github.com/polysync/rnr/internal/rnrerr"
)

// Config selects where rnrd sends spans
type Config struct {
	Enabled bool
	// Service and Version become the service.name and service.version resource
	Service string
	Version string
	// Node is the rnrd node name, recorded as rnr.node
	Node string
	// Endpoint is the collector host:port
	Endpoint string
	// Exporter is "grpc" (default) or "http"
	Exporter string
	Insecure bool
	Headers  map[string]string
	// SampleRatio is the fraction of root spans kept, clamped to [0, 1]
	SampleRatio float64
}

// Provider owns the process tracer provider. A disabled provider hands out
// no-op tracers.
type Provider struct {
	tp  *sdktrace.TracerProvider
	log zerolog.Logger
}

// NewProvider installs a global tracer provider and W3C propagator when cfg
// is enabled
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	p := &Provider{log: logger.WithComponent("tracing")}
	if !cfg.Enabled {
		return p, nil
	}
	if cfg.Endpoint == "" {
		return nil, rnrerr.ConfigError{Reason: "tracing endpoint is required when tracing is enabled"}
	}

	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.Service),
		semconv.ServiceVersion(cfg.Version),
		attribute.String("rnr.node", cfg.Node),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	ratio := sampleRatio(cfg.SampleRatio)
	p.tp = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(p.tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	p.log.Info().
		Str("endpoint", cfg.Endpoint).
		Str("exporter", cfg.Exporter).
		Float64("sample_ratio", ratio).
		Msg("Tracing enabled")
	return p, nil
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "", "grpc":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithHeaders(cfg.Headers)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	case "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithHeaders(cfg.Headers)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	}
	return nil, rnrerr.ConfigError{Reason: fmt.Sprintf("unknown tracing exporter %q", cfg.Exporter)}
}

func sampleRatio(r float64) float64 {
	return min(max(r, 0), 1)
}

// Enabled reports whether spans are exported
func (p *Provider) Enabled() bool {
	return p.tp != nil
}

// Tracer returns a tracer for component
func (p *Provider) Tracer(component string) trace.Tracer {
	if p.tp == nil {
		return noop.NewTracerProvider().Tracer(component)
	}
	return p.tp.Tracer(component)
}

// Shutdown flushes pending spans, waiting at most 5s when ctx has no deadline
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	if err := p.tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("tracing shutdown: %w", err)
	}
	p.log.Info().Msg("Tracing flushed")
	return nil
}
