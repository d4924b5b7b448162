// Package observability exports phase-level telemetry over OTLP gRPC:
// one span per phase execution plus a RED metric set (rate, errors,
// duration) and an active-phase gauge.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "conductor.pipeline"

// Config selects the OTLP target and sampling behavior. Telemetry is off
// unless Enabled is set; a disabled provider records nothing but its whole
// surface stays callable.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	Insecure       bool
	SampleRate     float64
	BatchTimeout   time.Duration
	ExportInterval time.Duration
}

// DefaultConfig returns local-development defaults with telemetry off.
func DefaultConfig() *Config {
	return &Config{
		Enabled:        false,
		ServiceName:    "conductor",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		Insecure:       true,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		ExportInterval: 15 * time.Second,
	}
}

// Provider owns the SDK trace and metric providers plus the pipeline
// instruments.
type Provider struct {
	cfg    *Config
	logger *slog.Logger

	traces  *sdktrace.TracerProvider
	metrics *sdkmetric.MeterProvider
	tracer  trace.Tracer

	phaseStarts  metric.Int64Counter
	phaseFailers metric.Int64Counter
	phaseSeconds metric.Float64Histogram
	phaseActive  metric.Int64UpDownCounter
}

// New builds a provider. When cfg.Enabled it installs itself as the global
// OpenTelemetry trace and meter provider; otherwise it returns an inert
// provider immediately.
func New(ctx context.Context, cfg *Config) (*Provider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	p := &Provider{
		cfg:    cfg,
		logger: slog.Default().With("component", "observability"),
	}
	if !cfg.Enabled {
		return p, nil
	}
	if err := p.start(ctx); err != nil {
		return nil, err
	}
	p.logger.InfoContext(ctx, "telemetry enabled",
		"service", cfg.ServiceName,
		"endpoint", cfg.OTLPEndpoint,
		"sample_rate", cfg.SampleRate,
	)
	return p, nil
}

func (p *Provider) start(ctx context.Context) error {
	res, err := sdkresource.Merge(
		sdkresource.Default(),
		sdkresource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(p.cfg.ServiceName),
			semconv.ServiceVersion(p.cfg.ServiceVersion),
			semconv.DeploymentEnvironment(p.cfg.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("observability: merge resource: %w", err)
	}

	spanExp, err := otlptracegrpc.New(ctx, p.traceOptions()...)
	if err != nil {
		return fmt.Errorf("observability: trace exporter: %w", err)
	}
	p.traces = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(spanExp, sdktrace.WithBatchTimeout(p.cfg.BatchTimeout)),
		sdktrace.WithSampler(samplerFor(p.cfg.SampleRate)),
	)
	otel.SetTracerProvider(p.traces)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	metricExp, err := otlpmetricgrpc.New(ctx, p.metricOptions()...)
	if err != nil {
		return fmt.Errorf("observability: metric exporter: %w", err)
	}
	p.metrics = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp,
			sdkmetric.WithInterval(p.cfg.ExportInterval))),
	)
	otel.SetMeterProvider(p.metrics)

	p.tracer = otel.Tracer(scopeName,
		trace.WithInstrumentationVersion(p.cfg.ServiceVersion))
	return p.buildInstruments(otel.Meter(scopeName,
		metric.WithInstrumentationVersion(p.cfg.ServiceVersion)))
}

func (p *Provider) traceOptions() []otlptracegrpc.Option {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.cfg.OTLPEndpoint)}
	if p.cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return opts
}

func (p *Provider) metricOptions() []otlpmetricgrpc.Option {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.cfg.OTLPEndpoint)}
	if p.cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	return opts
}

func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

func (p *Provider) buildInstruments(meter metric.Meter) error {
	var err error
	if p.phaseStarts, err = meter.Int64Counter("conductor.phases.total",
		metric.WithDescription("Phase executions started"),
		metric.WithUnit("{phase}")); err != nil {
		return err
	}
	if p.phaseFailers, err = meter.Int64Counter("conductor.phase_failures.total",
		metric.WithDescription("Phase executions that returned an error"),
		metric.WithUnit("{error}")); err != nil {
		return err
	}
	if p.phaseSeconds, err = meter.Float64Histogram("conductor.phase.duration",
		metric.WithDescription("Phase wall-clock duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 15.0, 60.0, 300.0)); err != nil {
		return err
	}
	p.phaseActive, err = meter.Int64UpDownCounter("conductor.phases.active",
		metric.WithDescription("Phases currently running"),
		metric.WithUnit("{phase}"))
	return err
}

// Shutdown flushes both providers. Flush failures are logged, not returned,
// since telemetry must never fail a completed pipeline.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.traces != nil {
		if err := p.traces.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "trace shutdown failed", "error", err)
		}
	}
	if p.metrics != nil {
		if err := p.metrics.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "metric shutdown failed", "error", err)
		}
	}
	return nil
}

// Tracer returns the pipeline tracer; on a disabled provider this is the
// global (noop) tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer(scopeName)
	}
	return p.tracer
}

// TrackPhase opens a span for one phase execution and bumps the start and
// active instruments. The returned func records duration and, given a
// non-nil error, the failure; call it exactly once when the phase ends.
func (p *Provider) TrackPhase(ctx context.Context, phase string) (context.Context, func(error)) {
	began := time.Now()
	phaseAttr := metric.WithAttributes(attribute.String("pipeline.phase", phase))

	ctx, span := p.Tracer().Start(ctx, "phase."+phase,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("pipeline.phase", phase)),
	)
	if p.phaseActive != nil {
		p.phaseActive.Add(ctx, 1, phaseAttr)
	}
	if p.phaseStarts != nil {
		p.phaseStarts.Add(ctx, 1, phaseAttr)
	}

	return ctx, func(err error) {
		if p.phaseActive != nil {
			p.phaseActive.Add(ctx, -1, phaseAttr)
		}
		if p.phaseSeconds != nil {
			p.phaseSeconds.Record(ctx, time.Since(began).Seconds(), phaseAttr)
		}
		if err != nil {
			span.RecordError(err)
			if p.phaseFailers != nil {
				p.phaseFailers.Add(ctx, 1, phaseAttr)
			}
		}
		span.End()
	}
}
