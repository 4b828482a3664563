package observe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const serviceName = "voiceclip"

// TelemetryOption configures [Setup].
type TelemetryOption func(*telemetryConfig)

type telemetryConfig struct {
	version   string
	spans     sdktrace.SpanExporter
	runtime   bool
	setGlobal bool
}

// WithVersion overrides the service version reported in telemetry. Default:
// the main module version from the build info.
func WithVersion(v string) TelemetryOption {
	return func(c *telemetryConfig) { c.version = v }
}

// WithSpanExporter exports finished spans, e.g. clip saves, through exp.
// Without one spans are recorded but dropped.
func WithSpanExporter(exp sdktrace.SpanExporter) TelemetryOption {
	return func(c *telemetryConfig) { c.spans = exp }
}

// WithoutRuntimeMetrics leaves the Go runtime and process collectors out of
// the /metrics registry.
func WithoutRuntimeMetrics() TelemetryOption {
	return func(c *telemetryConfig) { c.runtime = false }
}

// WithoutGlobal keeps the providers out of the otel globals. Tests use it to
// avoid leaking state between packages.
func WithoutGlobal() TelemetryOption {
	return func(c *telemetryConfig) { c.setGlobal = false }
}

// Telemetry owns the clipper's meter and tracer providers and the private
// Prometheus registry served on /metrics.
type Telemetry struct {
	// Metrics is built on this Telemetry's meter provider.
	Metrics *Metrics

	registry *prometheus.Registry
	mp       *sdkmetric.MeterProvider
	tp       *sdktrace.TracerProvider
}

// Setup creates the providers and, unless [WithoutGlobal] is given,
// registers them as the otel globals.
func Setup(ctx context.Context, opts ...TelemetryOption) (*Telemetry, error) {
	cfg := telemetryConfig{version: buildVersion(), runtime: true, setGlobal: true}
	for _, o := range opts {
		o(&cfg)
	}

	res, err := resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(cfg.version),
		),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	reg := prometheus.NewRegistry()
	if cfg.runtime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	exp, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}

	t := &Telemetry{registry: reg}
	t.mp = sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(exp))

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.spans != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.spans))
	}
	t.tp = sdktrace.NewTracerProvider(tpOpts...)

	if t.Metrics, err = NewMetrics(t.mp); err != nil {
		return nil, errors.Join(fmt.Errorf("observe: create instruments: %w", err), t.Shutdown(ctx))
	}
	if cfg.setGlobal {
		otel.SetMeterProvider(t.mp)
		otel.SetTracerProvider(t.tp)
	}
	return t, nil
}

// Handler serves the registry in the Prometheus text format.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes pending spans and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.mp.Shutdown(ctx), t.tp.Shutdown(ctx))
}

func buildVersion() string {
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" {
		return bi.Main.Version
	}
	return "(devel)"
}
