package instrumentation

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultServiceName is used when Config.ServiceName is empty
	DefaultServiceName = "crashlink"

	// DefaultServiceVersion is the default service version used when none is provided
	DefaultServiceVersion = "unknown"

	// MetricsExporterPrometheus exposes metrics through MetricsHandler
	MetricsExporterPrometheus = "prometheus"

	// MetricsExporterNone disables metric export
	MetricsExporterNone = "none"

	scopePrefix = "github.com/giantswarm/crashlink/"
)

// Config holds instrumentation configuration
type Config struct {
	// ServiceName is the name of the service (default "crashlink")
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// Enabled controls whether instrumentation is active.
	// When false, no-op providers are used.
	Enabled bool

	// MetricsExporter selects the metrics exporter: "prometheus" or "none".
	MetricsExporter string

	// TracesEndpoint is an OTLP/HTTP endpoint URL (e.g. http://collector:4318).
	// Empty disables trace export.
	TracesEndpoint string

	// LogClientIPs controls whether client IP addresses are recorded in
	// traces. Client IPs may be personal data in some jurisdictions.
	LogClientIPs bool

	// Resource allows custom resource attributes
	Resource *resource.Resource
}

// Instrumentation provides OpenTelemetry instrumentation components
type Instrumentation struct {
	config   Config
	resource *resource.Resource

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	metricsHandler http.Handler

	metrics *Metrics

	// Shutdown functions (registered during New() only)
	shutdownFuncs []func(context.Context) error
	shutdownOnce  sync.Once
}

// New creates a new instrumentation instance
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = DefaultServiceName
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = DefaultServiceVersion
	}

	res := config.Resource
	if res == nil {
		var err error
		res, err = resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(config.ServiceName),
				semconv.ServiceVersion(config.ServiceVersion),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}
	}

	inst := &Instrumentation{
		config:         config,
		resource:       res,
		meterProvider:  noop.NewMeterProvider(),
		tracerProvider: tracenoop.NewTracerProvider(),
	}

	if config.Enabled {
		if err := inst.initializeProviders(); err != nil {
			_ = inst.Shutdown(context.Background())
			return nil, fmt.Errorf("failed to initialize providers: %w", err)
		}
	}

	var err error
	inst.metrics, err = newMetrics(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	return inst, nil
}

// initializeProviders wires the configured exporters.
func (i *Instrumentation) initializeProviders() error {
	switch i.config.MetricsExporter {
	case "", MetricsExporterNone:
	case MetricsExporterPrometheus:
		registry := prometheus.NewRegistry()
		exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
		if err != nil {
			return fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(exporter),
			sdkmetric.WithResource(i.resource),
		)
		i.meterProvider = mp
		i.metricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
		i.shutdownFuncs = append(i.shutdownFuncs, mp.Shutdown)
	default:
		return fmt.Errorf("unsupported metrics exporter %q", i.config.MetricsExporter)
	}

	if i.config.TracesEndpoint != "" {
		exporter, err := otlptracehttp.New(context.Background(),
			otlptracehttp.WithEndpointURL(i.config.TracesEndpoint),
		)
		if err != nil {
			return fmt.Errorf("failed to create otlp trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(i.resource),
		)
		i.tracerProvider = tp
		i.shutdownFuncs = append(i.shutdownFuncs, tp.Shutdown)
	}

	return nil
}

// Shutdown flushes and stops all exporters. Safe to call more than once.
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var shutdownErr error

	i.shutdownOnce.Do(func() {
		for _, fn := range i.shutdownFuncs {
			if err := fn(ctx); err != nil && shutdownErr == nil {
				shutdownErr = err
			}
		}
	})

	return shutdownErr
}

// Meter returns a named meter for the given scope
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter(scopePrefix + scope)
}

// Tracer returns a named tracer for the given scope
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer(scopePrefix + scope)
}

// Metrics returns the metrics holder for recording metric values
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// MetricsHandler returns the Prometheus scrape handler, or a handler
// answering 404 when the Prometheus exporter is not enabled.
func (i *Instrumentation) MetricsHandler() http.Handler {
	if i.metricsHandler == nil {
		return http.NotFoundHandler()
	}
	return i.metricsHandler
}

// ShouldLogClientIPs returns whether client IP addresses should be recorded
func (i *Instrumentation) ShouldLogClientIPs() bool {
	return i.config.LogClientIPs
}

// StorageSizeCallback is a function that returns the current size of a storage component
type StorageSizeCallback func() int64

// RegisterStorageSizeCallbacks registers callbacks observed by the
// storage size gauges. Nil callbacks are skipped.
func (i *Instrumentation) RegisterStorageSizeCallbacks(credentialsCount, reportsCount StorageSizeCallback) error {
	_, err := i.Meter("storage").RegisterCallback(
		func(_ context.Context, observer metric.Observer) error {
			if credentialsCount != nil {
				observer.ObserveInt64(i.metrics.StorageCredentialsCount, credentialsCount())
			}
			if reportsCount != nil {
				observer.ObserveInt64(i.metrics.StorageReportsCount, reportsCount())
			}
			return nil
		},
		i.metrics.StorageCredentialsCount,
		i.metrics.StorageReportsCount,
	)
	return err
}
