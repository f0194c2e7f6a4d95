// Package instrumentation provides OpenTelemetry instrumentation for crashlink.
//
// It exposes tracers and meters scoped by layer ("http", "server", "storage",
// "provider", "tracker", "security") and a Metrics holder with the
// pre-registered instruments used across the service.
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:     "crashlink",
//		ServiceVersion:  "1.0.0",
//		Enabled:         true,
//		MetricsExporter: "prometheus",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	mux.Handle("/metrics", inst.MetricsHandler())
//
// # Traces
//
// Spans are exported over OTLP/HTTP when TracesEndpoint is set. Without an
// endpoint, a no-op tracer provider is used.
//
// # Security
//
// Never record access tokens, authorization codes or state values as span
// attributes or metric labels. Only metadata (identity ids, outcomes,
// status codes) is recorded.
package instrumentation
