package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments used by crashlink
type Metrics struct {
	// HTTP Layer Metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Handshake Metrics
	HandshakeStarted   metric.Int64Counter
	HandshakeCompleted metric.Int64Counter

	// Escalation Metrics
	ReportsReceived         metric.Int64Counter
	EscalationsTotal        metric.Int64Counter
	ReferenceAttachFailures metric.Int64Counter

	// Security Metrics
	RateLimitExceeded metric.Int64Counter
	AuditEventsTotal  metric.Int64Counter

	// Storage Metrics
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
	StorageCredentialsCount  metric.Int64ObservableGauge
	StorageReportsCount      metric.Int64ObservableGauge

	// External API Metrics (provider and issue tracker)
	ExternalAPICallsTotal metric.Int64Counter
	ExternalAPIDuration   metric.Float64Histogram
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	httpMeter := inst.Meter("http")
	serverMeter := inst.Meter("server")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")
	externalMeter := inst.Meter("external")

	var err error
	if m.HTTPRequestsTotal, err = httpMeter.Int64Counter(
		"crashlink.http.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	if m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"crashlink.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	if m.HandshakeStarted, err = serverMeter.Int64Counter(
		"crashlink.handshake.started",
		metric.WithDescription("Number of OAuth handshakes started"),
		metric.WithUnit("{handshake}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create handshake.started counter: %w", err)
	}

	if m.HandshakeCompleted, err = serverMeter.Int64Counter(
		"crashlink.handshake.completed",
		metric.WithDescription("Number of OAuth callbacks processed, by result"),
		metric.WithUnit("{handshake}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create handshake.completed counter: %w", err)
	}

	if m.ReportsReceived, err = serverMeter.Int64Counter(
		"crashlink.reports.received",
		metric.WithDescription("Number of crash reports persisted"),
		metric.WithUnit("{report}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create reports.received counter: %w", err)
	}

	if m.EscalationsTotal, err = serverMeter.Int64Counter(
		"crashlink.escalations.total",
		metric.WithDescription("Number of escalation attempts, by outcome"),
		metric.WithUnit("{escalation}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create escalations.total counter: %w", err)
	}

	if m.ReferenceAttachFailures, err = serverMeter.Int64Counter(
		"crashlink.escalations.reference_attach_failed",
		metric.WithDescription("Number of created issues whose reference could not be attached to the report"),
		metric.WithUnit("{failure}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create reference_attach_failed counter: %w", err)
	}

	if m.RateLimitExceeded, err = securityMeter.Int64Counter(
		"crashlink.rate_limit.exceeded",
		metric.WithDescription("Number of rate limit violations"),
		metric.WithUnit("{violation}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.exceeded counter: %w", err)
	}

	if m.AuditEventsTotal, err = securityMeter.Int64Counter(
		"crashlink.audit.events.total",
		metric.WithDescription("Number of security audit events"),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create audit.events.total counter: %w", err)
	}

	if m.StorageOperationTotal, err = storageMeter.Int64Counter(
		"storage.operation.total",
		metric.WithDescription("Total number of storage operations"),
		metric.WithUnit("{operation}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.total counter: %w", err)
	}

	if m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	if m.StorageCredentialsCount, err = storageMeter.Int64ObservableGauge(
		"storage.credentials.count",
		metric.WithDescription("Number of stored credentials"),
		metric.WithUnit("{credential}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create storage.credentials.count gauge: %w", err)
	}

	if m.StorageReportsCount, err = storageMeter.Int64ObservableGauge(
		"storage.reports.count",
		metric.WithDescription("Number of stored crash reports"),
		metric.WithUnit("{report}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create storage.reports.count gauge: %w", err)
	}

	if m.ExternalAPICallsTotal, err = externalMeter.Int64Counter(
		"external.api.calls.total",
		metric.WithDescription("Total number of calls to GitHub OAuth and REST APIs"),
		metric.WithUnit("{call}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create external.api.calls.total counter: %w", err)
	}

	if m.ExternalAPIDuration, err = externalMeter.Float64Histogram(
		"external.api.duration",
		metric.WithDescription("External API call duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create external.api.duration histogram: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	m.HTTPRequestDuration.Record(ctx, durationMs, attrs)
}

// RecordHandshakeStarted records the start of an OAuth handshake
func (m *Metrics) RecordHandshakeStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.HandshakeStarted.Add(ctx, 1)
}

// RecordHandshakeCompleted records a processed callback with its result
// ("success", "invalid_handshake", "token_exchange_failed", ...)
func (m *Metrics) RecordHandshakeCompleted(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.HandshakeCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordReportReceived records a persisted crash report
func (m *Metrics) RecordReportReceived(ctx context.Context) {
	if m == nil {
		return
	}
	m.ReportsReceived.Add(ctx, 1)
}

// RecordEscalation records an escalation outcome
func (m *Metrics) RecordEscalation(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.EscalationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordReferenceAttachFailed records a reference that could not be attached
func (m *Metrics) RecordReferenceAttachFailed(ctx context.Context) {
	if m == nil {
		return
	}
	m.ReferenceAttachFailures.Add(ctx, 1)
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordAuditEvent records a security audit event
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	if m == nil {
		return
	}
	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// RecordExternalAPICall records a call to GitHub (OAuth or REST)
func (m *Metrics) RecordExternalAPICall(ctx context.Context, service, operation string, durationMs float64, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("operation", operation),
		attribute.String("result", result),
	)
	m.ExternalAPICallsTotal.Add(ctx, 1, attrs)
	m.ExternalAPIDuration.Record(ctx, durationMs, attrs)
}
