package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys
//
// SECURITY WARNING: never set access tokens, authorization codes or state
// values as attributes. Only record metadata.
const (
	// Handshake attributes
	AttrIdentityID = "crashlink.identity_id"
	AttrLogin      = "crashlink.login"
	AttrScope      = "crashlink.scope"
	AttrResult     = "crashlink.result"

	// Escalation attributes
	AttrReportID          = "crashlink.report_id"
	AttrEscalationOutcome = "crashlink.escalation.outcome"
	AttrRepository        = "crashlink.repository"
	AttrIssueURL          = "crashlink.issue_url"

	// Storage attributes
	AttrStorageOperation = "storage.operation"
	AttrStorageType      = "storage.type"

	// External API attributes
	AttrExternalService   = "external.service"
	AttrExternalOperation = "external.operation"

	// Security attributes
	AttrClientIP = "security.client_ip"

	// HTTP attributes
	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanError sets an error status on a span (nil-safe)
func SetSpanError(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddIdentityAttributes adds the resolved identity to a span (nil-safe)
func AddIdentityAttributes(span trace.Span, identityID, login string) {
	if identityID != "" {
		SetSpanAttributes(span, attribute.String(AttrIdentityID, identityID))
	}
	if login != "" {
		SetSpanAttributes(span, attribute.String(AttrLogin, login))
	}
}

// AddEscalationAttributes adds escalation metadata to a span (nil-safe)
func AddEscalationAttributes(span trace.Span, reportID, repository, outcome string) {
	SetSpanAttributes(span,
		attribute.String(AttrReportID, reportID),
		attribute.String(AttrRepository, repository),
		attribute.String(AttrEscalationOutcome, outcome),
	)
}

// AddStorageAttributes adds storage operation attributes to a span (nil-safe)
func AddStorageAttributes(span trace.Span, operation, storageType string) {
	SetSpanAttributes(span,
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageType, storageType),
	)
}

// AddExternalAttributes adds external API attributes to a span (nil-safe)
func AddExternalAttributes(span trace.Span, service, operation string) {
	SetSpanAttributes(span,
		attribute.String(AttrExternalService, service),
		attribute.String(AttrExternalOperation, operation),
	)
}

// AddHTTPAttributes adds HTTP request attributes to a span (nil-safe)
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
}

// AddSecurityAttributes adds the client IP to a span (nil-safe).
// Callers check ShouldLogClientIPs first.
func AddSecurityAttributes(span trace.Span, clientIP string) {
	if clientIP != "" {
		SetSpanAttributes(span, attribute.String(AttrClientIP, clientIP))
	}
}
