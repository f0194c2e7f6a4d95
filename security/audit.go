package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/giantswarm/crashlink/instrumentation"
)

// Auditor writes security events to a structured log with identities hashed.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
	metrics *instrumentation.Metrics
	now     func() time.Time
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
		now:     time.Now,
	}
}

// SetMetrics counts every logged event in the audit events metric.
func (a *Auditor) SetMetrics(m *instrumentation.Metrics) {
	a.metrics = m
}

// Event is a security audit event.
type Event struct {
	Type       string
	IdentityID string
	Login      string
	IPAddress  string
	Details    map[string]any
}

// LogEvent logs event. IdentityID and Login are hashed before they are written.
func (a *Auditor) LogEvent(ctx context.Context, event Event) {
	if a == nil || !a.enabled {
		return
	}

	attrs := []any{
		"event_type", event.Type,
		"timestamp", a.now().UTC(),
	}
	if event.IdentityID != "" {
		attrs = append(attrs, "identity_hash", hashForLogging(event.IdentityID))
	}
	if event.Login != "" {
		attrs = append(attrs, "login_hash", hashForLogging(event.Login))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, "ip_address", event.IPAddress)
	}
	if requestID := GetRequestID(ctx); requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}
	if len(event.Details) > 0 {
		attrs = append(attrs, "details", event.Details)
	}

	a.logger.InfoContext(ctx, "security_audit", attrs...)
	a.metrics.RecordAuditEvent(ctx, event.Type)
}

// LogHandshakeStarted records a new /install redirect.
func (a *Auditor) LogHandshakeStarted(ctx context.Context, ipAddress string) {
	a.LogEvent(ctx, Event{Type: EventHandshakeStarted, IPAddress: ipAddress})
}

// LogHandshakeRejected records a callback whose state did not validate.
func (a *Auditor) LogHandshakeRejected(ctx context.Context, ipAddress, reason string) {
	a.LogEvent(ctx, Event{
		Type:      EventHandshakeRejected,
		IPAddress: ipAddress,
		Details:   map[string]any{"reason": reason},
	})
}

// LogHandshakeFailed records a callback that failed after state validation.
func (a *Auditor) LogHandshakeFailed(ctx context.Context, ipAddress, stage string) {
	a.LogEvent(ctx, Event{
		Type:      EventHandshakeFailed,
		IPAddress: ipAddress,
		Details:   map[string]any{"stage": stage},
	})
}

// LogCredentialStored records a persisted credential. The token itself is
// never passed here.
func (a *Auditor) LogCredentialStored(ctx context.Context, identityID, login, scope string) {
	a.LogEvent(ctx, Event{
		Type:       EventCredentialStored,
		IdentityID: identityID,
		Login:      login,
		Details:    map[string]any{"scope": scope},
	})
}

// LogIssueCreated records a crash report escalated to an issue.
func (a *Auditor) LogIssueCreated(ctx context.Context, identityID, reportID, issueURL string) {
	a.LogEvent(ctx, Event{
		Type:       EventIssueCreated,
		IdentityID: identityID,
		Details:    map[string]any{"report_id": reportID, "issue_url": issueURL},
	})
}

// LogRateLimitExceeded records a throttled client.
func (a *Auditor) LogRateLimitExceeded(ctx context.Context, ipAddress, endpoint string) {
	a.LogEvent(ctx, Event{
		Type:      EventRateLimitExceeded,
		IPAddress: ipAddress,
		Details:   map[string]any{"endpoint": endpoint},
	})
}

// hashForLogging returns a short SHA-256 prefix that correlates events for
// one identity without revealing it.
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	sum := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(sum[:])[:16]
}
