package security

// Audit event types.
const (
	// EventHandshakeStarted is logged when /install issues a new state.
	EventHandshakeStarted = "handshake_started"

	// EventHandshakeRejected is logged when a callback fails state validation.
	EventHandshakeRejected = "handshake_rejected"

	// EventHandshakeFailed is logged when code exchange, identity lookup or
	// credential storage fails after the state was accepted.
	EventHandshakeFailed = "handshake_failed"

	// EventCredentialStored is logged when a credential is persisted.
	EventCredentialStored = "credential_stored" //nolint:gosec // G101: event name, not a credential

	// EventIssueCreated is logged when a crash report is escalated.
	EventIssueCreated = "issue_created"

	// EventRateLimitExceeded is logged when a client is throttled.
	EventRateLimitExceeded = "rate_limit_exceeded"
)
