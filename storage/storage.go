package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrReferenceAlreadySet is returned by AttachReference when the report
	// already carries an escalation reference. References are immutable.
	ErrReferenceAlreadySet = errors.New("report already has an escalation reference")
)

// Credential is an OAuth access credential for a resolved GitHub identity.
// At most one credential exists per IdentityID; saving again overwrites it.
//
// SECURITY: AccessToken must never be logged or echoed to clients. String
// and LogValue redact it so accidental formatting is safe.
type Credential struct {
	// IdentityID is the provider's stable user identifier (GitHub numeric id).
	IdentityID string `json:"identity_id"`

	// Login is the provider login name (GitHub username).
	Login string `json:"login"`

	// AccessToken is the opaque OAuth access token.
	AccessToken string `json:"access_token"`

	// Scope is the scope granted by the provider.
	Scope string `json:"scope,omitempty"`

	// IssuedAt is when the credential was obtained.
	IssuedAt time.Time `json:"issued_at"`
}

// Validate checks the fields required to persist a credential.
func (c *Credential) Validate() error {
	if c == nil {
		return fmt.Errorf("credential cannot be nil")
	}
	if c.IdentityID == "" {
		return fmt.Errorf("identity id cannot be empty")
	}
	if c.AccessToken == "" {
		return fmt.Errorf("access token cannot be empty")
	}
	return nil
}

// String implements fmt.Stringer without exposing the access token.
func (c *Credential) String() string {
	if c == nil {
		return "<nil>"
	}
	return fmt.Sprintf("Credential{IdentityID:%s Login:%s Scope:%q IssuedAt:%s AccessToken:[REDACTED]}",
		c.IdentityID, c.Login, c.Scope, c.IssuedAt.Format(time.RFC3339))
}

// LogValue implements slog.LogValuer without exposing the access token.
func (c *Credential) LogValue() slog.Value {
	if c == nil {
		return slog.StringValue("<nil>")
	}
	return slog.GroupValue(
		slog.String("identity_id", c.IdentityID),
		slog.String("login", c.Login),
		slog.String("scope", c.Scope),
		slog.Time("issued_at", c.IssuedAt),
	)
}

// CrashReport is an application crash or error report as received from a client.
// Payload is stored verbatim; IssueURL is attached at most once after a
// successful escalation.
type CrashReport struct {
	ID         string         `json:"id"`
	Payload    map[string]any `json:"payload"`
	ReceivedAt time.Time      `json:"received_at"`
	IssueURL   string         `json:"issue_url,omitempty"`
}

// Message returns the report's "message" field.
func (r *CrashReport) Message() string { return r.field("message") }

// Stack returns the report's "stack" field.
func (r *CrashReport) Stack() string { return r.field("stack") }

// URL returns the page URL the report was sent from.
func (r *CrashReport) URL() string { return r.field("url") }

// UserAgent returns the reporting client's user agent.
func (r *CrashReport) UserAgent() string {
	if ua := r.field("userAgent"); ua != "" {
		return ua
	}
	return r.field("user_agent")
}

func (r *CrashReport) field(name string) string {
	if r == nil || r.Payload == nil {
		return ""
	}
	switch v := r.Payload[name].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// AccountLink maps a chat user to a GitHub login.
type AccountLink struct {
	ChatUser    string    `json:"chat_user"`
	GitHubLogin string    `json:"github_login"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CredentialStore persists OAuth credentials keyed by identity.
// All methods accept context.Context for tracing and cancellation.
type CredentialStore interface {
	// PutCredential saves a credential, overwriting any prior credential
	// for the same identity.
	PutCredential(ctx context.Context, cred *Credential) error

	// GetCredential returns the credential for an identity or ErrNotFound.
	GetCredential(ctx context.Context, identityID string) (*Credential, error)

	// AnyCredential returns the most recently issued credential, or
	// ErrNotFound when none is stored. This is a single-tenant lookup used
	// by escalation when no identity is configured.
	AnyCredential(ctx context.Context) (*Credential, error)
}

// ReportStore persists crash reports.
// All methods accept context.Context for tracing and cancellation.
type ReportStore interface {
	// SaveReport stores the payload verbatim with its receipt time and
	// returns the stored report with a generated ID.
	SaveReport(ctx context.Context, payload map[string]any, receivedAt time.Time) (*CrashReport, error)

	// GetReport returns a report by ID or ErrNotFound.
	GetReport(ctx context.Context, id string) (*CrashReport, error)

	// AttachReference sets the escalation reference of a report.
	// Returns ErrNotFound for unknown reports and ErrReferenceAlreadySet
	// when a reference is already attached.
	AttachReference(ctx context.Context, id, issueURL string) error
}

// AccountLinkStore persists chat user to GitHub login mappings.
type AccountLinkStore interface {
	// PutAccountLink upserts the mapping for link.ChatUser.
	PutAccountLink(ctx context.Context, link *AccountLink) error

	// GetAccountLink returns the mapping for a chat user or ErrNotFound.
	GetAccountLink(ctx context.Context, chatUser string) (*AccountLink, error)
}

// Store is implemented by backends that provide every crashlink store.
type Store interface {
	CredentialStore
	ReportStore
	AccountLinkStore
}

// ClonePayload returns a shallow copy of a report payload so stores never
// share maps with their callers.
func ClonePayload(payload map[string]any) map[string]any {
	if payload == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	return out
}
