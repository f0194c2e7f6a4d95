package crashlink

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes returned in JSON error bodies
const (
	ErrorCodeInvalidRequest    = "invalid_request"
	ErrorCodeInvalidHandshake  = "invalid_handshake"
	ErrorCodeServerError       = "server_error"
	ErrorCodeStorageError      = "storage_error"
	ErrorCodeEscalationFailed  = "escalation_failed"
	ErrorCodeRateLimitExceeded = "rate_limit_exceeded"
	ErrorCodePayloadTooLarge   = "payload_too_large"
	ErrorCodeMissingFields     = "missing_fields"
)

var (
	// ErrInvalidHandshake is returned when the callback's code or state is
	// missing or the state does not match the one issued by /install.
	ErrInvalidHandshake = errors.New("invalid handshake")

	// ErrTokenExchangeFailed is returned when the authorization code could
	// not be exchanged for an access token.
	ErrTokenExchangeFailed = errors.New("token exchange failed")

	// ErrIdentityResolutionFailed is returned when the account behind a new
	// access token could not be resolved.
	ErrIdentityResolutionFailed = errors.New("identity resolution failed")

	// ErrIssueCreationFailed is returned when the tracker did not create an issue.
	ErrIssueCreationFailed = errors.New("issue creation failed")

	// ErrCredentialLookupFailed is returned when escalation could not read
	// the credential store. The report itself is already saved.
	ErrCredentialLookupFailed = errors.New("credential lookup failed")

	// ErrStorage wraps failures of the credential and report stores.
	ErrStorage = errors.New("storage failure")
)

// HandlerError is an error rendered to an HTTP client.
type HandlerError struct {
	Code        string // machine readable error code (e.g., "invalid_handshake")
	Description string // human-readable, safe to show to the client
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewHandlerError creates a new handler error
func NewHandlerError(code, description string, status int) *HandlerError {
	return &HandlerError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// statusForError maps an error from Server to the response shown to the
// client. Upstream detail stays in server-side logs.
func statusForError(err error) *HandlerError {
	var herr *HandlerError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &herr):
		return herr
	case errors.Is(err, ErrInvalidHandshake):
		return NewHandlerError(ErrorCodeInvalidHandshake,
			"The installation link is invalid or has expired. Please start the installation again.",
			http.StatusBadRequest)
	case errors.Is(err, ErrTokenExchangeFailed):
		return NewHandlerError(ErrorCodeServerError,
			"GitHub did not accept the authorization. Please try again.",
			http.StatusInternalServerError)
	case errors.Is(err, ErrIdentityResolutionFailed):
		return NewHandlerError(ErrorCodeServerError,
			"Your GitHub account could not be verified.",
			http.StatusInternalServerError)
	case errors.Is(err, ErrIssueCreationFailed):
		return NewHandlerError(ErrorCodeEscalationFailed,
			"The crash report was saved but the GitHub issue could not be created.",
			http.StatusInternalServerError)
	case errors.Is(err, ErrCredentialLookupFailed):
		return NewHandlerError(ErrorCodeEscalationFailed,
			"The crash report was saved but the GitHub credential could not be loaded.",
			http.StatusInternalServerError)
	case errors.Is(err, ErrStorage):
		return NewHandlerError(ErrorCodeStorageError,
			"The request could not be stored.",
			http.StatusInternalServerError)
	default:
		return NewHandlerError(ErrorCodeServerError, "Internal server error", http.StatusInternalServerError)
	}
}
