package crashlink

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"

	"github.com/giantswarm/crashlink/instrumentation"
	"github.com/giantswarm/crashlink/notify"
	"github.com/giantswarm/crashlink/providers"
	"github.com/giantswarm/crashlink/security"
	"github.com/giantswarm/crashlink/storage"
)

// Handshake results recorded in the handshake.completed metric
const (
	handshakeResultSuccess                  = "success"
	handshakeResultInvalidHandshake         = "invalid_handshake"
	handshakeResultTokenExchangeFailed      = "token_exchange_failed"
	handshakeResultIdentityResolutionFailed = "identity_resolution_failed"
	handshakeResultStorageError             = "storage_error"
)

// Handshake is a started installation.
type Handshake struct {
	// State must come back unchanged on the callback.
	State string

	// AuthorizationURL is where the user is sent to grant access.
	AuthorizationURL string

	// ExpiresAt is when State stops being accepted.
	ExpiresAt time.Time
}

// CallbackParams are the inputs to CompleteHandshake.
type CallbackParams struct {
	// Code is the authorization code from the callback query.
	Code string

	// State is the state from the callback query.
	State string

	// ExpectedState is the state recovered from the sealed cookie. Empty when
	// the cookie is missing, expired or forged.
	ExpectedState string

	// ClientIP is recorded in audit events only.
	ClientIP string
}

// BeginHandshake generates a fresh state and the provider authorization URL.
// Nothing is stored; the caller carries State in a sealed cookie.
func (s *Server) BeginHandshake(ctx context.Context) (*Handshake, error) {
	_, span := s.tracer.Start(ctx, "crashlink.handshake.begin")
	defer span.End()

	state, err := security.GenerateStateToken()
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}

	s.metrics.RecordHandshakeStarted(ctx)
	instrumentation.SetSpanSuccess(span)

	return &Handshake{
		State:            state,
		AuthorizationURL: s.provider.AuthorizationURL(state),
		ExpiresAt:        s.now().Add(s.sealer.TTL()),
	}, nil
}

// CompleteHandshake validates the callback, exchanges the code, resolves the
// GitHub identity and stores its credential. Nothing is stored unless every
// step succeeds.
func (s *Server) CompleteHandshake(ctx context.Context, params CallbackParams) (_ *storage.Credential, err error) {
	ctx, span := s.tracer.Start(ctx, "crashlink.handshake.complete")
	defer span.End()

	result := handshakeResultSuccess
	defer func() {
		s.metrics.RecordHandshakeCompleted(ctx, result)
		instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrResult, result))
		if err != nil {
			instrumentation.RecordError(span, err)
		} else {
			instrumentation.SetSpanSuccess(span)
		}
	}()

	if reason := rejectReason(params); reason != "" {
		result = handshakeResultInvalidHandshake
		s.auditor.LogHandshakeRejected(ctx, params.ClientIP, reason)
		return nil, fmt.Errorf("%w: %s", ErrInvalidHandshake, reason)
	}

	token, err := s.exchangeCode(ctx, params.Code, params.State)
	if err != nil {
		result = handshakeResultTokenExchangeFailed
		s.auditor.LogHandshakeFailed(ctx, params.ClientIP, result)
		return nil, err
	}

	identity, err := s.fetchIdentity(ctx, token.AccessToken)
	if err != nil {
		result = handshakeResultIdentityResolutionFailed
		s.auditor.LogHandshakeFailed(ctx, params.ClientIP, result)
		return nil, err
	}
	instrumentation.AddIdentityAttributes(span, identity.ID, identity.Login)

	cred := &storage.Credential{
		IdentityID:  identity.ID,
		Login:       identity.Login,
		AccessToken: token.AccessToken,
		Scope:       providers.GrantedScope(token, s.requestedScopes()),
		IssuedAt:    s.now().UTC(),
	}
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrScope, cred.Scope))
	if err := s.credentials.PutCredential(ctx, cred); err != nil {
		result = handshakeResultStorageError
		s.auditor.LogHandshakeFailed(ctx, params.ClientIP, result)
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	s.logger.Info("GitHub account installed", "credential", cred)
	s.auditor.LogCredentialStored(ctx, cred.IdentityID, cred.Login, cred.Scope)
	s.notify(ctx, notify.Message{Text: fmt.Sprintf("GitHub account %s is now connected to crashlink.", cred.Login)})

	return cred, nil
}

// rejectReason returns why params fail state validation, or "".
func rejectReason(params CallbackParams) string {
	switch {
	case params.Code == "":
		return "missing_code"
	case params.State == "":
		return "missing_state"
	case params.ExpectedState == "":
		return "missing_expected_state"
	case !security.StatesEqual(params.State, params.ExpectedState):
		return "state_mismatch"
	default:
		return ""
	}
}

func (s *Server) exchangeCode(ctx context.Context, code, state string) (*oauth2.Token, error) {
	ctx, cancel := providers.EnsureTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	ctx, span := s.startExternalCall(ctx, s.provider.Name(), "exchange_code")
	defer span.End()

	start := time.Now()
	token, err := s.provider.ExchangeCode(ctx, code, state)
	s.recordExternalCall(ctx, span, s.provider.Name(), "exchange_code", start, err)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenExchangeFailed, err)
	}
	if token == nil || token.AccessToken == "" {
		return nil, fmt.Errorf("%w: response contained no access token", ErrTokenExchangeFailed)
	}
	return token, nil
}

func (s *Server) fetchIdentity(ctx context.Context, accessToken string) (*providers.Identity, error) {
	ctx, cancel := providers.EnsureTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	ctx, span := s.startExternalCall(ctx, s.provider.Name(), "fetch_identity")
	defer span.End()

	start := time.Now()
	identity, err := s.provider.FetchIdentity(ctx, accessToken)
	s.recordExternalCall(ctx, span, s.provider.Name(), "fetch_identity", start, err)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIdentityResolutionFailed, err)
	}
	if identity == nil || identity.ID == "" || identity.Login == "" {
		return nil, fmt.Errorf("%w: identity has no id or login", ErrIdentityResolutionFailed)
	}
	return identity, nil
}

// requestedScopes returns the provider's configured scopes when it exposes them.
func (s *Server) requestedScopes() []string {
	if p, ok := s.provider.(interface{ RequestedScopes() []string }); ok {
		return p.RequestedScopes()
	}
	return s.config.GitHub.Scopes
}
