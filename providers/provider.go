package providers

import (
	"context"

	"golang.org/x/oauth2"
)

// Provider is an OAuth identity provider.
type Provider interface {
	// Name returns the provider name (e.g., "github").
	Name() string

	// AuthorizationURL returns the URL the user is redirected to in order
	// to grant access. state is echoed back on the callback.
	AuthorizationURL(state string) string

	// ExchangeCode exchanges an authorization code for a token, sending the
	// validated state alongside it. It makes a single attempt.
	ExchangeCode(ctx context.Context, code, state string) (*oauth2.Token, error)

	// FetchIdentity resolves the account that owns accessToken.
	FetchIdentity(ctx context.Context, accessToken string) (*Identity, error)
}

// Identity is the provider account behind an access token.
type Identity struct {
	// ID is the provider's stable numeric user id, as a string.
	ID string

	// Login is the user's handle (GitHub username).
	Login string

	// Name is the user's display name, if public.
	Name string

	// Email is the user's public email, if any.
	Email string
}
