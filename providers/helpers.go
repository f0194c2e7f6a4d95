package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// OAuth2ConfigExchanger is the Exchange method of oauth2.Config.
type OAuth2ConfigExchanger interface {
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
}

// Exchange performs a code exchange through httpClient and rejects
// responses without an access token.
func Exchange(ctx context.Context, config OAuth2ConfigExchanger, httpClient *http.Client, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
	if httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	}

	token, err := config.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}
	if token == nil || token.AccessToken == "" {
		return nil, fmt.Errorf("token response contained no access token")
	}
	return token, nil
}

// GrantedScope returns the scope reported by the token endpoint, or the
// requested scopes when the endpoint did not report one.
func GrantedScope(token *oauth2.Token, requested []string) string {
	if token != nil {
		if scope, ok := token.Extra("scope").(string); ok && scope != "" {
			return scope
		}
	}
	return strings.Join(requested, ",")
}

// EnsureTimeout bounds ctx by timeout unless it already has a deadline.
func EnsureTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// ValidateScopes rejects empty or oversized scope lists.
func ValidateScopes(scopes []string) error {
	if len(scopes) > 50 {
		return fmt.Errorf("too many scopes (max 50, got %d)", len(scopes))
	}
	for i, scope := range scopes {
		if scope == "" {
			return fmt.Errorf("scope at index %d is empty", i)
		}
		if len(scope) > 256 {
			return fmt.Errorf("scope at index %d exceeds maximum length of 256 characters", i)
		}
	}
	return nil
}
