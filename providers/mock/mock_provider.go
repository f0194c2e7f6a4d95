// Package mock provides a mock implementation of the Provider interface for testing.
package mock

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"golang.org/x/oauth2"

	"github.com/giantswarm/crashlink/providers"
)

// Compile-time interface check
var _ providers.Provider = (*MockProvider)(nil)

// MockProvider is a providers.Provider whose behaviour is set per test
// through its function fields.
type MockProvider struct {
	// NameFunc is called when Name() is invoked
	NameFunc func() string

	// AuthorizationURLFunc is called when AuthorizationURL() is invoked
	AuthorizationURLFunc func(state string) string

	// ExchangeCodeFunc is called when ExchangeCode() is invoked
	ExchangeCodeFunc func(ctx context.Context, code, state string) (*oauth2.Token, error)

	// FetchIdentityFunc is called when FetchIdentity() is invoked
	FetchIdentityFunc func(ctx context.Context, accessToken string) (*providers.Identity, error)

	callCounts map[string]int
	mu         sync.Mutex
}

// NewMockProvider returns a provider that succeeds with fixed values: code
// exchange yields "mock-access-token" and the identity is 1001/"mockuser".
func NewMockProvider() *MockProvider {
	return &MockProvider{
		callCounts: make(map[string]int),
		NameFunc:   func() string { return "mock" },
		AuthorizationURLFunc: func(state string) string {
			return "https://mock.example.com/authorize?state=" + url.QueryEscape(state)
		},
		ExchangeCodeFunc: func(ctx context.Context, code, state string) (*oauth2.Token, error) {
			return &oauth2.Token{AccessToken: "mock-access-token", TokenType: "bearer"}, nil
		},
		FetchIdentityFunc: func(ctx context.Context, accessToken string) (*providers.Identity, error) {
			return &providers.Identity{ID: "1001", Login: "mockuser", Name: "Mock User"}, nil
		},
	}
}

// record counts a call and returns the configured hook. The lock is released
// before the hook runs so hooks may call back into the mock.
func record[F any](m *MockProvider, method string, fn *F) F {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.callCounts == nil {
		m.callCounts = make(map[string]int)
	}
	m.callCounts[method]++
	return *fn
}

// Name returns the provider name
func (m *MockProvider) Name() string {
	if fn := record(m, "Name", &m.NameFunc); fn != nil {
		return fn()
	}
	return "mock"
}

// AuthorizationURL returns the configured authorization URL
func (m *MockProvider) AuthorizationURL(state string) string {
	if fn := record(m, "AuthorizationURL", &m.AuthorizationURLFunc); fn != nil {
		return fn(state)
	}
	return "https://mock.example.com/authorize?state=" + url.QueryEscape(state)
}

// ExchangeCode calls ExchangeCodeFunc
func (m *MockProvider) ExchangeCode(ctx context.Context, code, state string) (*oauth2.Token, error) {
	if fn := record(m, "ExchangeCode", &m.ExchangeCodeFunc); fn != nil {
		return fn(ctx, code, state)
	}
	return nil, fmt.Errorf("ExchangeCodeFunc not configured")
}

// FetchIdentity calls FetchIdentityFunc
func (m *MockProvider) FetchIdentity(ctx context.Context, accessToken string) (*providers.Identity, error) {
	if fn := record(m, "FetchIdentity", &m.FetchIdentityFunc); fn != nil {
		return fn(ctx, accessToken)
	}
	return nil, fmt.Errorf("FetchIdentityFunc not configured")
}

// ResetCallCounts resets all call counters
func (m *MockProvider) ResetCallCounts() {
	m.mu.Lock()
	m.callCounts = make(map[string]int)
	m.mu.Unlock()
}

// GetCallCount returns the number of times a method was called
func (m *MockProvider) GetCallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCounts[method]
}
