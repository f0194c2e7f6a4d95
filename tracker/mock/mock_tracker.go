// Package mock provides a mock implementation of the Tracker interface for testing.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/giantswarm/crashlink/tracker"
)

// Compile-time interface check
var _ tracker.Tracker = (*MockTracker)(nil)

// MockTracker records created issues and returns sequential issue URLs
// unless CreateIssueFunc overrides it.
type MockTracker struct {
	// CreateIssueFunc, when set, replaces the default behaviour.
	CreateIssueFunc func(ctx context.Context, accessToken string, req tracker.IssueRequest) (*tracker.Issue, error)

	mu       sync.Mutex
	requests []Call
}

// Call is one recorded CreateIssue invocation.
type Call struct {
	AccessToken string
	Request     tracker.IssueRequest
}

// NewMockTracker creates a mock tracker.
func NewMockTracker() *MockTracker {
	return &MockTracker{}
}

// Name returns "mock".
func (m *MockTracker) Name() string {
	return "mock"
}

// CreateIssue records the call and returns an issue.
func (m *MockTracker) CreateIssue(ctx context.Context, accessToken string, req tracker.IssueRequest) (*tracker.Issue, error) {
	m.mu.Lock()
	m.requests = append(m.requests, Call{AccessToken: accessToken, Request: req})
	n := len(m.requests)
	fn := m.CreateIssueFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, accessToken, req)
	}
	return &tracker.Issue{
		URL:    fmt.Sprintf("https://github.com/%s/%s/issues/%d", req.Owner, req.Repo, n),
		Number: n,
	}, nil
}

// Calls returns a copy of the recorded calls.
func (m *MockTracker) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.requests...)
}
