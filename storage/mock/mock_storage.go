// Package mock provides a mock implementation of the storage interfaces for testing.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/giantswarm/crashlink/storage"
	"github.com/giantswarm/crashlink/storage/memory"
)

// MockStore is a storage.Store whose methods can be overridden per test.
// Unset hooks fall through to an in-memory store, so a zero-configuration
// MockStore behaves like a real backend while recording call counts.
type MockStore struct {
	backing *memory.Store

	PutCredentialFunc   func(ctx context.Context, cred *storage.Credential) error
	GetCredentialFunc   func(ctx context.Context, identityID string) (*storage.Credential, error)
	AnyCredentialFunc   func(ctx context.Context) (*storage.Credential, error)
	SaveReportFunc      func(ctx context.Context, payload map[string]any, receivedAt time.Time) (*storage.CrashReport, error)
	GetReportFunc       func(ctx context.Context, id string) (*storage.CrashReport, error)
	AttachReferenceFunc func(ctx context.Context, id, issueURL string) error
	PutAccountLinkFunc  func(ctx context.Context, link *storage.AccountLink) error
	GetAccountLinkFunc  func(ctx context.Context, chatUser string) (*storage.AccountLink, error)

	mu         sync.Mutex
	callCounts map[string]int
}

var _ storage.Store = (*MockStore)(nil)

// NewMockStore creates a mock store backed by a fresh in-memory store.
func NewMockStore() *MockStore {
	return &MockStore{
		backing:    memory.New(),
		callCounts: make(map[string]int),
	}
}

// CallCount returns how many times the named method was invoked.
func (m *MockStore) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCounts[method]
}

func (m *MockStore) called(method string) {
	m.mu.Lock()
	m.callCounts[method]++
	m.mu.Unlock()
}

// PutCredential implements storage.CredentialStore.
func (m *MockStore) PutCredential(ctx context.Context, cred *storage.Credential) error {
	m.called("PutCredential")
	if m.PutCredentialFunc != nil {
		return m.PutCredentialFunc(ctx, cred)
	}
	return m.backing.PutCredential(ctx, cred)
}

// GetCredential implements storage.CredentialStore.
func (m *MockStore) GetCredential(ctx context.Context, identityID string) (*storage.Credential, error) {
	m.called("GetCredential")
	if m.GetCredentialFunc != nil {
		return m.GetCredentialFunc(ctx, identityID)
	}
	return m.backing.GetCredential(ctx, identityID)
}

// AnyCredential implements storage.CredentialStore.
func (m *MockStore) AnyCredential(ctx context.Context) (*storage.Credential, error) {
	m.called("AnyCredential")
	if m.AnyCredentialFunc != nil {
		return m.AnyCredentialFunc(ctx)
	}
	return m.backing.AnyCredential(ctx)
}

// SaveReport implements storage.ReportStore.
func (m *MockStore) SaveReport(ctx context.Context, payload map[string]any, receivedAt time.Time) (*storage.CrashReport, error) {
	m.called("SaveReport")
	if m.SaveReportFunc != nil {
		return m.SaveReportFunc(ctx, payload, receivedAt)
	}
	return m.backing.SaveReport(ctx, payload, receivedAt)
}

// GetReport implements storage.ReportStore.
func (m *MockStore) GetReport(ctx context.Context, id string) (*storage.CrashReport, error) {
	m.called("GetReport")
	if m.GetReportFunc != nil {
		return m.GetReportFunc(ctx, id)
	}
	return m.backing.GetReport(ctx, id)
}

// AttachReference implements storage.ReportStore.
func (m *MockStore) AttachReference(ctx context.Context, id, issueURL string) error {
	m.called("AttachReference")
	if m.AttachReferenceFunc != nil {
		return m.AttachReferenceFunc(ctx, id, issueURL)
	}
	return m.backing.AttachReference(ctx, id, issueURL)
}

// PutAccountLink implements storage.AccountLinkStore.
func (m *MockStore) PutAccountLink(ctx context.Context, link *storage.AccountLink) error {
	m.called("PutAccountLink")
	if m.PutAccountLinkFunc != nil {
		return m.PutAccountLinkFunc(ctx, link)
	}
	return m.backing.PutAccountLink(ctx, link)
}

// GetAccountLink implements storage.AccountLinkStore.
func (m *MockStore) GetAccountLink(ctx context.Context, chatUser string) (*storage.AccountLink, error) {
	m.called("GetAccountLink")
	if m.GetAccountLinkFunc != nil {
		return m.GetAccountLinkFunc(ctx, chatUser)
	}
	return m.backing.GetAccountLink(ctx, chatUser)
}
