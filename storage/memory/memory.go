package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/crashlink/instrumentation"
	"github.com/giantswarm/crashlink/storage"
)

// Store is an in-memory implementation of all storage interfaces.
type Store struct {
	mu sync.RWMutex

	credentials map[string]*storage.Credential // identity ID -> credential
	reports     map[string]*storage.CrashReport
	links       map[string]*storage.AccountLink // chat user -> link

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// Atomic counters for metrics (lock-free access during metric collection)
	credentialsCountAtomic atomic.Int64
	reportsCountAtomic     atomic.Int64

	logger *slog.Logger
}

// Compile-time interface checks
var (
	_ storage.CredentialStore  = (*Store)(nil)
	_ storage.ReportStore      = (*Store)(nil)
	_ storage.AccountLinkStore = (*Store)(nil)
)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		credentials: make(map[string]*storage.Credential),
		reports:     make(map[string]*storage.CrashReport),
		links:       make(map[string]*storage.AccountLink),
		logger:      slog.Default(),
	}
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if logger != nil {
		s.logger = logger
	}
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
	s.credentialsCountAtomic.Store(int64(len(s.credentials)))
	s.reportsCountAtomic.Store(int64(len(s.reports)))
	s.mu.Unlock()

	if inst != nil {
		err := inst.RegisterStorageSizeCallbacks(
			func() int64 { return s.credentialsCountAtomic.Load() },
			func() int64 { return s.reportsCountAtomic.Load() },
		)
		if err != nil {
			s.logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// Close releases resources held by the store. The in-memory store holds none.
func (s *Store) Close() error {
	return nil
}

// ============================================================
// CredentialStore Implementation
// ============================================================

// PutCredential saves a credential, replacing any prior one for the identity.
func (s *Store) PutCredential(ctx context.Context, cred *storage.Credential) (err error) {
	ctx, span := s.startStorageSpan(ctx, "put_credential")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "put_credential", time.Now(), &err)

	if err = cred.Validate(); err != nil {
		return err
	}

	copied := *cred

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, existed := s.credentials[cred.IdentityID]; !existed {
		s.credentialsCountAtomic.Add(1)
	}
	s.credentials[cred.IdentityID] = &copied

	s.logger.Debug("Saved credential", "identity_id", cred.IdentityID, "login", cred.Login)
	return nil
}

// GetCredential returns the credential stored for an identity.
func (s *Store) GetCredential(ctx context.Context, identityID string) (_ *storage.Credential, err error) {
	ctx, span := s.startStorageSpan(ctx, "get_credential")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "get_credential", time.Now(), &err)

	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.credentials[identityID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *cred
	return &copied, nil
}

// AnyCredential returns the most recently issued credential.
func (s *Store) AnyCredential(ctx context.Context) (_ *storage.Credential, err error) {
	ctx, span := s.startStorageSpan(ctx, "any_credential")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "any_credential", time.Now(), &err)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var newest *storage.Credential
	for _, cred := range s.credentials {
		if newest == nil || cred.IssuedAt.After(newest.IssuedAt) ||
			(cred.IssuedAt.Equal(newest.IssuedAt) && cred.IdentityID < newest.IdentityID) {
			newest = cred
		}
	}
	if newest == nil {
		return nil, storage.ErrNotFound
	}
	copied := *newest
	return &copied, nil
}

// ============================================================
// ReportStore Implementation
// ============================================================

// SaveReport stores a crash report under a generated ID.
func (s *Store) SaveReport(ctx context.Context, payload map[string]any, receivedAt time.Time) (_ *storage.CrashReport, err error) {
	ctx, span := s.startStorageSpan(ctx, "save_report")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "save_report", time.Now(), &err)

	report := &storage.CrashReport{
		ID:         uuid.NewString(),
		Payload:    storage.ClonePayload(payload),
		ReceivedAt: receivedAt.UTC(),
	}

	s.mu.Lock()
	s.reports[report.ID] = report
	s.mu.Unlock()
	s.reportsCountAtomic.Add(1)

	s.logger.Debug("Saved crash report", "report_id", report.ID)
	return cloneReport(report), nil
}

// GetReport returns a stored crash report.
func (s *Store) GetReport(ctx context.Context, id string) (_ *storage.CrashReport, err error) {
	ctx, span := s.startStorageSpan(ctx, "get_report")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "get_report", time.Now(), &err)

	s.mu.RLock()
	defer s.mu.RUnlock()

	report, ok := s.reports[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneReport(report), nil
}

// AttachReference sets the issue URL of a report exactly once.
func (s *Store) AttachReference(ctx context.Context, id, issueURL string) (err error) {
	ctx, span := s.startStorageSpan(ctx, "attach_reference")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "attach_reference", time.Now(), &err)

	if issueURL == "" {
		return fmt.Errorf("issue url cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	report, ok := s.reports[id]
	if !ok {
		return storage.ErrNotFound
	}
	if report.IssueURL != "" {
		return storage.ErrReferenceAlreadySet
	}
	report.IssueURL = issueURL
	return nil
}

// ============================================================
// AccountLinkStore Implementation
// ============================================================

// PutAccountLink upserts a chat user to GitHub login mapping.
func (s *Store) PutAccountLink(ctx context.Context, link *storage.AccountLink) (err error) {
	ctx, span := s.startStorageSpan(ctx, "put_account_link")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "put_account_link", time.Now(), &err)

	if link == nil || link.ChatUser == "" || link.GitHubLogin == "" {
		return fmt.Errorf("chat user and github login are required")
	}

	copied := *link
	s.mu.Lock()
	s.links[link.ChatUser] = &copied
	s.mu.Unlock()
	return nil
}

// GetAccountLink returns the mapping for a chat user.
func (s *Store) GetAccountLink(ctx context.Context, chatUser string) (_ *storage.AccountLink, err error) {
	ctx, span := s.startStorageSpan(ctx, "get_account_link")
	defer span.End()
	defer s.recordStorageOperation(ctx, span, "get_account_link", time.Now(), &err)

	s.mu.RLock()
	defer s.mu.RUnlock()

	link, ok := s.links[chatUser]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *link
	return &copied, nil
}

// ============================================================
// Helpers
// ============================================================

func cloneReport(r *storage.CrashReport) *storage.CrashReport {
	copied := *r
	copied.Payload = storage.ClonePayload(r.Payload)
	return &copied
}

// startStorageSpan starts a span for a storage operation when tracing is enabled
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, tracenoop.Span{}
	}
	ctx, span := s.tracer.Start(ctx, "storage."+operation)
	instrumentation.AddStorageAttributes(span, operation, "memory")
	return ctx, span
}

// recordStorageOperation records metrics for a storage operation and sets span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, startTime time.Time, errp *error) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Microseconds()) / 1000.0
	result := "success"
	switch err := *errp; {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case errors.Is(err, storage.ErrNotFound):
		result = "not_found"
	default:
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
