package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	_ "modernc.org/sqlite"

	"github.com/giantswarm/crashlink/instrumentation"
	"github.com/giantswarm/crashlink/internal/sqlitemigrate"
	"github.com/giantswarm/crashlink/storage"
	"github.com/giantswarm/crashlink/storage/sqlite/migrations"
)

// Store is a SQLite-backed implementation of all storage interfaces.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	credentialsCount atomic.Int64
	reportsCount     atomic.Int64
}

// Compile-time interface checks
var (
	_ storage.CredentialStore  = (*Store)(nil)
	_ storage.ReportStore      = (*Store)(nil)
	_ storage.AccountLinkStore = (*Store)(nil)
)

// Open opens the database at path, creating it if needed, and applies any
// pending migrations. Use ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	dsn := ":memory:"
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == ":memory:" {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := sqlitemigrate.Apply(ctx, db, migrations.FS, "."); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db, logger: slog.Default()}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetInstrumentation enables tracing and metrics for store operations.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
	if inst == nil {
		return
	}
	s.tracer = inst.Tracer("storage")

	ctx := context.Background()
	if n, err := s.count(ctx, "credentials"); err == nil {
		s.credentialsCount.Store(n)
	}
	if n, err := s.count(ctx, "crash_reports"); err == nil {
		s.reportsCount.Store(n)
	}

	if err := inst.RegisterStorageSizeCallbacks(
		func() int64 { return s.credentialsCount.Load() },
		func() int64 { return s.reportsCount.Load() },
	); err != nil {
		s.logger.Warn("Failed to register storage size callbacks", "error", err)
	}
}

// PutCredential upserts the credential for cred.IdentityID.
func (s *Store) PutCredential(ctx context.Context, cred *storage.Credential) (err error) {
	ctx, span := s.startSpan(ctx, "put_credential")
	defer span.End()
	defer s.record(ctx, span, "put_credential", time.Now(), &err)

	if err = cred.Validate(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (identity_id, login, access_token, scope, issued_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(identity_id) DO NOTHING`,
		cred.IdentityID, cred.Login, cred.AccessToken, cred.Scope, toMillis(cred.IssuedAt),
	)
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		s.credentialsCount.Add(1)
		s.logger.Debug("Saved credential", "identity_id", cred.IdentityID, "login", cred.Login)
		return nil
	}

	if _, err = s.db.ExecContext(ctx,
		`UPDATE credentials SET login = ?, access_token = ?, scope = ?, issued_at = ?
		 WHERE identity_id = ?`,
		cred.Login, cred.AccessToken, cred.Scope, toMillis(cred.IssuedAt), cred.IdentityID,
	); err != nil {
		return fmt.Errorf("update credential: %w", err)
	}

	s.logger.Debug("Replaced credential", "identity_id", cred.IdentityID, "login", cred.Login)
	return nil
}

// GetCredential returns the credential stored for an identity.
func (s *Store) GetCredential(ctx context.Context, identityID string) (_ *storage.Credential, err error) {
	ctx, span := s.startSpan(ctx, "get_credential")
	defer span.End()
	defer s.record(ctx, span, "get_credential", time.Now(), &err)

	row := s.db.QueryRowContext(ctx,
		`SELECT identity_id, login, access_token, scope, issued_at
		 FROM credentials WHERE identity_id = ?`, identityID)
	return scanCredential(row)
}

// AnyCredential returns the most recently issued credential.
func (s *Store) AnyCredential(ctx context.Context) (_ *storage.Credential, err error) {
	ctx, span := s.startSpan(ctx, "any_credential")
	defer span.End()
	defer s.record(ctx, span, "any_credential", time.Now(), &err)

	row := s.db.QueryRowContext(ctx,
		`SELECT identity_id, login, access_token, scope, issued_at
		 FROM credentials ORDER BY issued_at DESC, identity_id ASC LIMIT 1`)
	return scanCredential(row)
}

// SaveReport stores a crash report under a generated ID.
func (s *Store) SaveReport(ctx context.Context, payload map[string]any, receivedAt time.Time) (_ *storage.CrashReport, err error) {
	ctx, span := s.startSpan(ctx, "save_report")
	defer span.End()
	defer s.record(ctx, span, "save_report", time.Now(), &err)

	report := &storage.CrashReport{
		ID:         uuid.NewString(),
		Payload:    storage.ClonePayload(payload),
		ReceivedAt: receivedAt.UTC(),
	}

	data, err := json.Marshal(report.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	if _, err = s.db.ExecContext(ctx,
		`INSERT INTO crash_reports (id, payload_json, received_at) VALUES (?, ?, ?)`,
		report.ID, string(data), toMillis(report.ReceivedAt),
	); err != nil {
		return nil, fmt.Errorf("insert crash report: %w", err)
	}
	s.reportsCount.Add(1)

	s.logger.Debug("Saved crash report", "report_id", report.ID)
	return report, nil
}

// GetReport returns a stored crash report.
func (s *Store) GetReport(ctx context.Context, id string) (_ *storage.CrashReport, err error) {
	ctx, span := s.startSpan(ctx, "get_report")
	defer span.End()
	defer s.record(ctx, span, "get_report", time.Now(), &err)

	var (
		report     storage.CrashReport
		payload    string
		receivedAt int64
		issueURL   sql.NullString
	)
	err = s.db.QueryRowContext(ctx,
		`SELECT id, payload_json, received_at, issue_url FROM crash_reports WHERE id = ?`, id,
	).Scan(&report.ID, &payload, &receivedAt, &issueURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get crash report: %w", err)
	}

	if err = json.Unmarshal([]byte(payload), &report.Payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	report.ReceivedAt = fromMillis(receivedAt)
	report.IssueURL = issueURL.String
	return &report, nil
}

// AttachReference sets the issue URL of a report exactly once.
func (s *Store) AttachReference(ctx context.Context, id, issueURL string) (err error) {
	ctx, span := s.startSpan(ctx, "attach_reference")
	defer span.End()
	defer s.record(ctx, span, "attach_reference", time.Now(), &err)

	if issueURL == "" {
		return fmt.Errorf("issue url cannot be empty")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE crash_reports SET issue_url = ?
		 WHERE id = ? AND (issue_url IS NULL OR issue_url = '')`,
		issueURL, id,
	)
	if err != nil {
		return fmt.Errorf("attach reference: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM crash_reports WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check crash report: %w", err)
	}
	return storage.ErrReferenceAlreadySet
}

// PutAccountLink upserts a chat user to GitHub login mapping.
func (s *Store) PutAccountLink(ctx context.Context, link *storage.AccountLink) (err error) {
	ctx, span := s.startSpan(ctx, "put_account_link")
	defer span.End()
	defer s.record(ctx, span, "put_account_link", time.Now(), &err)

	if link == nil || link.ChatUser == "" || link.GitHubLogin == "" {
		return fmt.Errorf("chat user and github login are required")
	}

	updatedAt := link.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	if _, err = s.db.ExecContext(ctx,
		`INSERT INTO account_links (chat_user, github_login, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(chat_user) DO UPDATE SET
		    github_login = excluded.github_login,
		    updated_at = excluded.updated_at`,
		link.ChatUser, link.GitHubLogin, toMillis(updatedAt),
	); err != nil {
		return fmt.Errorf("put account link: %w", err)
	}
	return nil
}

// GetAccountLink returns the mapping for a chat user.
func (s *Store) GetAccountLink(ctx context.Context, chatUser string) (_ *storage.AccountLink, err error) {
	ctx, span := s.startSpan(ctx, "get_account_link")
	defer span.End()
	defer s.record(ctx, span, "get_account_link", time.Now(), &err)

	var (
		link      storage.AccountLink
		updatedAt int64
	)
	err = s.db.QueryRowContext(ctx,
		`SELECT chat_user, github_login, updated_at FROM account_links WHERE chat_user = ?`, chatUser,
	).Scan(&link.ChatUser, &link.GitHubLogin, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account link: %w", err)
	}
	link.UpdatedAt = fromMillis(updatedAt)
	return &link, nil
}

func scanCredential(row *sql.Row) (*storage.Credential, error) {
	var (
		cred     storage.Credential
		issuedAt int64
	)
	err := row.Scan(&cred.IdentityID, &cred.Login, &cred.AccessToken, &cred.Scope, &issuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan credential: %w", err)
	}
	cred.IssuedAt = fromMillis(issuedAt)
	return &cred, nil
}

func (s *Store) count(ctx context.Context, table string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n)
	return n, err
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func (s *Store) startSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, tracenoop.Span{}
	}
	ctx, span := s.tracer.Start(ctx, "storage."+operation)
	instrumentation.AddStorageAttributes(span, operation, "sqlite")
	return ctx, span
}

func (s *Store) record(ctx context.Context, span trace.Span, operation string, startTime time.Time, errp *error) {
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
