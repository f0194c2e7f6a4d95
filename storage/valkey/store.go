package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/crashlink/instrumentation"
	"github.com/giantswarm/crashlink/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "crashlink:"

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// maxRecordSize bounds a single serialized record (1MB)
	maxRecordSize = 1 << 20
)

var errRecordTooLarge = errors.New("record exceeds maximum allowed size")

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "crashlink:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Valkey-backed implementation of all storage interfaces.
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
}

// Compile-time interface checks
var (
	_ storage.CredentialStore  = (*Store)(nil)
	_ storage.ReportStore      = (*Store)(nil)
	_ storage.AccountLinkStore = (*Store)(nil)
)

// New creates a new Valkey-backed store.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
		Password:    cfg.Password,
		TLSConfig:   cfg.TLS,
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() error {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
	return nil
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetInstrumentation enables tracing and metrics for store operations.
// The size gauges read the credential index and report counter directly.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
	if inst == nil {
		return
	}
	s.tracer = inst.Tracer("storage")

	if err := inst.RegisterStorageSizeCallbacks(s.credentialCount, s.reportCount); err != nil {
		s.logger.Warn("Failed to register storage size callbacks", "error", err)
	}
}

func (s *Store) credentialCount() int64 {
	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()
	n, err := s.client.Do(ctx, s.client.B().Zcard().Key(s.credentialIndexKey()).Build()).AsInt64()
	if err != nil {
		return 0
	}
	return n
}

func (s *Store) reportCount() int64 {
	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()
	n, err := s.client.Do(ctx, s.client.B().Get().Key(s.reportCounterKey()).Build()).AsInt64()
	if err != nil {
		return 0
	}
	return n
}

// ============================================================
// Key helpers
// ============================================================

func (s *Store) credentialKey(identityID string) string {
	return s.prefix + "credential:" + identityID
}

func (s *Store) credentialIndexKey() string {
	return s.prefix + "credentials:issued"
}

func (s *Store) reportKey(id string) string {
	return s.prefix + "report:" + id
}

func (s *Store) referenceKey(id string) string {
	return s.prefix + "report:" + id + ":issue"
}

func (s *Store) reportCounterKey() string {
	return s.prefix + "reports:count"
}

func (s *Store) linkKey(chatUser string) string {
	return s.prefix + "link:" + chatUser
}

// ============================================================
// Helper methods
// ============================================================

// getJSON fetches key and decodes it into a new T.
func getJSON[T any](ctx context.Context, s *Store, key string) (*T, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get data: %w", err)
	}

	var v T
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal data: %w", err)
	}
	return &v, nil
}

// marshalRecord encodes v and enforces maxRecordSize.
func marshalRecord(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal data: %w", err)
	}
	if len(data) > maxRecordSize {
		return "", errRecordTooLarge
	}
	return string(data), nil
}

// isNilError checks if the error is a Valkey nil response (key not found)
func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}

func (s *Store) startSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, tracenoop.Span{}
	}
	ctx, span := s.tracer.Start(ctx, "storage."+operation)
	instrumentation.AddStorageAttributes(span, operation, "valkey")
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
