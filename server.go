package crashlink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/crashlink/instrumentation"
	"github.com/giantswarm/crashlink/notify"
	"github.com/giantswarm/crashlink/providers"
	"github.com/giantswarm/crashlink/security"
	"github.com/giantswarm/crashlink/storage"
	"github.com/giantswarm/crashlink/tracker"
)

// Server implements the crashlink business logic: the GitHub installation
// handshake and crash report escalation. It is transport-agnostic; Handler
// adapts it to HTTP.
type Server struct {
	provider    providers.Provider
	credentials storage.CredentialStore
	reports     storage.ReportStore
	links       storage.AccountLinkStore
	tracker     tracker.Tracker

	notifier        notify.Notifier
	auditor         *security.Auditor
	sealer          *security.StateSealer
	rateLimiter     *security.RateLimiter
	instrumentation *instrumentation.Instrumentation
	metrics         *instrumentation.Metrics
	tracer          trace.Tracer

	config *Config
	logger *slog.Logger
	now    func() time.Time
}

// NewServer creates a new crashlink server. issueTracker may be nil, in
// which case every escalation is skipped as not configured.
func NewServer(
	provider providers.Provider,
	store storage.Store,
	issueTracker tracker.Tracker,
	config *Config,
) (*Server, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if config == nil {
		config = &Config{}
	}

	config = applyDefaults(config)
	logSecurityWarnings(config)

	sealer, err := security.NewStateSealer(config.Security.StateSecret, config.Security.StateTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create state sealer: %w", err)
	}

	s := &Server{
		provider:    provider,
		credentials: store,
		reports:     store,
		links:       store,
		tracker:     issueTracker,
		auditor:     security.NewAuditor(config.Logger, config.Security.EnableAuditLogging),
		sealer:      sealer,
		tracer:      tracenoop.NewTracerProvider().Tracer(""),
		config:      config,
		logger:      config.Logger,
		now:         time.Now,
	}

	if config.RateLimit.Rate > 0 {
		s.rateLimiter = security.NewRateLimiter(security.RateLimitConfig{
			PerSecond:  config.RateLimit.Rate,
			Burst:      config.RateLimit.Burst,
			MaxEntries: config.RateLimit.MaxEntries,
		}, config.Logger)
	}

	if issueTracker == nil || config.Escalation.Repository.IsZero() {
		s.logger.Info("Issue escalation disabled", "reason", "no repository configured")
	}

	return s, nil
}

// SetNotifier sets the chat notifier used after installs and escalations.
func (s *Server) SetNotifier(n notify.Notifier) {
	s.notifier = n
}

// SetAuditor replaces the security auditor.
func (s *Server) SetAuditor(a *security.Auditor) {
	if a != nil {
		s.auditor = a
		s.auditor.SetMetrics(s.metrics)
	}
}

// SetInstrumentation enables tracing and metrics.
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst == nil {
		return
	}
	s.instrumentation = inst
	s.metrics = inst.Metrics()
	s.tracer = inst.Tracer("server")
	s.auditor.SetMetrics(s.metrics)
}

// Config returns the effective configuration.
func (s *Server) Config() *Config {
	return s.config
}

// RateLimiter returns the per-IP limiter guarding crash report intake, or
// nil when limiting is disabled.
func (s *Server) RateLimiter() *security.RateLimiter {
	return s.rateLimiter
}

// Run performs background maintenance until ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	if s.rateLimiter == nil {
		<-ctx.Done()
		return
	}
	s.rateLimiter.Run(ctx)
}

// notify posts msg to the chat webhook. Failures are logged only.
func (s *Server) notify(ctx context.Context, msg notify.Message) {
	if s.notifier == nil {
		return
	}
	ctx, cancel := providers.EnsureTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	if err := s.notifier.Notify(ctx, msg); err != nil {
		s.logger.Warn("Failed to send chat notification", "error", err)
	}
}

// startExternalCall starts a span for one call to an external service.
func (s *Server) startExternalCall(ctx context.Context, service, operation string) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "crashlink.external."+operation)
	instrumentation.AddExternalAttributes(span, service, operation)
	return ctx, span
}

// recordExternalCall records an external call on its span and in metrics.
func (s *Server) recordExternalCall(ctx context.Context, span trace.Span, service, operation string, start time.Time, err error) {
	if err != nil {
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	s.metrics.RecordExternalAPICall(ctx, service, operation, float64(time.Since(start).Microseconds())/1000, err)
}
