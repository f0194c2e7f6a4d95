package crashlink

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/crashlink/instrumentation"
	"github.com/giantswarm/crashlink/security"
	"github.com/giantswarm/crashlink/storage"
)

// Endpoint paths
const (
	PathRoot          = "/"
	PathHealth        = "/health"
	PathMetrics       = "/metrics"
	PathInstall       = "/install"
	PathOAuthCallback = "/oauth/callback"
	PathErrorReport   = "/error-report"
	PathLinkAccount   = "/link-account"
	PathTest          = "/test"
)

// rootBanner is served on GET / so uptime checks have something to match.
const rootBanner = "crashlink running\n"

// maxSmallBodyBytes caps request bodies of the non-report JSON endpoints.
const maxSmallBodyBytes = 64 << 10

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif; max-width: 32rem; margin: 4rem auto; padding: 0 1rem; color: #1f2328; }
h1 { font-size: 1.4rem; }
p { line-height: 1.5; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
</body>
</html>
`))

type pageData struct {
	Title   string
	Message string
}

// errorReportResponse is the JSON body of POST /error-report.
type errorReportResponse struct {
	OK    bool   `json:"ok"`
	ID    string `json:"id,omitempty"`
	Issue string `json:"issue,omitempty"`
	Note  string `json:"note,omitempty"`
	Error string `json:"error,omitempty"`
}

type linkAccountRequest struct {
	ChatUser    string `json:"cliq_user"`
	GitHubLogin string `json:"github_login"`
}

// Handler is a thin HTTP adapter for the crashlink Server.
// It handles HTTP requests and delegates to the Server for business logic.
type Handler struct {
	server *Server
	logger *slog.Logger
	tracer trace.Tracer
}

// NewHandler creates a new HTTP handler
func NewHandler(server *Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = server.logger
	}

	h := &Handler{
		server: server,
		logger: logger,
		tracer: server.tracer,
	}

	if server.instrumentation != nil {
		h.tracer = server.instrumentation.Tracer("http")
	}

	return h
}

// Routes returns the complete crashlink HTTP surface with request IDs and
// panic recovery applied.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(PathRoot, h.ServeRoot)
	mux.HandleFunc(PathHealth, h.ServeHealth)
	mux.HandleFunc(PathInstall, h.ServeInstall)
	mux.HandleFunc(PathOAuthCallback, h.ServeCallback)
	mux.HandleFunc(PathErrorReport, h.ServeErrorReport)
	mux.HandleFunc(PathLinkAccount, h.ServeLinkAccount)
	mux.HandleFunc(PathTest, h.ServeTest)
	mux.Handle(PathMetrics, h.metricsHandler())

	return security.RequestIDMiddleware(h.recoverPanics(mux))
}

func (h *Handler) metricsHandler() http.Handler {
	if h.server.instrumentation == nil {
		return http.NotFoundHandler()
	}
	return h.server.instrumentation.MetricsHandler()
}

// recoverPanics answers 500 instead of letting a panic escape the handler.
func (h *Handler) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				h.logger.Error("Panic while serving request",
					"panic", rec,
					"path", r.URL.Path,
					"request_id", security.GetRequestID(r.Context()),
					"stack", string(debug.Stack()))
				h.writeError(w, ErrorCodeServerError, "Internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ServeRoot answers GET / with a plain text banner.
func (h *Handler) ServeRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != PathRoot {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(rootBanner))
}

// ServeHealth answers liveness probes.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ServeInstall starts the GitHub installation handshake.
func (h *Handler) ServeInstall(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx, span := h.tracer.Start(r.Context(), "crashlink.http.install")
	defer span.End()

	if r.Method != http.MethodGet {
		h.recordHTTPMetrics(ctx, "install", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.clientIP(r, span)

	hs, err := h.server.BeginHandshake(ctx)
	if err != nil {
		h.logger.Error("Failed to begin handshake", "error", err)
		h.recordHTTPMetrics(ctx, "install", r.Method, http.StatusInternalServerError, startTime)
		instrumentation.RecordError(span, err)
		h.writePage(w, http.StatusInternalServerError, "Installation failed", "The installation could not be started. Please try again.")
		return
	}

	sealed, expiresAt, err := h.server.sealer.Seal(hs.State)
	if err != nil {
		h.logger.Error("Failed to seal handshake state", "error", err)
		h.recordHTTPMetrics(ctx, "install", r.Method, http.StatusInternalServerError, startTime)
		instrumentation.RecordError(span, err)
		h.writePage(w, http.StatusInternalServerError, "Installation failed", "The installation could not be started. Please try again.")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     security.StateCookieName,
		Value:    sealed,
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(h.server.sealer.TTL().Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})

	h.server.auditor.LogHandshakeStarted(ctx, clientIP)
	h.recordHTTPMetrics(ctx, "install", r.Method, http.StatusFound, startTime)
	instrumentation.SetSpanSuccess(span)

	http.Redirect(w, r, hs.AuthorizationURL, http.StatusFound)
}

// ServeCallback completes the handshake GitHub redirects back to.
func (h *Handler) ServeCallback(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx, span := h.tracer.Start(r.Context(), "crashlink.http.callback")
	defer span.End()

	if r.Method != http.MethodGet {
		h.recordHTTPMetrics(ctx, "callback", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.clientIP(r, span)
	query := r.URL.Query()

	// The state cookie is single use whatever the outcome.
	clearStateCookie(w)

	if errorParam := query.Get("error"); errorParam != "" {
		h.logger.Warn("Provider returned error",
			"error", errorParam,
			"description", query.Get("error_description"))
		h.server.auditor.LogHandshakeRejected(ctx, clientIP, "provider_error")
		h.server.metrics.RecordHandshakeCompleted(ctx, "provider_error")
		h.recordHTTPMetrics(ctx, "callback", r.Method, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, errorParam)
		h.writePage(w, http.StatusBadRequest, "Installation cancelled", "GitHub did not grant access. You can close this window and try again.")
		return
	}

	var expected string
	if cookie, err := r.Cookie(security.StateCookieName); err == nil {
		if expected, err = h.server.sealer.Open(cookie.Value); err != nil {
			h.logger.Debug("Rejected state cookie", "error", err)
			expected = ""
		}
	}

	cred, err := h.server.CompleteHandshake(ctx, CallbackParams{
		Code:          query.Get("code"),
		State:         query.Get("state"),
		ExpectedState: expected,
		ClientIP:      clientIP,
	})
	if err != nil {
		herr := statusForError(err)
		if herr.Status >= http.StatusInternalServerError {
			h.logger.Error("Failed to complete handshake", "error", err)
		} else {
			h.logger.Info("Rejected handshake", "error", err)
		}
		h.recordHTTPMetrics(ctx, "callback", r.Method, herr.Status, startTime)
		instrumentation.RecordError(span, err)
		h.writePage(w, herr.Status, "Installation failed", herr.Description)
		return
	}

	h.recordHTTPMetrics(ctx, "callback", r.Method, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)
	h.writePage(w, http.StatusOK, "crashlink installed",
		"Connected as "+cred.Login+". You can close this window.")
}

// ServeErrorReport stores a crash report and escalates it.
func (h *Handler) ServeErrorReport(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx, span := h.tracer.Start(r.Context(), "crashlink.http.error_report")
	defer span.End()

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics(ctx, "error_report", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.clientIP(r, span)
	if limiter := h.server.rateLimiter; limiter != nil && !limiter.Allow(clientIP) {
		h.logger.Warn("Rate limit exceeded", "endpoint", "error_report")
		h.server.metrics.RecordRateLimitExceeded(ctx, "error_report")
		h.server.auditor.LogRateLimitExceeded(ctx, clientIP, PathErrorReport)
		h.recordHTTPMetrics(ctx, "error_report", r.Method, http.StatusTooManyRequests, startTime)
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusTooManyRequests, errorReportResponse{Error: ErrorCodeRateLimitExceeded})
		return
	}

	payload, herr := decodeReport(w, r)
	if herr != nil {
		h.recordHTTPMetrics(ctx, "error_report", r.Method, herr.Status, startTime)
		instrumentation.SetSpanError(span, herr.Code)
		writeJSON(w, herr.Status, errorReportResponse{Error: herr.Description})
		return
	}

	report, err := h.server.reports.SaveReport(ctx, payload, h.server.now().UTC())
	if err != nil {
		h.logger.Error("Failed to save crash report", "error", err)
		h.recordHTTPMetrics(ctx, "error_report", r.Method, http.StatusInternalServerError, startTime)
		instrumentation.RecordError(span, err)
		writeJSON(w, http.StatusInternalServerError, errorReportResponse{Error: statusForError(ErrStorage).Description})
		return
	}
	h.server.metrics.RecordReportReceived(ctx)
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrReportID, report.ID))
	h.logger.Info("Crash report saved", "report_id", report.ID)

	res, err := h.server.Escalate(ctx, report)
	if err != nil {
		herr := statusForError(err)
		h.logger.Error("Failed to escalate crash report", "report_id", report.ID, "error", err)
		h.recordHTTPMetrics(ctx, "error_report", r.Method, herr.Status, startTime)
		instrumentation.RecordError(span, err)
		writeJSON(w, herr.Status, errorReportResponse{ID: report.ID, Error: herr.Description})
		return
	}

	h.recordHTTPMetrics(ctx, "error_report", r.Method, http.StatusCreated, startTime)
	instrumentation.SetSpanSuccess(span)
	writeJSON(w, http.StatusCreated, errorReportResponse{
		OK:    true,
		ID:    report.ID,
		Issue: res.IssueURL,
		Note:  res.Note,
	})
}

// decodeReport reads a JSON object body of at most MaxReportBodyBytes.
func decodeReport(w http.ResponseWriter, r *http.Request) (map[string]any, *HandlerError) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxReportBodyBytes)

	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		if bodyTooLarge(err) {
			return nil, NewHandlerError(ErrorCodePayloadTooLarge, "Crash report exceeds 1 MiB", http.StatusRequestEntityTooLarge)
		}
		return nil, NewHandlerError(ErrorCodeInvalidRequest, "Body must be a JSON object", http.StatusBadRequest)
	}
	if payload == nil {
		return nil, NewHandlerError(ErrorCodeInvalidRequest, "Body must be a JSON object", http.StatusBadRequest)
	}
	return payload, nil
}

// bodyTooLarge reports whether err came from an http.MaxBytesReader limit.
func bodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

// ServeLinkAccount maps a chat user to a GitHub login.
func (h *Handler) ServeLinkAccount(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx, span := h.tracer.Start(r.Context(), "crashlink.http.link_account")
	defer span.End()

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics(ctx, "link_account", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req linkAccountRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxSmallBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && bodyTooLarge(err) {
		h.recordHTTPMetrics(ctx, "link_account", r.Method, http.StatusRequestEntityTooLarge, startTime)
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"ok": false, "error": ErrorCodePayloadTooLarge})
		return
	}
	if req.ChatUser == "" || req.GitHubLogin == "" {
		h.recordHTTPMetrics(ctx, "link_account", r.Method, http.StatusBadRequest, startTime)
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": ErrorCodeMissingFields})
		return
	}

	link := &storage.AccountLink{
		ChatUser:    req.ChatUser,
		GitHubLogin: req.GitHubLogin,
		UpdatedAt:   h.server.now().UTC(),
	}
	if err := h.server.links.PutAccountLink(ctx, link); err != nil {
		h.logger.Error("Failed to save account link", "error", err)
		h.recordHTTPMetrics(ctx, "link_account", r.Method, http.StatusInternalServerError, startTime)
		instrumentation.RecordError(span, err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": statusForError(ErrStorage).Description})
		return
	}

	h.logger.Info("Linked chat user", "chat_user", link.ChatUser, "github_login", link.GitHubLogin)
	h.recordHTTPMetrics(ctx, "link_account", r.Method, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"message": "Mapping saved!",
		"user":    link.ChatUser,
		"github":  link.GitHubLogin,
	})
}

// ServeTest echoes the request body so chat integrations can verify connectivity.
func (h *Handler) ServeTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var received any
	r.Body = http.MaxBytesReader(w, r.Body, maxSmallBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
		if bodyTooLarge(err) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"ok": false, "error": ErrorCodePayloadTooLarge})
			return
		}
		received = nil
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"msg":       "Backend reached successfully!",
		"received":  received,
		"timestamp": h.server.now().UnixMilli(),
	})
}

func (h *Handler) clientIP(r *http.Request, span trace.Span) string {
	cfg := h.server.config.RateLimit
	ip := security.GetClientIP(r, cfg.TrustProxy, cfg.TrustedProxyCount)
	if h.server.instrumentation != nil && h.server.instrumentation.ShouldLogClientIPs() {
		instrumentation.AddSecurityAttributes(span, ip)
	}
	return ip
}

func (h *Handler) writePage(w http.ResponseWriter, status int, title, message string) {
	security.SetSecurityHeaders(w, h.server.config.BaseURL)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pageTemplate.Execute(w, pageData{Title: title, Message: message}); err != nil {
		h.logger.Error("Failed to render page", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	writeJSON(w, status, map[string]any{
		"ok":                false,
		"error":             code,
		"error_description": description,
	})
}

// recordHTTPMetrics records HTTP request metrics (total count and duration)
func (h *Handler) recordHTTPMetrics(ctx context.Context, endpoint, method string, status int, startTime time.Time) {
	instrumentation.AddHTTPAttributes(trace.SpanFromContext(ctx), method, endpoint, status)
	if h.server.metrics == nil {
		return
	}
	duration := time.Since(startTime).Seconds() * 1000
	h.server.metrics.RecordHTTPRequest(context.WithoutCancel(ctx), method, endpoint, status, duration)
}

func clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     security.StateCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
