package crashlink

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/giantswarm/crashlink/internal/util"
	"github.com/giantswarm/crashlink/security"
	"github.com/giantswarm/crashlink/tracker"
)

const (
	// DefaultRequestTimeout bounds each call to GitHub when the caller's
	// context carries no deadline.
	DefaultRequestTimeout = 15 * time.Second

	// DefaultIssueLabel is applied to escalated issues when no labels are configured.
	DefaultIssueLabel = "crash-report"

	// DefaultRateLimit is the sustained number of crash reports accepted per client IP per second.
	DefaultRateLimit = 1.0

	// DefaultRateBurst is the number of crash reports a client IP may send at once.
	DefaultRateBurst = 10

	// MaxReportBodyBytes caps the size of a crash report body.
	MaxReportBodyBytes = 1 << 20

	// MaxIssueTitleRunes caps the length of an escalated issue title.
	MaxIssueTitleRunes = 120
)

// Config holds the crashlink server configuration.
// Structured using composition; zero values are replaced by applyDefaults.
type Config struct {
	// BaseURL is the public URL crashlink is served from (e.g. https://crashlink.example.com).
	// Used for the OAuth redirect URL and to decide whether HSTS is sent.
	BaseURL string

	// GitHub OAuth App credentials and API endpoints
	GitHub GitHubConfig

	// Escalation settings for turning crash reports into issues
	Escalation EscalationConfig

	// Rate limiting for POST /error-report
	RateLimit RateLimitConfig

	// Security settings (secure by default)
	Security SecurityConfig

	// RequestTimeout bounds each call to GitHub (default: 15s)
	RequestTimeout time.Duration

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger

	// HTTPClient is used for every outbound request to GitHub and the chat webhook.
	// If not provided, a client bounded by RequestTimeout is used.
	HTTPClient *http.Client
}

// GitHubConfig holds the GitHub OAuth App settings.
type GitHubConfig struct {
	// ClientID is the OAuth App client ID (required).
	ClientID string

	// ClientSecret is the OAuth App client secret (required).
	ClientSecret string

	// Scopes requested during installation (default: repo, read:user).
	Scopes []string

	// AllowedOrganizations restricts installation to members of these organizations.
	// Empty allows any GitHub user.
	AllowedOrganizations []string

	// WebURL and APIURL point at a GitHub Enterprise Server instance.
	// Both empty means github.com.
	WebURL string
	APIURL string
}

// EscalationConfig controls issue escalation.
type EscalationConfig struct {
	// Repository receives escalated issues. Zero disables escalation.
	Repository tracker.Repository

	// IdentityID selects whose credential files issues. Empty uses the most
	// recently stored credential.
	IdentityID string

	// Labels applied to created issues (default: crash-report).
	Labels []string
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Rate is crash reports per second allowed per IP. Negative disables limiting.
	Rate float64

	// Burst is the maximum burst size allowed per IP.
	Burst int

	// MaxEntries bounds the number of tracked IPs.
	MaxEntries int

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is the number of proxies in front of crashlink (default: 1).
	TrustedProxyCount int
}

// SecurityConfig holds handshake security settings
type SecurityConfig struct {
	// StateSecret keys the sealed state cookie. Empty generates a random
	// per-process key; handshakes then do not survive restarts or span replicas.
	StateSecret string

	// StateTTL is how long a started handshake stays valid (default: 10 minutes).
	StateTTL time.Duration

	// EnableAuditLogging enables security audit logging (identities hashed).
	EnableAuditLogging bool
}

// RedirectURL returns the OAuth callback URL derived from BaseURL.
func (c *Config) RedirectURL() string {
	return util.NormalizeURL(c.BaseURL) + "/oauth/callback"
}

// applyDefaults returns a copy of config with defaults filled in.
func applyDefaults(config *Config) *Config {
	cfg := *config

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	if len(cfg.Escalation.Labels) == 0 {
		cfg.Escalation.Labels = []string{DefaultIssueLabel}
	} else {
		cfg.Escalation.Labels = append([]string(nil), cfg.Escalation.Labels...)
	}
	if cfg.RateLimit.Rate == 0 {
		cfg.RateLimit.Rate = DefaultRateLimit
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = DefaultRateBurst
	}
	if cfg.RateLimit.TrustedProxyCount <= 0 {
		cfg.RateLimit.TrustedProxyCount = 1
	}
	if cfg.Security.StateTTL <= 0 {
		cfg.Security.StateTTL = security.DefaultStateTTL
	}

	return &cfg
}

// logSecurityWarnings reports configuration that weakens the defaults.
func logSecurityWarnings(cfg *Config) {
	if cfg.Security.StateSecret == "" {
		cfg.Logger.Warn("No state secret configured, using a random per-process key",
			"impact", "handshakes in flight fail after a restart and across replicas")
	}
	if cfg.RateLimit.TrustProxy {
		cfg.Logger.Warn("Trusting proxy headers for client IPs",
			"trusted_proxy_count", cfg.RateLimit.TrustedProxyCount)
	}
	if cfg.RateLimit.Rate < 0 {
		cfg.Logger.Warn("Crash report rate limiting is disabled")
	}
}
