// Package envconfig loads crashlink process configuration from environment
// variables.
package envconfig

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/giantswarm/crashlink"
	"github.com/giantswarm/crashlink/tracker"
)

// Storage backends
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
	StorageValkey = "valkey"
)

// Log formats
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// Env holds raw environment values.
type Env struct {
	Addr    string `env:"CRASHLINK_ADDR"     envDefault:":3000"`
	BaseURL string `env:"CRASHLINK_BASE_URL" envDefault:"http://localhost:3000"`

	GitHubClientID       string   `env:"GITHUB_CLIENT_ID,required"`
	GitHubClientSecret   string   `env:"GITHUB_CLIENT_SECRET,required"`
	GitHubScopes         []string `env:"GITHUB_SCOPES"       envDefault:"repo read:user" envSeparator:" "`
	GitHubAllowedOrgs    []string `env:"GITHUB_ALLOWED_ORGS" envSeparator:","`
	GitHubRepo           string   `env:"GITHUB_REPO"`
	GitHubWebURL         string   `env:"GITHUB_WEB_URL"`
	GitHubAPIURL         string   `env:"GITHUB_API_URL"`
	EscalationIdentityID string   `env:"CRASHLINK_ESCALATION_IDENTITY"`
	IssueLabels          []string `env:"CRASHLINK_ISSUE_LABELS" envSeparator:","`

	StateSecret    string `env:"CRASHLINK_STATE_SECRET,unset"`
	ChatWebhookURL string `env:"CRASHLINK_CHAT_WEBHOOK_URL"`
	AuditLogging   bool   `env:"CRASHLINK_AUDIT_LOG" envDefault:"true"`

	Storage         string `env:"CRASHLINK_STORAGE"     envDefault:"memory"`
	SQLitePath      string `env:"CRASHLINK_SQLITE_PATH" envDefault:"crashlink.db"`
	ValkeyAddr      string `env:"VALKEY_ADDR"           envDefault:"localhost:6379"`
	ValkeyPassword  string `env:"VALKEY_PASSWORD,unset"`
	ValkeyDB        int    `env:"VALKEY_DB"             envDefault:"0"`
	ValkeyKeyPrefix string `env:"VALKEY_KEY_PREFIX"     envDefault:"crashlink:"`
	ValkeyTLS       bool   `env:"VALKEY_TLS"`

	RequestTimeout    time.Duration `env:"CRASHLINK_REQUEST_TIMEOUT"     envDefault:"15s"`
	RateLimit         float64       `env:"CRASHLINK_RATE_LIMIT"          envDefault:"1"`
	RateBurst         int           `env:"CRASHLINK_RATE_BURST"          envDefault:"10"`
	TrustProxy        bool          `env:"CRASHLINK_TRUST_PROXY"`
	TrustedProxyCount int           `env:"CRASHLINK_TRUSTED_PROXY_COUNT" envDefault:"1"`

	LogLevel     string `env:"CRASHLINK_LOG_LEVEL"      envDefault:"info"`
	LogFormat    string `env:"CRASHLINK_LOG_FORMAT"     envDefault:"json"`
	Metrics      string `env:"CRASHLINK_METRICS"        envDefault:"prometheus"`
	OTELEndpoint string `env:"CRASHLINK_OTEL_ENDPOINT"`
	LogClientIPs bool   `env:"CRASHLINK_LOG_CLIENT_IPS"`
}

// Load parses the process environment.
func Load() (*Env, error) {
	return parse(env.Options{})
}

// LoadFrom parses the given variables instead of the process environment.
func LoadFrom(environment map[string]string) (*Env, error) {
	return parse(env.Options{Environment: environment})
}

func parse(opts env.Options) (*Env, error) {
	cfg, err := env.ParseAsWithOptions[Env](opts)
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values the parser cannot.
func (e *Env) Validate() error {
	switch e.Storage {
	case StorageMemory, StorageSQLite, StorageValkey:
	default:
		return fmt.Errorf("CRASHLINK_STORAGE must be one of memory, sqlite, valkey, got %q", e.Storage)
	}
	switch e.LogFormat {
	case LogFormatJSON, LogFormatText:
	default:
		return fmt.Errorf("CRASHLINK_LOG_FORMAT must be json or text, got %q", e.LogFormat)
	}
	if _, err := e.Level(); err != nil {
		return err
	}
	if _, err := e.Repository(); err != nil {
		return fmt.Errorf("GITHUB_REPO: %w", err)
	}
	if e.RequestTimeout <= 0 {
		return fmt.Errorf("CRASHLINK_REQUEST_TIMEOUT must be positive")
	}
	if e.Storage == StorageSQLite && e.SQLitePath == "" {
		return fmt.Errorf("CRASHLINK_SQLITE_PATH is required for sqlite storage")
	}
	if e.Storage == StorageValkey && e.ValkeyAddr == "" {
		return fmt.Errorf("VALKEY_ADDR is required for valkey storage")
	}
	return nil
}

// Level returns the configured slog level.
func (e *Env) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return 0, fmt.Errorf("CRASHLINK_LOG_LEVEL: %w", err)
	}
	return level, nil
}

// Repository returns the escalation repository (zero when GITHUB_REPO is unset).
func (e *Env) Repository() (tracker.Repository, error) {
	return tracker.ParseRepository(e.GitHubRepo)
}

// ServerConfig converts the environment into the library configuration.
func (e *Env) ServerConfig(logger *slog.Logger) (*crashlink.Config, error) {
	repo, err := e.Repository()
	if err != nil {
		return nil, err
	}

	return &crashlink.Config{
		BaseURL: e.BaseURL,
		GitHub: crashlink.GitHubConfig{
			ClientID:             e.GitHubClientID,
			ClientSecret:         e.GitHubClientSecret,
			Scopes:               trimList(e.GitHubScopes),
			AllowedOrganizations: trimList(e.GitHubAllowedOrgs),
			WebURL:               e.GitHubWebURL,
			APIURL:               e.GitHubAPIURL,
		},
		Escalation: crashlink.EscalationConfig{
			Repository: repo,
			IdentityID: e.EscalationIdentityID,
			Labels:     trimList(e.IssueLabels),
		},
		RateLimit: crashlink.RateLimitConfig{
			Rate:              e.RateLimit,
			Burst:             e.RateBurst,
			TrustProxy:        e.TrustProxy,
			TrustedProxyCount: e.TrustedProxyCount,
		},
		Security: crashlink.SecurityConfig{
			StateSecret:        e.StateSecret,
			EnableAuditLogging: e.AuditLogging,
		},
		RequestTimeout: e.RequestTimeout,
		Logger:         logger,
	}, nil
}

// trimList removes blank entries from a split list.
func trimList(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
