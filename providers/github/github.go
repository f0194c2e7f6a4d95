package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	gh "github.com/google/go-github/v74/github"
	"golang.org/x/oauth2"
	oauthgithub "golang.org/x/oauth2/github"

	"github.com/giantswarm/crashlink/providers"
)

// Compile-time interface check
var _ providers.Provider = (*Provider)(nil)

const (
	providerName = "github"

	// DefaultRequestTimeout bounds each call to GitHub.
	DefaultRequestTimeout = 15 * time.Second

	// maxOrganizationPages caps membership lookups at 1000 organizations.
	maxOrganizationPages = 10
)

// ErrOrganizationRequired is returned by FetchIdentity when the user is not
// a member of any allowed organization.
var ErrOrganizationRequired = errors.New("user is not a member of any allowed organization")

// DefaultScopes are requested when Config.Scopes is empty.
var DefaultScopes = []string{"repo", "read:user"}

// Provider is a GitHub OAuth App provider.
type Provider struct {
	*oauth2.Config
	httpClient           *http.Client
	apiURL               string
	requestTimeout       time.Duration
	allowedOrganizations []string
}

// Config holds GitHub OAuth App configuration.
type Config struct {
	// ClientID is the OAuth App client ID (required).
	ClientID string

	// ClientSecret is the OAuth App client secret (required).
	ClientSecret string

	// RedirectURL is the callback URL registered for the OAuth App.
	RedirectURL string

	// Scopes to request (default: repo, read:user).
	Scopes []string

	// AllowedOrganizations restricts installs to members of these
	// organizations. Empty allows any GitHub user.
	AllowedOrganizations []string

	// WebURL is the GitHub web root for GitHub Enterprise Server,
	// e.g. "https://github.example.com". Empty means github.com.
	WebURL string

	// APIURL is the REST API root for GitHub Enterprise Server,
	// e.g. "https://github.example.com/api/v3/". Empty means api.github.com.
	APIURL string

	// HTTPClient is used for every request to GitHub.
	HTTPClient *http.Client

	// RequestTimeout bounds each call when the caller's context has no
	// deadline (default: 15s).
	RequestTimeout time.Duration
}

// NewProvider creates a GitHub provider.
func NewProvider(cfg *Config) (*Provider, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client secret is required")
	}

	scopes := append([]string(nil), cfg.Scopes...)
	if len(scopes) == 0 {
		scopes = append(scopes, DefaultScopes...)
	}

	allowedOrgs := append([]string(nil), cfg.AllowedOrganizations...)
	for _, org := range allowedOrgs {
		if org == "" {
			return nil, fmt.Errorf("organization name cannot be empty")
		}
		if len(org) > 39 {
			return nil, fmt.Errorf("organization name %q exceeds maximum length of 39 characters", org)
		}
	}
	if len(allowedOrgs) > 0 && !slices.Contains(scopes, "read:org") {
		scopes = append(scopes, "read:org")
	}

	if err := providers.ValidateScopes(scopes); err != nil {
		return nil, fmt.Errorf("invalid scopes: %w", err)
	}

	endpoint := oauthgithub.Endpoint
	if cfg.WebURL != "" {
		web := strings.TrimRight(cfg.WebURL, "/")
		endpoint = oauth2.Endpoint{
			AuthURL:  web + "/login/oauth/authorize",
			TokenURL: web + "/login/oauth/access_token",
		}
	}
	if (cfg.WebURL == "") != (cfg.APIURL == "") {
		return nil, fmt.Errorf("web URL and API URL must be set together")
	}

	requestTimeout := cfg.RequestTimeout
	if requestTimeout == 0 {
		requestTimeout = DefaultRequestTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}

	return &Provider{
		Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		httpClient:           httpClient,
		apiURL:               cfg.APIURL,
		requestTimeout:       requestTimeout,
		allowedOrganizations: allowedOrgs,
	}, nil
}

// Name returns "github".
func (p *Provider) Name() string {
	return providerName
}

// RequestedScopes returns a copy of the scopes sent on authorization.
func (p *Provider) RequestedScopes() []string {
	return append([]string(nil), p.Scopes...)
}

// AuthorizationURL returns the GitHub consent page URL for state.
func (p *Provider) AuthorizationURL(state string) string {
	return p.AuthCodeURL(state)
}

// ExchangeCode exchanges an authorization code for an access token. A
// non-empty state is sent with the token request.
func (p *Provider) ExchangeCode(ctx context.Context, code, state string) (*oauth2.Token, error) {
	ctx, cancel := providers.EnsureTimeout(ctx, p.requestTimeout)
	defer cancel()

	var opts []oauth2.AuthCodeOption
	if state != "" {
		opts = append(opts, oauth2.SetAuthURLParam("state", state))
	}
	return providers.Exchange(ctx, p.Config, p.httpClient, code, opts...)
}

// FetchIdentity resolves the GitHub account behind accessToken and, when
// configured, checks organization membership.
func (p *Provider) FetchIdentity(ctx context.Context, accessToken string) (*providers.Identity, error) {
	ctx, cancel := providers.EnsureTimeout(ctx, p.requestTimeout)
	defer cancel()

	client, err := p.client(accessToken)
	if err != nil {
		return nil, err
	}

	user, _, err := client.Users.Get(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}
	if user.GetID() == 0 || user.GetLogin() == "" {
		return nil, fmt.Errorf("user response is missing id or login")
	}

	if len(p.allowedOrganizations) > 0 {
		member, err := p.isOrganizationMember(ctx, client)
		if err != nil {
			return nil, fmt.Errorf("failed to validate organization membership: %w", err)
		}
		if !member {
			return nil, ErrOrganizationRequired
		}
	}

	return &providers.Identity{
		ID:    strconv.FormatInt(user.GetID(), 10),
		Login: user.GetLogin(),
		Name:  user.GetName(),
		Email: user.GetEmail(),
	}, nil
}

func (p *Provider) client(accessToken string) (*gh.Client, error) {
	client := gh.NewClient(p.httpClient).WithAuthToken(accessToken)
	if p.apiURL == "" {
		return client, nil
	}
	client, err := client.WithEnterpriseURLs(p.apiURL, p.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid GitHub API URL: %w", err)
	}
	return client, nil
}

func (p *Provider) isOrganizationMember(ctx context.Context, client *gh.Client) (bool, error) {
	opts := &gh.ListOptions{PerPage: 100}
	for range maxOrganizationPages {
		orgs, resp, err := client.Organizations.List(ctx, "", opts)
		if err != nil {
			return false, err
		}
		for _, org := range orgs {
			for _, allowed := range p.allowedOrganizations {
				if strings.EqualFold(org.GetLogin(), allowed) {
					return true, nil
				}
			}
		}
		if resp.NextPage == 0 {
			return false, nil
		}
		opts.Page = resp.NextPage
	}
	return false, nil
}
