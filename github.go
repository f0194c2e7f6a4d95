package crashlink

import (
	"fmt"

	githubprovider "github.com/giantswarm/crashlink/providers/github"
	githubtracker "github.com/giantswarm/crashlink/tracker/github"
)

// NewGitHub builds the GitHub OAuth provider and issue tracker described by
// config. The tracker is nil when no escalation repository is configured.
func NewGitHub(config *Config) (*githubprovider.Provider, *githubtracker.Tracker, error) {
	if config == nil {
		return nil, nil, fmt.Errorf("config is required")
	}
	cfg := applyDefaults(config)

	provider, err := githubprovider.NewProvider(&githubprovider.Config{
		ClientID:             cfg.GitHub.ClientID,
		ClientSecret:         cfg.GitHub.ClientSecret,
		RedirectURL:          cfg.RedirectURL(),
		Scopes:               cfg.GitHub.Scopes,
		AllowedOrganizations: cfg.GitHub.AllowedOrganizations,
		WebURL:               cfg.GitHub.WebURL,
		APIURL:               cfg.GitHub.APIURL,
		HTTPClient:           cfg.HTTPClient,
		RequestTimeout:       cfg.RequestTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create GitHub provider: %w", err)
	}

	if cfg.Escalation.Repository.IsZero() {
		return provider, nil, nil
	}

	issueTracker, err := githubtracker.New(githubtracker.Config{
		APIURL:         cfg.GitHub.APIURL,
		HTTPClient:     cfg.HTTPClient,
		RequestTimeout: cfg.RequestTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create GitHub tracker: %w", err)
	}
	return provider, issueTracker, nil
}
