// Package github implements the providers.Provider interface for GitHub
// OAuth Apps on github.com and GitHub Enterprise Server.
//
// GitHub OAuth Apps issue non-expiring access tokens without refresh
// tokens, so a completed install yields a credential that stays usable
// until the user revokes the app.
//
// # Default Scopes
//
// When no scopes are configured the provider requests:
//   - repo: create issues in private repositories
//   - read:user: read the profile used as the credential identity
//
// # Organization Access Control
//
// When AllowedOrganizations is set, "read:org" is added to the requested
// scopes and FetchIdentity fails with ErrOrganizationRequired unless the
// user belongs to one of the listed organizations.
//
// # GitHub Enterprise
//
// Set WebURL to the instance root and APIURL to its REST endpoint:
//
//	provider, err := github.NewProvider(&github.Config{
//	    ClientID:     os.Getenv("GITHUB_CLIENT_ID"),
//	    ClientSecret: os.Getenv("GITHUB_CLIENT_SECRET"),
//	    RedirectURL:  "https://crashlink.example.com/oauth/callback",
//	    WebURL:       "https://github.example.com",
//	    APIURL:       "https://github.example.com/api/v3/",
//	})
package github
