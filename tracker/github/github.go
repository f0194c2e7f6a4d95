// Package github creates issues through the GitHub REST API.
package github

import (
	"context"
	"fmt"
	"net/http"
	"time"

	gh "github.com/google/go-github/v74/github"

	"github.com/giantswarm/crashlink/tracker"
)

// Compile-time interface check
var _ tracker.Tracker = (*Tracker)(nil)

// DefaultRequestTimeout bounds each issue creation call.
const DefaultRequestTimeout = 15 * time.Second

// Config configures the GitHub tracker.
type Config struct {
	// APIURL is the REST API root for GitHub Enterprise Server,
	// e.g. "https://github.example.com/api/v3/". Empty means api.github.com.
	APIURL string

	// HTTPClient is used for every request to GitHub.
	HTTPClient *http.Client

	// RequestTimeout bounds each call when the caller's context has no
	// deadline (default: 15s).
	RequestTimeout time.Duration
}

// Tracker creates GitHub issues.
type Tracker struct {
	httpClient     *http.Client
	apiURL         string
	requestTimeout time.Duration
}

// New creates a GitHub tracker.
func New(cfg Config) (*Tracker, error) {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = DefaultRequestTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	t := &Tracker{httpClient: httpClient, apiURL: cfg.APIURL, requestTimeout: timeout}
	if _, err := t.client(""); err != nil {
		return nil, err
	}
	return t, nil
}

// Name returns "github".
func (t *Tracker) Name() string {
	return "github"
}

// CreateIssue opens an issue in req.Owner/req.Repo as the token's owner.
func (t *Tracker) CreateIssue(ctx context.Context, accessToken string, req tracker.IssueRequest) (*tracker.Issue, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("access token is required")
	}
	if req.Owner == "" || req.Repo == "" {
		return nil, fmt.Errorf("repository is required")
	}
	if req.Title == "" {
		return nil, fmt.Errorf("issue title is required")
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.requestTimeout)
		defer cancel()
	}

	client, err := t.client(accessToken)
	if err != nil {
		return nil, err
	}

	issueReq := &gh.IssueRequest{
		Title: gh.Ptr(req.Title),
		Body:  gh.Ptr(req.Body),
	}
	if len(req.Labels) > 0 {
		labels := append([]string(nil), req.Labels...)
		issueReq.Labels = &labels
	}

	issue, _, err := client.Issues.Create(ctx, req.Owner, req.Repo, issueReq)
	if err != nil {
		return nil, fmt.Errorf("failed to create issue in %s/%s: %w", req.Owner, req.Repo, err)
	}
	if issue.GetHTMLURL() == "" {
		return nil, fmt.Errorf("issue response contained no URL")
	}

	return &tracker.Issue{URL: issue.GetHTMLURL(), Number: issue.GetNumber()}, nil
}

func (t *Tracker) client(accessToken string) (*gh.Client, error) {
	client := gh.NewClient(t.httpClient).WithAuthToken(accessToken)
	if t.apiURL == "" {
		return client, nil
	}
	client, err := client.WithEnterpriseURLs(t.apiURL, t.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid GitHub API URL: %w", err)
	}
	return client, nil
}
