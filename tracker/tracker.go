// Package tracker defines the external issue tracker crash reports are
// escalated to.
package tracker

import (
	"context"
	"fmt"
	"strings"
)

// Tracker creates issues on behalf of a user.
type Tracker interface {
	// Name returns the tracker name (e.g., "github").
	Name() string

	// CreateIssue opens an issue using accessToken. It makes a single
	// attempt and returns the created issue's public URL.
	CreateIssue(ctx context.Context, accessToken string, req IssueRequest) (*Issue, error)
}

// IssueRequest describes an issue to create.
type IssueRequest struct {
	Owner  string
	Repo   string
	Title  string
	Body   string
	Labels []string
}

// Issue is a created issue.
type Issue struct {
	// URL is the browser URL of the issue.
	URL string

	// Number is the issue number within its repository.
	Number int
}

// Repository identifies an "owner/repo" pair.
type Repository struct {
	Owner string
	Name  string
}

// ParseRepository parses "owner/repo". An empty string yields the zero
// Repository, meaning escalation is not configured.
func ParseRepository(s string) (Repository, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Repository{}, nil
	}
	owner, name, ok := strings.Cut(s, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return Repository{}, fmt.Errorf("repository must be in owner/repo form, got %q", s)
	}
	return Repository{Owner: owner, Name: name}, nil
}

// IsZero reports whether no repository is configured.
func (r Repository) IsZero() bool {
	return r.Owner == "" && r.Name == ""
}

// String returns "owner/repo".
func (r Repository) String() string {
	if r.IsZero() {
		return ""
	}
	return r.Owner + "/" + r.Name
}
