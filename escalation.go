package crashlink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/crashlink/instrumentation"
	"github.com/giantswarm/crashlink/internal/util"
	"github.com/giantswarm/crashlink/notify"
	"github.com/giantswarm/crashlink/providers"
	"github.com/giantswarm/crashlink/storage"
	"github.com/giantswarm/crashlink/tracker"
)

// EscalationOutcome describes what Escalate did with a report.
type EscalationOutcome string

// Escalation outcomes
const (
	OutcomeCreated              EscalationOutcome = "created"
	OutcomeSkippedNotConfigured EscalationOutcome = "skipped_not_configured"
	OutcomeSkippedNoCredential  EscalationOutcome = "skipped_no_credential"
)

// Notes returned with skipped escalations
const (
	NoteNotConfigured = "Repo not configured"
	NoteNoCredential  = "No GitHub credential available"
)

const unknownErrorTitle = "Unknown error"

// logMessageBytes bounds report text copied into log lines.
const logMessageBytes = 80

// EscalationResult is the outcome of a successful or skipped escalation.
type EscalationResult struct {
	Outcome EscalationOutcome

	// IssueURL is set when Outcome is OutcomeCreated.
	IssueURL string

	// Note explains a skipped escalation.
	Note string

	// ReferenceAttached reports whether IssueURL was stored on the report.
	ReferenceAttached bool
}

// Escalate files a GitHub issue for a stored report. Skips are not errors.
// Each call creates a new issue; repeated reports are not deduplicated.
func (s *Server) Escalate(ctx context.Context, report *storage.CrashReport) (_ *EscalationResult, err error) {
	if report == nil {
		return nil, fmt.Errorf("report is required")
	}

	ctx, span := s.tracer.Start(ctx, "crashlink.escalate")
	defer span.End()

	repo := s.config.Escalation.Repository
	outcome := "failed"
	defer func() {
		s.metrics.RecordEscalation(ctx, outcome)
		instrumentation.AddEscalationAttributes(span, report.ID, repo.String(), outcome)
		if err != nil {
			instrumentation.RecordError(span, err)
		} else {
			instrumentation.SetSpanSuccess(span)
		}
	}()

	if s.tracker == nil || repo.IsZero() {
		outcome = string(OutcomeSkippedNotConfigured)
		return &EscalationResult{Outcome: OutcomeSkippedNotConfigured, Note: NoteNotConfigured}, nil
	}

	cred, err := s.escalationCredential(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		outcome = string(OutcomeSkippedNoCredential)
		s.logger.Info("Escalation skipped, no credential",
			"report_id", report.ID,
			"message", util.SafeTruncate(util.FirstLine(report.Message()), logMessageBytes))
		return &EscalationResult{Outcome: OutcomeSkippedNoCredential, Note: NoteNoCredential}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %w", ErrCredentialLookupFailed, ErrStorage, err)
	}
	instrumentation.AddIdentityAttributes(span, cred.IdentityID, cred.Login)

	issue, err := s.createIssue(ctx, cred.AccessToken, tracker.IssueRequest{
		Owner:  repo.Owner,
		Repo:   repo.Name,
		Title:  IssueTitle(report),
		Body:   IssueBody(report),
		Labels: s.config.Escalation.Labels,
	})
	if err != nil {
		return nil, err
	}
	outcome = string(OutcomeCreated)
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrIssueURL, issue.URL))

	res := &EscalationResult{Outcome: OutcomeCreated, IssueURL: issue.URL, ReferenceAttached: true}
	if err := s.reports.AttachReference(ctx, report.ID, issue.URL); err != nil {
		res.ReferenceAttached = false
		s.metrics.RecordReferenceAttachFailed(ctx)
		s.logger.Warn("Issue created but reference not attached to report",
			"report_id", report.ID,
			"issue_url", issue.URL,
			"error", err)
	} else {
		report.IssueURL = issue.URL
	}

	s.logger.Info("Crash report escalated", "report_id", report.ID, "issue_url", issue.URL, "repository", repo.String())
	s.auditor.LogIssueCreated(ctx, cred.IdentityID, report.ID, issue.URL)
	s.notify(ctx, notify.Message{Text: fmt.Sprintf("New crash reported: %s\n%s", IssueTitle(report), issue.URL)})

	return res, nil
}

// escalationCredential returns the configured identity's credential, or the
// most recently stored one when no identity is configured.
func (s *Server) escalationCredential(ctx context.Context) (*storage.Credential, error) {
	if id := s.config.Escalation.IdentityID; id != "" {
		return s.credentials.GetCredential(ctx, id)
	}
	return s.credentials.AnyCredential(ctx)
}

func (s *Server) createIssue(ctx context.Context, accessToken string, req tracker.IssueRequest) (*tracker.Issue, error) {
	ctx, cancel := providers.EnsureTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	ctx, span := s.startExternalCall(ctx, s.tracker.Name(), "create_issue")
	defer span.End()

	start := time.Now()
	issue, err := s.tracker.CreateIssue(ctx, accessToken, req)
	s.recordExternalCall(ctx, span, s.tracker.Name(), "create_issue", start, err)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIssueCreationFailed, err)
	}
	if issue == nil || issue.URL == "" {
		return nil, fmt.Errorf("%w: tracker returned no issue URL", ErrIssueCreationFailed)
	}
	return issue, nil
}

// IssueTitle builds the issue title from the first line of the report message.
func IssueTitle(report *storage.CrashReport) string {
	msg := util.FirstLine(report.Message())
	if msg == "" {
		msg = unknownErrorTitle
	}
	return util.TruncateRunes("[Crash] "+msg, MaxIssueTitleRunes)
}

// IssueBody renders the report as a markdown issue body.
func IssueBody(report *storage.CrashReport) string {
	var b strings.Builder

	message := report.Message()
	if message == "" {
		message = unknownErrorTitle
	}

	b.WriteString("## Crash report\n\n")
	fmt.Fprintf(&b, "**Message:** %s\n\n", message)

	if stack := report.Stack(); stack != "" {
		fence := "```"
		for strings.Contains(stack, fence) {
			fence += "`"
		}
		fmt.Fprintf(&b, "**Stack trace:**\n\n%s\n%s\n%s\n\n", fence, stack, fence)
	}

	fmt.Fprintf(&b, "**URL:** %s\n", valueOrNone(report.URL()))
	fmt.Fprintf(&b, "**User agent:** %s\n", valueOrNone(report.UserAgent()))
	fmt.Fprintf(&b, "**Received at:** %s\n", report.ReceivedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "**Report ID:** `%s`\n", report.ID)

	return b.String()
}

func valueOrNone(s string) string {
	if s == "" {
		return "_none_"
	}
	return s
}
