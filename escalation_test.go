package crashlink

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/giantswarm/crashlink/internal/testutil"
	"github.com/giantswarm/crashlink/storage"
	storagemock "github.com/giantswarm/crashlink/storage/mock"
	"github.com/giantswarm/crashlink/tracker"
)

func saveTestReport(t *testing.T, store storage.ReportStore, payload map[string]any) *storage.CrashReport {
	t.Helper()
	report, err := store.SaveReport(context.Background(), payload, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("SaveReport() error = %v", err)
	}
	return report
}

func putCredential(t *testing.T, store storage.CredentialStore, id, login string) *storage.Credential {
	t.Helper()
	cred := testutil.GenerateTestCredential(id, login)
	if err := store.PutCredential(context.Background(), cred); err != nil {
		t.Fatalf("PutCredential() error = %v", err)
	}
	return cred
}

func TestServer_Escalate_NotConfigured(t *testing.T) {
	cfg := newTestConfig()
	cfg.Escalation.Repository = tracker.Repository{}
	env := newTestEnv(t, cfg)
	putCredential(t, env.store, "1", "octocat")
	report := saveTestReport(t, env.store, testutil.GenerateTestPayload())

	res, err := env.server.Escalate(context.Background(), report)
	if err != nil {
		t.Fatalf("Escalate() error = %v", err)
	}
	if res.Outcome != OutcomeSkippedNotConfigured || res.Note != "Repo not configured" {
		t.Errorf("result = %+v", res)
	}
	if len(env.tracker.Calls()) != 0 {
		t.Error("tracker must not be called")
	}
}

func TestServer_Escalate_NoCredential(t *testing.T) {
	env := newTestEnv(t, nil)
	report := saveTestReport(t, env.store, testutil.GenerateTestPayload())

	res, err := env.server.Escalate(context.Background(), report)
	if err != nil {
		t.Fatalf("Escalate() error = %v", err)
	}
	if res.Outcome != OutcomeSkippedNoCredential || res.Note != "No GitHub credential available" {
		t.Errorf("result = %+v", res)
	}
}

func TestServer_Escalate_Created(t *testing.T) {
	env := newTestEnv(t, nil)
	notifier := &recordingNotifier{}
	env.server.SetNotifier(notifier)
	cred := putCredential(t, env.store, "1", "octocat")
	report := saveTestReport(t, env.store, testutil.GenerateTestPayload())

	res, err := env.server.Escalate(context.Background(), report)
	if err != nil {
		t.Fatalf("Escalate() error = %v", err)
	}
	if res.Outcome != OutcomeCreated || !res.ReferenceAttached {
		t.Errorf("result = %+v", res)
	}
	if res.IssueURL != "https://github.com/acme/app/issues/1" {
		t.Errorf("IssueURL = %q", res.IssueURL)
	}

	calls := env.tracker.Calls()
	if len(calls) != 1 {
		t.Fatalf("tracker calls = %d, want 1", len(calls))
	}
	call := calls[0]
	if call.AccessToken != cred.AccessToken {
		t.Error("issue should be created with the stored token")
	}
	if call.Request.Owner != "acme" || call.Request.Repo != "app" {
		t.Errorf("repository = %s/%s", call.Request.Owner, call.Request.Repo)
	}
	if call.Request.Title != "[Crash] TypeError: x is undefined" {
		t.Errorf("Title = %q", call.Request.Title)
	}
	if len(call.Request.Labels) != 1 || call.Request.Labels[0] != DefaultIssueLabel {
		t.Errorf("Labels = %v", call.Request.Labels)
	}

	stored, err := env.store.GetReport(context.Background(), report.ID)
	if err != nil {
		t.Fatalf("GetReport() error = %v", err)
	}
	if stored.IssueURL != res.IssueURL {
		t.Errorf("stored IssueURL = %q, want %q", stored.IssueURL, res.IssueURL)
	}

	msgs := notifier.Messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0].Text, res.IssueURL) {
		t.Errorf("notifications = %+v", msgs)
	}
}

func TestServer_Escalate_UsesConfiguredIdentity(t *testing.T) {
	cfg := newTestConfig()
	cfg.Escalation.IdentityID = "1"
	env := newTestEnv(t, cfg)

	hinted := putCredential(t, env.store, "1", "maintainer")
	time.Sleep(2 * time.Millisecond)
	putCredential(t, env.store, "2", "newer-user")
	report := saveTestReport(t, env.store, testutil.GenerateTestPayload())

	if _, err := env.server.Escalate(context.Background(), report); err != nil {
		t.Fatalf("Escalate() error = %v", err)
	}
	calls := env.tracker.Calls()
	if len(calls) != 1 || calls[0].AccessToken != hinted.AccessToken {
		t.Error("escalation should use the configured identity's token")
	}
}

func TestServer_Escalate_ConfiguredIdentityMissing(t *testing.T) {
	cfg := newTestConfig()
	cfg.Escalation.IdentityID = "404"
	env := newTestEnv(t, cfg)
	putCredential(t, env.store, "1", "octocat")
	report := saveTestReport(t, env.store, testutil.GenerateTestPayload())

	res, err := env.server.Escalate(context.Background(), report)
	if err != nil {
		t.Fatalf("Escalate() error = %v", err)
	}
	if res.Outcome != OutcomeSkippedNoCredential {
		t.Errorf("Outcome = %q", res.Outcome)
	}
}

func TestServer_Escalate_TrackerFailure(t *testing.T) {
	tests := []struct {
		name  string
		issue *tracker.Issue
		err   error
	}{
		{name: "error", err: errors.New("403 Resource not accessible")},
		{name: "empty url", issue: &tracker.Issue{Number: 1}},
		{name: "nil issue"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.tracker.CreateIssueFunc = func(context.Context, string, tracker.IssueRequest) (*tracker.Issue, error) {
				return tt.issue, tt.err
			}
			putCredential(t, env.store, "1", "octocat")
			report := saveTestReport(t, env.store, testutil.GenerateTestPayload())

			_, err := env.server.Escalate(context.Background(), report)
			if !errors.Is(err, ErrIssueCreationFailed) {
				t.Fatalf("error = %v, want ErrIssueCreationFailed", err)
			}

			stored, err := env.store.GetReport(context.Background(), report.ID)
			if err != nil {
				t.Fatalf("report should stay saved: %v", err)
			}
			if stored.IssueURL != "" {
				t.Error("no reference should be attached")
			}
		})
	}
}

func TestServer_Escalate_AttachFailureStillCreated(t *testing.T) {
	store := storagemock.NewMockStore()
	store.AttachReferenceFunc = func(context.Context, string, string) error {
		return errors.New("write conflict")
	}
	env := newTestEnvWithStore(t, nil, store)
	putCredential(t, store, "1", "octocat")
	report := saveTestReport(t, store, testutil.GenerateTestPayload())

	res, err := env.server.Escalate(context.Background(), report)
	if err != nil {
		t.Fatalf("Escalate() error = %v", err)
	}
	if res.Outcome != OutcomeCreated || res.ReferenceAttached || res.IssueURL == "" {
		t.Errorf("result = %+v", res)
	}
}

func TestServer_Escalate_CredentialStorageError(t *testing.T) {
	store := storagemock.NewMockStore()
	store.AnyCredentialFunc = func(context.Context) (*storage.Credential, error) {
		return nil, errors.New("connection refused")
	}
	env := newTestEnvWithStore(t, nil, store)
	report := saveTestReport(t, store, testutil.GenerateTestPayload())

	_, err := env.server.Escalate(context.Background(), report)
	if !errors.Is(err, ErrCredentialLookupFailed) || !errors.Is(err, ErrStorage) {
		t.Fatalf("error = %v, want ErrCredentialLookupFailed wrapping ErrStorage", err)
	}
	if herr := statusForError(err); herr.Code != ErrorCodeEscalationFailed || strings.Contains(herr.Description, "could not be stored") {
		t.Errorf("statusForError() = %+v, want an escalation failure", herr)
	}
}

func TestServer_Escalate_NoDeduplication(t *testing.T) {
	env := newTestEnv(t, nil)
	putCredential(t, env.store, "1", "octocat")

	for i := 0; i < 2; i++ {
		report := saveTestReport(t, env.store, testutil.GenerateTestPayload())
		if _, err := env.server.Escalate(context.Background(), report); err != nil {
			t.Fatalf("Escalate() error = %v", err)
		}
	}
	if n := len(env.tracker.Calls()); n != 2 {
		t.Errorf("tracker calls = %d, want 2", n)
	}
}

func TestIssueTitle(t *testing.T) {
	long := strings.Repeat("é", 200)

	tests := []struct {
		name    string
		payload map[string]any
		want    string
	}{
		{"message", map[string]any{"message": "TypeError: x is undefined"}, "[Crash] TypeError: x is undefined"},
		{"first line only", map[string]any{"message": "\n  boom  \nat foo"}, "[Crash] boom"},
		{"missing", map[string]any{}, "[Crash] Unknown error"},
		{"blank", map[string]any{"message": "   "}, "[Crash] Unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IssueTitle(&storage.CrashReport{Payload: tt.payload}); got != tt.want {
				t.Errorf("IssueTitle() = %q, want %q", got, tt.want)
			}
		})
	}

	got := IssueTitle(&storage.CrashReport{Payload: map[string]any{"message": long}})
	if n := utf8.RuneCountInString(got); n != MaxIssueTitleRunes {
		t.Errorf("truncated title has %d runes, want %d", n, MaxIssueTitleRunes)
	}
	if !utf8.ValidString(got) {
		t.Error("truncated title is not valid UTF-8")
	}
}

func TestIssueBody(t *testing.T) {
	report := &storage.CrashReport{
		ID:         "r-1",
		Payload:    testutil.GenerateTestPayload(),
		ReceivedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	body := IssueBody(report)
	for _, want := range []string{
		"TypeError: x is undefined",
		"```\nTypeError: x is undefined\n    at render (app.js:10:5)\n```",
		"https://app/page",
		"UA/1.0",
		"2026-03-01T12:00:00Z",
		"r-1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
}

func TestIssueBody_StackWithFence(t *testing.T) {
	report := &storage.CrashReport{Payload: map[string]any{"message": "m", "stack": "a ``` b"}}
	body := IssueBody(report)
	if !strings.Contains(body, "````\na ``` b\n````") {
		t.Errorf("stack fence not widened:\n%s", body)
	}
}
