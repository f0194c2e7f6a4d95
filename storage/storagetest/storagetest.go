// Package storagetest provides a behavioural test suite shared by every
// storage backend.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/giantswarm/crashlink/internal/testutil"
	"github.com/giantswarm/crashlink/storage"
)

// Factory returns an empty store for a single subtest.
type Factory func(t *testing.T) storage.Store

// Run executes the shared suite against the stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"PutAndGetCredential", testPutAndGetCredential},
		{"PutCredentialOverwrites", testPutCredentialOverwrites},
		{"PutCredentialValidates", testPutCredentialValidates},
		{"GetCredentialNotFound", testGetCredentialNotFound},
		{"AnyCredentialEmpty", testAnyCredentialEmpty},
		{"AnyCredentialNewest", testAnyCredentialNewest},
		{"ConcurrentPutsForDifferentIdentities", testConcurrentPuts},
		{"SaveAndGetReport", testSaveAndGetReport},
		{"SaveReportGeneratesUniqueIDs", testSaveReportUniqueIDs},
		{"GetReportNotFound", testGetReportNotFound},
		{"AttachReference", testAttachReference},
		{"AttachReferenceOnce", testAttachReferenceOnce},
		{"AttachReferenceUnknownReport", testAttachReferenceUnknown},
		{"AccountLinkUpsert", testAccountLinkUpsert},
		{"CallerSpanStaysOpen", testCallerSpanStaysOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func testPutAndGetCredential(t *testing.T, s storage.Store) {
	ctx := context.Background()
	cred := testutil.GenerateTestCredential("1001", "octocat")

	testutil.AssertNoError(t, s.PutCredential(ctx, cred))

	got, err := s.GetCredential(ctx, "1001")
	testutil.AssertNoError(t, err)
	if got.AccessToken != cred.AccessToken {
		t.Errorf("AccessToken mismatch")
	}
	if got.Login != "octocat" {
		t.Errorf("Login = %q, want octocat", got.Login)
	}
	if got.Scope != cred.Scope {
		t.Errorf("Scope = %q, want %q", got.Scope, cred.Scope)
	}
	if !got.IssuedAt.Equal(cred.IssuedAt) {
		t.Errorf("IssuedAt = %v, want %v", got.IssuedAt, cred.IssuedAt)
	}
}

func testPutCredentialOverwrites(t *testing.T, s storage.Store) {
	ctx := context.Background()
	first := testutil.GenerateTestCredential("1001", "octocat")
	second := testutil.GenerateTestCredential("1001", "octocat-renamed")
	second.IssuedAt = first.IssuedAt.Add(time.Minute)

	testutil.AssertNoError(t, s.PutCredential(ctx, first))
	testutil.AssertNoError(t, s.PutCredential(ctx, second))

	got, err := s.GetCredential(ctx, "1001")
	testutil.AssertNoError(t, err)
	if got.AccessToken != second.AccessToken {
		t.Error("second PutCredential should overwrite the first")
	}
	if got.Login != "octocat-renamed" {
		t.Errorf("Login = %q, want octocat-renamed", got.Login)
	}

	anyCred, err := s.AnyCredential(ctx)
	testutil.AssertNoError(t, err)
	if anyCred.IdentityID != "1001" {
		t.Errorf("AnyCredential().IdentityID = %q, want 1001", anyCred.IdentityID)
	}
}

func testPutCredentialValidates(t *testing.T, s storage.Store) {
	ctx := context.Background()
	testutil.AssertError(t, s.PutCredential(ctx, nil))
	testutil.AssertError(t, s.PutCredential(ctx, &storage.Credential{AccessToken: "t"}))
	testutil.AssertError(t, s.PutCredential(ctx, &storage.Credential{IdentityID: "1"}))
}

func testGetCredentialNotFound(t *testing.T, s storage.Store) {
	_, err := s.GetCredential(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetCredential() error = %v, want ErrNotFound", err)
	}
}

func testAnyCredentialEmpty(t *testing.T, s storage.Store) {
	_, err := s.AnyCredential(context.Background())
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("AnyCredential() error = %v, want ErrNotFound", err)
	}
}

func testAnyCredentialNewest(t *testing.T, s storage.Store) {
	ctx := context.Background()
	older := testutil.GenerateTestCredential("1", "old")
	newer := testutil.GenerateTestCredential("2", "new")
	older.IssuedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer.IssuedAt = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	testutil.AssertNoError(t, s.PutCredential(ctx, newer))
	testutil.AssertNoError(t, s.PutCredential(ctx, older))

	got, err := s.AnyCredential(ctx)
	testutil.AssertNoError(t, err)
	if got.IdentityID != "2" {
		t.Errorf("AnyCredential().IdentityID = %q, want 2", got.IdentityID)
	}
}

func testConcurrentPuts(t *testing.T, s storage.Store) {
	ctx := context.Background()
	const n = 10

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.PutCredential(ctx, testutil.GenerateTestCredential(fmt.Sprintf("id-%d", i), fmt.Sprintf("user-%d", i)))
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		testutil.AssertNoError(t, err)
	}
	for i := range n {
		if _, err := s.GetCredential(ctx, fmt.Sprintf("id-%d", i)); err != nil {
			t.Errorf("GetCredential(id-%d) error = %v", i, err)
		}
	}
}

func testSaveAndGetReport(t *testing.T, s storage.Store) {
	ctx := context.Background()
	receivedAt := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	payload := testutil.GenerateTestPayload()

	report, err := s.SaveReport(ctx, payload, receivedAt)
	testutil.AssertNoError(t, err)
	if report.ID == "" {
		t.Fatal("SaveReport() should generate an ID")
	}

	got, err := s.GetReport(ctx, report.ID)
	testutil.AssertNoError(t, err)
	if got.Message() != "TypeError: x is undefined" {
		t.Errorf("Message() = %q", got.Message())
	}
	if got.URL() != "https://app/page" {
		t.Errorf("URL() = %q", got.URL())
	}
	if got.UserAgent() != "UA/1.0" {
		t.Errorf("UserAgent() = %q", got.UserAgent())
	}
	if !got.ReceivedAt.Equal(receivedAt) {
		t.Errorf("ReceivedAt = %v, want %v", got.ReceivedAt, receivedAt)
	}
	if got.IssueURL != "" {
		t.Errorf("IssueURL = %q, want empty", got.IssueURL)
	}
}

func testSaveReportUniqueIDs(t *testing.T, s storage.Store) {
	ctx := context.Background()
	payload := testutil.GenerateTestPayload()

	a, err := s.SaveReport(ctx, payload, time.Now())
	testutil.AssertNoError(t, err)
	b, err := s.SaveReport(ctx, payload, time.Now())
	testutil.AssertNoError(t, err)
	if a.ID == b.ID {
		t.Error("identical payloads must still be stored as separate reports")
	}
}

func testGetReportNotFound(t *testing.T, s storage.Store) {
	_, err := s.GetReport(context.Background(), "00000000-0000-0000-0000-000000000000")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetReport() error = %v, want ErrNotFound", err)
	}
}

func testAttachReference(t *testing.T, s storage.Store) {
	ctx := context.Background()
	report, err := s.SaveReport(ctx, testutil.GenerateTestPayload(), time.Now())
	testutil.AssertNoError(t, err)

	const issueURL = "https://github.com/acme/app/issues/7"
	testutil.AssertNoError(t, s.AttachReference(ctx, report.ID, issueURL))

	got, err := s.GetReport(ctx, report.ID)
	testutil.AssertNoError(t, err)
	if got.IssueURL != issueURL {
		t.Errorf("IssueURL = %q, want %q", got.IssueURL, issueURL)
	}
	if got.Message() != "TypeError: x is undefined" {
		t.Error("attaching a reference must not alter the payload")
	}
}

func testAttachReferenceOnce(t *testing.T, s storage.Store) {
	ctx := context.Background()
	report, err := s.SaveReport(ctx, testutil.GenerateTestPayload(), time.Now())
	testutil.AssertNoError(t, err)

	testutil.AssertNoError(t, s.AttachReference(ctx, report.ID, "https://github.com/acme/app/issues/1"))
	err = s.AttachReference(ctx, report.ID, "https://github.com/acme/app/issues/2")
	if !errors.Is(err, storage.ErrReferenceAlreadySet) {
		t.Errorf("second AttachReference() error = %v, want ErrReferenceAlreadySet", err)
	}

	got, err := s.GetReport(ctx, report.ID)
	testutil.AssertNoError(t, err)
	if got.IssueURL != "https://github.com/acme/app/issues/1" {
		t.Errorf("IssueURL = %q, the first reference must be kept", got.IssueURL)
	}
}

func testAttachReferenceUnknown(t *testing.T, s storage.Store) {
	err := s.AttachReference(context.Background(), "00000000-0000-0000-0000-000000000000", "https://github.com/acme/app/issues/1")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("AttachReference() error = %v, want ErrNotFound", err)
	}
}

func testAccountLinkUpsert(t *testing.T, s storage.Store) {
	ctx := context.Background()

	testutil.AssertNoError(t, s.PutAccountLink(ctx, &storage.AccountLink{ChatUser: "u1", GitHubLogin: "first", UpdatedAt: time.Now()}))
	testutil.AssertNoError(t, s.PutAccountLink(ctx, &storage.AccountLink{ChatUser: "u1", GitHubLogin: "second", UpdatedAt: time.Now()}))

	got, err := s.GetAccountLink(ctx, "u1")
	testutil.AssertNoError(t, err)
	if got.GitHubLogin != "second" {
		t.Errorf("GitHubLogin = %q, want second", got.GitHubLogin)
	}

	if _, err := s.GetAccountLink(ctx, "nobody"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetAccountLink() error = %v, want ErrNotFound", err)
	}
	testutil.AssertError(t, s.PutAccountLink(ctx, &storage.AccountLink{ChatUser: "u2"}))
}

// testCallerSpanStaysOpen checks that an uninstrumented store never ends the
// span it finds in the caller's context.
func testCallerSpanStaysOpen(t *testing.T, s storage.Store) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("storagetest").Start(context.Background(), "crashlink.escalate")
	defer span.End()

	report, err := s.SaveReport(ctx, testutil.GenerateTestPayload(), time.Now())
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, s.AttachReference(ctx, report.ID, "https://github.com/acme/app/issues/1"))
	testutil.AssertNoError(t, s.PutCredential(ctx, testutil.GenerateTestCredential("1", "octocat")))
	if _, err := s.GetCredential(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetCredential() error = %v, want ErrNotFound", err)
	}

	if !span.IsRecording() {
		t.Error("caller span was ended by the store")
	}
	if n := len(recorder.Ended()); n != 0 {
		t.Errorf("ended spans = %d, want 0", n)
	}
}
