package memory

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/giantswarm/crashlink/instrumentation"
	"github.com/giantswarm/crashlink/internal/testutil"
	"github.com/giantswarm/crashlink/storage"
	"github.com/giantswarm/crashlink/storage/storagetest"
)

func TestStore_Conformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		s := New()
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := New()
	ctx := context.Background()

	payload := testutil.GenerateTestPayload()
	report, err := s.SaveReport(ctx, payload, time.Now())
	testutil.AssertNoError(t, err)

	payload["message"] = "mutated by caller"
	report.Payload["message"] = "mutated copy"

	got, err := s.GetReport(ctx, report.ID)
	testutil.AssertNoError(t, err)
	if got.Message() != "TypeError: x is undefined" {
		t.Errorf("stored payload was mutated through a caller reference: %q", got.Message())
	}
}

func TestStore_DoesNotLogAccessToken(t *testing.T) {
	var buf bytes.Buffer
	s := New()
	s.SetLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	cred := testutil.GenerateTestCredential("7", "octocat")
	testutil.AssertNoError(t, s.PutCredential(context.Background(), cred))

	if strings.Contains(buf.String(), cred.AccessToken) {
		t.Error("access token must never be logged")
	}
}

func TestStore_WithInstrumentation(t *testing.T) {
	inst, err := instrumentation.New(instrumentation.Config{Enabled: true, MetricsExporter: instrumentation.MetricsExporterPrometheus})
	testutil.AssertNoError(t, err)
	defer func() { _ = inst.Shutdown(context.Background()) }()

	s := New()
	s.SetInstrumentation(inst)

	ctx := context.Background()
	testutil.AssertNoError(t, s.PutCredential(ctx, testutil.GenerateTestCredential("1", "a")))
	testutil.AssertNoError(t, s.PutCredential(ctx, testutil.GenerateTestCredential("1", "a")))
	_, err = s.SaveReport(ctx, testutil.GenerateTestPayload(), time.Now())
	testutil.AssertNoError(t, err)
	_, _ = s.GetCredential(ctx, "missing")

	if got := s.credentialsCountAtomic.Load(); got != 1 {
		t.Errorf("credentials count = %d, want 1", got)
	}
	if got := s.reportsCountAtomic.Load(); got != 1 {
		t.Errorf("reports count = %d, want 1", got)
	}
}
