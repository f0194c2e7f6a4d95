package instrumentation

import (
	"context"
	"errors"
	"testing"
)

func newTestInstrumentation(t *testing.T) *Instrumentation {
	t.Helper()
	inst, err := New(Config{Enabled: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = inst.Shutdown(context.Background()) })
	return inst
}

func TestSpanHelpers(t *testing.T) {
	inst := newTestInstrumentation(t)

	_, span := inst.Tracer("server").Start(context.Background(), "test-span")
	defer span.End()

	RecordError(span, errors.New("test error"))
	SetSpanError(span, "failed")
	SetSpanSuccess(span)
	AddIdentityAttributes(span, "42", "octocat")
	AddEscalationAttributes(span, "report-1", "acme/app", "created")
	AddStorageAttributes(span, "put_credential", "memory")
	AddExternalAttributes(span, "github", "create_issue")
	AddHTTPAttributes(span, "GET", "/install", 302)
	AddSecurityAttributes(span, "192.0.2.10")
}

func TestSpanHelpers_NilSpan(t *testing.T) {
	// All helpers must be nil-safe.
	RecordError(nil, errors.New("test error"))
	SetSpanSuccess(nil)
	SetSpanError(nil, "failed")
	AddIdentityAttributes(nil, "42", "octocat")
	AddEscalationAttributes(nil, "report-1", "acme/app", "created")
	AddHTTPAttributes(nil, "GET", "/install", 302)
}
