package valkey

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/giantswarm/crashlink/storage"
)

// luaAttachReference stores the issue URL of a report unless one is already
// stored. The reference lives in its own key so the report JSON is never
// re-encoded by the script.
//
// KEYS[1] = report key (e.g., "crashlink:report:<uuid>")
// KEYS[2] = reference key (e.g., "crashlink:report:<uuid>:issue")
// ARGV[1] = issue URL
//
// Returns:
//   - "OK" when the reference was written
//   - "NOT_FOUND" if the report does not exist
//   - "ALREADY_SET" if the report already carries a reference
const luaAttachReference = `
if redis.call('EXISTS', KEYS[1]) == 0 then
    return 'NOT_FOUND'
end
if redis.call('SET', KEYS[2], ARGV[1], 'NX') then
    return 'OK'
end
return 'ALREADY_SET'
`

// SaveReport stores a crash report under a generated ID.
func (s *Store) SaveReport(ctx context.Context, payload map[string]any, receivedAt time.Time) (_ *storage.CrashReport, err error) {
	ctx, span := s.startSpan(ctx, "save_report")
	defer span.End()
	defer s.record(ctx, span, "save_report", time.Now(), &err)

	report := &storage.CrashReport{
		ID:         uuid.NewString(),
		Payload:    storage.ClonePayload(payload),
		ReceivedAt: receivedAt.UTC(),
	}

	data, err := marshalRecord(report)
	if err != nil {
		return nil, err
	}

	err = s.client.Do(ctx,
		s.client.B().Set().Key(s.reportKey(report.ID)).Value(data).Nx().Build(),
	).Error()
	if isNilError(err) {
		return nil, fmt.Errorf("crash report %s already exists", report.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to save crash report: %w", err)
	}

	if err := s.client.Do(ctx, s.client.B().Incr().Key(s.reportCounterKey()).Build()).Error(); err != nil {
		s.logger.Warn("Failed to increment report counter", "error", err)
	}

	s.logger.Debug("Saved crash report", "report_id", report.ID)
	return report, nil
}

// GetReport returns a stored crash report.
func (s *Store) GetReport(ctx context.Context, id string) (_ *storage.CrashReport, err error) {
	ctx, span := s.startSpan(ctx, "get_report")
	defer span.End()
	defer s.record(ctx, span, "get_report", time.Now(), &err)

	report, err := getJSON[storage.CrashReport](ctx, s, s.reportKey(id))
	if err != nil {
		return nil, err
	}

	issueURL, err := s.client.Do(ctx, s.client.B().Get().Key(s.referenceKey(id)).Build()).ToString()
	switch {
	case err == nil:
		report.IssueURL = issueURL
	case !isNilError(err):
		return nil, fmt.Errorf("failed to get reference: %w", err)
	}
	return report, nil
}

// AttachReference sets the issue URL of a report exactly once.
//
// SECURITY: This operation is atomic via Lua script - concurrent escalations
// cannot overwrite each other's reference.
func (s *Store) AttachReference(ctx context.Context, id, issueURL string) (err error) {
	ctx, span := s.startSpan(ctx, "attach_reference")
	defer span.End()
	defer s.record(ctx, span, "attach_reference", time.Now(), &err)

	if issueURL == "" {
		return fmt.Errorf("issue url cannot be empty")
	}

	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaAttachReference).
			Numkeys(2).
			Key(s.reportKey(id), s.referenceKey(id)).
			Arg(issueURL).
			Build(),
	).ToString()
	if err != nil {
		return fmt.Errorf("failed to attach reference: %w", err)
	}

	switch result {
	case "OK":
		return nil
	case "NOT_FOUND":
		return storage.ErrNotFound
	case "ALREADY_SET":
		return storage.ErrReferenceAlreadySet
	default:
		return fmt.Errorf("unexpected attach reference result %q", result)
	}
}
