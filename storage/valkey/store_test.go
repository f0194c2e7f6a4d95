package valkey

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/giantswarm/crashlink/internal/testutil"
	"github.com/giantswarm/crashlink/storage"
	"github.com/giantswarm/crashlink/storage/storagetest"
)

// testStore creates a test store connected to a local Valkey instance.
// Tests will be skipped if the connection fails. Each test gets a unique
// prefix so parallel runs do not interfere.
func testStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("VALKEY_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	store, err := New(Config{
		Address:   addr,
		KeyPrefix: fmt.Sprintf("crashlinktest:%s:", t.Name()),
	})
	if err != nil {
		t.Skipf("Skipping test: could not connect to Valkey at %s: %v", addr, err)
	}

	t.Cleanup(func() {
		cleanupTestKeys(t, store)
		_ = store.Close()
	})

	cleanupTestKeys(t, store)
	return store
}

// cleanupTestKeys removes all test keys from Valkey
func cleanupTestKeys(t *testing.T, s *Store) {
	t.Helper()

	ctx := context.Background()
	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(s.prefix+"*").Count(100).Build(),
		).AsScanEntry()
		if err != nil {
			t.Logf("Warning: failed to scan for cleanup: %v", err)
			return
		}

		for _, key := range result.Elements {
			_ = s.client.Do(ctx, s.client.B().Del().Key(key).Build())
		}

		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}
}

func TestNew_MissingAddress(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("Expected error for missing address")
	}
}

func TestNew_InvalidAddress(t *testing.T) {
	if _, err := New(Config{Address: "invalid:99999"}); err == nil {
		t.Error("Expected error for invalid address")
	}
}

func TestStore_Conformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return testStore(t)
	})
}

func TestStore_AttachReferenceConcurrent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	report, err := s.SaveReport(ctx, testutil.GenerateTestPayload(), time.Now())
	testutil.AssertNoError(t, err)

	const n = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		attached int
	)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.AttachReference(ctx, report.ID, fmt.Sprintf("https://github.com/acme/app/issues/%d", i))
			if err == nil {
				mu.Lock()
				attached++
				mu.Unlock()
				return
			}
			if !errors.Is(err, storage.ErrReferenceAlreadySet) {
				t.Errorf("AttachReference() unexpected error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	if attached != 1 {
		t.Errorf("attached = %d, want exactly 1", attached)
	}
}

func TestStore_AnyCredentialPrunesDanglingIndex(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	older := testutil.GenerateTestCredential("1", "old")
	older.IssuedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := testutil.GenerateTestCredential("2", "new")
	newer.IssuedAt = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	testutil.AssertNoError(t, s.PutCredential(ctx, older))
	testutil.AssertNoError(t, s.PutCredential(ctx, newer))

	// Simulate the credential key disappearing behind the index.
	testutil.AssertNoError(t, s.client.Do(ctx, s.client.B().Del().Key(s.credentialKey("2")).Build()).Error())

	got, err := s.AnyCredential(ctx)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got.IdentityID, "1")

	remaining := s.credentialCount()
	if remaining != 1 {
		t.Errorf("credential index size = %d, want 1", remaining)
	}
}

func TestStore_ReportCounter(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for range 3 {
		_, err := s.SaveReport(ctx, testutil.GenerateTestPayload(), time.Now())
		testutil.AssertNoError(t, err)
	}
	if got := s.reportCount(); got != 3 {
		t.Errorf("reportCount() = %d, want 3", got)
	}
}

func TestMarshalRecord_TooLarge(t *testing.T) {
	big := make([]byte, maxRecordSize+1)
	for i := range big {
		big[i] = 'a'
	}
	_, err := marshalRecord(map[string]string{"blob": string(big)})
	if !errors.Is(err, errRecordTooLarge) {
		t.Errorf("marshalRecord() error = %v, want errRecordTooLarge", err)
	}
}
