package security

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestRateLimiter_AllowUpToBurst(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{PerSecond: 1, Burst: 3}, nil)
	base := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return base }

	for i := range 3 {
		if !rl.Allow("1.2.3.4") {
			t.Errorf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("1.2.3.4") {
		t.Error("request beyond burst should be denied")
	}

	rl.now = func() time.Time { return base.Add(time.Second) }
	if !rl.Allow("1.2.3.4") {
		t.Error("request should be allowed after the bucket refills")
	}
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{PerSecond: 1, Burst: 1}, nil)

	if !rl.Allow("a") {
		t.Fatal("first request for a should be allowed")
	}
	if rl.Allow("a") {
		t.Error("second request for a should be denied")
	}
	if !rl.Allow("b") {
		t.Error("b must not be limited by a")
	}
}

func TestRateLimiter_LRUEviction(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{PerSecond: 1, Burst: 1, MaxEntries: 2}, nil)

	rl.Allow("a")
	rl.Allow("b")
	rl.Allow("a") // a becomes most recent
	rl.Allow("c") // evicts b

	if rl.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", rl.Len())
	}
	if _, ok := rl.entries["b"]; ok {
		t.Error("b should have been evicted")
	}
	if _, ok := rl.entries["a"]; !ok {
		t.Error("a should still be tracked")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{PerSecond: 1, Burst: 1, MaxIdle: time.Minute}, nil)
	base := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	rl.now = func() time.Time { return base }
	for i := range 3 {
		rl.Allow(fmt.Sprintf("old-%d", i))
	}
	rl.now = func() time.Time { return base.Add(50 * time.Second) }
	rl.Allow("fresh")

	rl.now = func() time.Time { return base.Add(90 * time.Second) }
	if removed := rl.Cleanup(); removed != 3 {
		t.Errorf("Cleanup() removed %d, want 3", removed)
	}
	if rl.Len() != 1 {
		t.Errorf("Len() = %d, want 1", rl.Len())
	}
}

func TestRateLimiter_RunStopsOnCancel(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{PerSecond: 1, Burst: 1}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		rl.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{PerSecond: 2}, nil)
	if rl.maxEntries != DefaultRateLimitMaxEntries {
		t.Errorf("maxEntries = %d, want %d", rl.maxEntries, DefaultRateLimitMaxEntries)
	}
	if rl.burst != 1 {
		t.Errorf("burst = %d, want 1", rl.burst)
	}
	if rl.logger == nil {
		t.Error("logger should default to slog.Default()")
	}
}
