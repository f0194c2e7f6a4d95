package security

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultRateLimitMaxEntries caps how many clients are tracked at once.
	DefaultRateLimitMaxEntries = 10000

	defaultRateLimitCleanupInterval = 5 * time.Minute
	defaultRateLimitMaxIdle         = 30 * time.Minute
)

// RateLimitConfig configures a RateLimiter.
type RateLimitConfig struct {
	// PerSecond is the sustained number of requests allowed per client.
	PerSecond float64

	// Burst is the number of requests a client may make at once.
	Burst int

	// MaxEntries bounds the number of tracked clients; the least recently
	// seen client is evicted when the bound is hit. Zero means the default.
	MaxEntries int

	// MaxIdle is how long an untouched client entry is kept (default 30m).
	MaxIdle time.Duration
}

type limiterEntry struct {
	key        string
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter is a per-key token bucket limiter with LRU eviction so that a
// flood of distinct client addresses cannot grow memory without bound.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List

	limit      rate.Limit
	burst      int
	maxEntries int
	maxIdle    time.Duration
	now        func() time.Time

	evictions int64
	logger    *slog.Logger
}

// NewRateLimiter creates a limiter. Call Run to start idle cleanup.
func NewRateLimiter(cfg RateLimitConfig, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultRateLimitMaxEntries
	}
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = defaultRateLimitMaxIdle
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	return &RateLimiter{
		entries:    make(map[string]*list.Element),
		lru:        list.New(),
		limit:      rate.Limit(cfg.PerSecond),
		burst:      cfg.Burst,
		maxEntries: cfg.MaxEntries,
		maxIdle:    cfg.MaxIdle,
		now:        time.Now,
		logger:     logger,
	}
}

// Allow reports whether a request for key may proceed now.
func (rl *RateLimiter) Allow(key string) bool {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if elem, ok := rl.entries[key]; ok {
		rl.lru.MoveToFront(elem)
		entry := elem.Value.(*limiterEntry)
		entry.lastAccess = now
		return entry.limiter.AllowN(now, 1)
	}

	if len(rl.entries) >= rl.maxEntries {
		rl.evictOldest()
	}

	entry := &limiterEntry{
		key:        key,
		limiter:    rate.NewLimiter(rl.limit, rl.burst),
		lastAccess: now,
	}
	rl.entries[key] = rl.lru.PushFront(entry)
	return entry.limiter.AllowN(now, 1)
}

// evictOldest must be called with rl.mu held.
func (rl *RateLimiter) evictOldest() {
	elem := rl.lru.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*limiterEntry)
	rl.lru.Remove(elem)
	delete(rl.entries, entry.key)
	rl.evictions++
	rl.logger.Debug("Rate limiter evicted client", "evictions", rl.evictions)
}

// Cleanup drops entries idle for longer than the configured MaxIdle and
// returns how many were removed.
func (rl *RateLimiter) Cleanup() int {
	cutoff := rl.now().Add(-rl.maxIdle)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for elem := rl.lru.Back(); elem != nil; {
		entry := elem.Value.(*limiterEntry)
		if entry.lastAccess.After(cutoff) {
			// the list is ordered by access time
			break
		}
		prev := elem.Prev()
		rl.lru.Remove(elem)
		delete(rl.entries, entry.key)
		removed++
		elem = prev
	}
	return removed
}

// Run performs periodic cleanup until ctx is cancelled.
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(defaultRateLimitCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := rl.Cleanup(); n > 0 {
				rl.logger.Debug("Rate limiter cleanup completed", "removed", n)
			}
		}
	}
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}
