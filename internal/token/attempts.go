package token

import (
	"context"
	"sync"
	"time"

	"github.com/koios/trmnl-server/internal/clock"
)

// AttemptTracker counts capability mismatches per device so repeated
// guessing against one friendly-id can be observed and, when a limit is
// configured, refused.
type AttemptTracker interface {
	// RecordFailure counts one mismatch and returns the count in the
	// current window.
	RecordFailure(ctx context.Context, friendlyID string) (int64, error)
	// Blocked reports whether the device reached the failure limit.
	Blocked(ctx context.Context, friendlyID string) (bool, error)
}

// Counter is a windowed counter store, implemented by internal/redis.Client
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
	Count(ctx context.Context, key string) (int64, error)
}

func failureKey(friendlyID string) string {
	return "token_failures/" + friendlyID
}

// RedisAttemptTracker keeps counters in Redis so they are shared across
// restarts of a single instance.
type RedisAttemptTracker struct {
	counter Counter
	window  time.Duration
	limit   int64
}

// NewRedisAttemptTracker creates a tracker backed by counter. A limit of
// zero never blocks.
func NewRedisAttemptTracker(counter Counter, window time.Duration, limit int64) *RedisAttemptTracker {
	return &RedisAttemptTracker{counter: counter, window: window, limit: limit}
}

// RecordFailure increments the device's failure counter
func (r *RedisAttemptTracker) RecordFailure(ctx context.Context, friendlyID string) (int64, error) {
	return r.counter.Incr(ctx, failureKey(friendlyID), r.window)
}

// Blocked reports whether the device's counter reached the limit
func (r *RedisAttemptTracker) Blocked(ctx context.Context, friendlyID string) (bool, error) {
	if r.limit <= 0 {
		return false, nil
	}
	count, err := r.counter.Count(ctx, failureKey(friendlyID))
	if err != nil {
		return false, err
	}
	return count >= r.limit, nil
}

type attemptWindow struct {
	start time.Time
	count int64
}

// MemoryAttemptTracker is the in-process tracker used when Redis is not
// configured.
type MemoryAttemptTracker struct {
	mu      sync.Mutex
	clock   clock.Clock
	window  time.Duration
	limit   int64
	entries map[string]*attemptWindow
}

// NewMemoryAttemptTracker creates an in-memory tracker. A limit of zero
// never blocks.
func NewMemoryAttemptTracker(clk clock.Clock, window time.Duration, limit int64) *MemoryAttemptTracker {
	return &MemoryAttemptTracker{
		clock:   clk,
		window:  window,
		limit:   limit,
		entries: make(map[string]*attemptWindow),
	}
}

// current returns the live window for friendlyID, dropping an elapsed one.
// Callers hold m.mu.
func (m *MemoryAttemptTracker) current(friendlyID string, now time.Time) *attemptWindow {
	w, ok := m.entries[friendlyID]
	if ok && now.Sub(w.start) >= m.window {
		delete(m.entries, friendlyID)
		return nil
	}
	return w
}

// RecordFailure increments the device's failure counter
func (m *MemoryAttemptTracker) RecordFailure(_ context.Context, friendlyID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	w := m.current(friendlyID, now)
	if w == nil {
		w = &attemptWindow{start: now}
		m.entries[friendlyID] = w
	}
	w.count++
	return w.count, nil
}

// Blocked reports whether the device's counter reached the limit
func (m *MemoryAttemptTracker) Blocked(_ context.Context, friendlyID string) (bool, error) {
	if m.limit <= 0 {
		return false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	w := m.current(friendlyID, m.clock.Now())
	return w != nil && w.count >= m.limit, nil
}
