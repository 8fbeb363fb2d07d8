// Package ratelimit implements the multi-key sliding-window-log limiter
// from spec §4.6. It is hand-rolled rather than golang.org/x/time/rate
// because x/time/rate's token bucket cannot express "N requests in the
// last W seconds" with an exact Retry-After derived from the oldest
// surviving entry — see DESIGN.md.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/lockergrid/core/internal/metrics"
)

// Rule is one key class's window: at most Limit requests per Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Store persists per-key timestamp windows. Limiter ships a process-local
// Store; RedisStore (redis.go) backs it for multi-replica deployments.
type Store interface {
	// Record appends now to key's window, prunes entries older than
	// window, and returns the timestamps remaining (including now).
	Record(ctx context.Context, key string, now time.Time, window time.Duration) ([]time.Time, error)
}

// Limiter enforces Rule per key class.
type Limiter struct {
	store Store
	rules map[string]Rule
}

func New(store Store, rules map[string]Rule) *Limiter {
	return &Limiter{store: store, rules: rules}
}

// DefaultRules matches the exact keys and windows spec §4.6 names.
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		"qr_ip":      {Limit: 30, Window: 60 * time.Second},
		"qr_locker":  {Limit: 6, Window: 60 * time.Second},
		"qr_device":  {Limit: 1, Window: 20 * time.Second},
		"master_pin": {Limit: 5, Window: 300 * time.Second},
	}
}

// Decision reports whether the request is allowed and, if not, how long
// the caller should wait before retrying.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Allow checks keyClass+key against its configured rule. An unconfigured
// keyClass is always allowed (fail-open on a programming error, not a
// security boundary — callers must only pass configured classes).
func (l *Limiter) Allow(ctx context.Context, keyClass, key string) (Decision, error) {
	rule, ok := l.rules[keyClass]
	if !ok {
		return Decision{Allowed: true}, nil
	}
	now := time.Now()
	hits, err := l.store.Record(ctx, keyClass+":"+key, now, rule.Window)
	if err != nil {
		return Decision{}, err
	}
	if len(hits) <= rule.Limit {
		return Decision{Allowed: true}, nil
	}
	metrics.RateLimitExceeded.WithLabelValues(keyClass).Inc()
	oldest := hits[0]
	retryAfter := rule.Window - now.Sub(oldest)
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return Decision{Allowed: false, RetryAfter: retryAfter}, nil
}

// MemoryStore is a single-process sliding-window log. One mutex guards
// every key's window, so keys do not lock independently. Windows are
// purged lazily on access (spec §4.6) by a linear scan of the key's
// timestamps.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string][]time.Time)}
}

func (s *MemoryStore) Record(ctx context.Context, key string, now time.Time, window time.Duration) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-window)
	kept := s.windows[key][:0]
	for _, t := range s.windows[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	s.windows[key] = kept
	return append([]time.Time(nil), kept...), nil
}
