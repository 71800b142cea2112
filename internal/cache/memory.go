// Package cache is the process-local cache-aside tier. Entries live in memory
// only, expire after a per-entry TTL and are not shared between instances.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTTL applies when Set or GetOrSet is called with ttl <= 0.
const DefaultTTL = 300 * time.Second

// TierMemory is the tier label reported to the Observer.
const TierMemory = "memory"

// Observer receives hit/miss notifications, typically a metrics collector.
type Observer interface {
	ObserveCache(tier string, hit bool)
}

type entry struct {
	value     any
	expiresAt time.Time
}

// Stats mirrors the counters exposed on the health endpoint.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Keys   int   `json:"keys"`
}

// Store is a concurrency-safe TTL map. It provides no mutual exclusion around
// GetOrSet: concurrent misses on the same key may each compute, last write wins.
type Store struct {
	mu      sync.RWMutex
	entries map[Key]entry

	defaultTTL time.Duration
	now        func() time.Time
	log        zerolog.Logger
	observer   Observer

	hits   atomic.Int64
	misses atomic.Int64
}

// Option configures a Store.
type Option func(*Store)

// WithDefaultTTL overrides DefaultTTL.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.defaultTTL = ttl
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) {
		s.log = log.With().Str("component", "memory-cache").Logger()
	}
}

func WithObserver(o Observer) Option {
	return func(s *Store) {
		s.observer = o
	}
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		entries:    make(map[Key]entry),
		defaultTTL: DefaultTTL,
		now:        time.Now,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the live value for key. Expired entries are dropped lazily.
func (s *Store) Get(key Key) (any, bool) {
	v, ok := s.lookup(key)
	s.record(key, ok)
	return v, ok
}

func (s *Store) lookup(key Key) (any, bool) {
	now := s.now()

	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !now.Before(e.expiresAt) {
		s.mu.Lock()
		// Re-check: a concurrent Set may have refreshed the entry.
		if cur, still := s.entries[key]; still && !now.Before(cur.expiresAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

func (s *Store) record(key Key, hit bool) {
	if hit {
		s.hits.Add(1)
		s.log.Debug().Str("key", key.String()).Msg("Cache HIT")
	} else {
		s.misses.Add(1)
		s.log.Debug().Str("key", key.String()).Msg("Cache MISS")
	}
	if s.observer != nil {
		s.observer.ObserveCache(TierMemory, hit)
	}
}

// Set inserts or overwrites key. ttl <= 0 uses the store default.
func (s *Store) Set(key Key, value any, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	expiresAt := s.now().Add(ttl)

	s.mu.Lock()
	s.entries[key] = entry{value: value, expiresAt: expiresAt}
	s.mu.Unlock()

	s.log.Debug().Str("key", key.String()).Dur("ttl", ttl).Msg("Cache SET")
	return true
}

// Delete removes key and returns how many entries were removed (0 or 1).
func (s *Store) Delete(key Key) int {
	s.mu.Lock()
	_, ok := s.entries[key]
	delete(s.entries, key)
	s.mu.Unlock()

	if !ok {
		return 0
	}
	s.log.Debug().Str("key", key.String()).Msg("Cache DELETE")
	return 1
}

// Flush drops every entry. Intended for tests and admin use.
func (s *Store) Flush() {
	s.mu.Lock()
	s.entries = make(map[Key]entry)
	s.mu.Unlock()
	s.log.Info().Msg("Cache FLUSHED")
}

// Has reports whether a live entry exists without touching hit/miss counters.
func (s *Store) Has(key Key) bool {
	_, ok := s.lookup(key)
	return ok
}

// Sweep physically removes expired entries and returns how many were removed.
func (s *Store) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// Stats returns hit/miss counters and the number of stored keys (expired
// entries not yet swept included).
func (s *Store) Stats() Stats {
	s.mu.RLock()
	n := len(s.entries)
	s.mu.RUnlock()

	return Stats{
		Hits:   s.hits.Load(),
		Misses: s.misses.Load(),
		Keys:   n,
	}
}

// GetOrSet returns the cached V for key or computes, stores and returns it.
// A failed compute is returned as-is and nothing is stored. A cached value of
// a different type is treated as a miss.
func GetOrSet[V any](ctx context.Context, s *Store, key Key, ttl time.Duration, compute func(ctx context.Context) (V, error)) (V, error) {
	if raw, ok := s.lookup(key); ok {
		if v, typed := raw.(V); typed {
			s.record(key, true)
			return v, nil
		}
		s.log.Warn().Str("key", key.String()).Msg("cached value has unexpected type; recomputing")
	}
	s.record(key, false)

	s.log.Debug().Str("key", key.String()).Msg("Fetching fresh data")
	v, err := compute(ctx)
	if err != nil {
		var zero V
		return zero, err
	}

	s.Set(key, v, ttl)
	return v, nil
}
