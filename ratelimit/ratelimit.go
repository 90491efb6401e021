package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Entry is the per-key counter state for one fixed window.
type Entry struct {
	Count     int
	ResetTime time.Time
}

// Store persists rate limit counters. Keys are salted hashes, never raw
// client identifiers. Sweep drops entries whose window has passed; a
// backend with native TTL support may implement it as a no-op.
type Store interface {
	Get(key string) (Entry, bool)
	Set(key string, entry Entry)
	Delete(key string)
	Sweep(now time.Time)
}

type Config struct {
	Requests int
	Window   time.Duration
}

type Result struct {
	Allowed   bool
	Remaining int
	ResetTime time.Time
}

// Limiter is a fixed-window counter. A burst of up to 2x Requests can
// slip through around a window boundary; that is the intended tradeoff
// of the fixed window, not a bug.
type Limiter struct {
	cfg   Config
	salt  string
	store Store
	now   func() time.Time
}

func New(cfg Config, salt string) *Limiter {
	return NewWithStore(cfg, salt, NewMemoryStore())
}

func NewWithStore(cfg Config, salt string, store Store) *Limiter {
	return &Limiter{
		cfg:   cfg,
		salt:  salt,
		store: store,
		now:   time.Now,
	}
}

// Check records one request for identifier and reports whether it is
// within the configured limit. The get-then-set against the store is
// not atomic: two concurrent requests near the limit can both pass.
// Known limitation of the in-memory backend.
func (l *Limiter) Check(identifier string) Result {
	now := l.now()
	l.store.Sweep(now)

	key := l.key(identifier)
	entry, ok := l.store.Get(key)

	if !ok || !now.Before(entry.ResetTime) {
		// First request, or the previous window has expired.
		reset := now.Add(l.cfg.Window)
		l.store.Set(key, Entry{Count: 1, ResetTime: reset})
		return Result{Allowed: true, Remaining: l.cfg.Requests - 1, ResetTime: reset}
	}

	if entry.Count >= l.cfg.Requests {
		return Result{Allowed: false, Remaining: 0, ResetTime: entry.ResetTime}
	}

	entry.Count++
	l.store.Set(key, entry)
	return Result{Allowed: true, Remaining: l.cfg.Requests - entry.Count, ResetTime: entry.ResetTime}
}

func (l *Limiter) key(identifier string) string {
	sum := sha256.Sum256([]byte("rate_limit:" + identifier + l.salt))
	return hex.EncodeToString(sum[:])
}

// MemoryStore is the default single-process backend. A multi-instance
// deployment should swap in a store backed by a shared atomic counter.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Get(key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	return entry, ok
}

func (s *MemoryStore) Set(key string, entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry
}

func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

func (s *MemoryStore) Sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entry := range s.entries {
		if !now.Before(entry.ResetTime) {
			delete(s.entries, key)
		}
	}
}
