package ratelimit

import (
	"testing"
	"time"
)

func newTestLimiter(cfg Config) (*Limiter, *time.Time) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	l := New(cfg, "test-salt")
	l.now = func() time.Time { return now }
	return l, &now
}

func TestCheckWindowLaw(t *testing.T) {
	const requests = 5
	l, now := newTestLimiter(Config{Requests: requests, Window: 15 * time.Minute})

	wantReset := now.Add(15 * time.Minute)
	for i := 0; i < requests; i++ {
		result := l.Check("203.0.113.10")
		if !result.Allowed {
			t.Fatalf("call %d: expected allowed", i+1)
		}
		if want := requests - 1 - i; result.Remaining != want {
			t.Errorf("call %d: remaining = %d, want %d", i+1, result.Remaining, want)
		}
		if !result.ResetTime.Equal(wantReset) {
			t.Errorf("call %d: resetTime = %v, want %v", i+1, result.ResetTime, wantReset)
		}
	}

	// Exceeding the ceiling must deny without extending the window.
	result := l.Check("203.0.113.10")
	if result.Allowed {
		t.Fatal("expected denial after limit reached")
	}
	if result.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", result.Remaining)
	}
	if !result.ResetTime.Equal(wantReset) {
		t.Errorf("resetTime = %v, want %v", result.ResetTime, wantReset)
	}

	// After the window elapses the counter starts over.
	*now = now.Add(15*time.Minute + time.Second)
	result = l.Check("203.0.113.10")
	if !result.Allowed {
		t.Fatal("expected allowance in fresh window")
	}
	if result.Remaining != requests-1 {
		t.Errorf("remaining = %d, want %d", result.Remaining, requests-1)
	}
}

func TestCheckIndependentIdentifiers(t *testing.T) {
	l, _ := newTestLimiter(Config{Requests: 1, Window: time.Minute})

	if !l.Check("a").Allowed {
		t.Fatal("first identifier should be allowed")
	}
	if l.Check("a").Allowed {
		t.Fatal("first identifier should now be denied")
	}
	if !l.Check("b").Allowed {
		t.Fatal("second identifier should have its own window")
	}
}

func TestCheckSweepsExpiredEntries(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	l := NewWithStore(Config{Requests: 10, Window: time.Minute}, "test-salt", store)
	l.now = func() time.Time { return now }

	l.Check("a")
	l.Check("b")
	if n := len(store.entries); n != 2 {
		t.Fatalf("entries = %d, want 2", n)
	}

	now = now.Add(2 * time.Minute)
	l.Check("c")
	// The expired a/b windows must be gone, only c remains.
	if n := len(store.entries); n != 1 {
		t.Fatalf("entries after sweep = %d, want 1", n)
	}
}

func TestKeysAreHashedAndSalted(t *testing.T) {
	store := NewMemoryStore()
	l := NewWithStore(Config{Requests: 10, Window: time.Minute}, "salt-1", store)
	l.Check("203.0.113.10")

	for key := range store.entries {
		if key == "203.0.113.10" {
			t.Fatal("raw identifier used as store key")
		}
		if len(key) != 64 {
			t.Errorf("key %q is not a sha256 hex digest", key)
		}
	}

	other := NewWithStore(Config{Requests: 10, Window: time.Minute}, "salt-2", NewMemoryStore())
	if l.key("203.0.113.10") == other.key("203.0.113.10") {
		t.Error("different salts produced identical keys")
	}
}

// recordingStore verifies the limiter works against any Store backend.
type recordingStore struct {
	*MemoryStore
	sweeps int
}

func (s *recordingStore) Sweep(now time.Time) {
	s.sweeps++
	s.MemoryStore.Sweep(now)
}

func TestCustomStoreBackend(t *testing.T) {
	store := &recordingStore{MemoryStore: NewMemoryStore()}
	l := NewWithStore(Config{Requests: 2, Window: time.Minute}, "test-salt", store)

	l.Check("a")
	l.Check("a")
	if !l.Check("b").Allowed {
		t.Fatal("unrelated identifier denied")
	}
	if store.sweeps != 3 {
		t.Errorf("sweeps = %d, want one per check", store.sweeps)
	}
}
