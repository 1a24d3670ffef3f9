package counter

import (
	"context"
	"sync"
	"time"

	"medgate/internal/ratelimit/models"
)

// MemoryStore is a process-local fixed-window CounterStore. It backs the
// limiter when no shared store is configured and serves as the local
// fallback while the shared store is down.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[models.Key]*fixedWindow
	now     func() time.Time
}

// fixedWindow holds the hit count of one key until expiresAt.
type fixedWindow struct {
	count     int
	expiresAt time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		windows: make(map[models.Key]*fixedWindow),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Increment counts one hit for key. A window that has elapsed is reset
// lazily on the next hit.
func (s *MemoryStore) Increment(ctx context.Context, key models.Key, window time.Duration) (models.Counter, error) {
	if err := ctx.Err(); err != nil {
		return models.Counter{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w := s.windows[key]
	if w == nil || !now.Before(w.expiresAt) {
		w = &fixedWindow{expiresAt: now.Add(window)}
		s.windows[key] = w
	}
	w.count++
	return models.Counter{Count: w.count, TTL: w.expiresAt.Sub(now)}, nil
}

// Sweep evicts elapsed windows and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, w := range s.windows {
		if !now.Before(w.expiresAt) {
			delete(s.windows, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// RunJanitor sweeps every interval until ctx is cancelled.
func (s *MemoryStore) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
