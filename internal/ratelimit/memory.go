package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// window is the fixed window state of one client.
type window struct {
	start    time.Time
	count    int64
	lastSeen time.Time
}

// MemoryStore keeps fixed windows in process memory.
// All access to the window map is serialized by one mutex. Windows idle for longer
// than evictAfter are removed by the sweeper started with StartCleanup.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time

	evictAfter      time.Duration
	cleanupInterval time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// WithCleanupInterval sets how often the sweeper runs. Defaults to evictAfter.
func WithCleanupInterval(interval time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		s.cleanupInterval = interval
	}
}

// NewMemoryStore creates a MemoryStore that evicts windows after evictAfter of inactivity.
func NewMemoryStore(evictAfter time.Duration, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		windows:         make(map[string]*window),
		now:             time.Now,
		evictAfter:      evictAfter,
		cleanupInterval: evictAfter,
		stopChan:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Increment implements Store.
func (s *MemoryStore) Increment(_ context.Context, key string, length time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.windows[key]
	if !ok || now.Sub(w.start) >= length {
		w = &window{start: now}
		s.windows[key] = w
	}
	w.count++
	w.lastSeen = now

	return w.count, w.start.Add(length).Sub(now), nil
}

// StartCleanup starts the background sweeper.
// It stops when ctx is cancelled or Stop is called.
func (s *MemoryStore) StartCleanup(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.evictIdle()
			}
		}
	}()
}

// evictIdle removes windows not touched for evictAfter.
func (s *MemoryStore) evictIdle() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.evictAfter)
	evicted := 0
	for key, w := range s.windows {
		if !w.lastSeen.After(cutoff) {
			delete(s.windows, key)
			evicted++
		}
	}

	if evicted > 0 {
		log.Debug().
			Int("evicted", evicted).
			Int("remaining", len(s.windows)).
			Msg("Evicted idle rate limit windows")
	}
	return evicted
}

// Stop stops the sweeper and waits for it to exit. Safe to call multiple times.
func (s *MemoryStore) Stop() {
	s.once.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

// Size returns the number of tracked clients.
func (s *MemoryStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

var _ Store = (*MemoryStore)(nil)
