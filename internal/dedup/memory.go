// Package dedup remembers EventSub message ids so Twitch retries are acted
// on once. This is the in-process backend; internal/redis has a shared one.
package dedup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/redeemcast/internal/metrics"
)

// MemoryStore is a TTL set of message ids.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time // message id -> expiry
	ttl     time.Duration
	clock   clockwork.Clock
}

// NewMemoryStore creates a store that remembers a claimed id for at least ttl.
func NewMemoryStore(ttl time.Duration, clock clockwork.Clock) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		clock:   clock,
	}
}

// Claim returns true the first time messageID is seen. The entry lives for
// the longer of ttl and the store's own TTL.
func (s *MemoryStore) Claim(_ context.Context, messageID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if expiresAt, ok := s.entries[messageID]; ok && now.Before(expiresAt) {
		return false, nil
	}
	s.entries[messageID] = now.Add(max(ttl, s.ttl))
	return true, nil
}

// Size returns the current number of entries (including expired).
func (s *MemoryStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// EvictExpired removes all expired entries and returns the count evicted.
func (s *MemoryStore) EvictExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	evicted := 0
	for id, expiresAt := range s.entries {
		if !now.Before(expiresAt) {
			delete(s.entries, id)
			evicted++
		}
	}
	return evicted
}

// StartEvictionTimer starts a background goroutine that periodically evicts expired entries.
// Returns a stop function that should be called to clean up the goroutine.
func (s *MemoryStore) StartEvictionTimer(interval time.Duration) func() {
	ticker := s.clock.NewTicker(interval)
	done := make(chan struct{})
	var once sync.Once

	go func() {
		for {
			select {
			case <-ticker.Chan():
				evicted := s.EvictExpired()
				if evicted > 0 {
					slog.Debug("Evicted expired message ids", "count", evicted, "remaining", s.Size())
					metrics.DedupEvictionsTotal.Add(float64(evicted))
				}
				metrics.DedupCacheEntries.Set(float64(s.Size()))
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}
