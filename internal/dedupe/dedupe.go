// Package dedupe remembers message ids that finished processing so that
// redeliveries can be dropped before the processing log is consulted.
package dedupe

import (
	"context"
	"sync"
	"time"
)

// Store provides message id deduplication.
type Store interface {
	Exists(ctx context.Context, messageID string) (bool, error)
	Add(ctx context.Context, messageID string) error
	Close() error
}

// InMemoryStore keeps ids in a map and evicts them after ttl.
type InMemoryStore struct {
	mu    sync.RWMutex
	store map[string]time.Time
	ttl   time.Duration
	now   func() time.Time
	done  chan struct{}
	once  sync.Once
}

func NewInMemoryStore(ttl time.Duration) *InMemoryStore {
	s := &InMemoryStore{
		store: make(map[string]time.Time),
		ttl:   ttl,
		now:   time.Now,
		done:  make(chan struct{}),
	}
	go s.cleanup(time.Minute)
	return s
}

func (s *InMemoryStore) Exists(_ context.Context, messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	expiry, exists := s.store[messageID]
	return exists && s.now().Before(expiry), nil
}

func (s *InMemoryStore) Add(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store[messageID] = s.now().Add(s.ttl)
	return nil
}

func (s *InMemoryStore) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *InMemoryStore) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.evictExpired()
		}
	}
}

func (s *InMemoryStore) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, expiry := range s.store {
		if now.After(expiry) {
			delete(s.store, id)
		}
	}
}

// Nop never reports a duplicate.
type Nop struct{}

func (Nop) Exists(context.Context, string) (bool, error) { return false, nil }
func (Nop) Add(context.Context, string) error            { return nil }
func (Nop) Close() error                                 { return nil }
