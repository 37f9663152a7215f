// Package memory is a process-local cache store with per-key expiry.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/kailas-cloud/docbase/internal/cache"
)

// Compile-time check: Store implements cache.Store.
var _ cache.Store = (*Store)(nil)

type item struct {
	value   []byte
	expires time.Time
}

// Store keeps values in a map guarded by a mutex.
type Store struct {
	mu    sync.Mutex
	items map[string]item
	now   func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{items: make(map[string]item), now: time.Now}
}

// Get returns the value for key or cache.ErrMiss.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[key]
	if !ok {
		return nil, cache.ErrMiss
	}
	if !it.expires.IsZero() && !s.now().Before(it.expires) {
		delete(s.items, key)
		return nil, cache.ErrMiss
	}
	return append([]byte(nil), it.value...), nil
}

// Set stores value. A non-positive ttl never expires.
func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	it := item{value: append([]byte(nil), value...)}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ttl > 0 {
		it.expires = s.now().Add(ttl)
	}
	s.items[key] = it
	return nil
}

// Del removes keys.
func (s *Store) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.items, k)
	}
	return nil
}

// DelPrefix removes every key starting with prefix.
func (s *Store) DelPrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.items {
		if strings.HasPrefix(k, prefix) {
			delete(s.items, k)
		}
	}
	return nil
}

// Len returns the number of stored keys, expired ones included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
