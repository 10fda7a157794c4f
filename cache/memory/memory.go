// Package memory is the authoritative in-process store behind the FlashDB
// server. Expired entries are dropped lazily on access and by Sweep.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/adeilh/flashdb/cache"
)

// Store implements cache.Store on a mutex guarded map.
// It is safe for concurrent use by multiple goroutines.
type Store struct {
	mu    sync.Mutex
	data  map[string]cache.Entry
	clock cache.Clock
}

type Option func(*Store)

// WithClock overrides the time source used for writes and expiry checks.
func WithClock(c cache.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{data: make(map[string]cache.Entry), clock: cache.SystemClock}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entry, err := cache.NewEntry(key, value, ttl, s.clock.Now())
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data[key] = entry
	s.mu.Unlock()
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.data[key]
	if !ok {
		return "", false, nil
	}
	if !cache.IsLive(entry, s.clock.Now()) {
		delete(s.data, key)
		return "", false, nil
	}
	return entry.Value, true, nil
}

// Delete removes key and reports whether a live entry was removed.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.data[key]
	if !ok {
		return false, nil
	}
	delete(s.data, key)
	return cache.IsLive(entry, s.clock.Now()), nil
}

// Keys returns the live keys in lexical order, evicting expired ones on the way.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	keys := make([]string, 0, len(s.data))
	for k, entry := range s.data {
		if !cache.IsLive(entry, now) {
			delete(s.data, k)
			continue
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}

// Sweep drops every expired entry and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	removed := 0
	for k, entry := range s.data {
		if !cache.IsLive(entry, now) {
			delete(s.data, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, including expired ones not yet evicted.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// RunSweeper calls Sweep every interval until ctx is done. onSweep, when not
// nil, receives the number of entries each pass removed.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration, onSweep func(removed int)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := s.Sweep()
			if onSweep != nil {
				onSweep(removed)
			}
		}
	}
}

