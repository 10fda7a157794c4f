// Package cachetest holds the behavioural suite every cache.Store
// implementation must pass, plus a controllable clock to drive expiry.
package cachetest

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/adeilh/flashdb/cache"
)

// Epoch is the instant every FakeClock starts at. It is millisecond aligned so
// stores that persist epoch milliseconds see the same boundaries.
var Epoch = time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

// FakeClock is a cache.Clock that only moves when Advance is called.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock() *FakeClock { return &FakeClock{now: Epoch} }

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Factory builds a fresh, empty store whose expiry decisions read clock.
// Cleanup should be registered on t.
type Factory func(t *testing.T, clock cache.Clock) cache.Store

// Run executes the standard compliance suite against the stores built by factory.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	cases := []struct {
		name string
		fn   func(t *testing.T, ctx context.Context, s cache.Store, clock *FakeClock)
	}{
		{"SetAndGet", testSetAndGet},
		{"GetMiss", testGetMiss},
		{"TTLBoundary", testTTLBoundary},
		{"NoExpiry", testNoExpiry},
		{"Overwrite", testOverwrite},
		{"OverwriteClearsTTL", testOverwriteClearsTTL},
		{"DeleteIdempotent", testDeleteIdempotent},
		{"DeleteExpired", testDeleteExpired},
		{"FooBarExpires", testFooBarExpires},
		{"KeysListing", testKeysListing},
		{"KeysSkipExpired", testKeysSkipExpired},
		{"EmptyValue", testEmptyValue},
		{"StructuredValue", testStructuredValue},
		{"InvalidArguments", testInvalidArguments},
		{"SubMillisecondWrite", testSubMillisecondWrite},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clock := NewFakeClock()
			store := factory(t, clock)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			tc.fn(t, ctx, store, clock)
		})
	}
}

// MustGet fails the test unless key is live with the wanted value.
func MustGet(t *testing.T, ctx context.Context, s cache.Store, key, want string) {
	t.Helper()
	got, found, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get(%q) error = %v", key, err)
	}
	if !found {
		t.Fatalf("Get(%q) found = false, want %q", key, want)
	}
	if got != want {
		t.Fatalf("Get(%q) = %q, want %q", key, got, want)
	}
}

// MustMiss fails the test unless key is absent.
func MustMiss(t *testing.T, ctx context.Context, s cache.Store, key string) {
	t.Helper()
	got, found, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get(%q) error = %v", key, err)
	}
	if found {
		t.Fatalf("Get(%q) = %q, want miss", key, got)
	}
}

// MustSet fails the test if Set returns an error.
func MustSet(t *testing.T, ctx context.Context, s cache.Store, key, value string, ttl time.Duration) {
	t.Helper()
	if err := s.Set(ctx, key, value, ttl); err != nil {
		t.Fatalf("Set(%q) error = %v", key, err)
	}
}

func testSetAndGet(t *testing.T, ctx context.Context, s cache.Store, _ *FakeClock) {
	MustSet(t, ctx, s, "compliance-key", "compliance-val", time.Minute)
	MustGet(t, ctx, s, "compliance-key", "compliance-val")
}

func testGetMiss(t *testing.T, ctx context.Context, s cache.Store, _ *FakeClock) {
	MustMiss(t, ctx, s, "nonexistent-key")
}

func testTTLBoundary(t *testing.T, ctx context.Context, s cache.Store, clock *FakeClock) {
	MustSet(t, ctx, s, "ttl-key", "v", 5*time.Second)
	clock.Advance(5*time.Second - time.Millisecond)
	MustGet(t, ctx, s, "ttl-key", "v")
	clock.Advance(time.Millisecond)
	MustMiss(t, ctx, s, "ttl-key")
}

func testNoExpiry(t *testing.T, ctx context.Context, s cache.Store, clock *FakeClock) {
	MustSet(t, ctx, s, "forever", "v", 0)
	clock.Advance(10 * time.Second)
	MustGet(t, ctx, s, "forever", "v")
	clock.Advance(24 * time.Hour)
	MustGet(t, ctx, s, "forever", "v")
}

func testOverwrite(t *testing.T, ctx context.Context, s cache.Store, clock *FakeClock) {
	MustSet(t, ctx, s, "ow-key", "v1", 10*time.Second)
	clock.Advance(5 * time.Second)
	MustSet(t, ctx, s, "ow-key", "v2", 10*time.Second)

	// 11s after the first write: the first TTL would have lapsed.
	clock.Advance(6 * time.Second)
	MustGet(t, ctx, s, "ow-key", "v2")

	// 10s after the second write.
	clock.Advance(4 * time.Second)
	MustMiss(t, ctx, s, "ow-key")
}

func testOverwriteClearsTTL(t *testing.T, ctx context.Context, s cache.Store, clock *FakeClock) {
	MustSet(t, ctx, s, "ow-ttl", "v1", time.Second)
	MustSet(t, ctx, s, "ow-ttl", "v2", 0)
	clock.Advance(5 * time.Second)
	MustGet(t, ctx, s, "ow-ttl", "v2")
}

func testDeleteIdempotent(t *testing.T, ctx context.Context, s cache.Store, _ *FakeClock) {
	deleted, err := s.Delete(ctx, "missing")
	if err != nil {
		t.Fatalf("Delete(missing) error = %v", err)
	}
	if deleted {
		t.Fatalf("Delete(missing) = true, want false")
	}

	MustSet(t, ctx, s, "del-key", "del-val", time.Minute)
	deleted, err = s.Delete(ctx, "del-key")
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if !deleted {
		t.Fatalf("Delete() = false, want true")
	}
	MustMiss(t, ctx, s, "del-key")

	for i := 0; i < 3; i++ {
		deleted, err = s.Delete(ctx, "del-key")
		if err != nil {
			t.Fatalf("repeated Delete() error = %v", err)
		}
		if deleted {
			t.Fatalf("repeated Delete() = true, want false")
		}
	}
}

func testDeleteExpired(t *testing.T, ctx context.Context, s cache.Store, clock *FakeClock) {
	MustSet(t, ctx, s, "stale", "v", time.Second)
	clock.Advance(2 * time.Second)
	deleted, err := s.Delete(ctx, "stale")
	if err != nil {
		t.Fatalf("Delete(stale) error = %v", err)
	}
	if deleted {
		t.Fatalf("Delete(stale) = true, want false for an expired entry")
	}
}

func testFooBarExpires(t *testing.T, ctx context.Context, s cache.Store, clock *FakeClock) {
	MustSet(t, ctx, s, "foo", "bar", 10*time.Second)
	MustGet(t, ctx, s, "foo", "bar")
	clock.Advance(11 * time.Second)
	MustMiss(t, ctx, s, "foo")
}

func testKeysListing(t *testing.T, ctx context.Context, s cache.Store, _ *FakeClock) {
	MustSet(t, ctx, s, "a", "1", 0)
	MustSet(t, ctx, s, "b", "2", 0)
	keys, err := s.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	slices.Sort(keys)
	if !slices.Equal(keys, []string{"a", "b"}) {
		t.Fatalf("Keys() = %v, want [a b]", keys)
	}
}

func testKeysSkipExpired(t *testing.T, ctx context.Context, s cache.Store, clock *FakeClock) {
	MustSet(t, ctx, s, "short", "1", time.Second)
	MustSet(t, ctx, s, "long", "2", 0)
	clock.Advance(2 * time.Second)
	keys, err := s.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if !slices.Equal(keys, []string{"long"}) {
		t.Fatalf("Keys() = %v, want [long]", keys)
	}
	MustMiss(t, ctx, s, "short")
}

// A write between millisecond ticks expires on the same tick in every
// backend, whatever precision it stores.
func testSubMillisecondWrite(t *testing.T, ctx context.Context, s cache.Store, clock *FakeClock) {
	clock.Advance(700 * time.Microsecond)
	MustSet(t, ctx, s, "sub-ms", "v", time.Second)
	clock.Advance(time.Second - 700*time.Microsecond - time.Nanosecond)
	MustGet(t, ctx, s, "sub-ms", "v")
	clock.Advance(time.Nanosecond)
	MustMiss(t, ctx, s, "sub-ms")
}

func testEmptyValue(t *testing.T, ctx context.Context, s cache.Store, _ *FakeClock) {
	MustSet(t, ctx, s, "empty", "", 0)
	MustGet(t, ctx, s, "empty", "")
}

func testStructuredValue(t *testing.T, ctx context.Context, s cache.Store, _ *FakeClock) {
	payload := `{"user": {"id": 1, "name": "Test User", "email": "test@example.com"},` + "\n" + `"tags": "a,b (c)"}`
	MustSet(t, ctx, s, "user:1:session", payload, time.Minute)
	MustGet(t, ctx, s, "user:1:session", payload)
}

func testInvalidArguments(t *testing.T, ctx context.Context, s cache.Store, _ *FakeClock) {
	if err := s.Set(ctx, "", "v", 0); err == nil {
		t.Fatalf("Set(empty key) error = nil, want error")
	}
	err := s.Set(ctx, "neg", "v", -time.Second)
	if !errors.Is(err, cache.ErrInvalidTTL) {
		t.Fatalf("Set(negative ttl) error = %v, want ErrInvalidTTL", err)
	}
	MustMiss(t, ctx, s, "neg")
}
