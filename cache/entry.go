package cache

import "time"

// Entry is a single cached value together with the data needed to decide
// whether it is still live.
type Entry struct {
	Key       string
	Value     string
	CreatedAt time.Time
	// TTL of zero means the entry never expires.
	TTL time.Duration
}

// NewEntry builds an entry created at now. now is truncated to milliseconds and
// ttl to whole seconds, so every backend agrees on the expiry instant.
func NewEntry(key, value string, ttl time.Duration, now time.Time) (Entry, error) {
	if err := ValidateKey(key); err != nil {
		return Entry{}, err
	}
	secs, err := TTLSeconds(ttl)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Key: key, Value: value, CreatedAt: now.Truncate(time.Millisecond), TTL: time.Duration(secs) * time.Second}, nil
}

// ExpiresAt returns CreatedAt+TTL, or the zero time when the entry never expires.
func (e Entry) ExpiresAt() time.Time {
	return ExpiresAt(e.CreatedAt, e.TTL)
}

// ExpiresAt computes the expiry for a write at createdAt with the given ttl.
func ExpiresAt(createdAt time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return createdAt.Add(ttl)
}

// IsLive reports whether e may still be returned at now.
func IsLive(e Entry, now time.Time) bool {
	return IsLiveAt(e.ExpiresAt(), now)
}

// IsLiveAt is IsLive over a precomputed expiry; the zero time never expires.
// An entry is dead from the exact instant it expires.
func IsLiveAt(expiresAt, now time.Time) bool {
	return expiresAt.IsZero() || now.Before(expiresAt)
}

// Clock supplies the current time to stores. Tests swap in a fake.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)
