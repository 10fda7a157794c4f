package cache

import (
	"context"
	"errors"
	"time"
)

var (
	ErrEmptyKey   = errors.New("cache: key is required")
	ErrInvalidTTL = errors.New("cache: ttl must be a non-negative number of seconds")
)

// Store represents a TTL-based cache that can be backed by the FlashDB
// server, an embedded SQL table, or any other KV store. A missing or expired
// key is reported through the found/deleted result, never as an error.
type Store interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Delete(ctx context.Context, key string) (deleted bool, err error)
	Keys(ctx context.Context) ([]string, error)
}

// TTLSeconds validates ttl and truncates it to whole seconds, the only
// resolution every backend can represent.
func TTLSeconds(ttl time.Duration) (int64, error) {
	if ttl < 0 {
		return 0, ErrInvalidTTL
	}
	return int64(ttl / time.Second), nil
}

// ValidateKey rejects keys no backend can address.
func ValidateKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return nil
}
