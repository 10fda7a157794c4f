// Package table implements cache.Store on a relational table, one row per
// key. Expiry is stored as epoch milliseconds (NULL for entries that never
// expire) and enforced lazily on read using the shared cache policy.
package table

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/adeilh/flashdb/cache"
)

// Store implements cache.Store on a *sql.DB.
// It is safe for concurrent use; every write is a single statement.
type Store struct {
	db    *sql.DB
	clock cache.Clock
	q     queries
}

var _ cache.Store = (*Store)(nil)

type Option func(*Store)

// WithClock overrides the time source used for writes and expiry checks.
func WithClock(c cache.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// New wraps db and migrates the cache table to the latest schema. The store
// does not take ownership of db.
func New(ctx context.Context, db *sql.DB, dialect Dialect, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, errors.New("table: db is nil")
	}
	if dialect.goose == "" {
		return nil, errors.New("table: unknown dialect")
	}
	s := &Store{db: db, clock: cache.SystemClock, q: dialect.queries()}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if err := Migrate(ctx, db, dialect); err != nil {
		return nil, &cache.StorageError{Op: "migrate", Err: err}
	}
	return s, nil
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entry, err := cache.NewEntry(key, value, ttl, s.clock.Now())
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.q.upsert, key, value, toMillis(entry.ExpiresAt())); err != nil {
		return &cache.StorageError{Op: "set", Err: err}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	var (
		value  string
		expiry sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, s.q.get, key).Scan(&value, &expiry)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, &cache.StorageError{Op: "get", Err: err}
	}
	if !cache.IsLiveAt(fromMillis(expiry), s.clock.Now()) {
		if _, err := s.db.ExecContext(ctx, s.q.evict, key, expiry.Int64); err != nil {
			return "", false, &cache.StorageError{Op: "evict", Err: err}
		}
		return "", false, nil
	}
	return value, true, nil
}

// Delete removes the row for key and reports whether it was live.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var expiry sql.NullInt64
	err := s.db.QueryRowContext(ctx, s.q.delete, key).Scan(&expiry)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, &cache.StorageError{Op: "delete", Err: err}
	}
	return cache.IsLiveAt(fromMillis(expiry), s.clock.Now()), nil
}

// Keys returns live keys ordered by key and evicts the expired rows it saw.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	type staleRow struct {
		key    string
		expiry int64
	}

	now := s.clock.Now()
	keys := []string{}
	var stale []staleRow
	rows, err := s.db.QueryContext(ctx, s.q.keys)
	if err != nil {
		return nil, &cache.StorageError{Op: "keys", Err: err}
	}
	for rows.Next() {
		var (
			key    string
			expiry sql.NullInt64
		)
		if err := rows.Scan(&key, &expiry); err != nil {
			_ = rows.Close()
			return nil, &cache.StorageError{Op: "keys", Err: err}
		}
		if cache.IsLiveAt(fromMillis(expiry), now) {
			keys = append(keys, key)
		} else {
			stale = append(stale, staleRow{key: key, expiry: expiry.Int64})
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, &cache.StorageError{Op: "keys", Err: err}
	}
	// The SQLite pool has one connection; the cursor must be released first.
	_ = rows.Close()

	for _, row := range stale {
		if _, err := s.db.ExecContext(ctx, s.q.evict, row.key, row.expiry); err != nil {
			return nil, &cache.StorageError{Op: "evict", Err: err}
		}
	}
	return keys, nil
}

// Purge deletes every expired row and returns how many were removed.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, s.q.purge, s.clock.Now().UnixMilli())
	if err != nil {
		return 0, &cache.StorageError{Op: "purge", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &cache.StorageError{Op: "purge", Err: err}
	}
	return n, nil
}

func toMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64)
}

