package table

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/adeilh/flashdb/db/sql/postgres"
	"github.com/adeilh/flashdb/db/sql/sqlite"
)

// Dialect captures the differences between the SQL engines the table store
// runs on: how to open them, which goose dialect migrates them and how
// placeholders look.
type Dialect struct {
	Name  string
	goose string
	open  func(ctx context.Context, dsn string) (*sql.DB, error)
	// numbered placeholders ($1, $2, ...) instead of '?'
	numbered bool
}

var (
	SQLite = Dialect{
		Name:  sqlite.DriverName,
		goose: "sqlite3",
		open: func(ctx context.Context, dsn string) (*sql.DB, error) {
			return sqlite.Open(ctx, sqlite.WithPath(dsn))
		},
	}
	Postgres = Dialect{
		Name:  postgres.DriverName,
		goose: "postgres",
		open: func(ctx context.Context, dsn string) (*sql.DB, error) {
			return postgres.Open(ctx, postgres.WithDSN(dsn))
		},
		numbered: true,
	}
)

// DialectFor resolves a driver name from configuration.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "", SQLite.Name, "sqlite3":
		return SQLite, nil
	case Postgres.Name, "postgresql", "pq":
		return Postgres, nil
	default:
		return Dialect{}, fmt.Errorf("table: unknown driver %q", driver)
	}
}

// Open connects to the engine. For SQLite dsn is a path or ":memory:".
func (d Dialect) Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if d.open == nil {
		return nil, fmt.Errorf("table: unknown dialect %q", d.Name)
	}
	return d.open(ctx, dsn)
}

// rebind rewrites '?' placeholders for engines that number them.
func (d Dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type queries struct {
	upsert string
	get    string
	evict  string
	delete string
	keys   string
	purge  string
}

func (d Dialect) queries() queries {
	return queries{
		upsert: d.rebind(`INSERT INTO cache (key, value, expiry) VALUES (?, ?, ?)
ON CONFLICT (key) DO UPDATE SET value = excluded.value, expiry = excluded.expiry`),
		get: d.rebind(`SELECT value, expiry FROM cache WHERE key = ?`),
		// Guarded by the observed expiry so a concurrent re-set survives.
		evict:  d.rebind(`DELETE FROM cache WHERE key = ? AND expiry = ?`),
		delete: d.rebind(`DELETE FROM cache WHERE key = ? RETURNING expiry`),
		keys:   `SELECT key, expiry FROM cache ORDER BY key`,
		purge:  d.rebind(`DELETE FROM cache WHERE expiry IS NOT NULL AND expiry <= ?`),
	}
}
