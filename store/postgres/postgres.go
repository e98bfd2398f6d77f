// Package postgres provides a PostgreSQL-backed Store for quotagate.
//
// Totals live in a single table keyed by quota key. BatchPut upserts all
// entries inside one transaction, so one reconciliation lands atomically.
// This makes the store safe to share between quota manager processes.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meterline/quotagate"
)

// Store is a PostgreSQL-backed quotagate.Store.
type Store struct {
	pool        *pgxpool.Pool
	tablePrefix string
	closed      atomic.Bool
}

var _ quotagate.Store = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithTablePrefix sets the table name prefix (default "quotagate_").
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.tablePrefix = prefix }
}

// New creates a new PostgreSQL-backed Store over a connected pool.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:        pool,
		tablePrefix: "quotagate_",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) totalsTable() string { return s.tablePrefix + "totals" }

// EnsureSchema creates the totals table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`, s.totalsTable())
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

// Get returns the persisted total for key, with ok false if absent.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if s.closed.Load() {
		return "", false, quotagate.ErrStoreClosed
	}

	q := fmt.Sprintf("SELECT value FROM %s WHERE key = $1", s.totalsTable())

	var value string
	err := s.pool.QueryRow(ctx, q, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("postgres: get %q: %w", key, err)
	}
	return value, true, nil
}

// BatchPut upserts every entry inside a single transaction.
func (s *Store) BatchPut(ctx context.Context, entries []quotagate.Entry) error {
	if s.closed.Load() {
		return quotagate.ErrStoreClosed
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	q := fmt.Sprintf(`
		INSERT INTO %s (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, s.totalsTable())

	for _, e := range entries {
		if _, err := tx.Exec(ctx, q, e.Key, e.Value); err != nil {
			return fmt.Errorf("postgres: put %q: %w", e.Key, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// Close marks the store closed and releases the pool.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return quotagate.ErrStoreClosed
	}
	s.pool.Close()
	return nil
}
