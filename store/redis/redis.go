// Package redis provides a Redis-backed Store for quotagate.
//
// Totals are stored as plain string keys under a configurable prefix.
// BatchPut issues all writes in a MULTI/EXEC pipeline so one
// reconciliation lands atomically. This makes the store safe to share
// between quota manager processes.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	goredis "github.com/redis/go-redis/v9"

	"github.com/meterline/quotagate"
)

// Store is a Redis-backed quotagate.Store.
type Store struct {
	client    goredis.Cmdable
	keyPrefix string
	closed    atomic.Bool
}

var _ quotagate.Store = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets the Redis key prefix (default "quotagate:total:").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// New creates a new Redis-backed Store.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: "quotagate:total:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) totalKey(key string) string {
	return s.keyPrefix + key
}

// Get returns the persisted total for key, with ok false if absent.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if s.closed.Load() {
		return "", false, quotagate.ErrStoreClosed
	}

	value, err := s.client.Get(ctx, s.totalKey(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis: get %q: %w", key, err)
	}
	return value, true, nil
}

// BatchPut stores every entry in one MULTI/EXEC pipeline.
func (s *Store) BatchPut(ctx context.Context, entries []quotagate.Entry) error {
	if s.closed.Load() {
		return quotagate.ErrStoreClosed
	}

	pipe := s.client.TxPipeline()
	for _, e := range entries {
		pipe.Set(ctx, s.totalKey(e.Key), e.Value, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: batch put %d entries: %w", len(entries), err)
	}
	return nil
}

// Close marks the store closed and closes the client when it owns one.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return quotagate.ErrStoreClosed
	}
	if closer, ok := s.client.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
