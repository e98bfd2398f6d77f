package quotagate

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// usageDelta is one successful admission awaiting reconciliation.
type usageDelta struct {
	key    string
	tokens int64
	at     time.Time
}

// Manager hands out local admission decisions and reconciles the usage
// they represent into a shared durable store in the background.
//
// Admission is decided entirely in memory by a per-key token bucket, so
// callers never wait on storage. Every admitted token is counted in a
// per-key pending counter and queued for the flusher; a flush cycle folds
// the queued deltas into the store's totals and subtracts the persisted
// amounts from the pending counters. Usage reads therefore see this
// process's unflushed activity immediately, and other processes' activity
// only after their next flush cycle lands in the store.
type Manager struct {
	cfg     Config
	store   Store
	meter   Meter
	logger  *slog.Logger
	flusher *Flusher[usageDelta]

	limiters sync.Map // key -> *Limiter
	pending  sync.Map // key -> *atomic.Int64
	closed   atomic.Bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithMeter sets the meter.
func WithMeter(m Meter) Option {
	return func(mgr *Manager) { mgr.meter = m }
}

// WithLogger sets the logger used for flush failures and shutdown.
func WithLogger(l *slog.Logger) Option {
	return func(mgr *Manager) { mgr.logger = l }
}

// New creates a Manager over the given durable store and starts its
// background flusher. Zero-valued config fields get package defaults;
// an invalid config or nil store fails construction.
func New(cfg Config, store Store, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("quotagate: a store is required")
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:   cfg,
		store: store,
	}

	for _, opt := range opts {
		opt(m)
	}

	// Apply defaults after options.
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("node", cfg.NodeID)
	if m.meter == nil {
		m.meter = noopMeter{}
	}

	m.flusher = NewFlusher(m.flushUsage,
		time.Duration(cfg.FlushInterval),
		cfg.BatchSize,
		cfg.QueueCapacity,
		m.logger)

	return m, nil
}

// TryConsume asks the key's bucket to admit tokens and, on success,
// records the usage for reconciliation.
//
// The bucket for a key is created on first use with the given capacity
// and perSecond rate; later calls for the same key keep the original
// configuration and their capacity/perSecond arguments are ignored.
//
// A false result with a nil error is an ordinary denial. A non-nil error
// also means the call did not count as admitted: ErrClosed after Close,
// or the context error when ctx is cancelled while the delta queue is
// full. In the cancellation case the bucket has already been debited and
// the debit is not restored.
func (m *Manager) TryConsume(ctx context.Context, key string, tokens, capacity int64, perSecond float64) (bool, error) {
	if m.closed.Load() {
		return false, ErrClosed
	}

	limiter := m.limiterFor(key, capacity, perSecond)
	if !limiter.TryConsume(tokens) {
		m.meter.OnDecision(DecisionEvent{Key: key, Tokens: tokens, Admitted: false})
		return false, nil
	}

	m.pendingFor(key).Add(tokens)

	if err := m.flusher.Enqueue(ctx, usageDelta{key: key, tokens: tokens, at: time.Now()}); err != nil {
		m.meter.OnDecision(DecisionEvent{Key: key, Tokens: tokens, Admitted: false})
		return false, err
	}

	m.meter.OnDecision(DecisionEvent{Key: key, Tokens: tokens, Admitted: true})
	return true, nil
}

// Usage returns the reconciled total for key plus this process's
// unflushed usage. A key that was never consumed or persisted reports 0.
func (m *Manager) Usage(ctx context.Context, key string) (int64, error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}

	var total int64
	value, ok, err := m.store.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if ok {
		total, err = strconv.ParseInt(value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("quotagate: corrupt total for key %q: %w", key, err)
		}
	}

	if v, ok := m.pending.Load(key); ok {
		total += v.(*atomic.Int64).Load()
	}

	return total, nil
}

// Close shuts down the flusher, which drains and reconciles everything
// already enqueued, then closes the store. A second Close returns
// ErrClosed, as do all operations after the first.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	if err := m.flusher.Close(); err != nil {
		m.store.Close()
		return err
	}
	return m.store.Close()
}

func (m *Manager) limiterFor(key string, capacity int64, perSecond float64) *Limiter {
	if v, ok := m.limiters.Load(key); ok {
		return v.(*Limiter)
	}
	v, _ := m.limiters.LoadOrStore(key, NewLimiter(capacity, perSecond))
	return v.(*Limiter)
}

func (m *Manager) pendingFor(key string) *atomic.Int64 {
	if v, ok := m.pending.Load(key); ok {
		return v.(*atomic.Int64)
	}
	v, _ := m.pending.LoadOrStore(key, new(atomic.Int64))
	return v.(*atomic.Int64)
}

// flushUsage reconciles one batch of deltas into the store: sum the batch
// per key, read-modify-write each total, persist every key in a single
// BatchPut, then release the persisted amounts from the pending counters.
func (m *Manager) flushUsage(ctx context.Context, batch []usageDelta) error {
	start := time.Now()

	aggregated := make(map[string]int64)
	for _, d := range batch {
		aggregated[d.key] += d.tokens
	}

	err := m.reconcile(ctx, aggregated)
	m.meter.OnFlush(FlushEvent{
		Deltas:   len(batch),
		Keys:     len(aggregated),
		Duration: time.Since(start),
		Err:      err,
	})
	return err
}

func (m *Manager) reconcile(ctx context.Context, aggregated map[string]int64) error {
	entries := make([]Entry, 0, len(aggregated))
	for key, delta := range aggregated {
		var current int64
		value, ok, err := m.store.Get(ctx, key)
		if err != nil {
			return err
		}
		if ok {
			current, err = strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("quotagate: corrupt total for key %q: %w", key, err)
			}
		}
		entries = append(entries, Entry{Key: key, Value: strconv.FormatInt(current+delta, 10)})
	}

	if err := m.store.BatchPut(ctx, entries); err != nil {
		return err
	}

	// Only durably written amounts leave the pending counters; admissions
	// racing with this flush keep adding to them independently.
	for key, delta := range aggregated {
		if v, ok := m.pending.Load(key); ok {
			v.(*atomic.Int64).Add(-delta)
		}
	}

	return nil
}
