package quotagate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// FlushFunc persists one batch of items. It is invoked from the flusher's
// worker goroutine and never receives an empty batch. The batch slice is
// reused after the call returns; implementations that keep the items must
// copy them.
type FlushFunc[T any] func(ctx context.Context, batch []T) error

// Flusher accumulates items in a bounded queue and hands them to a
// FlushFunc in batches from a single background goroutine. Producers
// block while the queue is full; that backpressure is the signal that
// persistence is falling behind.
type Flusher[T any] struct {
	flush     FlushFunc[T]
	interval  time.Duration
	batchSize int
	queue     chan T
	logger    *slog.Logger

	closeOnce sync.Once
	closing   chan struct{} // closed by Close to stop the worker
	done      chan struct{} // closed when the worker has exited
	closeErr  error
}

// NewFlusher creates a Flusher and starts its worker goroutine. The
// worker flushes whenever the pending batch reaches batchSize, or when
// interval elapses without a new item while the batch is non-empty.
// If logger is nil, slog.Default() is used.
func NewFlusher[T any](flush FlushFunc[T], interval time.Duration, batchSize, queueCapacity int, logger *slog.Logger) *Flusher[T] {
	if logger == nil {
		logger = slog.Default()
	}

	f := &Flusher[T]{
		flush:     flush,
		interval:  interval,
		batchSize: batchSize,
		queue:     make(chan T, queueCapacity),
		logger:    logger,
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	go f.run()
	return f
}

// Enqueue queues an item for a later flush. It blocks while the queue is
// full and returns the context error if ctx is cancelled first, or
// ErrClosed once Close has been called.
func (f *Flusher[T]) Enqueue(ctx context.Context, item T) error {
	select {
	case <-f.closing:
		return ErrClosed
	default:
	}

	select {
	case f.queue <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-f.closing:
		return ErrClosed
	}
}

// Close stops accepting new items, drains everything enqueued before the
// call, flushes the remainder, and waits up to twice the flush interval
// for the worker to finish. Later calls return the first call's result.
func (f *Flusher[T]) Close() error {
	f.closeOnce.Do(func() {
		close(f.closing)
		select {
		case <-f.done:
		case <-time.After(2 * f.interval):
			f.closeErr = fmt.Errorf("quotagate: flusher shutdown timed out after %v", 2*f.interval)
		}
	})
	return f.closeErr
}

func (f *Flusher[T]) run() {
	defer close(f.done)

	batch := make([]T, 0, f.batchSize)
	timer := time.NewTimer(f.interval)
	defer timer.Stop()

	for {
		// Each wait for the next item gets a fresh interval, matching
		// the poll-with-timeout loop this replaces.
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(f.interval)

		select {
		case item := <-f.queue:
			batch = append(batch, item)
			if len(batch) >= f.batchSize {
				batch = f.flushBatch(batch)
			}
		case <-timer.C:
			if len(batch) > 0 {
				batch = f.flushBatch(batch)
			}
		case <-f.closing:
			f.drain(batch)
			return
		}
	}
}

// flushBatch invokes the flush function and returns the emptied batch. A
// failed flush is logged and its contents are dropped for this cycle;
// the worker keeps running.
func (f *Flusher[T]) flushBatch(batch []T) []T {
	if err := f.flush(context.Background(), batch); err != nil {
		f.logger.Error("flush failed", "items", len(batch), "error", err)
	}
	return batch[:0]
}

// drain consumes whatever is left in the queue after shutdown and
// performs a final flush of any remainder.
func (f *Flusher[T]) drain(batch []T) {
	for {
		select {
		case item := <-f.queue:
			batch = append(batch, item)
			if len(batch) >= f.batchSize {
				batch = f.flushBatch(batch)
			}
		default:
			if len(batch) > 0 {
				f.flushBatch(batch)
			}
			return
		}
	}
}
