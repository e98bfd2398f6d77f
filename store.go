package quotagate

import "context"

// Store is the durable key-value backend that holds reconciled usage
// totals shared across processes. Only the background reconciliation
// reads and writes it; admission decisions never touch it.
type Store interface {
	// Get returns the persisted value for a key. ok is false if the key
	// has never been written.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// BatchPut durably stores every entry, overwriting prior values.
	// A single call must be applied atomically.
	BatchPut(ctx context.Context, entries []Entry) error

	// Close releases underlying resources. Operations after Close fail
	// with ErrStoreClosed.
	Close() error
}

// Entry is a single key/value pair written during reconciliation.
type Entry struct {
	Key   string
	Value string
}
