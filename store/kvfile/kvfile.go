// Package kvfile provides a file-backed Store for quotagate.
//
// Records are stored one per line as key<TAB>value. Every write rewrites
// the whole file through a temp file and rename, so a crash never leaves
// a half-written store behind. Writes are serialized by an in-process
// mutex; the format suits one process per file.
package kvfile

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/meterline/quotagate"
)

const delimiter = "\t"

// Store is a file-backed quotagate.Store.
type Store struct {
	mu     sync.Mutex
	path   string
	closed bool
}

var _ quotagate.Store = (*Store)(nil)

// Open creates or opens the store file at path, creating parent
// directories as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("kvfile: create store dir: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("kvfile: open store file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("kvfile: open store file: %w", err)
	}

	return &Store{path: path}, nil
}

// Get returns the value for key, with ok false if the key is absent.
func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", false, quotagate.ErrStoreClosed
	}

	entries, err := s.readAll()
	if err != nil {
		return "", false, err
	}

	for _, e := range entries {
		if e.Key == key {
			return e.Value, true, nil
		}
	}
	return "", false, nil
}

// BatchGet returns the values for keys in order; absent keys yield ok false.
func (s *Store) BatchGet(_ context.Context, keys []string) ([]string, []bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, nil, quotagate.ErrStoreClosed
	}

	entries, err := s.readAll()
	if err != nil {
		return nil, nil, err
	}

	byKey := make(map[string]string, len(entries))
	for _, e := range entries {
		byKey[e.Key] = e.Value
	}

	values := make([]string, len(keys))
	found := make([]bool, len(keys))
	for i, key := range keys {
		values[i], found[i] = byKey[key]
	}
	return values, found, nil
}

// BatchPut stores every entry, replacing existing values for the same keys.
func (s *Store) BatchPut(_ context.Context, entries []quotagate.Entry) error {
	for _, e := range entries {
		if err := validate(e); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return quotagate.ErrStoreClosed
	}

	existing, err := s.readAll()
	if err != nil {
		return err
	}

	replaced := make(map[string]bool, len(entries))
	for _, e := range entries {
		replaced[e.Key] = true
	}

	merged := existing[:0]
	for _, e := range existing {
		if !replaced[e.Key] {
			merged = append(merged, e)
		}
	}
	merged = append(merged, entries...)

	return s.writeAll(merged)
}

// Put stores a single entry.
func (s *Store) Put(ctx context.Context, key, value string) error {
	return s.BatchPut(ctx, []quotagate.Entry{{Key: key, Value: value}})
}

// BatchDelete removes the given keys. Missing keys are ignored.
func (s *Store) BatchDelete(_ context.Context, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return quotagate.ErrStoreClosed
	}

	existing, err := s.readAll()
	if err != nil {
		return err
	}

	drop := make(map[string]bool, len(keys))
	for _, key := range keys {
		drop[key] = true
	}

	kept := existing[:0]
	for _, e := range existing {
		if !drop[e.Key] {
			kept = append(kept, e)
		}
	}

	return s.writeAll(kept)
}

// Delete removes a single key.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.BatchDelete(ctx, []string{key})
}

// Close marks the store closed. Operations after Close fail with
// quotagate.ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return quotagate.ErrStoreClosed
	}
	s.closed = true
	return nil
}

// readAll parses the whole file, skipping malformed lines. Callers must
// hold mu.
func (s *Store) readAll() ([]quotagate.Entry, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("kvfile: open for read: %w", err)
	}
	defer f.Close()

	var entries []quotagate.Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), delimiter)
		if !ok {
			continue
		}
		entries = append(entries, quotagate.Entry{Key: key, Value: value})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("kvfile: read entries: %w", err)
	}
	return entries, nil
}

// writeAll atomically replaces the file contents. Callers must hold mu.
func (s *Store) writeAll(entries []quotagate.Entry) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".kvfile-*")
	if err != nil {
		return fmt.Errorf("kvfile: create temp file: %w", err)
	}

	w := bufio.NewWriter(tmp)
	for _, e := range entries {
		if _, err := fmt.Fprintf(w, "%s%s%s\n", e.Key, delimiter, e.Value); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return fmt.Errorf("kvfile: write entry: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("kvfile: flush entries: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("kvfile: close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("kvfile: replace store file: %w", err)
	}
	return nil
}

func validate(e quotagate.Entry) error {
	if e.Key == "" {
		return fmt.Errorf("kvfile: key cannot be empty")
	}
	if strings.ContainsAny(e.Key, delimiter+"\n") {
		return fmt.Errorf("kvfile: key %q contains reserved characters", e.Key)
	}
	if strings.ContainsAny(e.Value, delimiter+"\n") {
		return fmt.Errorf("kvfile: value for key %q contains reserved characters", e.Key)
	}
	return nil
}
