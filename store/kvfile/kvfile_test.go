package kvfile_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meterline/quotagate"
	"github.com/meterline/quotagate/store/kvfile"
)

func newTestStore(t *testing.T) (*kvfile.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quota", "totals.kv")
	s, err := kvfile.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestOpen_CreatesParentDirs(t *testing.T) {
	_, path := newTestStore(t)
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestOpen_UncreatablePathFails(t *testing.T) {
	// A regular file in the middle of the path makes MkdirAll fail.
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	_, err := kvfile.Open(filepath.Join(blocker, "sub", "totals.kv"))
	require.Error(t, err)
}

func TestGet_AbsentKey(t *testing.T) {
	s, _ := newTestStore(t)

	_, ok, err := s.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBatchPut_InsertAndOverwrite(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.BatchPut(ctx, []quotagate.Entry{
		{Key: "a", Value: "1"},
		{Key: "b", Value: "2"},
	}))
	require.NoError(t, s.BatchPut(ctx, []quotagate.Entry{
		{Key: "b", Value: "20"},
		{Key: "c", Value: "3"},
	}))

	v, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", v)

	v, ok, err = s.Get(ctx, "b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "20", v, "a later put overwrites the prior value")

	v, ok, err = s.Get(ctx, "c")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "3", v)
}

func TestPersistence_SurvivesReopen(t *testing.T) {
	s, path := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "alice", "42"))
	require.NoError(t, s.Close())

	reopened, err := kvfile.Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	v, ok, err := reopened.Get(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "42", v)
}

func TestBatchGet(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.BatchPut(ctx, []quotagate.Entry{
		{Key: "a", Value: "1"},
		{Key: "c", Value: "3"},
	}))

	values, found, err := s.BatchGet(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "", "3"}, values)
	assert.Equal(t, []bool{true, false, true}, found)
}

func TestDelete(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "gone", "1"))
	require.NoError(t, s.Put(ctx, "kept", "2"))
	require.NoError(t, s.Delete(ctx, "gone"))
	require.NoError(t, s.Delete(ctx, "never-there"))

	_, ok, err := s.Get(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, ok)

	v, ok, err := s.Get(ctx, "kept")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2", v)
}

func TestBatchPut_RejectsReservedCharacters(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	assert.Error(t, s.Put(ctx, "bad\tkey", "1"))
	assert.Error(t, s.Put(ctx, "key", "bad\nvalue"))
	assert.Error(t, s.Put(ctx, "", "1"))
}

func TestClose_OperationsFail(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Close())

	_, _, err := s.Get(context.Background(), "a")
	assert.ErrorIs(t, err, quotagate.ErrStoreClosed)

	err = s.Put(context.Background(), "a", "1")
	assert.ErrorIs(t, err, quotagate.ErrStoreClosed)

	assert.ErrorIs(t, s.Close(), quotagate.ErrStoreClosed)
}
