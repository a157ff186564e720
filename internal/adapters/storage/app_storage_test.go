package storage

import (
	"testing"

	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/eleven-am/regiflow/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAppStorage(t *testing.T) *AppStorage {
	t.Helper()
	s, err := OpenAppStorage("", true, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppStorageGetMissing(t *testing.T) {
	s := newTestAppStorage(t)

	value, version, exists, err := s.Get("missing")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Nil(t, value)
	assert.Zero(t, version)
}

func TestAppStorageVersionedPut(t *testing.T) {
	s := newTestAppStorage(t)

	require.NoError(t, s.Put("workflow:head:wf", []byte("v1"), 1))
	require.NoError(t, s.Put("workflow:head:wf", []byte("v2"), 2))

	err := s.Put("workflow:head:wf", []byte("late"), 2)
	require.Error(t, err)
	assert.True(t, domain.IsVersionMismatch(err))

	value, version, exists, err := s.Get("workflow:head:wf")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, int64(2), version)
	assert.Equal(t, "v2", string(value))
}

func TestAppStorageDeleteResetsVersion(t *testing.T) {
	s := newTestAppStorage(t)

	require.NoError(t, s.Put("k", []byte("a"), 0))
	require.NoError(t, s.Delete("k"))
	require.NoError(t, s.Put("k", []byte("b"), 1))

	_, version, _, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
}

func TestAppStorageBatchWriteRollsBackOnConflict(t *testing.T) {
	s := newTestAppStorage(t)
	require.NoError(t, s.Put("a", []byte("1"), 1))

	err := s.BatchWrite([]ports.WriteOp{
		{Type: ports.OpPut, Key: "b", Value: []byte("2"), Version: 1},
		{Type: ports.OpPut, Key: "a", Value: []byte("x"), Version: 5},
	})
	require.Error(t, err)

	exists, err := s.Exists("b")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestAppStoragePrefixSkipsVersionKeys(t *testing.T) {
	s := newTestAppStorage(t)
	require.NoError(t, s.Put("execution:record:1", []byte("{}"), 0))
	require.NoError(t, s.Put("execution:record:2", []byte("{}"), 0))
	require.NoError(t, s.Put("execution:index:wf:1", []byte("1"), 0))

	kvs, err := s.ListByPrefix(domain.ExecutionRecordPrefix)
	require.NoError(t, err)
	require.Len(t, kvs, 2)
	assert.Equal(t, int64(1), kvs[0].Version)

	count, err := s.CountPrefix("execution:")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	deleted, err := s.DeleteByPrefix(domain.ExecutionRecordPrefix)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
}

func TestAppStorageClosed(t *testing.T) {
	s, err := OpenAppStorage("", true, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, _, _, err = s.Get("k")
	require.Error(t, err)
}
