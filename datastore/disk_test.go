package datastore

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskStore_RoundTrip(t *testing.T) {
	t.Parallel()

	s, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)

	owner := NewKey(KindNode, "/file.bin")
	e := NewEntity(owner)
	e.SetProperty("filetype", "file")
	e.SetProperty("content-size", int64(3))
	e.SetProperty("data", []byte{1, 2, 3})
	e.SetProperty("block-keys", []Key{
		NewChildKey(KindNode, "block.0", owner),
		NewChildKey(KindNode, "block.1", owner),
	})
	require.NoError(t, s.Put(e))

	got, err := s.Get(owner)
	require.NoError(t, err)
	assert.Equal(t, owner, got.Key)

	for _, name := range e.PropertyNames() {
		want, _ := e.Property(name)
		have, ok := got.Property(name)
		require.True(t, ok, "property %q", name)
		if diff := cmp.Diff(want, have); diff != "" {
			t.Errorf("property %q mismatch (-want +have):\n%s", name, diff)
		}
	}
}

func TestDiskStore_CompressionTransparent(t *testing.T) {
	t.Parallel()

	s, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)

	payload := bytes.Repeat([]byte("abcd"), 4096)
	e := NewEntity(NewKey(KindNode, "/blob"))
	e.SetProperty("data", payload)
	require.NoError(t, s.Put(e))

	got, err := s.Get(NewKey(KindNode, "/blob"))
	require.NoError(t, err)
	v, ok := got.Property("data")
	require.True(t, ok)
	assert.Equal(t, payload, v)
}

func TestDiskStore_ReopenPersists(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := NewDiskStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Put(testEntity("/persist", 16)))

	reopened, err := NewDiskStore(dir)
	require.NoError(t, err)
	_, err = reopened.Get(NewKey(KindNode, "/persist"))
	assert.NoError(t, err)
}

func TestDiskStore_DeleteIdempotent(t *testing.T) {
	t.Parallel()

	s, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)

	key := NewKey(KindNode, "/x")
	require.NoError(t, s.Put(testEntity("/x", 4)))
	require.NoError(t, s.Delete(key))
	require.NoError(t, s.Delete(key))
	_, err = s.Get(key)
	assert.ErrorIs(t, err, ErrNoSuchEntity)
}

func TestDiskStore_Transaction(t *testing.T) {
	t.Parallel()

	s, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)

	tx, err := s.NewTransaction()
	require.NoError(t, err)
	require.NoError(t, tx.PutMulti([]*Entity{testEntity("/t1", 4), testEntity("/t2", 4)}))
	require.NoError(t, tx.Commit())

	_, err = s.Get(NewKey(KindNode, "/t1"))
	assert.NoError(t, err)
	_, err = s.Get(NewKey(KindNode, "/t2"))
	assert.NoError(t, err)
}
