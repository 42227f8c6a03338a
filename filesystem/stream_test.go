package filesystem

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_OptionValidation(t *testing.T) {
	t.Parallel()

	fs := newTestFS(t)
	writeFile(t, fs, "/opt", []byte("data"))

	t.Run("RefusedOptions", func(t *testing.T) {
		t.Parallel()
		for _, flag := range []OpenFlag{OpenSync, OpenDsync, OpenSparse, OpenDeleteOnClose} {
			_, err := fs.Open("/opt", OpenWrite|flag)
			assert.ErrorIs(t, err, ErrUnsupportedOption, "flag %b", flag)
		}
	})

	t.Run("AppendIncompatible", func(t *testing.T) {
		t.Parallel()
		_, err := fs.Open("/opt", OpenAppend|OpenRead)
		assert.ErrorIs(t, err, ErrUnsupportedOption)
		_, err = fs.Open("/opt", OpenAppend|OpenTruncateExisting)
		assert.ErrorIs(t, err, ErrUnsupportedOption)
	})

	t.Run("CreateNewOnExisting", func(t *testing.T) {
		t.Parallel()
		_, err := fs.Open("/opt", OpenWrite|OpenCreateNew)
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})

	t.Run("MissingWithoutCreate", func(t *testing.T) {
		t.Parallel()
		_, err := fs.Open("/nothere", OpenWrite)
		assert.ErrorIs(t, err, ErrNoSuchFile)
	})

	t.Run("OpenFolder", func(t *testing.T) {
		t.Parallel()
		require.NoError(t, fs.CreateFolder("/dir"))
		_, err := fs.Open("/dir", OpenRead)
		assert.ErrorIs(t, err, ErrNotDirectory)
	})
}

func TestOpen_CreateTolerantOfExisting(t *testing.T) {
	t.Parallel()

	fs := newTestFS(t)
	writeFile(t, fs, "/tolerant", []byte("before"))

	f, err := fs.Open("/tolerant", OpenWrite|OpenCreate)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.Equal(t, []byte("before"), readFile(t, fs, "/tolerant"), "CREATE keeps existing content")
}

func TestOpen_TruncateExisting(t *testing.T) {
	t.Parallel()

	fs := newTestFS(t)
	writeFile(t, fs, "/tr", pattern(10000))

	f, err := fs.Open("/tr", OpenWrite|OpenTruncateExisting)
	require.NoError(t, err)
	_, err = f.Write([]byte("tiny"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.Equal(t, []byte("tiny"), readFile(t, fs, "/tr"))
}

func TestStream_AppendPositionsAtContentSize(t *testing.T) {
	t.Parallel()

	fs := newTestFS(t)
	writeFile(t, fs, "/log", []byte("one"))

	f, err := fs.Open("/log", OpenAppend)
	require.NoError(t, err)
	_, err = f.Write([]byte("two"))
	require.NoError(t, err)
	_, err = f.Write([]byte("three"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.Equal(t, []byte("onetwothree"), readFile(t, fs, "/log"))
}

func TestStream_SingleStreamPerFile(t *testing.T) {
	t.Parallel()

	fs := newTestFS(t)
	writeFile(t, fs, "/excl", []byte("x"))

	f, err := fs.Open("/excl", OpenRead)
	require.NoError(t, err)

	_, err = fs.Open("/excl", OpenWrite)
	assert.ErrorIs(t, err, ErrStreamOpen, "readers and writers do not coexist")
	_, err = fs.Open("/excl", OpenRead)
	assert.ErrorIs(t, err, ErrStreamOpen)

	require.NoError(t, f.Close())
	f2, err := fs.Open("/excl", OpenWrite)
	require.NoError(t, err)
	require.NoError(t, f2.Close())
}

func TestStream_CapabilityChecks(t *testing.T) {
	t.Parallel()

	fs := newTestFS(t)
	writeFile(t, fs, "/caps", []byte("data"))

	f, err := fs.Open("/caps", OpenRead)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Write([]byte("nope"))
	assert.ErrorIs(t, err, ErrAccessDenied)
	assert.ErrorIs(t, f.Truncate(0), ErrAccessDenied)

	w, err := fs.Open("/caps2", OpenWrite|OpenCreate)
	require.NoError(t, err)
	defer w.Close()
	_, err = w.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestStream_SeekAndRead(t *testing.T) {
	t.Parallel()

	fs := newTestFS(t)
	writeFile(t, fs, "/seek", []byte("0123456789"))

	f, err := fs.Open("/seek", OpenRead)
	require.NoError(t, err)
	defer f.Close()

	pos, err := f.Seek(4, io.SeekStart)
	require.NoError(t, err)
	assert.EqualValues(t, 4, pos)

	buf := make([]byte, 3)
	n, err := f.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte("456"), buf)

	pos, err = f.Seek(-2, io.SeekEnd)
	require.NoError(t, err)
	assert.EqualValues(t, 8, pos)

	n, err = f.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte("89"), buf[:2])

	_, err = f.Seek(-1, io.SeekStart)
	assert.Error(t, err)
}

func TestStream_CloseEvictsBlocks(t *testing.T) {
	t.Parallel()

	fs := newTestFS(t)

	f, err := fs.Open("/evict", OpenWrite|OpenCreateNew)
	require.NoError(t, err)
	_, err = f.Write(pattern(2 * testBlockSize))
	require.NoError(t, err)
	assert.Positive(t, fs.BlockCacheLen())

	require.NoError(t, f.Close())
	assert.Zero(t, fs.BlockCacheLen(), "close evicts the file's blocks")

	// Content still readable after eviction (refetched from the datastore).
	assert.Equal(t, pattern(2*testBlockSize), readFile(t, fs, "/evict"))
}

func TestStream_CloseIdempotentAndGuards(t *testing.T) {
	t.Parallel()

	fs := newTestFS(t)
	f, err := fs.Open("/c", OpenWrite|OpenCreate)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())

	_, err = f.Write([]byte("x"))
	assert.Error(t, err)
	_, err = f.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestStream_WriteAtRejectsAppendMode(t *testing.T) {
	t.Parallel()

	fs := newTestFS(t)
	writeFile(t, fs, "/wa", []byte("abc"))

	f, err := fs.Open("/wa", OpenAppend)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.WriteAt([]byte("x"), 0)
	assert.ErrorIs(t, err, ErrUnsupportedOption)
}
