package filesystem

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwarrick/dsfs/config"
	"github.com/kwarrick/dsfs/datastore"
)

func newTestFS(t *testing.T) *FileSystem {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.BlockSize = testBlockSize
	fs, err := NewFS(cfg, datastore.NewMemoryStore())
	require.NoError(t, err)
	return fs
}

// writeFile creates a file with the given content and flushes it.
func writeFile(t *testing.T, fs *FileSystem, path string, content []byte) {
	t.Helper()
	f, err := fs.Open(path, OpenWrite|OpenCreateNew)
	require.NoError(t, err)
	_, err = f.Write(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

// readFile reads the whole content of a file.
func readFile(t *testing.T, fs *FileSystem, path string) []byte {
	t.Helper()
	f, err := fs.Open(path, OpenRead)
	require.NoError(t, err)
	defer f.Close()
	size, err := f.Size()
	require.NoError(t, err)
	buf := make([]byte, size)
	if size > 0 {
		_, err = f.ReadAt(buf, 0)
		require.NoError(t, err)
	}
	return buf
}

func TestFS_RootAlwaysExists(t *testing.T) {
	t.Parallel()

	fs := newTestFS(t)
	attrs, err := fs.Stat("/")
	require.NoError(t, err)
	assert.Equal(t, Folder, attrs.Type)

	names, err := fs.List("/")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestFS_MoveFile(t *testing.T) {
	t.Parallel()

	fs := newTestFS(t)
	require.NoError(t, fs.CreateFolder("/src"))
	require.NoError(t, fs.CreateFolder("/dst"))
	writeFile(t, fs, "/src/f", []byte("hello"))

	require.NoError(t, fs.Move("/src/f", "/dst/f", 0))

	exists, err := nodeExists(fs, "/src/f")
	require.NoError(t, err)
	assert.False(t, exists)

	assert.Equal(t, []byte("hello"), readFile(t, fs, "/dst/f"))

	attrs, err := fs.Stat("/dst/f")
	require.NoError(t, err)
	assert.EqualValues(t, 5, attrs.ContentSize)

	names, err := fs.List("/src")
	require.NoError(t, err)
	assert.Empty(t, names)
	names, err = fs.List("/dst")
	require.NoError(t, err)
	assert.Equal(t, []string{"f"}, names)
}

func TestFS_MoveMultiBlockFile(t *testing.T) {
	t.Parallel()

	fs := newTestFS(t)
	data := pattern(3*testBlockSize + 100)
	writeFile(t, fs, "/big", data)

	require.NoError(t, fs.Move("/big", "/moved", 0))
	assert.Equal(t, data, readFile(t, fs, "/moved"))

	// Source blocks are gone from the datastore.
	for i := 0; i < 4; i++ {
		_, err := fs.Store().Get(blockKeyFor("/big", i))
		assert.ErrorIs(t, err, datastore.ErrNoSuchEntity, "source block %d", i)
	}
}

func TestFS_AtomicMoveRefused(t *testing.T) {
	t.Parallel()

	fs := newTestFS(t)
	writeFile(t, fs, "/a", []byte("data"))

	err := fs.Move("/a", "/b", MoveAtomic)
	assert.ErrorIs(t, err, ErrAtomicMoveNotSupported)

	// Source and destination unchanged.
	assert.Equal(t, []byte("data"), readFile(t, fs, "/a"))
	exists, err := nodeExists(fs, "/b")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFS_MoveFolderRecursive(t *testing.T) {
	t.Parallel()

	fs := newTestFS(t)
	require.NoError(t, fs.CreateFolders("/tree/sub"))
	writeFile(t, fs, "/tree/a", []byte("aa"))
	writeFile(t, fs, "/tree/sub/b", []byte("bb"))

	require.NoError(t, fs.Move("/tree", "/moved", 0))

	assert.Equal(t, []byte("aa"), readFile(t, fs, "/moved/a"))
	assert.Equal(t, []byte("bb"), readFile(t, fs, "/moved/sub/b"))

	exists, err := nodeExists(fs, "/tree")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFS_MoveReplaceExisting(t *testing.T) {
	t.Parallel()

	fs := newTestFS(t)
	writeFile(t, fs, "/from", []byte("new"))
	writeFile(t, fs, "/to", []byte("old"))

	assert.ErrorIs(t, fs.Move("/from", "/to", 0), ErrAlreadyExists)
	require.NoError(t, fs.Move("/from", "/to", MoveReplaceExisting))
	assert.Equal(t, []byte("new"), readFile(t, fs, "/to"))
}

func TestFS_MoveOpenFileFails(t *testing.T) {
	t.Parallel()

	fs := newTestFS(t)
	writeFile(t, fs, "/open", []byte("x"))

	f, err := fs.Open("/open", OpenRead)
	require.NoError(t, err)
	defer f.Close()

	assert.ErrorIs(t, fs.Move("/open", "/elsewhere", 0), ErrStreamOpen)
}

func TestFS_CopyFile(t *testing.T) {
	t.Parallel()

	fs := newTestFS(t)
	data := pattern(testBlockSize + 500)
	writeFile(t, fs, "/orig", data)

	require.NoError(t, fs.Copy("/orig", "/copy", 0))

	assert.Equal(t, data, readFile(t, fs, "/orig"), "source survives a copy")
	assert.Equal(t, data, readFile(t, fs, "/copy"))

	assert.ErrorIs(t, fs.Copy("/orig", "/copy", 0), ErrAlreadyExists)
	require.NoError(t, fs.Copy("/orig", "/copy", CopyReplaceExisting))
}

func TestFS_CopyAttributes(t *testing.T) {
	t.Parallel()

	fs := newTestFS(t)
	writeFile(t, fs, "/stamped", []byte("content"))

	src, err := fs.Stat("/stamped")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, fs.Copy("/stamped", "/plain-copy", 0))
	require.NoError(t, fs.Copy("/stamped", "/attr-copy", CopyAttributes))

	plain, err := fs.Stat("/plain-copy")
	require.NoError(t, err)
	withAttrs, err := fs.Stat("/attr-copy")
	require.NoError(t, err)

	assert.Equal(t, src.LastModified, withAttrs.LastModified)
	assert.True(t, plain.LastModified.After(src.LastModified))
}

func TestFS_CopyFolderCreatesEmptyDestination(t *testing.T) {
	t.Parallel()

	fs := newTestFS(t)
	require.NoError(t, fs.CreateFolder("/d"))
	writeFile(t, fs, "/d/child", []byte("x"))

	require.NoError(t, fs.Copy("/d", "/d2", 0))

	attrs, err := fs.Stat("/d2")
	require.NoError(t, err)
	assert.Equal(t, Folder, attrs.Type)
	names, err := fs.List("/d2")
	require.NoError(t, err)
	assert.Empty(t, names, "folder copies are shallow")
}

func TestFS_Attrs(t *testing.T) {
	t.Parallel()

	fs := newTestFS(t)
	writeFile(t, fs, "/attr.txt", pattern(12000))

	basic, err := fs.Attrs("/attr.txt", ViewBasic)
	require.NoError(t, err)
	assert.Equal(t, "file", basic["filetype"])
	assert.EqualValues(t, 12000, basic["size"])
	assert.NotContains(t, basic, "block-size")

	engine, err := fs.Attrs("/attr.txt", ViewEngine)
	require.NoError(t, err)
	assert.Equal(t, testBlockSize, engine["block-size"])
	assert.Equal(t, 2, engine["block-count"])
	assert.EqualValues(t, 12000, engine["content-size"])

	_, err = fs.Attrs("/attr.txt", "posix")
	assert.ErrorIs(t, err, ErrUnsupportedOption)
}

func TestFS_CheckAccess(t *testing.T) {
	t.Parallel()

	fs := newTestFS(t)
	writeFile(t, fs, "/acc", []byte("x"))

	assert.NoError(t, fs.CheckAccess("/acc", AccessRead))
	assert.NoError(t, fs.CheckAccess("/acc", AccessRead|AccessWrite))
	assert.ErrorIs(t, fs.CheckAccess("/acc", AccessExecute), ErrAccessDenied)
	assert.ErrorIs(t, fs.CheckAccess("/missing", AccessRead), ErrNoSuchFile)
}

func TestFS_ProviderMismatch(t *testing.T) {
	t.Parallel()

	fsA := newTestFS(t)
	fsB := newTestFS(t)
	writeFile(t, fsA, "/f", []byte("x"))

	src, err := fsA.Resolve("/f")
	require.NoError(t, err)
	dst, err := fsB.Resolve("/g")
	require.NoError(t, err)

	assert.ErrorIs(t, src.MoveTo(dst, 0), ErrProviderMismatch)
	assert.ErrorIs(t, src.CopyTo(dst, 0), ErrProviderMismatch)
}

func TestFS_OverlayChildren(t *testing.T) {
	t.Parallel()

	local := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(local, "d"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(local, "d", "local.txt"), []byte("x"), 0o644))

	cfg := config.NewDefaultConfig()
	cfg.BlockSize = testBlockSize
	cfg.LocalRoot = local
	fs, err := NewFS(cfg, datastore.NewMemoryStore())
	require.NoError(t, err)

	require.NoError(t, fs.CreateFolder("/d"))
	require.NoError(t, fs.CreateFile("/d/stored.txt", 0))

	names, err := fs.List("/d")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"stored.txt", "local.txt"}, names)
}

func TestFS_ShadowFolderMaterialised(t *testing.T) {
	t.Parallel()

	local := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(local, "shadow"), 0o755))

	cfg := config.NewDefaultConfig()
	cfg.BlockSize = testBlockSize
	cfg.LocalRoot = local
	fs, err := NewFS(cfg, datastore.NewMemoryStore())
	require.NoError(t, err)

	// The parent exists only on local disk; creating the child materialises
	// the shadow folder in the datastore.
	require.NoError(t, fs.CreateFile("/shadow/f.txt", 0))

	attrs, err := fs.Stat("/shadow")
	require.NoError(t, err)
	assert.Equal(t, Folder, attrs.Type)

	names, err := fs.List("/shadow")
	require.NoError(t, err)
	assert.Contains(t, names, "f.txt")
}
