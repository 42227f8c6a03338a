// Package filesystem implements the storage engine: the mapping from a
// hierarchical namespace onto datastore entities, block-structured file
// content with a lazily materialised dirty-block cache, bulk-write batching
// within the platform's size limits, and the path-lock discipline that keeps
// directory and file operations from racing.
package filesystem

import (
	"errors"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/kwarrick/dsfs/config"
	"github.com/kwarrick/dsfs/datastore"
	"github.com/kwarrick/dsfs/internal/util"
)

// FileSystem is the engine instance. It owns the process-wide caches and
// the lock registry; callers' goroutines drive all operations.
type FileSystem struct {
	cfg     *config.Config
	store   datastore.Store
	blocks  *BlockCache
	locks   *LockRegistry
	overlay Overlay
	nodes   *xsync.MapOf[string, *FileNode] // canonical FileNode per path
}

// NewFS creates an engine over the given backing store. Reads go through a
// transparent memcache layer; the root folder is materialised if absent.
func NewFS(cfg *config.Config, store datastore.Store) (*FileSystem, error) {
	fs := &FileSystem{
		cfg:    cfg,
		store:  datastore.NewCachingStore(store),
		blocks: NewBlockCache(),
		locks:  NewLockRegistry(),
		nodes:  xsync.NewMapOf[string, *FileNode](),
	}
	if cfg.LocalRoot != "" {
		fs.overlay = NewDirOverlay(cfg.LocalRoot)
	}
	if err := fs.ensureRoot(); err != nil {
		return nil, err
	}
	return fs, nil
}

// WithOverlay replaces the local overlay provider. Intended for wiring a
// custom provider in place of the default directory overlay.
func (fs *FileSystem) WithOverlay(overlay Overlay) *FileSystem {
	fs.overlay = overlay
	return fs
}

// ensureRoot materialises the root folder entity. The root always exists
// conceptually and can be neither deleted nor renamed.
func (fs *FileSystem) ensureRoot() error {
	root := fs.node(RootPath)
	root.mu.Lock()
	defer root.mu.Unlock()
	if err := root.attachLocked(); err != nil {
		return err
	}
	if root.meta.FileType() == Folder {
		return nil
	}
	root.meta.SetFileType(Folder)
	root.meta.RemoveBlockSize()
	if err := root.putMetadataLocked(true); err != nil {
		return err
	}
	logger := util.GetLogger("FileSystem")
	logger.Debug().Msg("Materialised root folder")
	return nil
}

// node returns the canonical FileNode for a normalised path.
func (fs *FileSystem) node(path string) *FileNode {
	n, _ := fs.nodes.LoadOrStore(path, &FileNode{
		fs:   fs,
		path: path,
		key:  nodeKey(path),
	})
	return n
}

// nodeKey derives the datastore key for a node path.
func nodeKey(path string) datastore.Key {
	return datastore.NewKey(datastore.KindNode, path)
}

// Resolve normalises path and returns its FileNode. The node may be
// imaginary; existence is only known after an operation attaches it.
func (fs *FileSystem) Resolve(path string) (*FileNode, error) {
	p, err := Normalize(path)
	if err != nil {
		return nil, err
	}
	return fs.node(p), nil
}

// Root returns the root folder node.
func (fs *FileSystem) Root() *FileNode {
	return fs.node(RootPath)
}

// CreateFile creates a file at path. A blockSize of 0 selects the engine
// default; otherwise the size must lie within the permitted range.
func (fs *FileSystem) CreateFile(path string, blockSize int) error {
	n, err := fs.Resolve(path)
	if err != nil {
		return err
	}
	return n.CreateFile(blockSize)
}

// CreateFolder creates a folder at path; the parent must exist.
func (fs *FileSystem) CreateFolder(path string) error {
	n, err := fs.Resolve(path)
	if err != nil {
		return err
	}
	return n.CreateFolder()
}

// CreateFolders creates the folder at path along with any missing
// ancestors, like mkdir -p. Existing folders along the way are fine;
// an existing file is not.
func (fs *FileSystem) CreateFolders(path string) error {
	p, err := Normalize(path)
	if err != nil {
		return err
	}
	var walk func(string) error
	walk = func(dir string) error {
		if dir == RootPath {
			return nil
		}
		if err := walk(Parent(dir)); err != nil {
			return err
		}
		n := fs.node(dir)
		t, err := n.FileType()
		if err != nil {
			return err
		}
		switch t {
		case Folder:
			return nil
		case File:
			return fsErr("create-folders", dir, ErrNotDirectory)
		}
		if err := n.CreateFolder(); err != nil && !errors.Is(err, ErrAlreadyExists) {
			return err
		}
		return nil
	}
	return walk(p)
}

// Delete removes the node at path. Files lose their blocks first; folders
// must be empty.
func (fs *FileSystem) Delete(path string) error {
	n, err := fs.Resolve(path)
	if err != nil {
		return err
	}
	return n.Delete()
}

// Move moves src to dst. The datastore forbids key mutation, so a move is
// always copy-then-delete; requesting an atomic move fails. A folder with
// children is moved by creating the destination folder, moving each child
// into it, and then deleting the emptied source folder. The root cannot be
// moved.
func (fs *FileSystem) Move(src, dst string, flags MoveFlag) error {
	if flags.has(MoveAtomic) {
		return fsErr("move", src, ErrAtomicMoveNotSupported)
	}
	srcNode, err := fs.Resolve(src)
	if err != nil {
		return err
	}
	if srcNode.path == RootPath {
		return fsErr("move", src, ErrAccessDenied)
	}
	dstNode, err := fs.Resolve(dst)
	if err != nil {
		return err
	}

	t, err := srcNode.FileType()
	if err != nil {
		return err
	}
	if t == Folder {
		children, err := srcNode.storeChildren()
		if err != nil {
			return err
		}
		if len(children) > 0 {
			// Destination folder first, then the children, then the
			// emptied source folder.
			if err := fs.CreateFolders(dstNode.path); err != nil {
				return err
			}
			for _, child := range children {
				childDst := dstNode.path + "/" + Base(child.path)
				if err := fs.Move(child.path, childDst, flags); err != nil {
					return err
				}
			}
			return srcNode.Delete()
		}
	}
	return srcNode.MoveTo(dstNode, flags)
}

// Copy copies src to dst. Folders copy as an empty destination folder;
// files copy block data. CopyAttributes propagates last-modified.
func (fs *FileSystem) Copy(src, dst string, flags CopyFlag) error {
	srcNode, err := fs.Resolve(src)
	if err != nil {
		return err
	}
	dstNode, err := fs.Resolve(dst)
	if err != nil {
		return err
	}
	return srcNode.CopyTo(dstNode, flags)
}

// List returns the names of the children of the folder at path, including
// overlay-only entries.
func (fs *FileSystem) List(path string) ([]string, error) {
	n, err := fs.Resolve(path)
	if err != nil {
		return nil, err
	}
	children, err := n.Children()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(children))
	for _, child := range children {
		names = append(names, Base(child.path))
	}
	return names, nil
}

// CheckAccess verifies the requested access mode for path. Execute is never
// permitted.
func (fs *FileSystem) CheckAccess(path string, mode AccessMode) error {
	if mode&AccessExecute != 0 {
		return fsErr("access", path, ErrAccessDenied)
	}
	n, err := fs.Resolve(path)
	if err != nil {
		return err
	}
	exists, err := n.Exists()
	if err != nil {
		return err
	}
	if !exists {
		return fsErr("access", path, ErrNoSuchFile)
	}
	return nil
}

// materializeShadowParent creates the parent folder of path when it exists
// only as a directory under the local overlay. Runs outside any datastore
// transaction; the created folders are immediately durable.
func (fs *FileSystem) materializeShadowParent(path string) error {
	if fs.overlay == nil || path == RootPath {
		return nil
	}
	parentPath := Parent(path)
	if parentPath == RootPath {
		return nil
	}
	parent := fs.node(parentPath)
	t, err := parent.FileType()
	if err != nil {
		return err
	}
	if t != Imaginary {
		return nil
	}
	if exists, isDir := fs.overlay.Stat(parentPath); exists && isDir {
		logger := util.GetLogger("FileSystem")
		logger.Debug().Str("path", parentPath).Msg("Materialising shadow folder")
		return fs.CreateFolders(parentPath)
	}
	return nil
}

// BlockCacheLen reports the number of blocks currently cached. Exposed for
// tests and diagnostics.
func (fs *FileSystem) BlockCacheLen() int {
	return fs.blocks.Len()
}

// Store exposes the caching store layered over the backing datastore.
func (fs *FileSystem) Store() datastore.Store {
	return fs.store
}
