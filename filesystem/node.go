package filesystem

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/kwarrick/dsfs/config"
	"github.com/kwarrick/dsfs/datastore"
	"github.com/kwarrick/dsfs/internal/util"
)

// FileNode is the orchestration object for one path. Nodes are canonical
// per engine instance (one FileNode per normalised path), so in-process
// metadata stays coherent across operations; cross-operation races are
// excluded by the path locks, not by this struct's mutex, which only guards
// the attach state.
type FileNode struct {
	fs   *FileSystem
	path string
	key  datastore.Key

	mu   sync.Mutex
	meta *Metadata
}

// Path returns the node's normalised absolute path.
func (n *FileNode) Path() string { return n.path }

// Key returns the node's datastore key.
func (n *FileNode) Key() datastore.Key { return n.key }

// attachLocked loads the metadata entity on first use. Attach is idempotent
// and a pure function of (path, datastore state): on NotFound the node gets
// a fresh imaginary entity with the engine-default block size.
func (n *FileNode) attachLocked() error {
	if n.meta != nil {
		return nil
	}
	e, err := n.fs.store.Get(n.key)
	if err == nil {
		n.meta = newMetadata(e)
		return nil
	}
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		n.meta = newImaginaryMetadata(n.key, n.fs.cfg.BlockSize)
		return nil
	}
	return ioErr("attach", n.path, err)
}

// refreshLocked re-reads the metadata from the datastore unless unflushed
// state would be lost. Called at the top of critical sections so a decision
// is made against current state, not a stale imaginary entity.
func (n *FileNode) refreshLocked() error {
	if n.meta != nil {
		if n.meta.Dirty() || n.hasDirtyBlocksLocked() {
			return nil
		}
		n.meta = nil
	}
	return n.attachLocked()
}

func (n *FileNode) withMeta(fn func() error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.attachLocked(); err != nil {
		return err
	}
	return fn()
}

// Detach drops the in-memory entity so the next access re-attaches.
// Refused while the node still has dirty blocks.
func (n *FileNode) Detach() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.meta == nil {
		return nil
	}
	if n.meta.FileType() == File && n.hasDirtyBlocksLocked() {
		return fsErr("detach", n.path, ErrStreamOpen)
	}
	n.meta = nil
	return nil
}

func (n *FileNode) hasDirtyBlocksLocked() bool {
	if n.meta == nil {
		return false
	}
	for _, key := range n.meta.BlockKeys() {
		if n.fs.blocks.IsDirty(key) {
			return true
		}
	}
	return false
}

// FileType attaches and returns the node's type.
func (n *FileNode) FileType() (FileType, error) {
	var t FileType
	err := n.withMeta(func() error {
		t = n.meta.FileType()
		return nil
	})
	return t, err
}

// Exists reports whether a metadata entity exists for the path.
func (n *FileNode) Exists() (bool, error) {
	t, err := n.FileType()
	return t != Imaginary, err
}

// ContentSize returns the file's logical byte length.
func (n *FileNode) ContentSize() (int64, error) {
	var size int64
	err := n.withMeta(func() error {
		if n.meta.FileType() == Folder {
			return fsErr("size", n.path, ErrNoSuchFile)
		}
		size = n.meta.ContentSize()
		return nil
	})
	return size, err
}

// BlockSize returns the file's immutable block size.
func (n *FileNode) BlockSize() (int, error) {
	var size int
	err := n.withMeta(func() error {
		size = n.meta.BlockSize()
		return nil
	})
	return size, err
}

// LastModified returns the node's last-modified time.
func (n *FileNode) LastModified() (time.Time, error) {
	var t time.Time
	err := n.withMeta(func() error {
		t = n.meta.LastModified()
		return nil
	})
	return t, err
}

// CreateFile materialises the node as a file. blockSize 0 selects the
// engine default; otherwise it must lie within the permitted range and is
// immutable afterwards.
func (n *FileNode) CreateFile(blockSize int) error {
	if n.path == RootPath {
		return fsErr("create-file", n.path, ErrAlreadyExists)
	}
	if blockSize == 0 {
		blockSize = n.fs.cfg.BlockSize
	}
	if _, err := config.CheckBlockSize(blockSize); err != nil {
		return fsErr("create-file", n.path, ErrInvalidBlockSize)
	}
	return n.create("create-file", func() {
		n.meta.SetFileType(File)
		n.meta.SetBlockSize(blockSize)
		n.meta.SetContentSize(0)
		n.meta.SetBlockKeys(nil)
	})
}

// CreateFolder materialises the node as a folder.
func (n *FileNode) CreateFolder() error {
	if n.path == RootPath {
		return fsErr("create-folder", n.path, ErrAlreadyExists)
	}
	return n.create("create-folder", func() {
		n.meta.SetFileType(Folder)
		n.meta.RemoveBlockSize()
	})
}

// create runs the shared creation protocol: shadow-parent materialisation,
// parent lock, parent and self existence checks, property init via setType,
// parent notification, and finally the node's own metadata put.
func (n *FileNode) create(op string, setType func()) error {
	if err := n.fs.materializeShadowParent(n.path); err != nil {
		return err
	}

	parentPath := Parent(n.path)
	unlock := n.fs.locks.Lock(parentPath)
	defer unlock()

	parent := n.fs.node(parentPath)
	if err := parent.withRefreshed(func() error {
		switch parent.meta.FileType() {
		case Folder:
			return nil
		case File:
			return fsErr(op, parentPath, ErrNotDirectory)
		default:
			return fsErr(op, parentPath, ErrNoSuchFile)
		}
	}); err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.refreshLocked(); err != nil {
		return err
	}
	if n.meta.FileType() != Imaginary {
		return fsErr(op, n.path, ErrAlreadyExists)
	}
	setType()

	if err := parent.notifyChildAdded(n.key); err != nil {
		n.meta = newImaginaryMetadata(n.key, n.fs.cfg.BlockSize)
		return err
	}
	if err := n.putMetadataLocked(true); err != nil {
		// A failed creation leaves the node imaginary.
		n.meta = newImaginaryMetadata(n.key, n.fs.cfg.BlockSize)
		return err
	}

	logger := util.GetLogger("FileNode")
	logger.Debug().Str("path", n.path).Str("type", n.meta.FileType().String()).Msg("Node created")
	return nil
}

func (n *FileNode) withRefreshed(fn func() error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.refreshLocked(); err != nil {
		return err
	}
	return fn()
}

// notifyChildAdded appends child to this folder's child-keys and persists
// the metadata. Caller holds this folder's path lock.
func (n *FileNode) notifyChildAdded(child datastore.Key) error {
	return n.withMeta(func() error {
		n.meta.AddChildKey(child)
		return n.putMetadataLocked(true)
	})
}

// notifyChildRemoved removes child from this folder's child-keys and
// persists the metadata. A no-op if this folder no longer exists.
func (n *FileNode) notifyChildRemoved(child datastore.Key) error {
	return n.withMeta(func() error {
		if n.meta.FileType() == Imaginary {
			return nil
		}
		n.meta.RemoveChildKey(child)
		return n.putMetadataLocked(true)
	})
}

// putMetadataLocked persists the metadata entity. Every successful put
// refreshes last-modified unless touch is false (attribute-preserving
// copies).
func (n *FileNode) putMetadataLocked(touch bool) error {
	if touch {
		n.meta.SetLastModified(time.Now())
	}
	if err := n.fs.store.Put(n.meta.Entity()); err != nil {
		return ioErr("put-metadata", n.path, err)
	}
	n.meta.clearDirty()
	return nil
}

// Delete removes the node. Files lose their blocks before the metadata
// entity goes; folders must be empty and take their own lock so concurrent
// child creation is excluded. The in-memory entity resets to a fresh
// imaginary one so the path can be recreated.
func (n *FileNode) Delete() error {
	if n.path == RootPath {
		return fsErr("delete", n.path, ErrAccessDenied)
	}

	streamUnlock, ok := n.fs.locks.TryLock(streamLockName(n.path))
	if !ok {
		return fsErr("delete", n.path, ErrStreamOpen)
	}
	defer streamUnlock()

	parentPath := Parent(n.path)
	parentUnlock := n.fs.locks.Lock(parentPath)
	defer parentUnlock()
	selfUnlock := n.fs.locks.Lock(n.path)
	defer selfUnlock()

	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.refreshLocked(); err != nil {
		return err
	}

	switch n.meta.FileType() {
	case Imaginary:
		return fsErr("delete", n.path, ErrNoSuchFile)
	case Folder:
		if len(n.meta.ChildKeys()) > 0 {
			return fsErr("delete", n.path, ErrDirectoryNotEmpty)
		}
	case File:
		if err := (&BlockIO{n: n}).deleteBlocksLocked(0); err != nil {
			return err
		}
	}

	parent := n.fs.node(parentPath)
	if err := parent.notifyChildRemoved(n.key); err != nil {
		return err
	}
	if err := n.fs.store.Delete(n.key); err != nil {
		return ioErr("delete", n.path, err)
	}
	n.meta = newImaginaryMetadata(n.key, n.fs.cfg.BlockSize)

	logger := util.GetLogger("FileNode")
	logger.Debug().Str("path", n.path).Msg("Node deleted")
	return nil
}

// MoveTo moves this node to dst: metadata properties are copied, block
// payloads re-keyed under the destination and flushed, then the source is
// deleted. Folders must be empty at this level; FileSystem.Move recurses.
func (n *FileNode) MoveTo(dst *FileNode, flags MoveFlag) error {
	if flags.has(MoveAtomic) {
		return fsErr("move", n.path, ErrAtomicMoveNotSupported)
	}
	if err := n.transferTo(dst, "move", flags.has(MoveReplaceExisting), false); err != nil {
		return err
	}
	return n.Delete()
}

// CopyTo copies this node to dst. Folders copy as an empty destination
// folder. CopyAttributes carries last-modified over; otherwise the
// destination gets a fresh timestamp.
func (n *FileNode) CopyTo(dst *FileNode, flags CopyFlag) error {
	return n.transferTo(dst, "copy", flags.has(CopyReplaceExisting), flags.has(CopyAttributes))
}

// transferTo implements the shared copy machinery behind move and copy.
func (n *FileNode) transferTo(dst *FileNode, op string, replace, keepAttrs bool) error {
	if dst.fs != n.fs {
		return fsErr(op, dst.path, ErrProviderMismatch)
	}
	if n.path == RootPath || dst.path == RootPath {
		return fsErr(op, n.path, ErrAccessDenied)
	}
	if dst.path == n.path {
		return nil
	}

	streamUnlock, ok := n.fs.locks.TryLock(streamLockName(n.path))
	if !ok {
		return fsErr(op, n.path, ErrStreamOpen)
	}
	defer streamUnlock()
	dstStreamUnlock, ok := n.fs.locks.TryLock(streamLockName(dst.path))
	if !ok {
		return fsErr(op, dst.path, ErrStreamOpen)
	}
	defer dstStreamUnlock()

	// Parent locks in sorted order so concurrent transfers cannot deadlock.
	unlock := n.fs.lockAll(Parent(n.path), Parent(dst.path))
	defer unlock()

	srcType, err := n.FileType()
	if err != nil {
		return err
	}
	if srcType == Imaginary {
		return fsErr(op, n.path, ErrNoSuchFile)
	}
	if srcType == Folder && op == "move" {
		if children, err := n.storeChildren(); err != nil {
			return err
		} else if len(children) > 0 {
			return fsErr(op, n.path, ErrDirectoryNotEmpty)
		}
	}

	// Destination parent must be an existing folder.
	dstParentPath := Parent(dst.path)
	dstParent := n.fs.node(dstParentPath)
	if err := dstParent.withRefreshed(func() error {
		switch dstParent.meta.FileType() {
		case Folder:
			return nil
		case File:
			return fsErr(op, dstParentPath, ErrNotDirectory)
		default:
			return fsErr(op, dstParentPath, ErrNoSuchFile)
		}
	}); err != nil {
		return err
	}

	dstType, err := dst.FileType()
	if err != nil {
		return err
	}
	if dstType != Imaginary {
		if !replace {
			return fsErr(op, dst.path, ErrAlreadyExists)
		}
		if err := dst.deleteForReplace(); err != nil {
			return err
		}
	}

	dst.mu.Lock()
	defer dst.mu.Unlock()
	if err := dst.refreshLocked(); err != nil {
		return err
	}

	n.mu.Lock()
	srcMeta := n.meta
	if srcMeta == nil {
		if err := n.attachLocked(); err != nil {
			n.mu.Unlock()
			return err
		}
		srcMeta = n.meta
	}
	dst.meta.Entity().SetPropertiesFrom(srcMeta.Entity(), propBlockKeys, propChildKeys)
	dst.meta.SetBlockKeys(nil)
	srcLastModified := srcMeta.LastModified()
	n.mu.Unlock()

	if srcType == File {
		if err := n.copyBlocksTo(dst); err != nil {
			return err
		}
		if err := (&BlockIO{n: dst}).flushLocked(); err != nil {
			return err
		}
		// Bound memory like a stream close would.
		n.fs.blocks.EvictAll(dst.meta.BlockKeys())
	} else {
		dst.meta.SetFileType(Folder)
		dst.meta.RemoveBlockSize()
		if err := dst.putMetadataLocked(true); err != nil {
			return err
		}
	}

	if keepAttrs {
		dst.meta.SetLastModified(srcLastModified)
		if err := dst.putMetadataLocked(false); err != nil {
			return err
		}
	}

	if err := dstParent.notifyChildAdded(dst.key); err != nil {
		return err
	}

	logger := util.GetLogger("FileNode")
	logger.Debug().Str("src", n.path).Str("dst", dst.path).Str("op", op).Msg("Node transferred")
	return nil
}

// deleteForReplace removes an existing destination ahead of a replacing
// copy or move. Caller already holds the relevant parent locks.
func (n *FileNode) deleteForReplace() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.refreshLocked(); err != nil {
		return err
	}
	switch n.meta.FileType() {
	case Imaginary:
		return nil
	case Folder:
		if len(n.meta.ChildKeys()) > 0 {
			return fsErr("replace", n.path, ErrDirectoryNotEmpty)
		}
	case File:
		if err := (&BlockIO{n: n}).deleteBlocksLocked(0); err != nil {
			return err
		}
	}
	parent := n.fs.node(Parent(n.path))
	if err := parent.notifyChildRemoved(n.key); err != nil {
		return err
	}
	if err := n.fs.store.Delete(n.key); err != nil {
		return ioErr("replace", n.path, err)
	}
	n.meta = newImaginaryMetadata(n.key, n.fs.cfg.BlockSize)
	return nil
}

// copyBlocksTo copies every source block's payload into a freshly-keyed
// block under dst and marks it dirty; dst.mu is held by the caller.
func (n *FileNode) copyBlocksTo(dst *FileNode) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.attachLocked(); err != nil {
		return err
	}
	src := &BlockIO{n: n}
	dstIO := &BlockIO{n: dst}
	for i := range n.meta.BlockKeys() {
		block, err := src.getBlockLocked(i)
		if err != nil {
			return err
		}
		copied := dstIO.createBlockLocked(i)
		copied.SetPropertiesFrom(block)
		n.fs.blocks.MarkDirty(copied.Key, true)
	}
	return nil
}

// Children resolves the folder's child nodes from its child-keys, merged
// with any children the local overlay provides. An imaginary path that the
// overlay knows as a directory is materialised first.
func (n *FileNode) Children() ([]*FileNode, error) {
	t, err := n.FileType()
	if err != nil {
		return nil, err
	}
	switch t {
	case File:
		return nil, fsErr("list", n.path, ErrNotDirectory)
	case Imaginary:
		if n.fs.overlay != nil {
			if exists, isDir := n.fs.overlay.Stat(n.path); exists && isDir {
				if err := n.fs.CreateFolders(n.path); err != nil {
					return nil, err
				}
				break
			}
		}
		return nil, fsErr("list", n.path, ErrNoSuchFile)
	}

	children, err := n.storeChildren()
	if err != nil {
		return nil, err
	}
	if n.fs.overlay == nil {
		return children, nil
	}

	seen := make(map[string]bool, len(children))
	for _, child := range children {
		seen[child.path] = true
	}
	names, err := n.fs.overlay.List(n.path)
	if err != nil {
		return nil, ioErr("list", n.path, err)
	}
	for _, name := range names {
		childPath, err := Resolve(n.path, name)
		if err != nil {
			continue
		}
		if !seen[childPath] {
			children = append(children, n.fs.node(childPath))
		}
	}
	return children, nil
}

// storeChildren resolves only the datastore-backed children.
func (n *FileNode) storeChildren() ([]*FileNode, error) {
	var keys []datastore.Key
	if err := n.withMeta(func() error {
		keys = append(keys, n.meta.ChildKeys()...)
		return nil
	}); err != nil {
		return nil, err
	}
	children := make([]*FileNode, 0, len(keys))
	for _, key := range keys {
		children = append(children, n.fs.node(key.Name))
	}
	sort.Slice(children, func(i, j int) bool { return children[i].path < children[j].path })
	return children, nil
}

// IO returns the positional block I/O for a file node.
func (n *FileNode) IO() (*BlockIO, error) {
	t, err := n.FileType()
	if err != nil {
		return nil, err
	}
	if t == Folder {
		return nil, fsErr("io", n.path, ErrNoSuchFile)
	}
	return &BlockIO{n: n}, nil
}

// lockAll acquires the named locks in sorted unique order and returns a
// single release for all of them.
func (fs *FileSystem) lockAll(names ...string) (unlock func()) {
	sort.Strings(names)
	var unlocks []func()
	var last string
	for i, name := range names {
		if i > 0 && name == last {
			continue
		}
		unlocks = append(unlocks, fs.locks.Lock(name))
		last = name
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

func streamLockName(path string) string {
	return "stream:" + path
}
