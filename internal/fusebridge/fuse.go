// Package fusebridge adapts the engine to the low-level FUSE wire protocol.
// It is a thin external surface over the storage engine; only the entry
// points a read-mostly mount needs are implemented.
package fusebridge

import (
	"sync/atomic"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/kwarrick/dsfs/filesystem"
	"github.com/kwarrick/dsfs/internal/util"
)

// Raw implements the low-level FUSE wire protocol against the engine.
// See https://www.man7.org/linux/man-pages/man4/fuse.4.html
type Raw struct {
	fuse.RawFileSystem
	fs     *filesystem.FileSystem
	server *fuse.Server

	lastNodeID atomic.Uint64
	paths      *xsync.MapOf[uint64, string] // FUSE node id -> engine path
	ids        *xsync.MapOf[string, uint64]
}

// NewRaw creates the protocol adapter over an engine instance.
func NewRaw(fs *filesystem.FileSystem) *Raw {
	r := &Raw{
		RawFileSystem: fuse.NewDefaultRawFileSystem(),
		fs:            fs,
		paths:         xsync.NewMapOf[uint64, string](),
		ids:           xsync.NewMapOf[string, uint64](),
	}
	r.lastNodeID.Store(fuse.FUSE_ROOT_ID)
	r.paths.Store(fuse.FUSE_ROOT_ID, filesystem.RootPath)
	r.ids.Store(filesystem.RootPath, fuse.FUSE_ROOT_ID)
	return r
}

func (r *Raw) Init(s *fuse.Server) {
	logger := util.GetLogger("Fuse.Init")
	logger.Debug().Msg("FUSE initialized")
	r.server = s
}

func (r *Raw) OnUnmount() {
	logger := util.GetLogger("Fuse.OnUnmount")
	logger.Info().Msg("FUSE unmounted")
}

func (r *Raw) String() string {
	return "dsfs"
}

func (r *Raw) nodeID(path string) uint64 {
	if id, ok := r.ids.Load(path); ok {
		return id
	}
	id := r.lastNodeID.Add(1)
	if prev, loaded := r.ids.LoadOrStore(path, id); loaded {
		return prev
	}
	r.paths.Store(id, path)
	return id
}

func fillAttr(attrs *filesystem.Attrs, out *fuse.Attr) {
	if attrs.Type == filesystem.Folder {
		out.Mode = uint32(syscall.S_IFDIR | 0o755)
	} else {
		out.Mode = uint32(syscall.S_IFREG | 0o644)
	}
	out.Size = uint64(attrs.Size)
	out.Mtime = uint64(attrs.LastModified.Unix())
	out.Blksize = uint32(attrs.BlockSize)
	out.Nlink = 1
}

// Access allows read and write probes; execute is never permitted by the
// engine.
func (r *Raw) Access(cancel <-chan struct{}, input *fuse.AccessIn) fuse.Status {
	if input.Mask&1 != 0 { // X_OK
		return fuse.EACCES
	}
	return fuse.OK
}

// Lookup resolves a child by name under the parent node.
func (r *Raw) Lookup(cancel <-chan struct{}, header *fuse.InHeader, name string, out *fuse.EntryOut) fuse.Status {
	logger := util.GetLogger("Fuse.Lookup")
	parentPath, ok := r.paths.Load(header.NodeId)
	if !ok {
		return fuse.ENOENT
	}
	childPath, err := filesystem.Resolve(parentPath, name)
	if err != nil {
		return fuse.EINVAL
	}
	attrs, err := r.fs.Stat(childPath)
	if err != nil {
		logger.Trace().Str("path", childPath).Err(err).Msg("Lookup miss")
		return fuse.ENOENT
	}

	id := r.nodeID(childPath)
	out.NodeId = id
	out.Attr.Ino = id
	fillAttr(attrs, &out.Attr)
	out.SetAttrTimeout(1)
	out.SetEntryTimeout(1)
	return fuse.OK
}

// Forget drops the node id mapping when the kernel discards its dentry.
func (r *Raw) Forget(nodeid, nlookup uint64) {
	if path, ok := r.paths.LoadAndDelete(nodeid); ok {
		r.ids.Delete(path)
	}
}

func (r *Raw) GetAttr(cancel <-chan struct{}, input *fuse.GetAttrIn, out *fuse.AttrOut) fuse.Status {
	path, ok := r.paths.Load(input.NodeId)
	if !ok {
		return fuse.ENOENT
	}
	attrs, err := r.fs.Stat(path)
	if err != nil {
		return fuse.ENOENT
	}
	out.Attr.Ino = input.NodeId
	fillAttr(attrs, &out.Attr)
	return fuse.OK
}

// ReadDirPlus and the open/read/write paths are not implemented at this
// layer; callers use the engine API directly.
func (r *Raw) ReadDir(cancel <-chan struct{}, input *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	return fuse.ENOSYS
}
