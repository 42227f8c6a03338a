package filesystem

import (
	"errors"
	"io"

	"github.com/kwarrick/dsfs/internal/util"
)

// Stream is an open byte channel over a file node. At most one stream is
// open per file at a time, enforced through the lock registry, so readers
// and writers never coexist on the same path. Stream is not safe for
// concurrent use by multiple goroutines.
type Stream struct {
	node   *FileNode
	bio    *BlockIO
	flags  OpenFlag
	pos    int64
	unlock func()
	closed bool
}

// Open opens the file at path with the given flags. See the OpenFlag
// constants for semantics; SYNC, DSYNC, SPARSE, and DELETE_ON_CLOSE are
// refused.
func (fs *FileSystem) Open(path string, flags OpenFlag) (*Stream, error) {
	p, err := Normalize(path)
	if err != nil {
		return nil, err
	}
	flags, err = checkOpenFlags(flags)
	if err != nil {
		return nil, fsErr("open", p, err)
	}

	unlock, ok := fs.locks.TryLock(streamLockName(p))
	if !ok {
		return nil, fsErr("open", p, ErrStreamOpen)
	}
	release := unlock
	defer func() {
		if release != nil {
			release()
		}
	}()

	n := fs.node(p)
	t, err := n.FileType()
	if err != nil {
		return nil, err
	}
	switch t {
	case Folder:
		return nil, fsErr("open", p, ErrNotDirectory)
	case Imaginary:
		if !flags.has(OpenCreate) && !flags.has(OpenCreateNew) {
			return nil, fsErr("open", p, ErrNoSuchFile)
		}
		if err := n.CreateFile(0); err != nil {
			return nil, err
		}
	case File:
		if flags.has(OpenCreateNew) {
			return nil, fsErr("open", p, ErrAlreadyExists)
		}
	}

	bio, err := n.IO()
	if err != nil {
		return nil, err
	}
	if t == File && flags.has(OpenWrite) && flags.has(OpenTruncateExisting) {
		if err := bio.Truncate(0); err != nil {
			return nil, err
		}
	}

	f := &Stream{node: n, bio: bio, flags: flags, unlock: unlock}
	release = nil
	return f, nil
}

var errClosed = errors.New("file stream closed")

func (f *Stream) checkOpen() error {
	if f.closed {
		return fsErr("stream", f.node.path, errClosed)
	}
	return nil
}

// Read reads from the current position.
func (f *Stream) Read(p []byte) (int, error) {
	if err := f.checkOpen(); err != nil {
		return 0, err
	}
	if !f.flags.has(OpenRead) {
		return 0, fsErr("read", f.node.path, ErrAccessDenied)
	}
	n, err := f.bio.ReadAt(p, f.pos)
	f.pos += int64(n)
	return n, err
}

// ReadAt reads at an absolute offset without moving the position.
func (f *Stream) ReadAt(p []byte, off int64) (int, error) {
	if err := f.checkOpen(); err != nil {
		return 0, err
	}
	if !f.flags.has(OpenRead) {
		return 0, fsErr("read", f.node.path, ErrAccessDenied)
	}
	return f.bio.ReadAt(p, off)
}

// Write writes at the current position, or at the current content size in
// append mode.
func (f *Stream) Write(p []byte) (int, error) {
	if err := f.checkOpen(); err != nil {
		return 0, err
	}
	if !f.flags.has(OpenWrite) {
		return 0, fsErr("write", f.node.path, ErrAccessDenied)
	}
	off := f.pos
	if f.flags.has(OpenAppend) {
		size, err := f.node.ContentSize()
		if err != nil {
			return 0, err
		}
		off = size
	}
	n, err := f.bio.WriteAt(p, off)
	f.pos = off + int64(n)
	return n, err
}

// WriteAt writes at an absolute offset without moving the position.
func (f *Stream) WriteAt(p []byte, off int64) (int, error) {
	if err := f.checkOpen(); err != nil {
		return 0, err
	}
	if !f.flags.has(OpenWrite) {
		return 0, fsErr("write", f.node.path, ErrAccessDenied)
	}
	if f.flags.has(OpenAppend) {
		return 0, fsErr("write", f.node.path, ErrUnsupportedOption)
	}
	return f.bio.WriteAt(p, off)
}

// Seek sets the position for the next Read or Write.
func (f *Stream) Seek(offset int64, whence int) (int64, error) {
	if err := f.checkOpen(); err != nil {
		return 0, err
	}
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = f.pos
	case io.SeekEnd:
		size, err := f.node.ContentSize()
		if err != nil {
			return 0, err
		}
		base = size
	default:
		return 0, fsErr("seek", f.node.path, ErrUnsupportedOption)
	}
	pos := base + offset
	if pos < 0 {
		return 0, fsErr("seek", f.node.path, ErrInvalidPath)
	}
	f.pos = pos
	return pos, nil
}

// Truncate shrinks the file to size bytes.
func (f *Stream) Truncate(size int64) error {
	if err := f.checkOpen(); err != nil {
		return err
	}
	if !f.flags.has(OpenWrite) {
		return fsErr("truncate", f.node.path, ErrAccessDenied)
	}
	return f.bio.Truncate(size)
}

// Flush persists all dirty state for the file.
func (f *Stream) Flush() error {
	if err := f.checkOpen(); err != nil {
		return err
	}
	return f.bio.Flush()
}

// Size returns the file's current content size.
func (f *Stream) Size() (int64, error) {
	if err := f.checkOpen(); err != nil {
		return 0, err
	}
	return f.node.ContentSize()
}

// Close flushes pending writes, evicts the file's blocks from the block
// cache to bound long-term memory, and releases the stream slot. Close is
// idempotent.
func (f *Stream) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	defer f.unlock()

	var flushErr error
	if f.flags.has(OpenWrite) {
		flushErr = f.bio.Flush()
	}

	f.node.mu.Lock()
	if f.node.meta != nil {
		f.node.fs.blocks.EvictAll(f.node.meta.BlockKeys())
	}
	f.node.mu.Unlock()

	if flushErr != nil {
		logger := util.GetLogger("Stream")
		logger.Error().Err(flushErr).Str("path", f.node.path).Msg("Flush on close failed")
		return flushErr
	}
	return nil
}
