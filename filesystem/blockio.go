package filesystem

import (
	"io"
	"strconv"
	"time"

	"github.com/kwarrick/dsfs/config"
	"github.com/kwarrick/dsfs/datastore"
	"github.com/kwarrick/dsfs/internal/util"
)

// BlockIO provides positional read/write over a file's block sequence. It
// allocates blocks as writes extend the file, truncates, keeps content-size
// current, and drives the batched flush of dirty entities.
type BlockIO struct {
	n *FileNode
}

// maxBlocksPerBulkOperation bounds a bulk slice so one batch of block
// entities plus per-entity overhead stays under the platform payload
// ceiling. With the minimum 8KB block size this comes out around 100
// entities per put.
func (b *BlockIO) maxBlocksPerBulkOperation() int {
	max := config.MaxBulkPayload / (b.n.meta.BlockSize() + config.EntityOverhead)
	if max < 1 {
		max = 1
	}
	return max
}

func (b *BlockIO) blockKeyLocked(i int) datastore.Key {
	return datastore.NewChildKey(datastore.KindNode, "block."+strconv.Itoa(i), b.n.key)
}

// getBlockLocked returns the i-th block entity, fetching a forward window
// of blocks from the datastore on a cache miss, or creating blocks (and any
// missing intermediates) when i lies beyond the current block list.
// Caller holds n.mu.
func (b *BlockIO) getBlockLocked(i int) (*datastore.Entity, error) {
	keys := b.n.meta.BlockKeys()
	if i >= len(keys) {
		var block *datastore.Entity
		for j := len(keys); j <= i; j++ {
			block = b.createBlockLocked(j)
		}
		return block, nil
	}

	if block, ok := b.n.fs.blocks.Get(keys[i]); ok {
		return block, nil
	}

	// Miss: bulk-fetch a forward window and populate the cache.
	to := i + b.maxBlocksPerBulkOperation()
	if to > len(keys) {
		to = len(keys)
	}
	fetched, err := b.n.fs.store.GetMulti(keys[i:to])
	if err != nil {
		return nil, ioErr("read-blocks", b.n.path, err)
	}
	for key, e := range fetched {
		b.n.fs.blocks.PutIfAbsent(key, e)
	}

	if block, ok := b.n.fs.blocks.Get(keys[i]); ok {
		return block, nil
	}
	// The entity vanished underneath us; recreate it empty at the same key
	// so the offset space stays intact.
	block := datastore.NewEntity(keys[i])
	block = b.n.fs.blocks.PutIfAbsent(keys[i], block)
	b.n.fs.blocks.MarkDirty(keys[i], true)
	return block, nil
}

// createBlockLocked allocates the i-th block, registers it in the cache,
// and appends its key to the metadata block list. New blocks are dirty from
// birth so the flush persists them. Caller holds n.mu.
func (b *BlockIO) createBlockLocked(i int) *datastore.Entity {
	key := b.blockKeyLocked(i)
	block := datastore.NewEntity(key)
	b.n.fs.blocks.Put(key, block)
	b.n.fs.blocks.MarkDirty(key, true)
	b.n.meta.AppendBlockKey(key)
	return block
}

func blockData(block *datastore.Entity) []byte {
	if v, ok := block.Property(propData); ok {
		return v.([]byte)
	}
	return nil
}

// ReadAt reads up to len(p) bytes at offset off, clamped to content-size.
// Bytes past a block's stored payload read as zeros.
func (b *BlockIO) ReadAt(p []byte, off int64) (int, error) {
	b.n.mu.Lock()
	defer b.n.mu.Unlock()
	if err := b.n.attachLocked(); err != nil {
		return 0, err
	}

	size := b.n.meta.ContentSize()
	if off < 0 {
		return 0, fsErr("read", b.n.path, ErrInvalidPath)
	}
	if off >= size {
		return 0, io.EOF
	}
	want := int64(len(p))
	if off+want > size {
		want = size - off
	}

	bs := int64(b.n.meta.BlockSize())
	read := int64(0)
	for read < want {
		idx := int((off + read) / bs)
		within := (off + read) % bs
		chunk := bs - within
		if chunk > want-read {
			chunk = want - read
		}

		block, err := b.getBlockLocked(idx)
		if err != nil {
			return int(read), err
		}
		data := blockData(block)
		dst := p[read : read+chunk]
		var copied int
		if within < int64(len(data)) {
			copied = copy(dst, data[within:])
		}
		// Anything not backed by stored payload reads as zeros.
		for i := copied; i < len(dst); i++ {
			dst[i] = 0
		}
		read += chunk
	}
	if read < int64(len(p)) {
		return int(read), io.EOF
	}
	return int(read), nil
}

// WriteAt writes p at offset off, allocating zero-padded blocks for any gap
// beyond the current end, and extends content-size when the write reaches
// past it.
func (b *BlockIO) WriteAt(p []byte, off int64) (int, error) {
	b.n.mu.Lock()
	defer b.n.mu.Unlock()
	if err := b.n.attachLocked(); err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, fsErr("write", b.n.path, ErrInvalidPath)
	}

	bs := int64(b.n.meta.BlockSize())
	written := int64(0)
	for written < int64(len(p)) {
		idx := int((off + written) / bs)
		within := (off + written) % bs
		chunk := bs - within
		if chunk > int64(len(p))-written {
			chunk = int64(len(p)) - written
		}

		block, err := b.getBlockLocked(idx)
		if err != nil {
			return int(written), err
		}
		data := blockData(block)
		need := within + chunk
		if int64(len(data)) < need {
			grown := make([]byte, need)
			copy(grown, data)
			data = grown
		}
		copy(data[within:need], p[written:written+chunk])
		block.SetProperty(propData, data)
		b.n.fs.blocks.MarkDirty(block.Key, true)
		written += chunk
	}

	if end := off + int64(len(p)); end > b.n.meta.ContentSize() {
		b.n.meta.SetContentSize(end)
	}
	return int(written), nil
}

// Truncate shrinks the file to size bytes. Truncating to the current size
// or larger is a no-op; blocks past the new end are deleted from the
// datastore and dropped from the cache.
func (b *BlockIO) Truncate(size int64) error {
	b.n.mu.Lock()
	defer b.n.mu.Unlock()
	if err := b.n.attachLocked(); err != nil {
		return err
	}
	if size < 0 {
		return fsErr("truncate", b.n.path, ErrInvalidPath)
	}
	current := b.n.meta.ContentSize()
	if size >= current {
		return nil
	}

	bs := int64(b.n.meta.BlockSize())
	keep := int((size + bs - 1) / bs)
	if err := b.deleteBlocksLocked(keep); err != nil {
		return err
	}

	// Trim the last kept block so stale bytes cannot resurface when a later
	// write extends the file again.
	if size > 0 {
		within := size - int64(keep-1)*bs
		block, err := b.getBlockLocked(keep - 1)
		if err != nil {
			return err
		}
		if data := blockData(block); int64(len(data)) > within {
			block.SetProperty(propData, data[:within])
			b.n.fs.blocks.MarkDirty(block.Key, true)
		}
	}

	b.n.meta.SetContentSize(size)
	return nil
}

// deleteBlocksLocked removes block entities from index from (inclusive)
// onward, in datastore batches, and drops them from the cache. Caller
// holds n.mu.
func (b *BlockIO) deleteBlocksLocked(from int) error {
	keys := b.n.meta.BlockKeys()
	if from >= len(keys) {
		return nil
	}
	doomed := append([]datastore.Key(nil), keys[from:]...)
	for start := 0; start < len(doomed); start += config.MaxEntitiesPerPut {
		end := start + config.MaxEntitiesPerPut
		if end > len(doomed) {
			end = len(doomed)
		}
		if err := b.n.fs.store.DeleteMulti(doomed[start:end]); err != nil {
			return ioErr("delete-blocks", b.n.path, err)
		}
	}
	b.n.fs.blocks.Remove(doomed)
	b.n.meta.SetBlockKeys(append([]datastore.Key(nil), keys[:from]...))
	return nil
}

// Flush persists the dirty block entities and the metadata in bulk batches
// sized by maxBlocksPerBulkOperation. In write-through mode the whole flush
// runs inside a datastore transaction so readers observe all or nothing;
// otherwise each successful batch clears its own dirty flags, leaving any
// unwritten blocks dirty for a retry.
func (b *BlockIO) Flush() error {
	b.n.mu.Lock()
	defer b.n.mu.Unlock()
	if err := b.n.attachLocked(); err != nil {
		return err
	}
	return b.flushLocked()
}

func (b *BlockIO) flushLocked() error {
	meta := b.n.meta

	var dirty []*datastore.Entity
	for _, key := range meta.BlockKeys() {
		if !b.n.fs.blocks.IsDirty(key) {
			continue
		}
		if block, ok := b.n.fs.blocks.Get(key); ok {
			dirty = append(dirty, block)
		}
	}
	if len(dirty) == 0 && !meta.Dirty() {
		return nil
	}

	// Imaginary-to-file transitions must never flush content without a
	// filetype on the metadata.
	if meta.FileType() == Imaginary {
		meta.SetFileType(File)
	}
	meta.SetLastModified(time.Now())

	batch := append([]*datastore.Entity{meta.Entity()}, dirty...)
	max := b.maxBlocksPerBulkOperation()

	logger := util.GetLogger("BlockIO")
	logger.Trace().Str("path", b.n.path).Int("entities", len(batch)).Bool("writeThrough", b.n.fs.cfg.WriteThrough).
		Msg("Flushing dirty entities")

	if b.n.fs.cfg.WriteThrough {
		tx, err := b.n.fs.store.NewTransaction()
		if err != nil {
			return ioErr("flush", b.n.path, err)
		}
		committed := false
		defer func() {
			if !committed {
				_ = tx.Rollback()
			}
		}()
		for from := 0; from < len(batch); from += max {
			to := from + max
			if to > len(batch) {
				to = len(batch)
			}
			if err := tx.PutMulti(batch[from:to]); err != nil {
				return ioErr("flush", b.n.path, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return ioErr("flush", b.n.path, err)
		}
		committed = true
		for _, block := range dirty {
			b.n.fs.blocks.MarkDirty(block.Key, false)
		}
		meta.clearDirty()
		return nil
	}

	for from := 0; from < len(batch); from += max {
		to := from + max
		if to > len(batch) {
			to = len(batch)
		}
		if err := b.n.fs.store.PutMulti(batch[from:to]); err != nil {
			// Unwritten blocks stay dirty so a later flush retries them.
			return ioErr("flush", b.n.path, err)
		}
		for _, e := range batch[from:to] {
			if e == meta.Entity() {
				meta.clearDirty()
				continue
			}
			b.n.fs.blocks.MarkDirty(e.Key, false)
		}
	}
	return nil
}
