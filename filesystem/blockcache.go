package filesystem

import (
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/kwarrick/dsfs/datastore"
)

// BlockCache is the process-wide map from block key to in-memory block
// entity, with a companion dirty flag per block. Entries are shared across
// every FileNode touching the same file, which is what keeps reads coherent
// with unflushed writes inside one process.
type BlockCache struct {
	blocks *xsync.MapOf[datastore.Key, *datastore.Entity]
	dirty  *xsync.MapOf[datastore.Key, bool]
}

// NewBlockCache creates an empty block cache.
func NewBlockCache() *BlockCache {
	return &BlockCache{
		blocks: xsync.NewMapOf[datastore.Key, *datastore.Entity](),
		dirty:  xsync.NewMapOf[datastore.Key, bool](),
	}
}

// Get returns the cached block entity for key, or (nil, false).
func (c *BlockCache) Get(key datastore.Key) (*datastore.Entity, bool) {
	return c.blocks.Load(key)
}

// Put inserts or replaces a block entity.
func (c *BlockCache) Put(key datastore.Key, e *datastore.Entity) {
	c.blocks.Store(key, e)
}

// PutIfAbsent inserts the entity only when the key is not yet cached, and
// returns the cached entity either way. A concurrent writer's in-flight
// block must not be replaced by a datastore fetch.
func (c *BlockCache) PutIfAbsent(key datastore.Key, e *datastore.Entity) *datastore.Entity {
	actual, _ := c.blocks.LoadOrStore(key, e)
	return actual
}

// MarkDirty sets or clears the dirty flag for key.
func (c *BlockCache) MarkDirty(key datastore.Key, dirty bool) {
	if dirty {
		c.dirty.Store(key, true)
	} else {
		c.dirty.Delete(key)
	}
}

// IsDirty reports whether the block for key has unflushed changes.
func (c *BlockCache) IsDirty(key datastore.Key) bool {
	v, ok := c.dirty.Load(key)
	return ok && v
}

// EvictAll removes entries and their flags. A block that is still dirty is
// kept; only flushed or deleted blocks may leave the cache.
func (c *BlockCache) EvictAll(keys []datastore.Key) {
	for _, key := range keys {
		if c.IsDirty(key) {
			continue
		}
		c.blocks.Delete(key)
		c.dirty.Delete(key)
	}
}

// Remove drops entries unconditionally; used when the blocks themselves
// were deleted from the datastore.
func (c *BlockCache) Remove(keys []datastore.Key) {
	for _, key := range keys {
		c.blocks.Delete(key)
		c.dirty.Delete(key)
	}
}

// Len reports the number of cached blocks.
func (c *BlockCache) Len() int {
	return c.blocks.Size()
}
