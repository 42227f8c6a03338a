package filesystem

import (
	"time"

	"github.com/kwarrick/dsfs/datastore"
)

// Metadata property names on Node entities.
const (
	propFiletype     = "filetype"
	propLastModified = "last-modified"
	propChildKeys    = "child-keys"
	propBlockKeys    = "block-keys"
	propBlockSize    = "block-size"
	propContentSize  = "content-size"
	propData         = "data"
)

// FileType tags a node as a file, a folder, or imaginary (no metadata
// entity exists for the path).
type FileType int

const (
	Imaginary FileType = iota
	File
	Folder
)

func (t FileType) String() string {
	switch t {
	case File:
		return "file"
	case Folder:
		return "folder"
	default:
		return "imaginary"
	}
}

func fileTypeFromName(name string) FileType {
	switch name {
	case "file":
		return File
	case "folder":
		return Folder
	default:
		return Imaginary
	}
}

// Metadata wraps a node's datastore entity with typed accessors and a dirty
// flag. A node exists in the namespace iff its metadata entity exists in
// the datastore; the in-memory filetype mirrors the entity's filetype
// property, with absence denoting an imaginary node.
type Metadata struct {
	entity *datastore.Entity
	dirty  bool
}

// newMetadata wraps an entity loaded from the datastore.
func newMetadata(entity *datastore.Entity) *Metadata {
	return &Metadata{entity: entity}
}

// newImaginaryMetadata builds a fresh entity for a path with no filetype
// and the engine-default block size.
func newImaginaryMetadata(key datastore.Key, blockSize int) *Metadata {
	e := datastore.NewEntity(key)
	e.SetProperty(propBlockSize, int64(blockSize))
	return &Metadata{entity: e}
}

func (m *Metadata) Key() datastore.Key { return m.entity.Key }

// Entity exposes the wrapped entity for persistence.
func (m *Metadata) Entity() *datastore.Entity { return m.entity }

func (m *Metadata) FileType() FileType {
	if v, ok := m.entity.Property(propFiletype); ok {
		return fileTypeFromName(v.(string))
	}
	return Imaginary
}

func (m *Metadata) SetFileType(t FileType) {
	if t == Imaginary {
		m.entity.RemoveProperty(propFiletype)
	} else {
		m.entity.SetProperty(propFiletype, t.String())
	}
	m.dirty = true
}

func (m *Metadata) LastModified() time.Time {
	if v, ok := m.entity.Property(propLastModified); ok {
		return time.UnixMilli(v.(int64))
	}
	return time.Time{}
}

func (m *Metadata) SetLastModified(t time.Time) {
	m.entity.SetProperty(propLastModified, t.UnixMilli())
	m.dirty = true
}

// BlockSize returns the per-file block size. The property is always present
// while the node is imaginary or a file; folders drop it at creation.
func (m *Metadata) BlockSize() int {
	if v, ok := m.entity.Property(propBlockSize); ok {
		return int(v.(int64))
	}
	return 0
}

func (m *Metadata) SetBlockSize(size int) {
	m.entity.SetProperty(propBlockSize, int64(size))
	m.dirty = true
}

// RemoveBlockSize drops the block-size property; folders carry none.
func (m *Metadata) RemoveBlockSize() {
	m.entity.RemoveProperty(propBlockSize)
	m.dirty = true
}

func (m *Metadata) ContentSize() int64 {
	if v, ok := m.entity.Property(propContentSize); ok {
		return v.(int64)
	}
	return 0
}

func (m *Metadata) SetContentSize(size int64) {
	m.entity.SetProperty(propContentSize, size)
	m.dirty = true
}

// BlockKeys returns the file's block keys in offset order. The returned
// slice is the live list; use the mutators below to change it.
func (m *Metadata) BlockKeys() []datastore.Key {
	if v, ok := m.entity.Property(propBlockKeys); ok {
		return v.([]datastore.Key)
	}
	return nil
}

func (m *Metadata) SetBlockKeys(keys []datastore.Key) {
	if len(keys) == 0 {
		m.entity.RemoveProperty(propBlockKeys)
	} else {
		m.entity.SetProperty(propBlockKeys, keys)
	}
	m.dirty = true
}

func (m *Metadata) AppendBlockKey(key datastore.Key) {
	m.SetBlockKeys(append(m.BlockKeys(), key))
}

// ChildKeys returns a folder's child keys; order is not meaningful.
func (m *Metadata) ChildKeys() []datastore.Key {
	if v, ok := m.entity.Property(propChildKeys); ok {
		return v.([]datastore.Key)
	}
	return nil
}

// AddChildKey appends a child key if not already present. Matches the
// original provider: adding an existing key is a no-op.
func (m *Metadata) AddChildKey(key datastore.Key) {
	keys := m.ChildKeys()
	for _, k := range keys {
		if k == key {
			return
		}
	}
	m.entity.SetProperty(propChildKeys, append(keys, key))
	m.dirty = true
}

// RemoveChildKey removes a child key; the property is dropped when the list
// empties.
func (m *Metadata) RemoveChildKey(key datastore.Key) {
	keys := m.ChildKeys()
	out := keys[:0]
	for _, k := range keys {
		if k != key {
			out = append(out, k)
		}
	}
	if len(out) == 0 {
		m.entity.RemoveProperty(propChildKeys)
	} else {
		m.entity.SetProperty(propChildKeys, out)
	}
	m.dirty = true
}

// Dirty reports whether the metadata diverged from the datastore.
func (m *Metadata) Dirty() bool { return m.dirty }

// MarkDirty flags the metadata for the next flush.
func (m *Metadata) MarkDirty() { m.dirty = true }

func (m *Metadata) clearDirty() { m.dirty = false }
