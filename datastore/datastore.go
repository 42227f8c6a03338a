// Package datastore models the backing key-value platform: typed entities
// addressed by string keys, per-entity atomic put/get/delete, bounded bulk
// operations, and optional transactions. Implementations in this package are
// the in-memory store, the disk-backed store, and a read-through caching
// wrapper standing in for the platform memcache.
package datastore

import (
	"errors"
	"fmt"

	"github.com/kwarrick/dsfs/config"
)

// ErrNoSuchEntity is returned by Get when no entity exists for the key.
var ErrNoSuchEntity = errors.New("datastore: no such entity")

// errTxDone is returned when using a transaction after Commit or Rollback.
var errTxDone = errors.New("datastore: transaction already finished")

// KindNode is the entity kind used for both filesystem nodes and their
// content blocks.
const KindNode = "Node"

// Key addresses one entity. Parent is the encoded key of the owning entity,
// empty for top-level entities. Keys are comparable values.
type Key struct {
	Kind   string
	Name   string
	Parent string
}

// NewKey builds a top-level key.
func NewKey(kind, name string) Key {
	return Key{Kind: kind, Name: name}
}

// NewChildKey builds a key parented by owner.
func NewChildKey(kind, name string, owner Key) Key {
	return Key{Kind: kind, Name: name, Parent: owner.Encode()}
}

// Encode returns a stable string form of the key, unique per key. The NUL
// separator cannot occur in kinds or names.
func (k Key) Encode() string {
	return k.Parent + "\x00" + k.Kind + "\x00" + k.Name
}

func (k Key) String() string {
	if k.Parent == "" {
		return fmt.Sprintf("%s(%q)", k.Kind, k.Name)
	}
	return fmt.Sprintf("%s(%q child of %q)", k.Kind, k.Name, k.Parent)
}

// IsZero reports whether k is the zero key.
func (k Key) IsZero() bool {
	return k.Kind == "" && k.Name == "" && k.Parent == ""
}

// Entity is one typed record. Property values are limited to string, int64,
// []byte, and []Key; setting any other type panics, which keeps every store
// implementation able to encode every entity it is handed.
type Entity struct {
	Key   Key
	props map[string]any
}

// NewEntity creates an empty entity for key.
func NewEntity(key Key) *Entity {
	return &Entity{Key: key, props: make(map[string]any)}
}

// Property returns the named property value, or (nil, false) if absent.
func (e *Entity) Property(name string) (any, bool) {
	v, ok := e.props[name]
	return v, ok
}

// SetProperty sets a property. Allowed value types: string, int64, []byte, []Key.
func (e *Entity) SetProperty(name string, value any) {
	switch value.(type) {
	case string, int64, []byte, []Key:
	default:
		panic(fmt.Sprintf("datastore: unsupported property type %T for %q", value, name))
	}
	e.props[name] = value
}

// RemoveProperty deletes a property; absent names are a no-op.
func (e *Entity) RemoveProperty(name string) {
	delete(e.props, name)
}

// PropertyNames returns the names of all set properties.
func (e *Entity) PropertyNames() []string {
	names := make([]string, 0, len(e.props))
	for name := range e.props {
		names = append(names, name)
	}
	return names
}

// SetPropertiesFrom copies all properties of src onto e, excluding the given
// names. Slice-valued properties are copied, not shared.
func (e *Entity) SetPropertiesFrom(src *Entity, exclude ...string) {
	skip := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		skip[name] = true
	}
	for name, v := range src.props {
		if skip[name] {
			continue
		}
		e.props[name] = cloneValue(v)
	}
}

// Clone returns a deep copy of the entity.
func (e *Entity) Clone() *Entity {
	c := NewEntity(e.Key)
	for name, v := range e.props {
		c.props[name] = cloneValue(v)
	}
	return c
}

func cloneValue(v any) any {
	switch tv := v.(type) {
	case []byte:
		return append([]byte(nil), tv...)
	case []Key:
		return append([]Key(nil), tv...)
	default:
		return v
	}
}

// EstimateSize approximates the entity's serialized payload in bytes. Used
// by the stores to enforce the bulk payload ceiling.
func (e *Entity) EstimateSize() int {
	size := len(e.Key.Encode())
	for name, v := range e.props {
		size += len(name)
		switch tv := v.(type) {
		case string:
			size += len(tv)
		case []byte:
			size += len(tv)
		case []Key:
			for _, k := range tv {
				size += len(k.Encode())
			}
		default:
			size += 8
		}
	}
	return size
}

// Tx is a transaction handle. Only the put path is transactional: the engine
// uses transactions solely for write-through flushes.
type Tx interface {
	Put(e *Entity) error
	PutMulti(entities []*Entity) error
	Commit() error
	Rollback() error
}

// Store is the thin façade over the backing datastore.
type Store interface {
	// Get returns the entity for key, or ErrNoSuchEntity.
	Get(key Key) (*Entity, error)
	// GetMulti returns the entities found for keys; missing keys are simply
	// absent from the result.
	GetMulti(keys []Key) (map[Key]*Entity, error)
	Put(e *Entity) error
	PutMulti(entities []*Entity) error
	Delete(key Key) error
	DeleteMulti(keys []Key) error
	// NewTransaction begins a transaction for the write-through flush path.
	NewTransaction() (Tx, error)
}

// checkPutLimits enforces the platform's bulk put ceilings: the entity-count
// limit, and the payload budget for multi-entity calls. A single-entity put
// goes through the per-entity atomic path, whose size cap is the maximum
// block size and is not re-checked here.
func checkPutLimits(entities []*Entity) error {
	if len(entities) > config.MaxEntitiesPerPut {
		return fmt.Errorf("datastore: bulk put of %d entities exceeds limit %d",
			len(entities), config.MaxEntitiesPerPut)
	}
	if len(entities) <= 1 {
		return nil
	}
	payload := 0
	for _, e := range entities {
		payload += e.EstimateSize()
	}
	if payload > config.MaxBulkPayload {
		return fmt.Errorf("datastore: bulk put payload %d exceeds limit %d",
			payload, config.MaxBulkPayload)
	}
	return nil
}

// checkGetLimits enforces the platform's bulk get ceiling.
func checkGetLimits(keys []Key) error {
	if len(keys) > config.MaxEntitiesPerGet {
		return fmt.Errorf("datastore: bulk get of %d keys exceeds limit %d",
			len(keys), config.MaxEntitiesPerGet)
	}
	return nil
}
