package datastore

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// cacheEntry holds a cached entity. A nil entity is a negative entry
// recording that the key is known to be absent, so a Get after Delete can
// never be masked by a stale hit.
type cacheEntry struct {
	entity *Entity
}

// CachingStore wraps a Store with a transparent read-through memcache. Gets
// consult the cache first and populate it on miss; puts and deletes
// invalidate before the backing write. Cached entities are cloned on both
// sides of the cache so callers never alias cached state.
type CachingStore struct {
	backing Store
	cache   *xsync.MapOf[Key, *cacheEntry]

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCachingStore wraps backing with a memcache layer.
func NewCachingStore(backing Store) *CachingStore {
	return &CachingStore{
		backing: backing,
		cache:   xsync.NewMapOf[Key, *cacheEntry](),
	}
}

func (s *CachingStore) Get(key Key) (*Entity, error) {
	if entry, ok := s.cache.Load(key); ok {
		s.hits.Add(1)
		if entry.entity == nil {
			return nil, ErrNoSuchEntity
		}
		return entry.entity.Clone(), nil
	}
	s.misses.Add(1)

	e, err := s.backing.Get(key)
	if err == ErrNoSuchEntity {
		s.cache.Store(key, &cacheEntry{})
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	s.cache.Store(key, &cacheEntry{entity: e.Clone()})
	return e, nil
}

func (s *CachingStore) GetMulti(keys []Key) (map[Key]*Entity, error) {
	if err := checkGetLimits(keys); err != nil {
		return nil, err
	}
	found := make(map[Key]*Entity, len(keys))
	var missing []Key
	for _, key := range keys {
		if entry, ok := s.cache.Load(key); ok {
			s.hits.Add(1)
			if entry.entity != nil {
				found[key] = entry.entity.Clone()
			}
			continue
		}
		s.misses.Add(1)
		missing = append(missing, key)
	}
	if len(missing) == 0 {
		return found, nil
	}

	fetched, err := s.backing.GetMulti(missing)
	if err != nil {
		return nil, err
	}
	for _, key := range missing {
		if e, ok := fetched[key]; ok {
			s.cache.Store(key, &cacheEntry{entity: e.Clone()})
			found[key] = e
		} else {
			s.cache.Store(key, &cacheEntry{})
		}
	}
	return found, nil
}

func (s *CachingStore) Put(e *Entity) error {
	s.cache.Delete(e.Key)
	if err := s.backing.Put(e); err != nil {
		return err
	}
	s.cache.Store(e.Key, &cacheEntry{entity: e.Clone()})
	return nil
}

func (s *CachingStore) PutMulti(entities []*Entity) error {
	for _, e := range entities {
		s.cache.Delete(e.Key)
	}
	if err := s.backing.PutMulti(entities); err != nil {
		return err
	}
	for _, e := range entities {
		s.cache.Store(e.Key, &cacheEntry{entity: e.Clone()})
	}
	return nil
}

func (s *CachingStore) Delete(key Key) error {
	s.cache.Delete(key)
	if err := s.backing.Delete(key); err != nil {
		return err
	}
	s.cache.Store(key, &cacheEntry{})
	return nil
}

func (s *CachingStore) DeleteMulti(keys []Key) error {
	for _, key := range keys {
		s.cache.Delete(key)
	}
	if err := s.backing.DeleteMulti(keys); err != nil {
		return err
	}
	for _, key := range keys {
		s.cache.Store(key, &cacheEntry{})
	}
	return nil
}

func (s *CachingStore) NewTransaction() (Tx, error) {
	tx, err := s.backing.NewTransaction()
	if err != nil {
		return nil, err
	}
	return &cachingTx{backing: tx, store: s}, nil
}

// Stats returns cache hit and miss counts.
func (s *CachingStore) Stats() (hits, misses int64) {
	return s.hits.Load(), s.misses.Load()
}

// cachingTx invalidates cache entries for written keys so a post-commit read
// goes to the backing store, and overwrites them once the commit succeeds.
type cachingTx struct {
	backing Tx
	store   *CachingStore
	written []*Entity
}

func (tx *cachingTx) Put(e *Entity) error {
	return tx.PutMulti([]*Entity{e})
}

func (tx *cachingTx) PutMulti(entities []*Entity) error {
	for _, e := range entities {
		tx.store.cache.Delete(e.Key)
	}
	if err := tx.backing.PutMulti(entities); err != nil {
		return err
	}
	tx.written = append(tx.written, entities...)
	return nil
}

func (tx *cachingTx) Commit() error {
	if err := tx.backing.Commit(); err != nil {
		return err
	}
	for _, e := range tx.written {
		tx.store.cache.Store(e.Key, &cacheEntry{entity: e.Clone()})
	}
	return nil
}

func (tx *cachingTx) Rollback() error {
	return tx.backing.Rollback()
}
