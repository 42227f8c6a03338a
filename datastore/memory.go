package datastore

import (
	"sync"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/kwarrick/dsfs/internal/util"
)

// MemoryStore is a process-local Store used for tests and single-process
// deployments. Entities are cloned on the way in and out so callers can
// mutate what they hold without aliasing the stored state.
type MemoryStore struct {
	entities *xsync.MapOf[Key, *Entity]
	txMu     sync.Mutex // serializes transaction commits
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entities: xsync.NewMapOf[Key, *Entity]()}
}

func (s *MemoryStore) Get(key Key) (*Entity, error) {
	if e, ok := s.entities.Load(key); ok {
		return e.Clone(), nil
	}
	return nil, ErrNoSuchEntity
}

func (s *MemoryStore) GetMulti(keys []Key) (map[Key]*Entity, error) {
	if err := checkGetLimits(keys); err != nil {
		return nil, err
	}
	found := make(map[Key]*Entity, len(keys))
	for _, key := range keys {
		if e, ok := s.entities.Load(key); ok {
			found[key] = e.Clone()
		}
	}
	return found, nil
}

func (s *MemoryStore) Put(e *Entity) error {
	return s.PutMulti([]*Entity{e})
}

func (s *MemoryStore) PutMulti(entities []*Entity) error {
	if err := checkPutLimits(entities); err != nil {
		return err
	}
	for _, e := range entities {
		s.entities.Store(e.Key, e.Clone())
	}
	return nil
}

func (s *MemoryStore) Delete(key Key) error {
	s.entities.Delete(key)
	return nil
}

func (s *MemoryStore) DeleteMulti(keys []Key) error {
	for _, key := range keys {
		s.entities.Delete(key)
	}
	return nil
}

func (s *MemoryStore) NewTransaction() (Tx, error) {
	return &memoryTx{store: s, id: uuid.NewString()}, nil
}

// Len reports the number of stored entities.
func (s *MemoryStore) Len() int {
	return s.entities.Size()
}

// memoryTx buffers puts and applies them all at Commit under the store's
// transaction mutex.
type memoryTx struct {
	store   *MemoryStore
	id      string
	pending []*Entity
	done    bool
}

func (tx *memoryTx) Put(e *Entity) error {
	return tx.PutMulti([]*Entity{e})
}

func (tx *memoryTx) PutMulti(entities []*Entity) error {
	if tx.done {
		return errTxDone
	}
	if err := checkPutLimits(entities); err != nil {
		return err
	}
	for _, e := range entities {
		tx.pending = append(tx.pending, e.Clone())
	}
	return nil
}

func (tx *memoryTx) Commit() error {
	if tx.done {
		return errTxDone
	}
	tx.done = true

	tx.store.txMu.Lock()
	defer tx.store.txMu.Unlock()
	for _, e := range tx.pending {
		tx.store.entities.Store(e.Key, e)
	}
	logger := util.GetLogger("MemoryStore")
	logger.Trace().Str("tx", tx.id).Int("entities", len(tx.pending)).Msg("Transaction committed")
	tx.pending = nil
	return nil
}

func (tx *memoryTx) Rollback() error {
	if tx.done {
		return errTxDone
	}
	tx.done = true
	tx.pending = nil
	return nil
}
