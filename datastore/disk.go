package datastore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/natefinch/atomic"

	"github.com/kwarrick/dsfs/internal/util"
)

// DiskStore persists one file per entity under a root directory. Records are
// CBOR-encoded with byte-valued properties zstd-compressed, and each write
// replaces the entity file atomically. Commit does not span entities; the
// transaction contract here matches the engine's use of transactions, which
// is a single flush batch retried on failure.
type DiskStore struct {
	root string
	txMu sync.Mutex

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// record is the on-disk entity layout. Property values are split by type so
// the codec never round-trips through interface values.
type record struct {
	Key   Key               `cbor:"key"`
	Str   map[string]string `cbor:"str,omitempty"`
	Int   map[string]int64  `cbor:"int,omitempty"`
	Bytes map[string][]byte `cbor:"bytes,omitempty"` // zstd-compressed
	Keys  map[string][]Key  `cbor:"keys,omitempty"`
}

// NewDiskStore opens (creating if needed) a disk store rooted at dir.
func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("datastore: create store dir: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &DiskStore{root: dir, enc: enc, dec: dec}, nil
}

// entityPath maps a key to its file. Keys are hashed so path bytes never
// leak into filenames.
func (s *DiskStore) entityPath(key Key) string {
	sum := sha256.Sum256([]byte(key.Encode()))
	return filepath.Join(s.root, hex.EncodeToString(sum[:])+".ent")
}

func (s *DiskStore) Get(key Key) (*Entity, error) {
	data, err := os.ReadFile(s.entityPath(key))
	if os.IsNotExist(err) {
		return nil, ErrNoSuchEntity
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: read entity: %w", err)
	}
	return s.decode(data)
}

func (s *DiskStore) GetMulti(keys []Key) (map[Key]*Entity, error) {
	if err := checkGetLimits(keys); err != nil {
		return nil, err
	}
	found := make(map[Key]*Entity, len(keys))
	for _, key := range keys {
		e, err := s.Get(key)
		if err == ErrNoSuchEntity {
			continue
		}
		if err != nil {
			return nil, err
		}
		found[key] = e
	}
	return found, nil
}

func (s *DiskStore) Put(e *Entity) error {
	return s.PutMulti([]*Entity{e})
}

func (s *DiskStore) PutMulti(entities []*Entity) error {
	if err := checkPutLimits(entities); err != nil {
		return err
	}
	for _, e := range entities {
		data, err := s.encode(e)
		if err != nil {
			return err
		}
		if err := atomic.WriteFile(s.entityPath(e.Key), bytes.NewReader(data)); err != nil {
			return fmt.Errorf("datastore: write entity: %w", err)
		}
	}
	return nil
}

// Delete removes the entity file; deleting an absent entity is a no-op,
// matching the platform's idempotent delete.
func (s *DiskStore) Delete(key Key) error {
	if err := os.Remove(s.entityPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("datastore: delete entity: %w", err)
	}
	return nil
}

func (s *DiskStore) DeleteMulti(keys []Key) error {
	for _, key := range keys {
		if err := s.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

func (s *DiskStore) NewTransaction() (Tx, error) {
	return &diskTx{store: s}, nil
}

func (s *DiskStore) encode(e *Entity) ([]byte, error) {
	rec := record{Key: e.Key}
	for _, name := range e.PropertyNames() {
		v, _ := e.Property(name)
		switch tv := v.(type) {
		case string:
			if rec.Str == nil {
				rec.Str = make(map[string]string)
			}
			rec.Str[name] = tv
		case int64:
			if rec.Int == nil {
				rec.Int = make(map[string]int64)
			}
			rec.Int[name] = tv
		case []byte:
			if rec.Bytes == nil {
				rec.Bytes = make(map[string][]byte)
			}
			rec.Bytes[name] = s.enc.EncodeAll(tv, nil)
		case []Key:
			if rec.Keys == nil {
				rec.Keys = make(map[string][]Key)
			}
			rec.Keys[name] = tv
		}
	}
	return cbor.Marshal(rec)
}

func (s *DiskStore) decode(data []byte) (*Entity, error) {
	var rec record
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("datastore: decode entity: %w", err)
	}
	e := NewEntity(rec.Key)
	for name, v := range rec.Str {
		e.SetProperty(name, v)
	}
	for name, v := range rec.Int {
		e.SetProperty(name, v)
	}
	for name, v := range rec.Keys {
		e.SetProperty(name, v)
	}
	for name, v := range rec.Bytes {
		raw, err := s.dec.DecodeAll(v, nil)
		if err != nil {
			return nil, fmt.Errorf("datastore: decompress property %q: %w", name, err)
		}
		e.SetProperty(name, raw)
	}
	return e, nil
}

// diskTx buffers puts and writes them out at Commit. Per-entity writes stay
// atomic; cross-entity atomicity is not provided by a filesystem backing.
type diskTx struct {
	store   *DiskStore
	pending []*Entity
	done    bool
}

func (tx *diskTx) Put(e *Entity) error {
	return tx.PutMulti([]*Entity{e})
}

func (tx *diskTx) PutMulti(entities []*Entity) error {
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

func (tx *diskTx) Commit() error {
	if tx.done {
		return errTxDone
	}
	tx.done = true

	tx.store.txMu.Lock()
	defer tx.store.txMu.Unlock()
	for i, e := range tx.pending {
		data, err := tx.store.encode(e)
		if err != nil {
			return err
		}
		if err := atomic.WriteFile(tx.store.entityPath(e.Key), bytes.NewReader(data)); err != nil {
			logger := util.GetLogger("DiskStore")
			logger.Error().Err(err).Int("written", i).Int("total", len(tx.pending)).
				Msg("Transaction commit failed mid-batch")
			return fmt.Errorf("datastore: commit: %w", err)
		}
	}
	tx.pending = nil
	return nil
}

func (tx *diskTx) Rollback() error {
	if tx.done {
		return errTxDone
	}
	tx.done = true
	tx.pending = nil
	return nil
}
