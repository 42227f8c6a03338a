// Package dsfs presents a POSIX-like virtual filesystem whose persistent
// backing is a key-value datastore. The root package is a thin façade; the
// engine lives in the filesystem package and the backing implementations in
// the datastore package.
package dsfs

import (
	"github.com/kwarrick/dsfs/config"
	"github.com/kwarrick/dsfs/datastore"
	"github.com/kwarrick/dsfs/filesystem"
)

// New creates a filesystem engine from cfg. A non-empty StoreDir selects
// the disk-backed store; otherwise entities live in process memory.
func New(cfg *config.Config) (*filesystem.FileSystem, error) {
	var store datastore.Store
	if cfg.StoreDir != "" {
		disk, err := datastore.NewDiskStore(cfg.StoreDir)
		if err != nil {
			return nil, err
		}
		store = disk
	} else {
		store = datastore.NewMemoryStore()
	}
	return filesystem.NewFS(cfg, store)
}
