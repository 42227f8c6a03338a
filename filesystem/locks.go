package filesystem

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// LockRegistry provides advisory mutual exclusion keyed by string, used by
// the engine with absolute paths. Locks are not re-entrant; a critical
// section must release via the returned closure on every exit path.
type LockRegistry struct {
	locks *xsync.MapOf[string, *sync.Mutex]
}

// NewLockRegistry creates an empty registry.
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{locks: xsync.NewMapOf[string, *sync.Mutex]()}
}

func (r *LockRegistry) mutex(name string) *sync.Mutex {
	mu, _ := r.locks.LoadOrStore(name, &sync.Mutex{})
	return mu
}

// Lock acquires the named lock and returns its release func.
//
//	unlock := locks.Lock(parent)
//	defer unlock()
func (r *LockRegistry) Lock(name string) (unlock func()) {
	mu := r.mutex(name)
	mu.Lock()
	return mu.Unlock
}

// TryLock acquires the named lock without blocking. On success the release
// func is returned; otherwise ok is false.
func (r *LockRegistry) TryLock(name string) (unlock func(), ok bool) {
	mu := r.mutex(name)
	if !mu.TryLock() {
		return nil, false
	}
	return mu.Unlock, true
}
