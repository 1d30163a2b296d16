// Package keylock provides reader-writer locking over arbitrary string
// keys. Each key gets its own writer-preferring rwlock.ReadWriteLock,
// created lazily on first use; locks for distinct keys never contend.
package keylock

import (
	"sync"

	"github.com/syncxlab/syncx/rwlock"
)

type KeyRWLock struct {
	mu    sync.Mutex
	locks map[string]*rwlock.ReadWriteLock
}

func New() *KeyRWLock {
	return &KeyRWLock{
		locks: make(map[string]*rwlock.ReadWriteLock),
	}
}

// get returns the lock for key, creating it if the key is new. Locks are
// never discarded: a key once used keeps its lock for the KeyRWLock's
// lifetime, so admissions held across get calls stay valid.
func (k *KeyRWLock) get(key string) *rwlock.ReadWriteLock {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = rwlock.New()
		k.locks[key] = l
	}
	return l
}

// RLockKey acquires a read admission for key.
func (k *KeyRWLock) RLockKey(key string) {
	k.get(key).RLock()
}

// RUnlockKey releases a read admission for key.
func (k *KeyRWLock) RUnlockKey(key string) {
	k.get(key).RUnlock()
}

// LockKey acquires the exclusive write admission for key.
func (k *KeyRWLock) LockKey(key string) {
	k.get(key).Lock()
}

// UnlockKey releases the write admission for key.
func (k *KeyRWLock) UnlockKey(key string) {
	k.get(key).Unlock()
}
