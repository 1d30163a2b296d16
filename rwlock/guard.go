package rwlock

import "sync"

// Read runs fn while holding a read admission. The admission is released
// on every exit path, including a panic inside fn.
func (l *ReadWriteLock) Read(fn func()) {
	l.RLock()
	defer l.RUnlock()
	fn()
}

// Write runs fn while holding the exclusive write admission. The admission
// is released on every exit path, including a panic inside fn.
func (l *ReadWriteLock) Write(fn func()) {
	l.Lock()
	defer l.Unlock()
	fn()
}

// RLocker returns a sync.Locker whose Lock and Unlock methods call
// l.RLock and l.RUnlock.
func (l *ReadWriteLock) RLocker() sync.Locker {
	return (*rlocker)(l)
}

type rlocker ReadWriteLock

func (r *rlocker) Lock()   { (*ReadWriteLock)(r).RLock() }
func (r *rlocker) Unlock() { (*ReadWriteLock)(r).RUnlock() }
