package rwlock

import "sync"

// A ReadWriteLock is a writer-preferring reader/writer mutual exclusion
// lock. Any number of readers may hold the lock at the same time, while a
// writer gets exclusive access. As soon as a writer calls Lock, newly
// arriving readers block until that writer calls Unlock; readers that were
// admitted before the writer announced itself are allowed to finish and
// drain out first.
//
// The lock is not reentrant: a goroutine holding the write lock must not
// call Lock or RLock again, and every RUnlock/Unlock must match a prior
// RLock/Lock. Misuse is not detected; it shows up as deadlock or a data
// race on whatever the lock protects.
//
// No ordering is guaranteed among writers waiting in Lock: whichever
// acquires the internal writer mutex first is admitted next.
type ReadWriteLock struct {
	mu  sync.Mutex // guards readers and writer below
	wmu sync.Mutex // write admission; held from Lock until Unlock

	readers int  // readers currently between RLock and RUnlock
	writer  bool // a writer is pending or active

	readersGone *sync.Cond // signaled when readers drains to zero
	writerGone  *sync.Cond // broadcast when the writer releases
}

// New returns an unlocked ReadWriteLock.
func New() *ReadWriteLock {
	l := &ReadWriteLock{}
	l.readersGone = sync.NewCond(&l.mu)
	l.writerGone = sync.NewCond(&l.mu)
	return l
}

// RLock acquires a read admission. It blocks while a writer is pending or
// active and returns as soon as the lock is open to readers.
func (l *ReadWriteLock) RLock() {
	l.mu.Lock()
	for l.writer {
		l.writerGone.Wait()
	}
	l.readers++
	l.mu.Unlock()
}

// RUnlock releases a read admission acquired by a prior RLock. When the
// last reader leaves, a writer waiting for readers to drain is woken.
func (l *ReadWriteLock) RUnlock() {
	l.mu.Lock()
	l.readers--
	if l.readers == 0 {
		l.readersGone.Signal()
	}
	l.mu.Unlock()
}

// Lock acquires the exclusive write admission. It first takes the writer
// mutex, which it keeps until Unlock, so at most one writer is ever past
// this point. It then marks the writer as pending — from that moment new
// RLock calls block — and waits for the already-admitted readers to drain.
func (l *ReadWriteLock) Lock() {
	l.wmu.Lock()
	l.mu.Lock()
	l.writer = true
	for l.readers > 0 {
		l.readersGone.Wait()
	}
	l.mu.Unlock()
}

// Unlock releases the write admission. The writer mutex is released before
// blocked readers are woken, so a writer already waiting in Lock gets a
// chance to be admitted first; between its release and that admission a
// newly arriving reader may still slip in.
func (l *ReadWriteLock) Unlock() {
	l.mu.Lock()
	l.writer = false
	l.mu.Unlock()
	l.wmu.Unlock()
	l.writerGone.Broadcast()
}
