// Package sync provides the busy-waiting locks used by the memory and
// context managers.
package sync

import "sync/atomic"

var (
	// yieldFn is invoked between acquisition rounds when set.
	yieldFn func()
)

// spinRounds is the number of failed acquisition attempts before the
// spinning task yields.
const spinRounds = 64

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	for attempt := 1; !l.TryToAcquire(); attempt++ {
		if attempt%spinRounds == 0 && yieldFn != nil {
			yieldFn()
		}
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.LoadUint32(&l.state) == 0 && atomic.CompareAndSwapUint32(&l.state, 0, 1)
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

// RWSpinlock is a reader/writer spinlock. Any number of readers may hold it
// at the same time; a writer holds it exclusively.
type RWSpinlock struct {
	// state is -1 while write-locked, otherwise the number of readers.
	state int32
}

// RAcquire blocks until a shared hold is obtained.
func (l *RWSpinlock) RAcquire() {
	for attempt := 1; !l.TryToRAcquire(); attempt++ {
		if attempt%spinRounds == 0 && yieldFn != nil {
			yieldFn()
		}
	}
}

// TryToRAcquire attempts to obtain a shared hold without blocking.
func (l *RWSpinlock) TryToRAcquire() bool {
	cur := atomic.LoadInt32(&l.state)
	return cur >= 0 && atomic.CompareAndSwapInt32(&l.state, cur, cur+1)
}

// RRelease drops a shared hold.
func (l *RWSpinlock) RRelease() {
	if atomic.AddInt32(&l.state, -1) < 0 {
		panic("sync: RRelease of unlocked RWSpinlock")
	}
}

// Acquire blocks until an exclusive hold is obtained.
func (l *RWSpinlock) Acquire() {
	for attempt := 1; !l.TryToAcquire(); attempt++ {
		if attempt%spinRounds == 0 && yieldFn != nil {
			yieldFn()
		}
	}
}

// TryToAcquire attempts to obtain an exclusive hold without blocking.
func (l *RWSpinlock) TryToAcquire() bool {
	return atomic.CompareAndSwapInt32(&l.state, 0, -1)
}

// Release drops an exclusive hold.
func (l *RWSpinlock) Release() {
	atomic.StoreInt32(&l.state, 0)
}
