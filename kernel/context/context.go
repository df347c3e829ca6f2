// Package context implements the process control blocks, the directory that
// assigns their identifiers and the tick counter that decides when the
// scheduler should switch between them.
package context

import (
	"sync/atomic"

	"hobbyos/kernel"
	"hobbyos/kernel/sync"
)

// ContextID uniquely identifies a context. The value 0 is never assigned.
type ContextID uint64

// NoCPU is the CPUID of a context that is not pinned to a core.
const NoCPU = -1

var errRefUnderflow = &kernel.Error{Module: "context", Message: "context reference count dropped below zero"}

// Context is the control block of a process or thread.
//
// Fields are protected by the context lock. The directory holds one
// reference to every context it lists; other holders take their own with
// IncRef. The last DecRef releases the memory regions, the kernel stack and
// the FX area.
type Context struct {
	lock sync.RWSpinlock
	refs int32

	ID   ContextID
	PGID ContextID
	PPID ContextID

	Status  Status
	Running bool
	CPUID   int

	Arch ArchContext

	// KFx is the FXSAVE area used by the switch routine. KStack is the
	// kernel stack.
	KFx    []byte
	KStack []byte

	Heap  *SharedMemory
	Stack *Memory
	Tls   *Tls
	Image []*SharedMemory

	// Name is shared by every holder and never mutated in place.
	Name string

	// Waitpid receives the status changes of children. It is shared by
	// the threads of a process.
	Waitpid *WaitMap

	released bool
}

func newContext(id ContextID) *Context {
	return &Context{
		refs:    1,
		ID:      id,
		PGID:    id,
		Status:  Blocked,
		CPUID:   NoCPU,
		Waitpid: NewWaitMap(),
	}
}

// Lock acquires the context for writing.
func (c *Context) Lock() { c.lock.Acquire() }

// Unlock releases a write lock.
func (c *Context) Unlock() { c.lock.Release() }

// RLock acquires the context for reading.
func (c *Context) RLock() { c.lock.RAcquire() }

// RUnlock releases a read lock.
func (c *Context) RUnlock() { c.lock.RRelease() }

// Block marks a runnable context as blocked. It returns false, leaving the
// status unchanged, if the context was not runnable.
func (c *Context) Block() bool {
	if c.Status != Runnable {
		return false
	}
	c.Status = Blocked
	return true
}

// Unblock marks a blocked context as runnable. It returns false, leaving the
// status unchanged, if the context was not blocked.
func (c *Context) Unblock() bool {
	if c.Status != Blocked {
		return false
	}
	c.Status = Runnable
	return true
}

// IsRunnable reports whether the scheduler may pick the context.
func (c *Context) IsRunnable() bool {
	return c.Status == Runnable
}

// IncRef records an additional holder of c.
func (c *Context) IncRef() {
	atomic.AddInt32(&c.refs, 1)
}

// DecRef drops a reference. Dropping the last one releases the resources of
// the context and returns true.
func (c *Context) DecRef() bool {
	refs := atomic.AddInt32(&c.refs, -1)
	switch {
	case refs < 0:
		panic(errRefUnderflow)
	case refs > 0:
		return false
	}

	c.Lock()
	c.release()
	c.Unlock()
	return true
}

// release unmaps the memory regions of the context and drops its kernel
// stack and FX area.
func (c *Context) release() {
	if c.released {
		return
	}
	c.released = true

	if c.Heap != nil {
		c.Heap.Release()
		c.Heap = nil
	}

	if c.Stack != nil {
		c.Stack.Unmap()
		c.Stack = nil
	}

	if c.Tls != nil {
		c.Tls.Mem.Unmap()
		c.Tls = nil
	}

	for _, image := range c.Image {
		if image.IsOwned() {
			image.Release()
		}
	}
	c.Image = nil

	c.KStack = nil
	c.KFx = nil
	c.Arch.SetFx(0)
	c.Arch.SetStack(0)
}
