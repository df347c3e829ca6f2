package context

import (
	"hobbyos/kernel"
	"hobbyos/kernel/sync"
)

var (
	errBorrowExpired  = &kernel.Error{Module: "context", Message: "borrowed memory outlived its owner"}
	errHandleReleased = &kernel.Error{Module: "context", Message: "shared memory handle already released"}
	errNotOwner       = &kernel.Error{Module: "context", Message: "only owned shared memory handles can be cloned or released"}
)

// sharedRegion is the state every handle to the same Memory points to.
type sharedRegion struct {
	// lock serializes the callbacks run by With.
	lock sync.Spinlock

	// stateLock guards the fields below. It is never held while a callback
	// runs.
	stateLock sync.Spinlock
	mem       *Memory

	// owners is the number of live Owned handles and users the number of
	// callbacks inside With. The region is unmapped by whichever side drops
	// both counts to zero.
	owners int32
	users  int32
}

// enter registers a With caller and returns the region. It panics if every
// owner is gone.
func (r *sharedRegion) enter() *Memory {
	r.stateLock.Acquire()
	defer r.stateLock.Release()

	if r.owners == 0 {
		panic(errBorrowExpired)
	}
	r.users++
	return r.mem
}

func (r *sharedRegion) exit() {
	r.stateLock.Acquire()
	r.users--
	mem := r.takeIfUnused()
	r.stateLock.Release()

	if mem != nil {
		mem.Unmap()
	}
}

func (r *sharedRegion) dropOwner() {
	r.stateLock.Acquire()
	r.owners--
	mem := r.takeIfUnused()
	r.stateLock.Release()

	if mem != nil {
		mem.Unmap()
	}
}

// takeIfUnused detaches the region once neither owners nor users remain.
// stateLock must be held.
func (r *sharedRegion) takeIfUnused() *Memory {
	if r.owners != 0 || r.users != 0 {
		return nil
	}

	mem := r.mem
	r.mem = nil
	return mem
}

// SharedMemory is a handle to a Memory that may be used by several contexts.
// An Owned handle keeps the region alive; a Borrowed handle does not, and
// using it after every owner has been released is a fatal error.
type SharedMemory struct {
	region   *sharedRegion
	owned    bool
	released bool
}

func newSharedMemory(mem *Memory) *SharedMemory {
	return &SharedMemory{
		region: &sharedRegion{mem: mem, owners: 1},
		owned:  true,
	}
}

// IsOwned returns true if the handle keeps the region alive.
func (s *SharedMemory) IsOwned() bool {
	return s.owned
}

// Clone returns another Owned handle for the region.
func (s *SharedMemory) Clone() *SharedMemory {
	s.mustBeLiveOwner()

	s.region.stateLock.Acquire()
	s.region.owners++
	s.region.stateLock.Release()
	return &SharedMemory{region: s.region, owned: true}
}

// Borrow returns a Borrowed handle for the region.
func (s *SharedMemory) Borrow() *SharedMemory {
	if s.released {
		panic(errHandleReleased)
	}
	return &SharedMemory{region: s.region}
}

// Release drops an Owned handle. Once the last Owned handle is released no
// new With call is admitted. The region is unmapped and its frames freed
// right away, or by the last callback still running inside With; Release
// never waits for such callbacks.
func (s *SharedMemory) Release() {
	s.mustBeLiveOwner()
	s.released = true
	s.region.dropOwner()
}

// With runs fn with the region. Callbacks of handles to the same region run
// one at a time. With panics if the handle is a Borrowed one whose owners
// are all gone.
func (s *SharedMemory) With(fn func(*Memory)) {
	if s.released {
		panic(errHandleReleased)
	}

	mem := s.region.enter()
	defer s.region.exit()

	s.region.lock.Acquire()
	defer s.region.lock.Release()
	fn(mem)
}

func (s *SharedMemory) mustBeLiveOwner() {
	if !s.owned {
		panic(errNotOwner)
	}
	if s.released {
		panic(errHandleReleased)
	}
}
