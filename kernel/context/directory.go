package context

import (
	"hobbyos/kernel"
	"hobbyos/kernel/cpu"
	"hobbyos/kernel/kfmt"
	"hobbyos/kernel/sync"
)

var (
	// directoryLock guards directory. Lookups take it for reading; only
	// structural changes take it for writing.
	directoryLock sync.RWSpinlock
	directory     *ContextList

	initialized bool

	// cpuIDFn is replaced by tests.
	cpuIDFn = cpu.CoreID

	errAlreadyInitialized = &kernel.Error{Module: "context", Message: "context subsystem already initialized"}
)

// Contexts read-locks the directory and returns it along with the function
// that releases the lock.
func Contexts() (*ContextList, func()) {
	ensureDirectory()
	directoryLock.RAcquire()
	return directory, directoryLock.RRelease
}

// ContextsMut write-locks the directory and returns it along with the
// function that releases the lock.
func ContextsMut() (*ContextList, func()) {
	ensureDirectory()
	directoryLock.Acquire()
	return directory, directoryLock.Release
}

// ensureDirectory creates the directory on first use.
func ensureDirectory() {
	directoryLock.RAcquire()
	created := directory != nil
	directoryLock.RRelease()
	if created {
		return
	}

	directoryLock.Acquire()
	if directory == nil {
		directory = NewContextList()
	}
	directoryLock.Release()
}

// Init lists the bootstrap context, which represents the code already
// running on this core, and makes it current. It must be called once, after
// the heap is available.
func Init() {
	list, release := ContextsMut()
	defer release()

	if initialized {
		panic(errAlreadyInitialized)
	}

	ctx, err := list.NewContext()
	if err != nil {
		panic(err)
	}

	ctx.Lock()
	fx, fxAddr := newFxArea()
	ctx.Arch.SetFx(fxAddr)
	ctx.Arch.SetPageTable(activeTableAddrFn())
	ctx.KFx = fx
	ctx.Status = Runnable
	ctx.Running = true
	ctx.CPUID = int(cpuIDFn())
	ctx.Name = "kmain"
	ctx.Unlock()

	SetCurrentID(ctx.ID)
	initialized = true

	kfmt.Printf("[context] bootstrap context %d running on cpu %d\n", uint64(ctx.ID), ctx.CPUID)
}
