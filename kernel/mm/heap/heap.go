// Package heap maps the fixed kernel heap range and serves allocations from
// it with a lock-free bump allocator.
package heap

import (
	"sync/atomic"

	"hobbyos/kernel"
	"hobbyos/kernel/kfmt"
	"hobbyos/kernel/mm"
	"hobbyos/kernel/mm/vmm"
)

const (
	// HeapStart is the virtual address of the first heap byte.
	HeapStart = uintptr(0x40000000)

	// HeapSize is the size of the heap in bytes.
	HeapSize = uintptr(100 * 1024)

	heapFlags = vmm.FlagPresent | vmm.FlagRW | vmm.FlagNoExecute
)

var (
	// next is the address returned by the following allocation. It is zero
	// until the heap is mapped.
	next uintptr

	initialized uint32

	oomHandler OOMHandler = haltOnOOM

	errAlreadyInitialized = &kernel.Error{Module: "heap", Message: "heap already initialized"}
	errOutOfMemory        = &kernel.Error{Module: "heap", Message: "allocation error"}
	errNotInitialized     = &kernel.Error{Module: "heap", Message: "heap not initialized"}
)

// OOMHandler is invoked when an allocation cannot be satisfied.
type OOMHandler func(size, align uintptr)

func haltOnOOM(size, align uintptr) {
	kfmt.Printf("[heap] allocation error: size %d, align %d\n", size, align)
	kfmt.Panic(errOutOfMemory)
}

// Init maps every page of [HeapStart, HeapStart+HeapSize) in the active
// page table and enables the allocator. If a page cannot be mapped, the pages
// mapped so far are unmapped and their frames freed, so Init may be retried.
// Calling Init after it succeeded is a fatal error.
func Init(active *vmm.ActivePageTable) *kernel.Error {
	if !atomic.CompareAndSwapUint32(&initialized, 0, 1) {
		panic(errAlreadyInitialized)
	}

	batch := vmm.NewMapperFlushAll()
	firstPage := mm.PageFromAddress(HeapStart)
	lastPage := mm.PageFromAddress(HeapStart + HeapSize - 1)
	for page := firstPage; page <= lastPage; page++ {
		flush, err := active.Map(page, heapFlags)
		if err != nil {
			unmapRange(active, &batch, firstPage, page)
			batch.Flush(active)
			atomic.StoreUint32(&initialized, 0)
			return err
		}
		batch.Consume(&flush)
	}
	batch.Flush(active)

	atomic.StoreUintptr(&next, HeapStart)
	kfmt.Printf("[heap] mapped %dKb at 0x%x\n", HeapSize>>10, HeapStart)
	return nil
}

// unmapRange unmaps the pages in [first, end) and frees their frames.
func unmapRange(active *vmm.ActivePageTable, batch *vmm.MapperFlushAll, first, end mm.Page) {
	for page := first; page < end; page++ {
		frame, flush, err := active.Unmap(page)
		if err != nil {
			continue
		}
		batch.Consume(&flush)
		mm.FreeFrame(frame)
	}
}

// Alloc returns the address of size bytes aligned to align, which must be a
// power of two. If the heap is exhausted the OOM handler is invoked and, if
// it returns, Alloc returns 0.
func Alloc(size, align uintptr) uintptr {
	if align == 0 {
		align = 1
	}

	for {
		cur := atomic.LoadUintptr(&next)
		if cur == 0 {
			panic(errNotInitialized)
		}

		start := (cur + align - 1) &^ (align - 1)
		end := start + size
		if start < cur || end < start || end > HeapStart+HeapSize {
			oomHandler(size, align)
			return 0
		}

		if atomic.CompareAndSwapUintptr(&next, cur, end) {
			return start
		}
	}
}

// Free releases an allocation. The bump allocator never reuses memory so
// Free does nothing.
func Free(_, _ uintptr) {}

// Used returns the number of heap bytes handed out, including alignment
// padding.
func Used() uintptr {
	cur := atomic.LoadUintptr(&next)
	if cur == 0 {
		return 0
	}
	return cur - HeapStart
}

// SetOOMHandler replaces the out-of-memory hook and returns the previous
// one. The default hook halts the machine.
func SetOOMHandler(handler OOMHandler) OOMHandler {
	prev := oomHandler
	oomHandler = handler
	return prev
}
