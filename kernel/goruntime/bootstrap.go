// Package goruntime backs the memory requests of the Go runtime with the
// kernel heap once it has been mapped.
package goruntime

import (
	"sync/atomic"
	"unsafe"

	"hobbyos/kernel"
	"hobbyos/kernel/mm"
	"hobbyos/kernel/mm/heap"
)

var (
	allocFn = heap.Alloc

	// A seed for the pseudo-random number generator used by getRandomData
	prngSeed = 0xdeadc0de

	errHeapExhausted = &kernel.Error{Module: "goruntime", Message: "kernel heap cannot satisfy address space reservation"}
)

// sysReserve reserves address space without allocating any memory or
// establishing any page mappings. Reservations are carved out of the
// already mapped kernel heap.
//
// This function replaces runtime.sysReserve and is required for initializing
// the Go allocator.
//
//go:redirect-from runtime.sysReserve
//go:nosplit
func sysReserve(_ unsafe.Pointer, size uintptr) unsafe.Pointer {
	regionStartAddr := allocFn(pageAlign(size), mm.PageSize)
	if regionStartAddr == 0 {
		panic(errHeapExhausted)
	}

	return unsafe.Pointer(regionStartAddr)
}

// sysMap commits a region previously returned by sysReserve. Heap pages are
// mapped when the heap is initialised so only the statistics need updating.
//
// This function replaces runtime.sysMap and is required for initializing
// the Go allocator.
//
//go:redirect-from runtime.sysMap
//go:nosplit
func sysMap(virtAddr unsafe.Pointer, size uintptr, sysStat *uint64) {
	if uintptr(virtAddr) < heap.HeapStart || uintptr(virtAddr)+size > heap.HeapStart+heap.HeapSize {
		panic("sysMap called with a region outside the kernel heap")
	}

	statInc(sysStat, pageAlign(size))
}

// sysAlloc returns a page-aligned, zeroed region of at least size bytes.
//
// This function replaces runtime.sysAlloc and is required for initializing
// the Go allocator.
//
//go:redirect-from runtime.sysAlloc
//go:nosplit
func sysAlloc(size uintptr, sysStat *uint64) unsafe.Pointer {
	if size == 0 {
		return unsafe.Pointer(uintptr(0))
	}

	regionSize := pageAlign(size)
	regionStartAddr := allocFn(regionSize, mm.PageSize)
	if regionStartAddr == 0 {
		return unsafe.Pointer(uintptr(0))
	}

	kernel.Memset(regionStartAddr, 0, regionSize)
	statInc(sysStat, regionSize)
	return unsafe.Pointer(regionStartAddr)
}

// sysFree returns memory to the kernel heap, which never reuses it.
//
//go:redirect-from runtime.sysFree
//go:nosplit
func sysFree(virtAddr unsafe.Pointer, size uintptr, sysStat *uint64) {
	heap.Free(uintptr(virtAddr), size)
	statInc(sysStat, -pageAlign(size))
}

// nanotime returns a monotonically increasing clock value. This is a dummy
// implementation until a timer collaborator provides wall time.
//
// This function replaces runtime.nanotime and is invoked by the Go allocator
// when a span allocation is performed.
//
//go:redirect-from runtime.nanotime
//go:nosplit
func nanotime() uint64 {
	// Use a dummy loop to prevent the compiler from inlining this function.
	for i := 0; i < 100; i++ {
	}
	return 1
}

// getRandomData populates the given slice with random data. The runtime
// reads /dev/random which is not available, so a prng is used instead.
//
//go:redirect-from runtime.getRandomData
func getRandomData(r []byte) {
	for i := 0; i < len(r); i++ {
		prngSeed = (prngSeed * 58321) + 11113
		r[i] = byte((prngSeed >> 16) & 255)
	}
}

func pageAlign(size uintptr) uintptr {
	return mm.PageCount(size) * mm.PageSize
}

func statInc(stat *uint64, delta uintptr) {
	if stat != nil {
		atomic.AddUint64(stat, uint64(delta))
	}
}

func init() {
	// Dummy calls so the compiler does not optimize away the functions in
	// this file.
	var stat uint64

	sysMap(unsafe.Pointer(heap.HeapStart), 0, &stat)
	sysAlloc(0, &stat)
	sysFree(nil, 0, &stat)
	getRandomData(nil)
	stat = nanotime()
	_ = stat
}
