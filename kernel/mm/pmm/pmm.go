// Package pmm implements the physical frame allocators and the one-time
// initialisation of the memory manager.
package pmm

import (
	"hobbyos/kernel"
	"hobbyos/kernel/boot"
	"hobbyos/kernel/kfmt"
	"hobbyos/kernel/mm"
	"hobbyos/kernel/sync"
)

var (
	// allocLock serialises every access to bumpAlloc and recycleAlloc.
	allocLock sync.Spinlock

	bumpAlloc    BumpAllocator
	recycleAlloc RecycleAllocator
	initialized  bool

	errAlreadyInitialized = &kernel.Error{Module: "pmm", Message: "memory manager already initialized"}
	errNotInitialized     = &kernel.Error{Module: "pmm", Message: "memory manager not initialized"}
	errNoUsableMemory     = &kernel.Error{Module: "pmm", Message: "boot memory map contains no usable memory"}
)

// globalAllocator is the mm.FrameAllocator registered by Init. Every call
// takes allocLock.
type globalAllocator struct{}

func (globalAllocator) AllocFrames(count uintptr) (mm.Frame, *kernel.Error) {
	return AllocFrames(count)
}

func (globalAllocator) FreeFrames(frame mm.Frame, count uintptr) { FreeFrames(frame, count) }
func (globalAllocator) FreeFrameCount() uintptr                  { return FreeFrameCount() }
func (globalAllocator) UsedFrameCount() uintptr                  { return UsedFrameCount() }
func (globalAllocator) SetNoncore(_ bool)                        { InitNoncore() }

// Init sets up the physical memory allocator from the boot memory map and
// registers it with the mm package. The kernel image occupies the physical
// range [kernelStart, kernelEnd], both ends inclusive. Init must be called exactly once, before
// any other memory operation.
func Init(info *boot.Info, kernelStart, kernelEnd uintptr) *kernel.Error {
	allocLock.Acquire()
	if initialized {
		allocLock.Release()
		panic(errAlreadyInitialized)
	}

	bumpAlloc = NewBumpAllocator(info.MemoryMap, kernelStart, kernelEnd)
	if bumpAlloc.TotalFrameCount() == 0 {
		allocLock.Release()
		return errNoUsableMemory
	}

	recycleAlloc = RecycleAllocator{inner: &bumpAlloc}
	initialized = true
	allocLock.Release()

	mm.SetPhysicalMemoryOffset(info.PhysicalMemoryOffset)
	mm.SetFrameAllocator(globalAllocator{})

	printMemoryMap(info, kernelStart, kernelEnd)
	return nil
}

// InitNoncore switches the allocator to recycling freed frames. It must be
// called exactly once, after early boot structures are no longer needed.
func InitNoncore() {
	allocLock.Acquire()
	defer allocLock.Release()

	if !initialized {
		panic(errNotInitialized)
	}
	recycleAlloc.SetNoncore(true)
}

// AllocFrames reserves count contiguous physical frames.
func AllocFrames(count uintptr) (mm.Frame, *kernel.Error) {
	allocLock.Acquire()
	defer allocLock.Release()

	mustBeInitialized()
	return recycleAlloc.AllocFrames(count)
}

// FreeFrames releases count contiguous physical frames starting at frame.
func FreeFrames(frame mm.Frame, count uintptr) {
	allocLock.Acquire()
	defer allocLock.Release()

	mustBeInitialized()
	recycleAlloc.FreeFrames(frame, count)
}

// FreeFrameCount returns the number of frames that can still be allocated.
func FreeFrameCount() uintptr {
	allocLock.Acquire()
	defer allocLock.Release()

	mustBeInitialized()
	return recycleAlloc.FreeFrameCount()
}

// UsedFrameCount returns the number of usable frames that are not free.
func UsedFrameCount() uintptr {
	allocLock.Acquire()
	defer allocLock.Release()

	mustBeInitialized()
	return recycleAlloc.UsedFrameCount()
}

// mustBeInitialized must be called with allocLock held.
func mustBeInitialized() {
	if !initialized {
		panic(errNotInitialized)
	}
}

func printMemoryMap(info *boot.Info, kernelStart, kernelEnd uintptr) {
	kfmt.Printf("[pmm] system memory map:\n")

	var usable uint64
	boot.VisitMemRegions(info, func(r *boot.MemoryRegion) bool {
		kfmt.Printf("\t[0x%10x - 0x%10x], size: %10d, type: %s\n", r.Start, r.End(), r.Length, r.Type.String())
		if r.Type == boot.Usable {
			usable += r.Length
		}
		return true
	})

	kfmt.Printf("[pmm] available memory: %dKb\n", usable/1024)
	kfmt.Printf("[pmm] kernel loaded at 0x%x - 0x%x\n", kernelStart, kernelEnd)
	kfmt.Printf("[pmm] frames used: %d, free: %d\n", UsedFrameCount(), FreeFrameCount())
}
