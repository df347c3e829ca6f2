package pmm

import (
	"hobbyos/kernel"
	"hobbyos/kernel/boot"
	"hobbyos/kernel/mm"
)

var (
	// ErrOutOfMemory is returned when no usable memory region can satisfy
	// an allocation request.
	ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of memory"}

	errZeroFrames = &kernel.Error{Module: "pmm", Message: "requested allocation of zero frames"}
)

// BumpAllocator hands out physical frames by advancing a cursor through the
// usable regions of the boot memory map. It never reuses memory: FreeFrames
// is a no-op and reclamation is left to a RecycleAllocator wrapped around it.
//
// Frames inside the kernel image are never returned. A run that would
// overlap the kernel image moves the cursor past the image and the search
// resumes from there.
type BumpAllocator struct {
	regions []boot.MemoryRegion

	// next is the first frame that has never been handed out.
	next mm.Frame

	// [curStart, curEnd) are the frames of the region the cursor is in.
	curStart, curEnd mm.Frame
	haveRegion       bool

	// [kernelStart, kernelEnd] are the frames occupied by the kernel.
	kernelStart, kernelEnd mm.Frame
	haveKernel             bool
}

// NewBumpAllocator returns an allocator over the Usable entries of regions.
// The kernel image occupies the physical range [kernelStart, kernelEnd],
// kernelEnd being the address of its last byte. A zero kernelEnd means no
// range is reserved.
func NewBumpAllocator(regions []boot.MemoryRegion, kernelStart, kernelEnd uintptr) BumpAllocator {
	b := BumpAllocator{regions: regions}

	if kernelEnd != 0 && kernelEnd >= kernelStart {
		b.kernelStart = mm.FrameFromAddress(kernelStart)
		b.kernelEnd = mm.FrameFromAddress(kernelEnd)
		b.haveKernel = true
	}

	b.chooseNextRegion()
	return b
}

// AllocFrames reserves count contiguous frames that have never been handed
// out before.
func (b *BumpAllocator) AllocFrames(count uintptr) (mm.Frame, *kernel.Error) {
	if count == 0 {
		return mm.InvalidFrame, errZeroFrames
	}

	for b.haveRegion {
		start := b.next

		switch {
		case start >= b.curEnd || count > uintptr(b.curEnd-start):
			// the run does not fit in what is left of this region
			if b.next < b.curEnd {
				b.next = b.curEnd
			}
			b.chooseNextRegion()
		case b.overlapsKernel(start, start+mm.Frame(count)-1):
			b.next = b.kernelEnd + 1
		default:
			b.next += mm.Frame(count)
			return start, nil
		}
	}

	return mm.InvalidFrame, ErrOutOfMemory
}

// FreeFrames is a no-op.
func (b *BumpAllocator) FreeFrames(_ mm.Frame, _ uintptr) {}

// SetNoncore is a no-op; the bump allocator behaves the same in both modes.
func (b *BumpAllocator) SetNoncore(_ bool) {}

// FreeFrameCount returns the number of usable frames at or past the cursor
// that do not belong to the kernel image.
func (b *BumpAllocator) FreeFrameCount() uintptr {
	var free uintptr
	b.visitUsable(func(start, end mm.Frame) {
		free += b.freeIn(start, end)
	})
	return free
}

// UsedFrameCount returns the number of usable frames that are either behind
// the cursor or part of the kernel image.
func (b *BumpAllocator) UsedFrameCount() uintptr {
	var used uintptr
	b.visitUsable(func(start, end mm.Frame) {
		used += uintptr(end-start) - b.freeIn(start, end)
	})
	return used
}

// TotalFrameCount returns the number of frames in all usable regions.
func (b *BumpAllocator) TotalFrameCount() uintptr {
	var total uintptr
	b.visitUsable(func(start, end mm.Frame) {
		total += uintptr(end - start)
	})
	return total
}

func (b *BumpAllocator) freeIn(start, end mm.Frame) uintptr {
	if b.next > start {
		start = b.next
	}
	if start >= end {
		return 0
	}

	free := uintptr(end - start)
	if b.haveKernel {
		free -= overlap(start, end, b.kernelStart, b.kernelEnd+1)
	}
	return free
}

func (b *BumpAllocator) overlapsKernel(start, end mm.Frame) bool {
	return b.haveKernel && start <= b.kernelEnd && end >= b.kernelStart
}

// chooseNextRegion selects the usable region with the lowest start address
// among those that still have frames at or past the cursor.
func (b *BumpAllocator) chooseNextRegion() {
	b.haveRegion = false
	b.visitUsable(func(start, end mm.Frame) {
		if end <= b.next {
			return
		}
		if !b.haveRegion || start < b.curStart {
			b.curStart, b.curEnd, b.haveRegion = start, end, true
		}
	})

	if b.haveRegion && b.next < b.curStart {
		b.next = b.curStart
	}
}

// visitUsable invokes fn with the frame range [start, end) of each usable
// region that holds at least one whole frame. Region starts are rounded up
// and region ends rounded down to a frame boundary.
func (b *BumpAllocator) visitUsable(fn func(start, end mm.Frame)) {
	for i := range b.regions {
		r := &b.regions[i]
		if r.Type != boot.Usable {
			continue
		}

		start := mm.Frame(roundUp(uintptr(r.Start)) >> mm.PageShift)
		end := mm.Frame(uintptr(r.End()) >> mm.PageShift)
		if start < end {
			fn(start, end)
		}
	}
}

// overlap returns the size of the intersection of [a0, a1) and [b0, b1).
func overlap(a0, a1, b0, b1 mm.Frame) uintptr {
	lo, hi := a0, a1
	if b0 > lo {
		lo = b0
	}
	if b1 < hi {
		hi = b1
	}
	if hi <= lo {
		return 0
	}
	return uintptr(hi - lo)
}

func roundUp(addr uintptr) uintptr {
	return (addr + mm.PageSize - 1) &^ (mm.PageSize - 1)
}
