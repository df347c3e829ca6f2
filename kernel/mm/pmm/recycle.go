package pmm

import (
	"github.com/google/btree"

	"hobbyos/kernel"
	"hobbyos/kernel/mm"
)

var (
	errOverlappingFree = &kernel.Error{Module: "pmm", Message: "freed range overlaps a range that is already free"}
	errNoncoreSetTwice = &kernel.Error{Module: "pmm", Message: "noncore mode can only be set once"}
)

// freeListDegree is the btree degree used for the free range set.
const freeListDegree = 8

// freeRange is a run of count free frames starting at start.
type freeRange struct {
	start mm.Frame
	count uintptr
}

func (r freeRange) end() mm.Frame { return r.start + mm.Frame(r.count) }

func freeRangeLess(a, b freeRange) bool { return a.start < b.start }

// RecycleAllocator wraps another frame allocator and keeps the frames
// released to it in a free list ordered by start frame. Allocations are
// served from the free list when possible and fall through to the wrapped
// allocator otherwise.
//
// Until SetNoncore(true) is called, freed frames are forwarded to the
// wrapped allocator instead: boot structures may still reference them.
type RecycleAllocator struct {
	inner   mm.FrameAllocator
	noncore bool
	modeSet bool

	// free is created on the first recycled range. The allocator runs
	// before the heap exists and must not allocate until noncore mode.
	free     *btree.BTreeG[freeRange]
	recycled uintptr
}

// NewRecycleAllocator returns a RecycleAllocator that falls back to inner.
func NewRecycleAllocator(inner mm.FrameAllocator) *RecycleAllocator {
	return &RecycleAllocator{inner: inner}
}

// SetNoncore switches the allocator to recycling mode. It may only be called
// once.
func (r *RecycleAllocator) SetNoncore(noncore bool) {
	if r.modeSet {
		panic(errNoncoreSetTwice)
	}
	r.noncore, r.modeSet = noncore, true
}

// Noncore reports whether freed frames are being recycled.
func (r *RecycleAllocator) Noncore() bool {
	return r.noncore
}

// AllocFrames reserves count contiguous frames. The smallest free range that
// can hold the request is used, preferring the range with the highest start
// frame on ties, and the frames are carved off its end.
func (r *RecycleAllocator) AllocFrames(count uintptr) (mm.Frame, *kernel.Error) {
	if count == 0 {
		return mm.InvalidFrame, errZeroFrames
	}

	if r.free != nil {
		var (
			best  freeRange
			found bool
		)

		r.free.Ascend(func(fr freeRange) bool {
			if fr.count >= count && (!found || fr.count <= best.count) {
				best, found = fr, true
			}
			return true
		})

		if found {
			best.count -= count
			if best.count == 0 {
				r.free.Delete(best)
			} else {
				r.free.ReplaceOrInsert(best)
			}
			r.recycled -= count
			return best.end(), nil
		}
	}

	return r.inner.AllocFrames(count)
}

// FreeFrames releases count frames starting at frame. In noncore mode the
// range is merged with any free neighbours; freeing frames that are already
// free panics.
func (r *RecycleAllocator) FreeFrames(frame mm.Frame, count uintptr) {
	if count == 0 {
		return
	}

	if !r.noncore {
		r.inner.FreeFrames(frame, count)
		return
	}

	if r.free == nil {
		r.free = btree.NewG(freeListDegree, freeRangeLess)
	}

	fr := freeRange{start: frame, count: count}

	var (
		prev, next       freeRange
		hasPrev, hasNext bool
	)
	r.free.DescendLessOrEqual(fr, func(item freeRange) bool {
		prev, hasPrev = item, true
		return false
	})
	r.free.AscendGreaterOrEqual(fr, func(item freeRange) bool {
		next, hasNext = item, true
		return false
	})

	if (hasPrev && prev.end() > fr.start) || (hasNext && next.start < fr.end()) {
		panic(errOverlappingFree)
	}

	if hasPrev && prev.end() == fr.start {
		r.free.Delete(prev)
		fr.start, fr.count = prev.start, prev.count+fr.count
	}
	if hasNext && next.start == fr.end() {
		r.free.Delete(next)
		fr.count += next.count
	}

	r.free.ReplaceOrInsert(fr)
	r.recycled += count
}

// FreeFrameCount returns the frames available from the wrapped allocator
// plus the recycled frames.
func (r *RecycleAllocator) FreeFrameCount() uintptr {
	return r.inner.FreeFrameCount() + r.recycled
}

// UsedFrameCount returns the frames the wrapped allocator handed out that
// have not been recycled.
func (r *RecycleAllocator) UsedFrameCount() uintptr {
	return r.inner.UsedFrameCount() - r.recycled
}

// visitFreeRanges invokes fn for each recycled range in ascending order.
func (r *RecycleAllocator) visitFreeRanges(fn func(start mm.Frame, count uintptr)) {
	if r.free == nil {
		return
	}
	r.free.Ascend(func(fr freeRange) bool {
		fn(fr.start, fr.count)
		return true
	})
}
