package mm

import "hobbyos/kernel"

var (
	// frameAllocator is the allocator registered via SetFrameAllocator.
	frameAllocator FrameAllocator

	errNoAllocator = &kernel.Error{Module: "mm", Message: "no frame allocator registered"}
	errNoPhysMap   = &kernel.Error{Module: "mm", Message: "physical memory offset not set"}
)

// FrameAllocator is implemented by physical frame allocators.
type FrameAllocator interface {
	// AllocFrames reserves count contiguous frames and returns the first
	// one.
	AllocFrames(count uintptr) (Frame, *kernel.Error)

	// FreeFrames returns count contiguous frames starting at frame.
	FreeFrames(frame Frame, count uintptr)

	// FreeFrameCount returns the number of frames that can still be
	// allocated.
	FreeFrameCount() uintptr

	// UsedFrameCount returns the number of frames that are not free.
	UsedFrameCount() uintptr

	// SetNoncore switches the allocator between the early boot mode, in
	// which freed frames are discarded, and the mode in which they are
	// recycled.
	SetNoncore(noncore bool)
}

// SetFrameAllocator registers the allocator used by AllocFrame, AllocFrames,
// FreeFrame and FreeFrames.
func SetFrameAllocator(alloc FrameAllocator) { frameAllocator = alloc }

// ActiveFrameAllocator returns the allocator registered via
// SetFrameAllocator. It panics if none is registered.
func ActiveFrameAllocator() FrameAllocator {
	if frameAllocator == nil {
		panic(errNoAllocator)
	}
	return frameAllocator
}

// AllocFrame allocates a single frame.
func AllocFrame() (Frame, *kernel.Error) { return ActiveFrameAllocator().AllocFrames(1) }

// AllocFrames allocates count contiguous frames.
func AllocFrames(count uintptr) (Frame, *kernel.Error) {
	return ActiveFrameAllocator().AllocFrames(count)
}

// FreeFrame releases a single frame.
func FreeFrame(frame Frame) { ActiveFrameAllocator().FreeFrames(frame, 1) }

// FreeFrames releases count contiguous frames starting at frame.
func FreeFrames(frame Frame, count uintptr) { ActiveFrameAllocator().FreeFrames(frame, count) }
