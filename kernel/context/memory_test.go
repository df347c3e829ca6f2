//go:build linux && amd64

package context

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"hobbyos/kernel"
	"hobbyos/kernel/mm"
	"hobbyos/kernel/mm/vmm"
)

const rwFlags = vmm.FlagRW | vmm.FlagNoExecute

// mappedFrames returns the frame behind each page of m in the active table.
func mappedFrames(t *testing.T, m *Memory) []mm.Frame {
	t.Helper()

	active := vmm.NewActivePageTable()
	first, count := m.Pages()
	frames := make([]mm.Frame, 0, count)
	for page := first; page < first+mm.Page(count); page++ {
		frame, ok := active.TranslatePage(page)
		require.Truef(t, ok, "page 0x%x is not mapped", page.Address())
		frames = append(frames, frame)
	}
	return frames
}

func requireUnmapped(t *testing.T, from, to uintptr) {
	t.Helper()

	active := vmm.NewActivePageTable()
	for addr := from; addr < to; addr += mm.PageSize {
		_, ok := active.TranslatePage(mm.PageFromAddress(addr))
		require.Falsef(t, ok, "page 0x%x is still mapped", addr)
	}
}

func freeFrames() uintptr {
	return mm.ActiveFrameAllocator().FreeFrameCount()
}

func TestNewMemory(t *testing.T) {
	start := windowAddr(0)
	mem, err := NewMemory(start, 3*mm.PageSize+10, rwFlags, true)
	require.Nil(t, err)

	require.Equal(t, start, mem.Start())
	require.Equal(t, 3*mm.PageSize+10, mem.Size())
	require.Equal(t, rwFlags, mem.Flags())

	first, count := mem.Pages()
	require.Equal(t, mm.PageFromAddress(start), first)
	require.Equal(t, uintptr(4), count)
	require.Len(t, mappedFrames(t, mem), 4)

	for addr := start; addr < start+mem.Size(); addr++ {
		require.Zero(t, *(*byte)(unsafe.Pointer(addr)))
	}

	*(*uint32)(unsafe.Pointer(start + 3*mm.PageSize)) = 0xabad1dea

	free := freeFrames()
	mem.Unmap()
	require.Equal(t, free+4, freeFrames(), "frames must be released on unmap")
	requireUnmapped(t, start, start+4*mm.PageSize)
	require.Zero(t, vmm.PendingFlushes())

	require.PanicsWithValue(t, errMemoryUnmapped, mem.Unmap)
	require.PanicsWithValue(t, errMemoryUnmapped, func() { _ = mem.Resize(0, false) })
}

func TestNewMemoryClearRequiresWrite(t *testing.T) {
	free := freeFrames()
	require.PanicsWithValue(t, errClearReadOnly, func() {
		_, _ = NewMemory(windowAddr(8), mm.PageSize, vmm.FlagNoExecute, true)
	})
	require.Equal(t, free, freeFrames())
	requireUnmapped(t, windowAddr(8), windowAddr(9))

	mem, err := NewMemory(windowAddr(8), 0, rwFlags, true)
	require.Nil(t, err)
	_, count := mem.Pages()
	require.Zero(t, count)
	mem.Unmap()
}

func TestOverlappingMemoryPanics(t *testing.T) {
	start := windowAddr(96)
	mem, err := NewMemory(start, 2*mm.PageSize, rwFlags, false)
	require.Nil(t, err)
	defer mem.Unmap()

	original := mappedFrames(t, mem)
	free := freeFrames()
	require.PanicsWithValue(t, vmm.ErrPageAlreadyMapped, func() {
		_, _ = NewMemory(start+mm.PageSize, mm.PageSize, rwFlags, false)
	})
	require.Equal(t, free, freeFrames())
	require.Equal(t, original, mappedFrames(t, mem))
	require.Zero(t, vmm.PendingFlushes())
}

func TestResizeTouchesOnlyTheDelta(t *testing.T) {
	start := windowAddr(16)
	mem, err := NewMemory(start, 3*mm.PageSize, rwFlags, false)
	require.Nil(t, err)
	defer mem.Unmap()

	original := mappedFrames(t, mem)
	free := freeFrames()

	flushes := machine.FlushCount()
	require.Nil(t, mem.Resize(5*mm.PageSize, true))
	require.Equal(t, 2, machine.FlushCount()-flushes, "only the two new pages may be mapped")
	require.Equal(t, free-2, freeFrames())

	grown := mappedFrames(t, mem)
	require.Equal(t, original, grown[:3])
	for addr := start + 3*mm.PageSize; addr < start+5*mm.PageSize; addr += 8 {
		require.Zero(t, *(*uint64)(unsafe.Pointer(addr)))
	}

	// Growing within the last page does not map anything.
	flushes = machine.FlushCount()
	require.Nil(t, mem.Resize(5*mm.PageSize-1, false))
	require.Nil(t, mem.Resize(5*mm.PageSize, false))
	require.Equal(t, flushes, machine.FlushCount())

	require.Nil(t, mem.Resize(3*mm.PageSize, false))
	require.Equal(t, original, mappedFrames(t, mem), "shrinking back must restore the original page set")
	require.Equal(t, free, freeFrames())
	requireUnmapped(t, start+3*mm.PageSize, start+5*mm.PageSize)
	require.Zero(t, vmm.PendingFlushes())
}

func TestRemap(t *testing.T) {
	start := windowAddr(32)
	mem, err := NewMemory(start, 2*mm.PageSize, rwFlags, true)
	require.Nil(t, err)
	defer mem.Unmap()

	frames := mappedFrames(t, mem)
	mem.Remap(vmm.FlagNoExecute)
	require.Equal(t, vmm.FlagNoExecute, mem.Flags())
	require.Equal(t, frames, mappedFrames(t, mem))

	for addr := start; addr < start+mem.Size(); addr += mm.PageSize {
		_, writable, ok := machine.Translate(addr)
		require.True(t, ok)
		require.False(t, writable)
	}

	require.PanicsWithValue(t, errClearReadOnly, func() { _ = mem.Resize(3*mm.PageSize, true) })
	require.Equal(t, 2*mm.PageSize, mem.Size())
}

func TestMoveTo(t *testing.T) {
	var (
		src    = windowAddr(40)
		dst    = windowAddr(48)
		tmp    = vmm.NewTemporaryPage(mm.PageFromAddress(windowAddr(127)))
		active = vmm.NewActivePageTable()
	)

	p4, err := mm.AllocFrame()
	require.Nil(t, err)
	table, err := vmm.NewInactivePageTable(p4, &active, &tmp)
	require.Nil(t, err)

	mem, err := NewMemory(src, 3*mm.PageSize, rwFlags, true)
	require.Nil(t, err)
	for i := uintptr(0); i < 3; i++ {
		*(*uintptr)(unsafe.Pointer(src + i*mm.PageSize)) = 0x100 + i
	}
	frames := mappedFrames(t, mem)

	free := freeFrames()
	require.Nil(t, mem.MoveTo(dst, &table, &tmp))
	require.Equal(t, dst, mem.Start())
	requireUnmapped(t, src, src+3*mm.PageSize)
	requireUnmapped(t, dst, dst+3*mm.PageSize)
	require.Equal(t, free, freeFrames()+3, "only the page tables of the destination may be allocated")
	require.Zero(t, vmm.PendingFlushes())

	err = active.With(&table, &tmp, func(mapper *vmm.Mapper) {
		for i := uintptr(0); i < 3; i++ {
			frame, ok := mapper.TranslatePage(mm.PageFromAddress(dst + i*mm.PageSize))
			require.True(t, ok)
			require.Equal(t, frames[i], frame, "frames must move without copying")

			flags, err := mapper.EntryFlags(mm.PageFromAddress(dst + i*mm.PageSize))
			require.Nil(t, err)
			require.Equal(t, vmm.FlagPresent|rwFlags, flags)
		}
	})
	require.Nil(t, err)

	prev := active.Switch(table)
	for i := uintptr(0); i < 3; i++ {
		require.Equal(t, 0x100+i, *(*uintptr)(unsafe.Pointer(dst + i*mm.PageSize)))
	}
	mem.Unmap()
	active.Switch(prev)
}

// limitedAllocator fails once it has handed out limit frames.
type limitedAllocator struct {
	mm.FrameAllocator
	limit int
}

var errLimit = &kernel.Error{Module: "test", Message: "allocation limit reached"}

func (a *limitedAllocator) AllocFrames(count uintptr) (mm.Frame, *kernel.Error) {
	if a.limit == 0 {
		return mm.InvalidFrame, errLimit
	}
	a.limit--
	return a.FrameAllocator.AllocFrames(count)
}

func TestMemoryAllocationFailure(t *testing.T) {
	start := windowAddr(56)

	// Make sure the page tables covering the region exist.
	warmup, err := NewMemory(start, mm.PageSize, rwFlags, false)
	require.Nil(t, err)
	warmup.Unmap()

	orig := mm.ActiveFrameAllocator()
	defer mm.SetFrameAllocator(orig)

	free := freeFrames()
	mm.SetFrameAllocator(&limitedAllocator{FrameAllocator: orig, limit: 2})
	_, err = NewMemory(start, 4*mm.PageSize, rwFlags, true)
	require.Equal(t, errLimit, err)
	require.Equal(t, free, freeFrames())
	requireUnmapped(t, start, start+4*mm.PageSize)

	mm.SetFrameAllocator(orig)
	mem, err := NewMemory(start, mm.PageSize, rwFlags, false)
	require.Nil(t, err)
	defer mem.Unmap()

	mm.SetFrameAllocator(&limitedAllocator{FrameAllocator: orig, limit: 1})
	require.Equal(t, errLimit, mem.Resize(4*mm.PageSize, false))
	require.Equal(t, mm.PageSize, mem.Size())
	requireUnmapped(t, start+mm.PageSize, start+4*mm.PageSize)
	require.Zero(t, vmm.PendingFlushes())
}
