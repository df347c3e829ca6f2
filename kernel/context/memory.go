package context

import (
	"hobbyos/kernel"
	"hobbyos/kernel/mm"
	"hobbyos/kernel/mm/vmm"
)

var (
	errMemoryUnmapped = &kernel.Error{Module: "context", Message: "memory region already unmapped"}
	errClearReadOnly  = &kernel.Error{Module: "context", Message: "cannot clear a read-only memory region"}
)

// Memory is a contiguous run of pages mapped with uniform flags in the
// active page table. Every page of a Memory has its own frame, which is
// released when the region is unmapped or shrunk.
type Memory struct {
	start uintptr
	size  uintptr
	flags vmm.PageTableEntryFlag

	unmapped bool
}

// NewMemory maps size bytes starting at start to freshly allocated frames
// and optionally clears them. If a frame cannot be allocated, every page
// mapped so far is released and the allocation error is returned.
func NewMemory(start, size uintptr, flags vmm.PageTableEntryFlag, clear bool) (*Memory, *kernel.Error) {
	m := &Memory{start: start, size: size, flags: flags}
	if clear {
		m.mustBeWritable()
	}

	first, last := m.pageRange(size)
	if err := m.mapRange(first, last); err != nil {
		return nil, err
	}

	if clear {
		m.clear(start, size)
	}
	return m, nil
}

// Start returns the virtual address of the first byte of the region.
func (m *Memory) Start() uintptr { return m.start }

// Size returns the region size in bytes.
func (m *Memory) Size() uintptr { return m.size }

// Flags returns the flags every page of the region is mapped with.
func (m *Memory) Flags() vmm.PageTableEntryFlag { return m.flags }

// Pages returns the first page of the region and the number of pages it
// spans.
func (m *Memory) Pages() (mm.Page, uintptr) {
	first, last := m.pageRange(m.size)
	return first, uintptr(last - first)
}

// pageRange returns the pages spanned by the first size bytes of the region
// as the half-open range [first, last).
func (m *Memory) pageRange(size uintptr) (first, last mm.Page) {
	first = mm.PageFromAddress(m.start)
	if size == 0 {
		return first, first
	}
	return first, mm.PageFromAddress(m.start+size-1) + 1
}

// Resize grows or shrinks the region to newSize bytes. Only the pages that
// enter or leave the region are touched. Pages leaving the region have
// their frames released. When growing with clear set, the new bytes are
// zeroed.
func (m *Memory) Resize(newSize uintptr, clear bool) *kernel.Error {
	m.mustBeMapped()

	_, oldLast := m.pageRange(m.size)
	_, newLast := m.pageRange(newSize)

	switch {
	case newSize > m.size:
		if clear {
			m.mustBeWritable()
		}

		if err := m.mapRange(oldLast, newLast); err != nil {
			return err
		}

		if clear {
			m.clear(m.start+m.size, newSize-m.size)
		}
	case newSize < m.size:
		active := vmm.NewActivePageTable()
		batch := vmm.NewMapperFlushAll()
		m.unmapRange(&active, &batch, newLast, oldLast)
		batch.Flush(&active)
	}

	m.size = newSize
	return nil
}

// Remap changes the flags of every page in the region without touching the
// backing frames.
func (m *Memory) Remap(newFlags vmm.PageTableEntryFlag) {
	m.mustBeMapped()

	active := vmm.NewActivePageTable()
	first, last := m.pageRange(m.size)
	for page := first; page < last; page++ {
		flush, err := active.Remap(page, newFlags)
		if err != nil {
			panic(err)
		}
		flush.Flush()
	}

	m.flags = newFlags
}

// MoveTo relocates the region into table at newStart. The frames backing the
// region are moved as they are; no data is copied. The pages are first
// mapped in table and only then removed from the active table, so a failure
// to allocate a page table for table leaves the region untouched.
func (m *Memory) MoveTo(newStart uintptr, table *vmm.InactivePageTable, tmp *vmm.TemporaryPage) *kernel.Error {
	m.mustBeMapped()

	active := vmm.NewActivePageTable()
	first, last := m.pageRange(m.size)
	newFirst := mm.PageFromAddress(newStart)

	var mapErr *kernel.Error
	err := active.With(table, tmp, func(mapper *vmm.Mapper) {
		for page := first; page < last; page++ {
			frame, ok := active.TranslatePage(page)
			if !ok {
				panic(vmm.ErrInvalidMapping)
			}

			// The destination table is not active so its flushes are ignored.
			flush, err := mapper.MapTo(newFirst+(page-first), frame, m.flags, mm.ActiveFrameAllocator())
			if err != nil {
				mapErr = err
				for undo := first; undo < page; undo++ {
					_, flush, _ := mapper.Unmap(newFirst + (undo - first))
					flush.Ignore()
				}
				return
			}
			flush.Ignore()
		}
	})
	if err != nil {
		return err
	}
	if mapErr != nil {
		return mapErr
	}

	batch := vmm.NewMapperFlushAll()
	for page := first; page < last; page++ {
		_, flush, err := active.Unmap(page)
		if err != nil {
			panic(err)
		}
		batch.Consume(&flush)
	}
	batch.Flush(&active)

	m.start = newStart
	return nil
}

// Unmap removes every page of the region from the active page table and
// releases the backing frames. A region can only be unmapped once.
func (m *Memory) Unmap() {
	m.mustBeMapped()

	active := vmm.NewActivePageTable()
	batch := vmm.NewMapperFlushAll()
	first, last := m.pageRange(m.size)
	m.unmapRange(&active, &batch, first, last)
	batch.Flush(&active)

	m.unmapped = true
}

// ToShared wraps the region in an owned, reference counted handle.
func (m *Memory) ToShared() *SharedMemory {
	return newSharedMemory(m)
}

// mapRange maps the pages in [first, last) to new frames. On failure the
// pages mapped by this call are released again.
func (m *Memory) mapRange(first, last mm.Page) *kernel.Error {
	active := vmm.NewActivePageTable()
	for page := first; page < last; page++ {
		flush, err := active.Map(page, m.flags)
		if err != nil {
			batch := vmm.NewMapperFlushAll()
			m.unmapRange(&active, &batch, first, page)
			batch.Flush(&active)
			return err
		}
		flush.Flush()
	}
	return nil
}

func (m *Memory) unmapRange(active *vmm.ActivePageTable, batch *vmm.MapperFlushAll, first, last mm.Page) {
	for page := first; page < last; page++ {
		frame, flush, err := active.Unmap(page)
		if err != nil {
			panic(err)
		}
		batch.Consume(&flush)
		mm.FreeFrame(frame)
	}
}

func (m *Memory) clear(addr, size uintptr) {
	kernel.Memset(addr, 0, size)
}

func (m *Memory) mustBeWritable() {
	if m.flags&vmm.FlagRW == 0 {
		panic(errClearReadOnly)
	}
}

func (m *Memory) mustBeMapped() {
	if m.unmapped {
		panic(errMemoryUnmapped)
	}
}
