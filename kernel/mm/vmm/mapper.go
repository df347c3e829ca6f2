package vmm

import (
	"unsafe"

	"hobbyos/kernel"
	"hobbyos/kernel/mm"
)

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory
	// address that is not yet mapped. Unmapping or updating such an address
	// panics with it.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	// ErrPageAlreadyMapped is the panic value of mapping a page that
	// already maps a frame.
	ErrPageAlreadyMapped = &kernel.Error{Module: "vmm", Message: "page is already mapped"}

	errNoHugePageSupport = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}
)

// Mapper edits the four-level page table hierarchy rooted at a P4 frame.
// Tables are reached through the direct physical memory mapping. The P4 may
// instead be accessed through a different virtual address, which is how the
// temporary page protocol edits tables that are not active.
type Mapper struct {
	root mm.Frame

	// rootAddr, if non-zero, is the virtual address at which the P4 is
	// accessed.
	rootAddr uintptr
}

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and page table entry as its
// arguments. If the function returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// Root returns the frame of the P4 table.
func (m *Mapper) Root() mm.Frame {
	return m.root
}

func (m *Mapper) rootTable() *pageTable {
	if m.rootAddr != 0 {
		return (*pageTable)(unsafe.Pointer(m.rootAddr))
	}
	return tableAt(m.root)
}

// walk calls walkFn with the entry that corresponds to virtAddr at each
// level, starting at the P4. Returning false from walkFn aborts the walk.
// walkFn must leave upper level entries present if it returns true.
func (m *Mapper) walk(virtAddr uintptr, walkFn pageTableWalker) {
	table := m.rootTable()
	for level := uint8(0); level < pageLevels; level++ {
		pte := &table[tableIndex(virtAddr, level)]
		if !walkFn(level, pte) || level == pageLevels-1 {
			return
		}
		table = tableAt(pte.Frame())
	}
}

// MapTo maps page to frame. Missing intermediate tables are allocated from
// alloc and cleared; they inherit FlagUserAccessible from flags. Mapping a
// page that is already mapped panics with ErrPageAlreadyMapped.
func (m *Mapper) MapTo(page mm.Page, frame mm.Frame, flags PageTableEntryFlag, alloc mm.FrameAllocator) (MapperFlush, *kernel.Error) {
	var err *kernel.Error

	m.walk(page.Address(), func(level uint8, pte *pageTableEntry) bool {
		if level == pageLevels-1 {
			if pte.HasFlags(FlagPresent) {
				panic(ErrPageAlreadyMapped)
			}

			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(flags | FlagPresent)
			return true
		}

		if !pte.HasFlags(FlagPresent) {
			tableFrame, allocErr := alloc.AllocFrames(1)
			if allocErr != nil {
				err = allocErr
				return false
			}

			kernel.Memset(mm.PhysToVirt(tableFrame.Address()), 0, mm.PageSize)
			*pte = 0
			pte.SetFrame(tableFrame)
			pte.SetFlags(FlagPresent | FlagRW | (flags & FlagUserAccessible))
			return true
		}

		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		if flags&FlagUserAccessible != 0 {
			pte.SetFlags(FlagUserAccessible)
		}
		return true
	})

	if err != nil {
		return MapperFlush{}, err
	}
	return newMapperFlush(page), nil
}

// Unmap removes the mapping for page and returns the frame it pointed to.
// The frame is not released. Unmapping a page that is not mapped panics
// with ErrInvalidMapping.
func (m *Mapper) Unmap(page mm.Page) (mm.Frame, MapperFlush, *kernel.Error) {
	pte, err := m.mappedEntry(page)
	if err != nil {
		return mm.InvalidFrame, MapperFlush{}, err
	}

	frame := pte.Frame()
	*pte = 0
	return frame, newMapperFlush(page), nil
}

// UpdateFlags replaces the flags of an existing mapping without changing
// its frame. The page must be mapped.
func (m *Mapper) UpdateFlags(page mm.Page, flags PageTableEntryFlag) (MapperFlush, *kernel.Error) {
	pte, err := m.mappedEntry(page)
	if err != nil {
		return MapperFlush{}, err
	}

	pte.ClearFlags(pte.Flags())
	pte.SetFlags(flags | FlagPresent)
	return newMapperFlush(page), nil
}

// mappedEntry is leafEntry for operations that require page to be mapped.
func (m *Mapper) mappedEntry(page mm.Page) (*pageTableEntry, *kernel.Error) {
	pte, err := m.leafEntry(page.Address())
	if err == ErrInvalidMapping {
		panic(err)
	}
	return pte, err
}

// TranslatePage returns the frame mapped to page.
func (m *Mapper) TranslatePage(page mm.Page) (mm.Frame, bool) {
	pte, err := m.leafEntry(page.Address())
	if err != nil {
		return mm.InvalidFrame, false
	}
	return pte.Frame(), true
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address does not
// correspond to a mapped physical address.
func (m *Mapper) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	pte, err := m.leafEntry(virtAddr)
	if err != nil {
		return 0, err
	}
	return pte.Frame().Address() + PageOffset(virtAddr), nil
}

// EntryFlags returns the flags of the final entry for page.
func (m *Mapper) EntryFlags(page mm.Page) (PageTableEntryFlag, *kernel.Error) {
	pte, err := m.leafEntry(page.Address())
	if err != nil {
		return 0, err
	}
	return pte.Flags(), nil
}

// leafEntry returns the present P1 entry for virtAddr.
func (m *Mapper) leafEntry(virtAddr uintptr) (*pageTableEntry, *kernel.Error) {
	var (
		err   *kernel.Error
		entry *pageTableEntry
	)

	m.walk(virtAddr, func(level uint8, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			err = ErrInvalidMapping
			return false
		}

		if level != pageLevels-1 && pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		entry = pte
		return true
	})

	if err != nil {
		return nil, err
	}
	return entry, nil
}
