package vmm

import (
	"hobbyos/kernel"
	"hobbyos/kernel/mm"
)

// ActivePageTable is the page table hierarchy currently loaded in CR3.
type ActivePageTable struct {
	Mapper
}

// NewActivePageTable returns the table loaded in CR3.
func NewActivePageTable() ActivePageTable {
	return ActivePageTable{Mapper{root: mm.FrameFromAddress(activePDTFn())}}
}

// Address returns the physical address of the active P4 table.
func (t *ActivePageTable) Address() uintptr {
	return t.root.Address()
}

// Map maps page to a newly allocated frame. The page must not be mapped.
func (t *ActivePageTable) Map(page mm.Page, flags PageTableEntryFlag) (MapperFlush, *kernel.Error) {
	if _, mapped := t.TranslatePage(page); mapped {
		panic(ErrPageAlreadyMapped)
	}

	frame, err := mm.AllocFrame()
	if err != nil {
		return MapperFlush{}, err
	}

	flush, err := t.MapTo(page, frame, flags, mm.ActiveFrameAllocator())
	if err != nil {
		mm.FreeFrame(frame)
		return MapperFlush{}, err
	}
	return flush, nil
}

// Remap replaces the flags of an existing mapping.
func (t *ActivePageTable) Remap(page mm.Page, flags PageTableEntryFlag) (MapperFlush, *kernel.Error) {
	return t.UpdateFlags(page, flags)
}

// Switch loads table into CR3 and returns the previously active table. All
// flush tokens must have been consumed.
func (t *ActivePageTable) Switch(table InactivePageTable) InactivePageTable {
	AssertFlushed()

	prev := InactivePageTable{frame: t.root}
	switchPDTFn(table.frame.Address())
	t.root = table.frame
	return prev
}

// With runs fn against the hierarchy of table as if it were active. The
// P4 of table is reached through tmp, while lower level tables are reached
// through the direct physical mapping.
func (t *ActivePageTable) With(table *InactivePageTable, tmp *TemporaryPage, fn func(*Mapper)) *kernel.Error {
	p4Addr, err := tmp.Map(table.frame, FlagRW, t)
	if err != nil {
		return err
	}

	fn(&Mapper{root: table.frame, rootAddr: p4Addr})

	tmp.Unmap(t)
	return nil
}

// Flush invalidates the TLB entry for page.
func (t *ActivePageTable) Flush(page mm.Page) {
	flushTLBEntryFn(page.Address())
}

// FlushAll invalidates the whole TLB.
func (t *ActivePageTable) FlushAll() {
	flushTLBFn()
}
