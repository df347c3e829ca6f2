package vmm

import (
	"unsafe"

	"hobbyos/kernel"
	"hobbyos/kernel/mm"
)

var errTempPageMapped = &kernel.Error{Module: "vmm", Message: "temporary page is already mapped"}

// TemporaryPage is a reserved virtual page used to access a single frame,
// typically a table of an inactive hierarchy, through the active tables.
type TemporaryPage struct {
	page mm.Page
}

// NewTemporaryPage returns a TemporaryPage that uses page. The kernel
// reserves TempPageAddr for this purpose.
func NewTemporaryPage(page mm.Page) TemporaryPage {
	return TemporaryPage{page: page}
}

// Page returns the reserved page.
func (tp *TemporaryPage) Page() mm.Page {
	return tp.page
}

// Map maps the temporary page to frame in the active tables and returns its
// virtual address. The TLB entry is flushed before Map returns. Calling Map
// while the page is already mapped is a fatal error.
func (tp *TemporaryPage) Map(frame mm.Frame, flags PageTableEntryFlag, active *ActivePageTable) (uintptr, *kernel.Error) {
	if _, mapped := active.TranslatePage(tp.page); mapped {
		panic(errTempPageMapped)
	}

	flush, err := active.MapTo(tp.page, frame, flags, mm.ActiveFrameAllocator())
	if err != nil {
		return 0, err
	}
	flush.Flush()

	return tp.page.Address(), nil
}

// mapTable maps frame writable and returns it as a page table.
func (tp *TemporaryPage) mapTable(frame mm.Frame, active *ActivePageTable) (*pageTable, *kernel.Error) {
	addr, err := tp.Map(frame, FlagRW, active)
	if err != nil {
		return nil, err
	}
	return (*pageTable)(unsafe.Pointer(addr)), nil
}

// Unmap removes the temporary mapping and flushes its TLB entry.
func (tp *TemporaryPage) Unmap(active *ActivePageTable) {
	_, flush, err := active.Unmap(tp.page)
	if err != nil {
		panic(err)
	}
	flush.Flush()
}
