package vmm

import (
	"hobbyos/kernel"
	"hobbyos/kernel/mm"
)

// InactivePageTable is a page table hierarchy that is not loaded in CR3.
type InactivePageTable struct {
	frame mm.Frame
}

// NewInactivePageTable turns frame into the P4 of a new hierarchy. The table
// is cleared and then receives a copy of the active P4 entry that covers the
// direct physical mapping so that the kernel can keep reaching its tables
// once the hierarchy is activated.
func NewInactivePageTable(frame mm.Frame, active *ActivePageTable, tmp *TemporaryPage) (InactivePageTable, *kernel.Error) {
	table, err := tmp.mapTable(frame, active)
	if err != nil {
		return InactivePageTable{}, err
	}

	kernel.Memset(tmp.page.Address(), 0, mm.PageSize)

	physMapIndex := tableIndex(mm.PhysicalMemoryOffset(), 0)
	table[physMapIndex] = active.rootTable()[physMapIndex]

	tmp.Unmap(active)
	return InactivePageTable{frame: frame}, nil
}

// InactivePageTableFromAddress wraps an existing P4 at physAddr.
func InactivePageTableFromAddress(physAddr uintptr) InactivePageTable {
	return InactivePageTable{frame: mm.FrameFromAddress(physAddr)}
}

// Address returns the physical address of the P4 table.
func (t InactivePageTable) Address() uintptr {
	return t.frame.Address()
}

// Frame returns the frame holding the P4 table.
func (t InactivePageTable) Frame() mm.Frame {
	return t.frame
}
