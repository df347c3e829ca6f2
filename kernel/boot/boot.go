// Package boot describes the information handed to the kernel by the boot
// loader: the physical memory map and the offset at which all of physical
// memory is linearly mapped.
package boot

// RegionType classifies a MemoryRegion.
type RegionType uint32

const (
	// Usable memory is free for the frame allocator to hand out.
	Usable RegionType = iota + 1

	// Reserved memory must never be touched.
	Reserved

	// Kernel memory holds the loaded kernel image.
	Kernel

	// AcpiReclaimable memory holds ACPI tables that may be reused once
	// they have been parsed.
	AcpiReclaimable

	// Nvs memory must be preserved across hibernation.
	Nvs

	// BadMemory was reported as defective by the firmware.
	BadMemory

	// Bootloader memory holds structures set up by the boot loader such as
	// the initial page tables.
	Bootloader
)

// String implements fmt.Stringer for RegionType.
func (t RegionType) String() string {
	switch t {
	case Usable:
		return "usable"
	case Reserved:
		return "reserved"
	case Kernel:
		return "kernel"
	case AcpiReclaimable:
		return "ACPI (reclaimable)"
	case Nvs:
		return "NVS"
	case BadMemory:
		return "bad memory"
	case Bootloader:
		return "bootloader"
	default:
		return "unknown"
	}
}

// MemoryRegion describes a physical memory range and its type.
type MemoryRegion struct {
	Start  uint64
	Length uint64
	Type   RegionType
}

// End returns the first physical address past the region.
func (r MemoryRegion) End() uint64 {
	return r.Start + r.Length
}

// Info is the boot loader hand-off consumed by the memory manager.
type Info struct {
	// PhysicalMemoryOffset is the virtual address at which physical
	// address 0 is mapped.
	PhysicalMemoryOffset uintptr

	// MemoryMap lists the physical memory regions ordered by start
	// address.
	MemoryMap []MemoryRegion
}

// MemRegionVisitor is invoked by VisitMemRegions for each region. It returns
// false to stop the scan.
type MemRegionVisitor func(*MemoryRegion) bool

// VisitMemRegions invokes visitor for each region in info's memory map.
func VisitMemRegions(info *Info, visitor MemRegionVisitor) {
	if info == nil {
		return
	}

	for i := range info.MemoryMap {
		if !visitor(&info.MemoryMap[i]) {
			return
		}
	}
}
