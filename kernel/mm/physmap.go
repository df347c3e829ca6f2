package mm

var (
	physMemOffset uintptr
	physMemSet    bool
)

// SetPhysicalMemoryOffset records the virtual address at which the boot
// loader mapped all of physical memory.
func SetPhysicalMemoryOffset(offset uintptr) {
	physMemOffset = offset
	physMemSet = true
}

// PhysicalMemoryOffset returns the offset registered by
// SetPhysicalMemoryOffset.
func PhysicalMemoryOffset() uintptr {
	if !physMemSet {
		panic(errNoPhysMap)
	}
	return physMemOffset
}

// PhysToVirt returns the virtual address through which physAddr can be
// accessed via the direct physical memory mapping.
func PhysToVirt(physAddr uintptr) uintptr {
	return PhysicalMemoryOffset() + physAddr
}
