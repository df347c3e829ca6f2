package boot

import "unsafe"

// maxRegions bounds the number of memory map entries read from multiboot
// info. The regions are stored in a static array because the heap does not
// exist yet when the memory map is parsed.
const maxRegions = 64

const (
	tagEnd       uint32 = 0
	tagMemoryMap uint32 = 6
)

// multiboot2 memory map entry types.
const (
	mbAvailable uint32 = iota + 1
	mbReserved
	mbAcpiReclaimable
	mbNvs
	mbBadMemory
)

var regionBuf [maxRegions]MemoryRegion

type tagHeader struct {
	tagType uint32
	size    uint32
}

type mmapHeader struct {
	entrySize    uint32
	entryVersion uint32
}

type mmapEntry struct {
	physAddress uint64
	length      uint64
	entryType   uint32
	reserved    uint32
}

// FromMultiboot builds an Info from the multiboot2 information structure at
// infoPtr. Entry types unknown to the multiboot2 format are reported as
// Reserved. The returned memory map aliases a package-level buffer and is
// overwritten by the next call.
func FromMultiboot(infoPtr, physOffset uintptr) Info {
	info := Info{PhysicalMemoryOffset: physOffset}

	ptr, size := findTag(infoPtr, tagMemoryMap)
	if size == 0 {
		return info
	}

	hdr := (*mmapHeader)(unsafe.Pointer(ptr))
	end := ptr + uintptr(size)

	var count int
	for cur := ptr + unsafe.Sizeof(*hdr); cur < end && count < maxRegions; cur += uintptr(hdr.entrySize) {
		entry := (*mmapEntry)(unsafe.Pointer(cur))
		regionBuf[count] = MemoryRegion{
			Start:  entry.physAddress,
			Length: entry.length,
			Type:   regionTypeFor(entry.entryType),
		}
		count++
	}

	info.MemoryMap = regionBuf[:count]
	return info
}

func regionTypeFor(mbType uint32) RegionType {
	switch mbType {
	case mbAvailable:
		return Usable
	case mbAcpiReclaimable:
		return AcpiReclaimable
	case mbNvs:
		return Nvs
	case mbBadMemory:
		return BadMemory
	default:
		return Reserved
	}
}

// findTag returns a pointer to the payload of the first tag of the requested
// type and the payload size. It returns a zero size if no such tag exists.
func findTag(infoPtr uintptr, tagType uint32) (uintptr, uint32) {
	// skip the total_size/reserved header
	cur := infoPtr + 8
	for {
		hdr := (*tagHeader)(unsafe.Pointer(cur))
		if hdr.tagType == tagEnd {
			return 0, 0
		}

		if hdr.tagType == tagType {
			return cur + 8, hdr.size - 8
		}

		// tags start at 8-byte aligned addresses
		cur += uintptr((hdr.size + 7) &^ 7)
	}
}
