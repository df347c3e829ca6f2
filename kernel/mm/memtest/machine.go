//go:build linux && amd64

// Package memtest emulates the parts of an amd64 MMU that the memory manager
// relies on so that page tables built by kernel code can be exercised by
// hosted tests.
//
// Physical memory is a memfd mapped into the test process. Its host address
// doubles as the physical memory offset, so the direct physical mapping
// works unchanged. A reserved virtual window stands in for the address
// space managed by the page tables: whenever a TLB entry for a page inside
// the window is flushed, the active page tables are walked and the page is
// either mapped onto the backing memfd frame or made inaccessible.
package memtest

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"hobbyos/kernel/boot"
)

const (
	pageSize  = uintptr(4096)
	pageShift = 12
	levels    = 4

	ptePresent  = uint64(1 << 0)
	pteRW       = uint64(1 << 1)
	pteHuge     = uint64(1 << 7)
	pteAddrMask = uint64(0x000ffffffffff000)

	// BootP4Addr is the physical address of the page table that is active
	// when a Machine is created.
	BootP4Addr = uintptr(0x1000)

	// physMapTableAddr is the physical address of the table referenced by
	// the boot P4 entry that covers the direct physical mapping.
	physMapTableAddr = uintptr(0x2000)

	// FirstFreeAddr is the lowest physical address not used by the
	// Machine itself.
	FirstFreeAddr = uintptr(0x10000)
)

// Config describes the memory of a Machine.
type Config struct {
	// PhysSize is the amount of physical memory in bytes.
	PhysSize uintptr

	// WindowStart and WindowSize describe the virtual range whose
	// translations are honoured. WindowStart must be page aligned and
	// must not collide with existing mappings of the test process.
	WindowStart uintptr
	WindowSize  uintptr
}

// Machine is a software MMU backed by host memory.
type Machine struct {
	cfg  Config
	fd   int
	phys []byte
	cr3  uintptr

	windowReserved bool
	flushes        int
}

// New creates a Machine. The boot page table at BootP4Addr is empty apart
// from the entry covering the direct physical mapping.
func New(cfg Config) (*Machine, error) {
	if cfg.PhysSize < FirstFreeAddr || cfg.PhysSize%pageSize != 0 {
		return nil, fmt.Errorf("memtest: physical memory size %#x must be a page multiple of at least %#x", cfg.PhysSize, FirstFreeAddr)
	}
	if cfg.WindowStart%pageSize != 0 || cfg.WindowSize == 0 || cfg.WindowSize%pageSize != 0 {
		return nil, fmt.Errorf("memtest: window [%#x, +%#x) is not page aligned", cfg.WindowStart, cfg.WindowSize)
	}

	fd, err := unix.MemfdCreate("memtest-phys", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("memtest: memfd_create: %w", err)
	}

	m := &Machine{cfg: cfg, fd: fd, cr3: BootP4Addr}

	if err = unix.Ftruncate(fd, int64(cfg.PhysSize)); err != nil {
		m.Close()
		return nil, fmt.Errorf("memtest: ftruncate: %w", err)
	}

	if m.phys, err = unix.Mmap(fd, 0, int(cfg.PhysSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED); err != nil {
		m.Close()
		return nil, fmt.Errorf("memtest: mapping physical memory: %w", err)
	}

	_, err = unix.MmapPtr(-1, 0, unsafe.Pointer(cfg.WindowStart), cfg.WindowSize,
		unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_FIXED_NOREPLACE|unix.MAP_NORESERVE)
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("memtest: reserving window at %#x: %w", cfg.WindowStart, err)
	}
	m.windowReserved = true

	if p4Index(m.PhysicalMemoryOffset()) == p4Index(cfg.WindowStart) {
		m.Close()
		return nil, fmt.Errorf("memtest: window %#x shares a P4 entry with the physical memory map", cfg.WindowStart)
	}

	m.writeEntry(BootP4Addr, p4Index(m.PhysicalMemoryOffset()), uint64(physMapTableAddr)|ptePresent|pteRW)
	return m, nil
}

// Close releases the host resources held by the Machine.
func (m *Machine) Close() {
	if m.windowReserved {
		_ = unix.MunmapPtr(unsafe.Pointer(m.cfg.WindowStart), m.cfg.WindowSize)
		m.windowReserved = false
	}
	if m.phys != nil {
		_ = unix.Munmap(m.phys)
		m.phys = nil
	}
	if m.fd > 0 {
		_ = unix.Close(m.fd)
		m.fd = -1
	}
}

// PhysicalMemoryOffset returns the host address at which physical address
// 0 is mapped.
func (m *Machine) PhysicalMemoryOffset() uintptr {
	return uintptr(unsafe.Pointer(&m.phys[0]))
}

// BootInfo returns boot information describing the Machine. Without
// regions, all physical memory from FirstFreeAddr is reported usable.
func (m *Machine) BootInfo(regions ...boot.MemoryRegion) boot.Info {
	if len(regions) == 0 {
		regions = []boot.MemoryRegion{
			{Start: 0, Length: uint64(FirstFreeAddr), Type: boot.Bootloader},
			{Start: uint64(FirstFreeAddr), Length: uint64(m.cfg.PhysSize - FirstFreeAddr), Type: boot.Usable},
		}
	}

	return boot.Info{PhysicalMemoryOffset: m.PhysicalMemoryOffset(), MemoryMap: regions}
}

// Window returns the bounds of the translated virtual range.
func (m *Machine) Window() (start, size uintptr) {
	return m.cfg.WindowStart, m.cfg.WindowSize
}

// Phys returns the n bytes of physical memory starting at addr.
func (m *Machine) Phys(addr, n uintptr) []byte {
	return m.phys[addr : addr+n]
}

// FlushCount returns the number of single-entry TLB flushes observed.
func (m *Machine) FlushCount() int {
	return m.flushes
}

// ActivePDT returns the physical address of the active P4 table.
func (m *Machine) ActivePDT() uintptr {
	return m.cr3
}

// SwitchPDT activates the P4 table at pdtPhysAddr and flushes every window
// translation.
func (m *Machine) SwitchPDT(pdtPhysAddr uintptr) {
	m.cr3 = pdtPhysAddr
	m.FlushTLB()
}

// FlushTLB resynchronises every page of the window with the active tables.
func (m *Machine) FlushTLB() {
	for va := m.cfg.WindowStart; va < m.cfg.WindowStart+m.cfg.WindowSize; va += pageSize {
		m.sync(va)
	}
}

// FlushTLBEntry resynchronises the page containing virtAddr with the active
// tables. Addresses outside the window are ignored.
func (m *Machine) FlushTLBEntry(virtAddr uintptr) {
	m.flushes++
	virtAddr &^= pageSize - 1
	if virtAddr < m.cfg.WindowStart || virtAddr >= m.cfg.WindowStart+m.cfg.WindowSize {
		return
	}
	m.sync(virtAddr)
}

// Translate walks the active tables like the hardware would. It returns
// false if virtAddr is not mapped.
func (m *Machine) Translate(virtAddr uintptr) (physAddr uintptr, writable, ok bool) {
	table := m.cr3
	writable = true
	for level := 0; level < levels; level++ {
		shift := uint(39 - 9*level)
		entry := m.readEntry(table, (virtAddr>>shift)&511)
		if entry&ptePresent == 0 || entry&pteHuge != 0 {
			return 0, false, false
		}
		writable = writable && entry&pteRW != 0
		table = uintptr(entry & pteAddrMask)
	}

	return table + virtAddr&(pageSize-1), writable, true
}

// sync installs the current translation for the page at va.
func (m *Machine) sync(va uintptr) {
	var err error

	phys, writable, ok := m.Translate(va)
	switch {
	case ok && phys < m.cfg.PhysSize:
		prot := unix.PROT_READ
		if writable {
			prot |= unix.PROT_WRITE
		}
		_, err = unix.MmapPtr(m.fd, int64(phys), unsafe.Pointer(va), pageSize, prot, unix.MAP_SHARED|unix.MAP_FIXED)
	default:
		_, err = unix.MmapPtr(-1, 0, unsafe.Pointer(va), pageSize, unix.PROT_NONE,
			unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_FIXED|unix.MAP_NORESERVE)
	}

	if err != nil {
		panic(fmt.Sprintf("memtest: remapping page %#x: %v", va, err))
	}
}

func (m *Machine) readEntry(tableAddr, index uintptr) uint64 {
	return *(*uint64)(unsafe.Pointer(&m.phys[tableAddr+index*8]))
}

func (m *Machine) writeEntry(tableAddr, index uintptr, value uint64) {
	*(*uint64)(unsafe.Pointer(&m.phys[tableAddr+index*8])) = value
}

func p4Index(virtAddr uintptr) uintptr {
	return (virtAddr >> 39) & 511
}
