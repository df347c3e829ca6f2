package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"hobbyos/kernel/boot"
)

// reservedLow is the physical range the simulated machine keeps for its own
// page tables.
const reservedLow = 0x10000

// Layout describes the simulated machine.
type Layout struct {
	// PhysSize is the amount of physical memory in bytes.
	PhysSize uint64 `toml:"phys_size"`

	// Kernel holds the addresses of the first and last byte of the kernel
	// image.
	Kernel struct {
		Start uint64 `toml:"start"`
		End   uint64 `toml:"end"`
	} `toml:"kernel"`

	Regions []LayoutRegion `toml:"region"`
}

// LayoutRegion is one entry of the physical memory map.
type LayoutRegion struct {
	Start  uint64 `toml:"start"`
	Length uint64 `toml:"length"`
	Type   string `toml:"type"`
}

var regionTypes = map[string]boot.RegionType{
	"usable":           boot.Usable,
	"reserved":         boot.Reserved,
	"kernel":           boot.Kernel,
	"acpi":             boot.AcpiReclaimable,
	"acpi-reclaimable": boot.AcpiReclaimable,
	"nvs":              boot.Nvs,
	"bad":              boot.BadMemory,
	"bootloader":       boot.Bootloader,
}

// defaultLayout is a 2 MiB machine with a single 1 MiB usable region above
// the kernel image.
func defaultLayout() *Layout {
	l := &Layout{PhysSize: 2 << 20}
	l.Kernel.Start = 0x10000
	l.Kernel.End = 0x7ffff
	l.Regions = []LayoutRegion{
		{Start: 0x0, Length: 0x10000, Type: "bootloader"},
		{Start: 0x10000, Length: 0x70000, Type: "kernel"},
		{Start: 0x80000, Length: 0x80000, Type: "reserved"},
		{Start: 0x100000, Length: 0x100000, Type: "usable"},
	}
	return l
}

// loadLayout reads the layout at path, or returns the default layout if
// path is empty.
func loadLayout(path string) (*Layout, error) {
	if path == "" {
		return defaultLayout(), nil
	}

	var l Layout
	if _, err := toml.DecodeFile(path, &l); err != nil {
		return nil, fmt.Errorf("failed to parse layout %s: %w", path, err)
	}

	if err := l.validate(); err != nil {
		return nil, fmt.Errorf("invalid layout %s: %w", path, err)
	}
	return &l, nil
}

func (l *Layout) validate() error {
	if l.PhysSize%4096 != 0 || l.PhysSize <= reservedLow {
		return fmt.Errorf("phys_size must be a multiple of 4096 larger than %#x", reservedLow)
	}

	if l.Kernel.End < l.Kernel.Start {
		return fmt.Errorf("kernel end %#x is below kernel start %#x", l.Kernel.End, l.Kernel.Start)
	}

	if len(l.Regions) == 0 {
		return fmt.Errorf("no memory regions defined")
	}

	for i, r := range l.Regions {
		typ, ok := regionTypes[strings.ToLower(r.Type)]
		if !ok {
			return fmt.Errorf("region %d: unknown type %q", i, r.Type)
		}

		if r.Start+r.Length > l.PhysSize {
			return fmt.Errorf("region %d: [%#x, %#x) exceeds physical memory", i, r.Start, r.Start+r.Length)
		}

		if typ == boot.Usable && r.Start < reservedLow {
			return fmt.Errorf("region %d: usable memory must start at or above %#x", i, reservedLow)
		}
	}
	return nil
}

// MemoryMap converts the layout regions to the boot memory map.
func (l *Layout) MemoryMap() []boot.MemoryRegion {
	regions := make([]boot.MemoryRegion, 0, len(l.Regions))
	for _, r := range l.Regions {
		regions = append(regions, boot.MemoryRegion{
			Start:  r.Start,
			Length: r.Length,
			Type:   regionTypes[strings.ToLower(r.Type)],
		})
	}
	return regions
}
