// Package vmm edits the amd64 four-level page tables through the direct
// physical memory mapping.
package vmm

import "hobbyos/kernel/cpu"

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	activePDTFn     = cpu.ActivePDT
	switchPDTFn     = cpu.SwitchPDT
	flushTLBEntryFn = cpu.FlushTLBEntry
	flushTLBFn      = cpu.FlushTLB
)

// CPUOps groups the privileged operations used by this package.
type CPUOps struct {
	ActivePDT     func() uintptr
	SwitchPDT     func(uintptr)
	FlushTLBEntry func(uintptr)
	FlushTLB      func()
}

// SetCPUOps replaces the privileged operations used by this package and
// returns the previous ones. It allows the page tables to be driven by a
// software MMU.
func SetCPUOps(ops CPUOps) CPUOps {
	prev := CPUOps{
		ActivePDT:     activePDTFn,
		SwitchPDT:     switchPDTFn,
		FlushTLBEntry: flushTLBEntryFn,
		FlushTLB:      flushTLBFn,
	}

	activePDTFn = ops.ActivePDT
	switchPDTFn = ops.SwitchPDT
	flushTLBEntryFn = ops.FlushTLBEntry
	flushTLBFn = ops.FlushTLB
	return prev
}
