// Package kmain brings up the memory and process core in the order each
// subsystem depends on.
package kmain

import (
	"hobbyos/kernel"
	"hobbyos/kernel/boot"
	"hobbyos/kernel/context"
	_ "hobbyos/kernel/goruntime" // runtime memory hooks
	"hobbyos/kernel/kfmt"
	"hobbyos/kernel/mm/heap"
	"hobbyos/kernel/mm/pmm"
	"hobbyos/kernel/mm/vmm"
)

var (
	bootInfoFn    = boot.FromMultiboot
	pmmInitFn     = pmm.Init
	heapInitFn    = heap.Init
	noncoreInitFn = pmm.InitNoncore
	contextInitFn = context.Init
	panicFn       = kfmt.Panic

	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
)

// Kmain is the only Go symbol that is visible (exported) from the rt0 initialization
// code. This function is invoked by the rt0 assembly code after setting up the GDT
// and setting up a a minimal g0 struct that allows Go code using the 4K stack
// allocated by the assembly code.
//
// The rt0 code passes the address of the multiboot info payload provided by the
// bootloader, the offset at which all physical memory is mapped and the
// physical addresses of the first and last byte of the kernel image.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(multibootInfoPtr, physOffset, kernelStart, kernelEnd uintptr) {
	info := bootInfoFn(multibootInfoPtr, physOffset)

	var err *kernel.Error
	if err = pmmInitFn(&info, kernelStart, kernelEnd); err != nil {
		panicFn(err)
		return
	}

	active := vmm.NewActivePageTable()
	if err = heapInitFn(&active); err != nil {
		panicFn(err)
		return
	}

	// No early device state references freed frames past this point.
	noncoreInitFn()
	contextInitFn()

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating kfmt.Panic as dead-code and eliminating it.
	panicFn(errKmainReturned)
}
