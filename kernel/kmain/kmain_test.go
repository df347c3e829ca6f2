package kmain

import (
	"testing"

	"hobbyos/kernel"
	"hobbyos/kernel/boot"
	"hobbyos/kernel/context"
	"hobbyos/kernel/kfmt"
	"hobbyos/kernel/mm/heap"
	"hobbyos/kernel/mm/pmm"
	"hobbyos/kernel/mm/vmm"
)

func TestKmain(t *testing.T) {
	defer func() {
		bootInfoFn = boot.FromMultiboot
		pmmInitFn = pmm.Init
		heapInitFn = heap.Init
		noncoreInitFn = pmm.InitNoncore
		contextInitFn = context.Init
		panicFn = kfmt.Panic
	}()

	prevOps := vmm.SetCPUOps(vmm.CPUOps{ActivePDT: func() uintptr { return 0x1000 }})
	defer vmm.SetCPUOps(prevOps)

	var (
		calls    []string
		panicked interface{}
		errInit  = &kernel.Error{Module: "test", Message: "init failed"}
	)

	bootInfoFn = func(infoPtr, physOffset uintptr) boot.Info {
		calls = append(calls, "boot")
		if infoPtr != 0xb00 || physOffset != 0xffff800000000000 {
			t.Errorf("unexpected boot arguments 0x%x, 0x%x", infoPtr, physOffset)
		}
		return boot.Info{PhysicalMemoryOffset: physOffset}
	}
	pmmInitFn = func(info *boot.Info, kernelStart, kernelEnd uintptr) *kernel.Error {
		calls = append(calls, "pmm")
		if kernelStart != 0x100000 || kernelEnd != 0x1fffff {
			t.Errorf("unexpected kernel range 0x%x - 0x%x", kernelStart, kernelEnd)
		}
		return nil
	}
	heapInitFn = func(active *vmm.ActivePageTable) *kernel.Error {
		calls = append(calls, "heap")
		if active.Address() != 0x1000 {
			t.Errorf("expected heap to be mapped in the active table; got 0x%x", active.Address())
		}
		return nil
	}
	noncoreInitFn = func() { calls = append(calls, "noncore") }
	contextInitFn = func() { calls = append(calls, "context") }
	panicFn = func(e interface{}) { panicked = e }

	t.Run("init order", func(t *testing.T) {
		calls, panicked = nil, nil
		Kmain(0xb00, 0xffff800000000000, 0x100000, 0x1fffff)

		exp := []string{"boot", "pmm", "heap", "noncore", "context"}
		if len(calls) != len(exp) {
			t.Fatalf("expected calls %v; got %v", exp, calls)
		}
		for i := range exp {
			if calls[i] != exp[i] {
				t.Fatalf("expected calls %v; got %v", exp, calls)
			}
		}

		if panicked != errKmainReturned {
			t.Fatalf("expected Kmain to panic with errKmainReturned; got %v", panicked)
		}
	})

	t.Run("heap init failure", func(t *testing.T) {
		calls, panicked = nil, nil
		heapInitFn = func(_ *vmm.ActivePageTable) *kernel.Error { return errInit }
		Kmain(0xb00, 0xffff800000000000, 0x100000, 0x1fffff)

		if panicked != errInit {
			t.Fatalf("expected Kmain to panic with errInit; got %v", panicked)
		}
		if len(calls) != 2 {
			t.Fatalf("expected initialization to stop after the heap; got %v", calls)
		}
	})

	t.Run("pmm init failure", func(t *testing.T) {
		calls, panicked = nil, nil
		pmmInitFn = func(_ *boot.Info, _, _ uintptr) *kernel.Error { return errInit }
		Kmain(0xb00, 0xffff800000000000, 0x100000, 0x1fffff)

		if panicked != errInit || len(calls) != 1 {
			t.Fatalf("expected Kmain to stop after the boot info; got %v, %v", calls, panicked)
		}
	})
}
