package vmm

import (
	"testing"

	"hobbyos/kernel/mm"
)

func TestSetCPUOps(t *testing.T) {
	var (
		pdt            = uintptr(0x5000)
		switchedTo     uintptr
		flushedEntry   uintptr
		fullFlushCount int
	)

	prev := SetCPUOps(CPUOps{
		ActivePDT:     func() uintptr { return pdt },
		SwitchPDT:     func(addr uintptr) { switchedTo = addr },
		FlushTLBEntry: func(addr uintptr) { flushedEntry = addr },
		FlushTLB:      func() { fullFlushCount++ },
	})
	defer SetCPUOps(prev)

	active := NewActivePageTable()
	if got := active.Address(); got != pdt {
		t.Fatalf("expected active table at 0x%x; got 0x%x", pdt, got)
	}

	active.Flush(mm.PageFromAddress(0x7000))
	if flushedEntry != 0x7000 {
		t.Fatalf("expected TLB entry for 0x7000 to be flushed; got 0x%x", flushedEntry)
	}

	active.FlushAll()
	if fullFlushCount != 1 {
		t.Fatalf("expected one full TLB flush; got %d", fullFlushCount)
	}

	prevTable := active.Switch(InactivePageTableFromAddress(0x9000))
	if switchedTo != 0x9000 {
		t.Fatalf("expected CR3 to be loaded with 0x9000; got 0x%x", switchedTo)
	}

	if got := prevTable.Address(); got != pdt {
		t.Fatalf("expected previous table at 0x%x; got 0x%x", pdt, got)
	}

	restored := SetCPUOps(prev)
	if restored.ActivePDT() != pdt {
		t.Fatal("expected SetCPUOps to return the installed operations")
	}
}
