package vmm

import (
	"testing"

	"hobbyos/kernel/mm"
)

func TestPageTableEntryFlags(t *testing.T) {
	var (
		pte   pageTableEntry
		flag1 = FlagCopyOnWrite
		flag2 = FlagNoExecute
	)

	if pte.Flags()&(flag1|flag2) != 0 {
		t.Fatalf("expected no flags to be set")
	}

	pte.SetFlags(flag1 | flag2)

	if pte.Flags()&(flag1|flag2) == 0 {
		t.Fatalf("expected at least one flag to be set")
	}

	if !pte.HasFlags(flag1 | flag2) {
		t.Fatalf("expected HasFlags to return true")
	}

	pte.ClearFlags(flag1)

	if pte.Flags()&(flag1|flag2) == 0 {
		t.Fatalf("expected at least one flag to be set")
	}

	if pte.HasFlags(flag1 | flag2) {
		t.Fatalf("expected HasFlags to return false")
	}

	pte.ClearFlags(flag1 | flag2)

	if pte.Flags()&(flag1|flag2) != 0 {
		t.Fatalf("expected no flags to be set")
	}
}

func TestPageTableEntryFrameEncoding(t *testing.T) {
	var (
		pte       pageTableEntry
		physFrame = mm.Frame(123)
	)

	pte.SetFlags(FlagPresent | FlagRW | FlagNoExecute)
	pte.SetFrame(physFrame)
	if got := pte.Frame(); got != physFrame {
		t.Fatalf("expected pte.Frame() to return %v; got %v", physFrame, got)
	}

	if exp, got := FlagPresent|FlagRW|FlagNoExecute, pte.Flags(); got != exp {
		t.Fatalf("expected flags to be preserved as %x; got %x", exp, got)
	}

	pte.SetFrame(mm.Frame(7))
	if got := pte.Frame(); got != mm.Frame(7) {
		t.Fatalf("expected SetFrame to replace the previous frame; got %v", got)
	}
}

func TestTableIndex(t *testing.T) {
	specs := []struct {
		addr uintptr
		exp  [pageLevels]uintptr
	}{
		{0, [pageLevels]uintptr{0, 0, 0, 0}},
		{TempPageAddr, [pageLevels]uintptr{510, 511, 511, 511}},
		{0x0000040000000000, [pageLevels]uintptr{8, 0, 0, 0}},
		{0x0000000000201000, [pageLevels]uintptr{0, 0, 1, 1}},
	}

	for specIndex, spec := range specs {
		for level := uint8(0); level < pageLevels; level++ {
			if got := tableIndex(spec.addr, level); got != spec.exp[level] {
				t.Errorf("[spec %d] expected index %d at level %d; got %d", specIndex, spec.exp[level], level, got)
			}
		}
	}

	if got := PageOffset(0x1234); got != 0x234 {
		t.Errorf("expected page offset 0x234; got %x", got)
	}
}
