//go:build linux && amd64

package context

import (
	"fmt"
	"os"
	"testing"

	"hobbyos/kernel/mm"
	"hobbyos/kernel/mm/memtest"
	"hobbyos/kernel/mm/pmm"
	"hobbyos/kernel/mm/vmm"
)

const (
	testWindow     = uintptr(0x300000000000)
	testWindowSize = 128 * mm.PageSize
)

var machine *memtest.Machine

func TestMain(m *testing.M) {
	var err error
	machine, err = memtest.New(memtest.Config{
		PhysSize:    4 << 20,
		WindowStart: testWindow,
		WindowSize:  testWindowSize,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	info := machine.BootInfo()
	if err := pmm.Init(&info, 0, 0); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	pmm.InitNoncore()

	vmm.SetCPUOps(vmm.CPUOps{
		ActivePDT:     machine.ActivePDT,
		SwitchPDT:     machine.SwitchPDT,
		FlushTLBEntry: machine.FlushTLBEntry,
		FlushTLB:      machine.FlushTLB,
	})

	code := m.Run()
	machine.Close()
	os.Exit(code)
}

// windowAddr returns the address of the index-th page of the test window.
func windowAddr(index uintptr) uintptr {
	return testWindow + index*mm.PageSize
}
