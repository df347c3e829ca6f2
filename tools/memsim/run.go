//go:build linux && amd64

package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"hobbyos/kernel/context"
	"hobbyos/kernel/kfmt"
	"hobbyos/kernel/mm"
	"hobbyos/kernel/mm/heap"
	"hobbyos/kernel/mm/memtest"
	"hobbyos/kernel/mm/pmm"
	"hobbyos/kernel/mm/vmm"
)

const (
	// scratchPages follow the heap in the simulated window and hold the
	// memory region exercise and the temporary page.
	scratchPages = 16

	regionFlags = vmm.FlagRW | vmm.FlagNoExecute
)

func init() {
	rootCmd.AddCommand(newRunCmd())
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Boot the memory core and run the frame reuse scenario",
		Long: `The run command initialises the frame allocator from the layout,
maps the kernel heap, switches the allocator to recycling mode and checks
that a freed run of frames is handed out again. It then exercises a memory
region and the context directory and prints the frame accounting.

Example:
  memsim run
  memsim run --config layout.toml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			layout, err := loadLayout(layoutPath)
			if err != nil {
				return err
			}
			return runScenario(cmd.OutOrStdout(), layout)
		},
	}
}

func runScenario(w io.Writer, layout *Layout) error {
	kfmt.SetOutputSink(&kfmt.PrefixWriter{Sink: w, Prefix: []byte("kernel: ")})
	defer kfmt.SetOutputSink(nil)

	scratchStart := heap.HeapStart + mm.PageCount(heap.HeapSize)*mm.PageSize
	machine, err := memtest.New(memtest.Config{
		PhysSize:    uintptr(layout.PhysSize),
		WindowStart: heap.HeapStart,
		WindowSize:  scratchStart + scratchPages*mm.PageSize - heap.HeapStart,
	})
	if err != nil {
		return err
	}
	defer machine.Close()

	info := machine.BootInfo(layout.MemoryMap()...)
	if kerr := pmm.Init(&info, uintptr(layout.Kernel.Start), uintptr(layout.Kernel.End)); kerr != nil {
		return kerr
	}

	prevOps := vmm.SetCPUOps(vmm.CPUOps{
		ActivePDT:     machine.ActivePDT,
		SwitchPDT:     machine.SwitchPDT,
		FlushTLBEntry: machine.FlushTLBEntry,
		FlushTLB:      machine.FlushTLB,
	})
	defer vmm.SetCPUOps(prevOps)

	active := vmm.NewActivePageTable()
	if kerr := heap.Init(&active); kerr != nil {
		return kerr
	}
	pmm.InitNoncore()

	if err := checkFrameReuse(w); err != nil {
		return err
	}

	if err := exerciseRegion(w, scratchStart); err != nil {
		return err
	}

	if err := exerciseContexts(w); err != nil {
		return err
	}

	fmt.Fprintf(w, "frames used: %d, free: %d\n", pmm.UsedFrameCount(), pmm.FreeFrameCount())
	return nil
}

// checkFrameReuse frees a run of frames and checks that the next request of
// the same size is served from the recycled run.
func checkFrameReuse(w io.Writer) error {
	first, kerr := pmm.AllocFrames(3)
	if kerr != nil {
		return kerr
	}
	pmm.FreeFrames(first, 3)

	second, kerr := pmm.AllocFrames(3)
	if kerr != nil {
		return kerr
	}
	defer pmm.FreeFrames(second, 3)

	fmt.Fprintf(w, "frame reuse: first %#x, second %#x\n", first.Address(), second.Address())
	if first != second {
		return errors.New("freed frames were not reused")
	}
	return nil
}

// exerciseRegion grows and shrinks a memory region and checks that the
// original pages keep their frames.
func exerciseRegion(w io.Writer, start uintptr) error {
	mem, kerr := context.NewMemory(start, 2*mm.PageSize, regionFlags, true)
	if kerr != nil {
		return kerr
	}
	defer mem.Unmap()

	before := regionFrames(mem)
	if kerr = mem.Resize(6*mm.PageSize, true); kerr != nil {
		return kerr
	}
	grown := len(regionFrames(mem))
	if kerr = mem.Resize(2*mm.PageSize, false); kerr != nil {
		return kerr
	}
	after := regionFrames(mem)

	fmt.Fprintf(w, "region at %#x: %d pages, grown to %d, shrunk to %d\n", start, len(before), grown, len(after))
	for i := range before {
		if before[i] != after[i] {
			return fmt.Errorf("page %d moved from frame %#x to %#x", i, before[i].Address(), after[i].Address())
		}
	}
	return nil
}

func regionFrames(mem *context.Memory) []mm.Frame {
	active := vmm.NewActivePageTable()
	first, count := mem.Pages()

	frames := make([]mm.Frame, 0, count)
	for page := first; page < first+mm.Page(count); page++ {
		frame, _ := active.TranslatePage(page)
		frames = append(frames, frame)
	}
	return frames
}

func exerciseContexts(w io.Writer) error {
	context.Init()

	list, release := context.ContextsMut()
	defer release()

	worker, kerr := list.Spawn(func() {})
	if kerr != nil {
		return kerr
	}

	fmt.Fprintf(w, "contexts: %d, current %d, spawned %d (%s)\n", list.Len(), context.CurrentID(), worker.ID, worker.Status.String())

	list.Remove(worker.ID).DecRef()
	return nil
}
