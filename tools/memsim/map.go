package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"hobbyos/kernel/boot"
)

func newMapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "map",
		Short: "Print the physical memory map described by the layout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			layout, err := loadLayout(layoutPath)
			if err != nil {
				return err
			}
			printMemoryMap(cmd.OutOrStdout(), layout)
			return nil
		},
	}
}

func printMemoryMap(w io.Writer, layout *Layout) {
	info := boot.Info{MemoryMap: layout.MemoryMap()}

	var usable uint64
	fmt.Fprintf(w, "physical memory: %d KiB\n", layout.PhysSize>>10)
	boot.VisitMemRegions(&info, func(region *boot.MemoryRegion) bool {
		fmt.Fprintf(w, "  [%#08x - %#08x] %8d KiB  %s\n", region.Start, region.End(), region.Length>>10, region.Type)
		if region.Type == boot.Usable {
			usable += region.Length
		}
		return true
	})
	fmt.Fprintf(w, "usable memory: %d KiB\n", usable>>10)
	fmt.Fprintf(w, "kernel image: [%#x - %#x]\n", layout.Kernel.Start, layout.Kernel.End)
}
