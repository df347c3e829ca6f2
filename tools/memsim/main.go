// Command memsim runs the memory and process core on a software MMU inside
// a host process.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	layoutPath string
)

var rootCmd = &cobra.Command{
	Use:   "memsim",
	Short: "Exercise the kernel memory core on a simulated machine",
	Long: `memsim boots the frame allocator, page tables, heap and context
directory of the kernel on a software MMU backed by host memory. The physical
memory map is read from a TOML layout file.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&layoutPath, "config", "c", "", "TOML memory layout (defaults to a 2 MiB machine)")
	rootCmd.AddCommand(newMapCmd())
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	execute()
}
