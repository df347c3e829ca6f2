// Command redirects builds the table that redirects Go runtime functions to
// their kernel replacements.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	moduleRoot string
)

var rootCmd = &cobra.Command{
	Use:   "redirects",
	Short: "Manage the runtime redirect table of the kernel image",
	Long: `redirects scans the kernel sources for go:redirect-from directives.
Each directive names a runtime function whose calls must reach the annotated
kernel function instead. The resolved pairs are written into the
.goredirectstbl section of the kernel image.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&moduleRoot, "root", "r", ".", "module root containing go.mod and kernel/")
	rootCmd.AddCommand(newCountCmd(), newListCmd(), newPopulateCmd())
}

func newCountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of redirects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			redirects, err := scanModule(moduleRoot)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d", len(redirects))
			return nil
		},
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print each runtime function and its replacement",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			redirects, err := scanModule(moduleRoot)
			if err != nil {
				return err
			}
			for _, r := range redirects {
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", r.src, r.dst)
			}
			return nil
		},
	}
}

func newPopulateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "populate-table IMAGE",
		Short: "Resolve the redirects in IMAGE and write its redirect table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			redirects, err := scanModule(moduleRoot)
			if err != nil {
				return err
			}

			imgFile := args[0]
			if err = elfResolveRedirectSymbols(redirects, imgFile); err != nil {
				return err
			}
			return elfWriteRedirectTable(redirects, imgFile)
		},
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "[redirects] error: %s\n", err.Error())
		os.Exit(1)
	}
}
