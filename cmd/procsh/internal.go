// SPDX-License-Identifier: MPL-2.0

package cmd

import "github.com/spf13/cobra"

// newInternalCommand returns the parent of the hidden subcommands procsh
// runs in its own child processes.
func newInternalCommand(app *App) *cobra.Command {
	internalCmd := &cobra.Command{
		Use:    "internal",
		Short:  "Internal commands (not for direct use)",
		Hidden: true,
	}
	internalCmd.AddCommand(newInternalExecBlockCommand(app))
	return internalCmd
}
