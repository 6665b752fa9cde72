// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/procsh/procsh/internal/alias"
	"github.com/procsh/procsh/internal/alias/builtin"
)

// newInternalExecBlockCommand runs an exec-block alias in a process of its
// own. The launcher uses it for blocks that must own the terminal: the
// child joins the pipeline's process group, so job control and terminal
// signals reach it like any other program. The environment arrives through
// the process environment and arguments follow "--".
func newInternalExecBlockCommand(app *App) *cobra.Command {
	var name, scriptFile, workdir string
	cmd := &cobra.Command{
		Use:    "exec-block --name NAME --script-file FILE [--workdir DIR] -- [args...]",
		Short:  "Execute an exec-block alias (internal use only)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceErrors = true
			cmd.SilenceUsage = true

			source, err := os.ReadFile(scriptFile)
			if err != nil {
				fmt.Fprintf(app.stderr, "procsh: %s: %v\n", name, err)
				return &ExitError{Code: 1}
			}

			registry := alias.NewRegistry()
			builtin.Register(registry)
			block, err := registry.RegisterBlock(name, string(source))
			if err != nil {
				fmt.Fprintf(app.stderr, "procsh: %v\n", err)
				return &ExitError{Code: 2}
			}

			code, err := block.Run(cmd.Context(), args, alias.Streams{
				Stdin:  app.stdin,
				Stdout: app.stdout,
				Stderr: app.stderr,
				Dir:    workdir,
			})
			if err != nil {
				fmt.Fprintf(app.stderr, "procsh: %v\n", err)
			}
			if code != 0 {
				return &ExitError{Code: code}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "block", "alias name used in messages")
	cmd.Flags().StringVar(&scriptFile, "script-file", "", "path to the block source")
	cmd.Flags().StringVar(&workdir, "workdir", "", "working directory for execution")
	_ = cmd.MarkFlagRequired("script-file")
	return cmd
}
