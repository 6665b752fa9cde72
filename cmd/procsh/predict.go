// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/procsh/procsh/internal/predict"
	"github.com/procsh/procsh/internal/spec"
)

func newPredictCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "predict <command line>",
		Short: "Show whether each stage would run in-process or as a process",
		Long: `Resolve a command line the way 'run' does and print the threadability
decision for every stage, without running anything.

MayThread stages may run on a worker goroutine; MustProcess stages run
as child processes.`,
		Example: `  procsh predict vim notes.txt
  procsh predict -- 'git log | less'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := newSession(app.cfg, app.logger, sessionOptions{})
			if err != nil {
				return classifyError(err, app.verbose)
			}
			specs, err := sess.parser.ParsePipeline(strings.Join(args, " "))
			if err != nil {
				return classifyError(err, app.verbose)
			}
			printPredictions(app.stdout, sess.predictor, specs)
			return nil
		},
	}
}

func printPredictions(w io.Writer, p *predict.Predictor, specs []*spec.CommandSpec) {
	for _, s := range specs {
		d := p.Predict(s)
		style := processStyle
		if d.Threadable() {
			style = threadStyle
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name(), s.Exec.Kind, style.Render(d.String()))
	}
}
