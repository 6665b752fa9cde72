// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/procsh/procsh/internal/jobs"
	"github.com/procsh/procsh/internal/pipeline"
)

// syntaxErrorCode is the status of a line that cannot be parsed.
const syntaxErrorCode = 2

type (
	shellFlags struct {
		pipefail bool
		envFiles []string
	}

	// shell is a read-eval loop over command lines with job control.
	shell struct {
		sess        *session
		table       *jobs.Table
		stdout      io.Writer
		stderr      io.Writer
		interactive bool
		verbose     bool

		status  int
		current atomic.Pointer[pipeline.Pipeline]
	}
)

func newShellCommand(app *App) *cobra.Command {
	var flags shellFlags
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Read command lines from stdin and run them with job control",
		Long: `Read command lines from standard input, one per line, and run them.

A trailing '&' runs a pipeline in the background. The builtins jobs, fg,
bg and disown manage background and stopped jobs; exit [n] leaves the
shell. There is no line editing; pipe a script in or type at the prompt.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runShell(cmd.Context(), app, flags)
		},
	}
	cmd.Flags().BoolVar(&flags.pipefail, "pipefail", false, "report the rightmost failing stage's status")
	cmd.Flags().StringArrayVar(&flags.envFiles, "env-file", nil, "dotenv file to add to the environment (repeatable)")
	return cmd
}

func runShell(ctx context.Context, app *App, flags shellFlags) error {
	var term jobs.Terminal
	tty, ttyFile := controllingTerminal(app.stdin)
	if tty != nil {
		term = tty
	}

	table := jobs.New(jobs.Options{Terminal: term, Logger: app.logger})
	defer table.Close()

	sess, err := newSession(app.cfg, app.logger, sessionOptions{
		Pipefail:   flags.pipefail,
		EnvFiles:   flags.envFiles,
		Stdin:      app.stdin,
		Stdout:     app.stdout,
		Stderr:     app.stderr,
		TTY:        ttyFile,
		TermOutput: app.stdout,
		Jobs:       table,
	})
	if err != nil {
		return classifyError(err, app.verbose)
	}

	sh := &shell{
		sess:        sess,
		table:       table,
		stdout:      app.stdout,
		stderr:      app.stderr,
		interactive: ttyFile != nil,
		verbose:     app.verbose,
	}
	stop := sh.forwardSignals()
	defer stop()
	defer table.HangupAll()

	if code := sh.loop(ctx, app.stdin); code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}

// forwardSignals interrupts the foreground pipeline on SIGINT. Job-control
// stop signals aimed at the shell itself are swallowed.
func (sh *shell) forwardSignals() func() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGQUIT, syscall.SIGTSTP)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-sigs:
				if sig != os.Interrupt {
					continue
				}
				if p := sh.current.Load(); p != nil {
					p.Interrupt()
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

// loop evaluates lines until end of input or exit, returning the exit
// status.
func (sh *shell) loop(ctx context.Context, in io.Reader) int {
	scanner := bufio.NewScanner(in)
	for {
		if ctx.Err() != nil {
			return sh.status
		}
		sh.prompt()
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if code, ok := exitRequest(line); ok {
			if !code.set {
				return sh.status
			}
			return code.value
		}
		if line != "" {
			sh.eval(ctx, line)
		}
		sh.reportDone()
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(sh.stderr, "%s %v\n", ErrorStyle.Render("procsh:"), err)
		return 1
	}
	return sh.status
}

func (sh *shell) prompt() {
	if sh.interactive {
		fmt.Fprint(sh.stderr, TitleStyle.Render("procsh")+"$ ")
	}
}

// eval runs every statement of line.
func (sh *shell) eval(ctx context.Context, line string) {
	statements, err := sh.sess.parser.Parse(line)
	if err != nil {
		renderServiceError(sh.stderr, sh.brief(err))
		sh.status = syntaxErrorCode
		return
	}
	for _, specs := range statements {
		p, err := sh.sess.coordinator.Run(ctx, specs)
		if err != nil {
			renderServiceError(sh.stderr, sh.brief(err))
			sh.status = 1
			continue
		}
		sh.status = sh.attach(ctx, p)
	}
}

// attach registers p with the job table and, for a foreground pipeline,
// waits for it to stop or end.
func (sh *shell) attach(ctx context.Context, p *pipeline.Pipeline) int {
	if !p.Background() {
		sh.current.Store(p)
		defer sh.current.Store(nil)
	}
	j, res, err := sh.table.Attach(ctx, p)
	if err != nil {
		renderServiceError(sh.stderr, sh.brief(err))
		return 1
	}
	if p.Background() {
		fmt.Fprintf(sh.stderr, "[%d] %s\n", j.ID(), joinPIDs(p.PIDs()))
		return 0
	}
	reportStatuses(sh.stderr, p)
	if res.State == jobs.Stopped {
		fmt.Fprintf(sh.stderr, "\n%s\n", jobStyle(jobs.Stopped).Render(j.Format("+")))
		return stoppedCode
	}
	return res.Returncode
}

// reportDone prints and forgets background jobs that have ended.
func (sh *shell) reportDone() {
	for _, j := range sh.table.ClearDone() {
		fmt.Fprintln(sh.stderr, jobStyle(jobs.Done).Render(j.Format(" ")))
		reportStatuses(sh.stderr, j.Pipeline())
	}
}

// brief renders err without the catalogue entry unless verbose.
func (sh *shell) brief(err error) *ServiceError {
	svcErr := classifyError(err, sh.verbose)
	if !sh.verbose {
		svcErr.IssueID = 0
	}
	return svcErr
}

type exitCode struct {
	value int
	set   bool
}

// exitRequest recognises "exit" and "exit n".
func exitRequest(line string) (exitCode, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0] != "exit" || len(fields) > 2 {
		return exitCode{}, false
	}
	if len(fields) == 1 {
		return exitCode{}, true
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil {
		return exitCode{}, false
	}
	return exitCode{value: n & 0xff, set: true}, true
}

func joinPIDs(pids []int) string {
	parts := make([]string, len(pids))
	for i, pid := range pids {
		parts[i] = strconv.Itoa(pid)
	}
	return strings.Join(parts, " ")
}
