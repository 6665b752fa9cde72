// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/procsh/procsh/internal/jobs"
	"github.com/procsh/procsh/internal/launch"
	"github.com/procsh/procsh/internal/pipeline"
	"github.com/procsh/procsh/internal/spec"
)

type runFlags struct {
	capture       bool
	captureStderr bool
	pipefail      bool
	envFiles      []string
}

func newRunCommand(app *App) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run [flags] -- <command line>",
		Short: "Run a command line and exit with its status",
		Long: `Run a command line made of pipelines separated by ';' or newlines.

Each stage is an external program or an alias. Captured output is printed
line by line as the last stage produces it. The exit status is that of the
last pipeline.`,
		Example: `  procsh run -- 'seq 5 | tr 0-9 a-j'
  procsh run --capture --pipefail -- 'false | cat'
  procsh run --env-file .env -- 'env | sort'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLine(cmd.Context(), app, flags, strings.Join(args, " "))
		},
	}
	cmd.Flags().BoolVar(&flags.capture, "capture", false, "capture stdout of the last stage and print it line by line")
	cmd.Flags().BoolVar(&flags.captureStderr, "capture-stderr", false, "also capture stderr of the last stage (implies --capture)")
	cmd.Flags().BoolVar(&flags.pipefail, "pipefail", false, "report the rightmost failing stage's status")
	cmd.Flags().StringArrayVar(&flags.envFiles, "env-file", nil, "dotenv file to add to the environment (repeatable)")
	return cmd
}

func (f runFlags) captureMode() spec.CaptureMode {
	switch {
	case f.captureStderr:
		return spec.CapturedObject
	case f.capture:
		return spec.CapturedStdout
	default:
		return spec.NotCaptured
	}
}

func runLine(ctx context.Context, app *App, flags runFlags, line string) error {
	opts := sessionOptions{
		Capture:    flags.captureMode(),
		Pipefail:   flags.pipefail,
		EnvFiles:   flags.envFiles,
		Stdin:      app.stdin,
		Stdout:     app.stdout,
		Stderr:     app.stderr,
		TermOutput: app.stdout,
	}
	if tty, f := controllingTerminal(app.stdin); tty != nil {
		table := jobs.New(jobs.Options{Terminal: tty, Logger: app.logger})
		defer table.Close()
		opts.TTY, opts.Foreground = f, table
	}
	sess, err := newSession(app.cfg, app.logger, opts)
	if err != nil {
		return classifyError(err, app.verbose)
	}

	rc, err := sess.execute(ctx, line, app.stdout, app.stderr)
	if err != nil {
		return classifyError(err, app.verbose)
	}
	if rc != 0 {
		return &ExitError{Code: rc}
	}
	return nil
}

// execute runs every statement of line in order and returns the status of
// the last foreground one. Background pipelines are waited for before it
// returns. SIGINT and SIGTERM interrupt the running foreground pipeline.
func (s *session) execute(ctx context.Context, line string, stdout, stderr io.Writer) (int, error) {
	statements, err := s.parser.Parse(line)
	if err != nil {
		return 0, err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	var (
		rc         int
		background []*pipeline.Pipeline
	)
	for _, specs := range statements {
		p, err := s.coordinator.Run(ctx, specs)
		if err != nil {
			return 0, err
		}
		if p.Background() {
			background = append(background, p)
			continue
		}
		rc, err = s.waitForeground(ctx, p, sigs, stdout, stderr)
		if err != nil {
			return 0, err
		}
	}
	for _, p := range background {
		if _, err := p.Wait(ctx); err != nil {
			return 0, err
		}
		reportStatuses(stderr, p)
	}
	return rc, nil
}

// waitForeground prints captured output as it arrives and waits for p,
// interrupting it on the first signal from sigs.
func (s *session) waitForeground(ctx context.Context, p *pipeline.Pipeline, sigs <-chan os.Signal, stdout, stderr io.Writer) (int, error) {
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case sig := <-sigs:
			s.logger.Debug("interrupting foreground pipeline", "signal", sig, "id", p.ID())
			p.Interrupt()
		case <-stop:
		}
	}()
	defer func() {
		close(stop)
		wg.Wait()
	}()

	var (
		rc  int
		err error
	)
	if s.foreground != nil {
		rc, err = s.waitTerminal(ctx, p, stdout, stderr)
	} else {
		for line := range p.Lines() {
			fmt.Fprintln(stdout, line)
		}
		rc, err = p.Wait(ctx)
	}
	if err != nil {
		return 0, err
	}
	if errs := p.Errors(); errs != "" {
		fmt.Fprint(stderr, errs)
	}
	reportStatuses(stderr, p)
	return rc, nil
}

// waitTerminal waits for a pipeline that owns the terminal and takes the
// terminal back once it stops or ends. There is no job control to resume a
// stopped pipeline later, so it is hung up and reported with the stopped
// status.
func (s *session) waitTerminal(ctx context.Context, p *pipeline.Pipeline, stdout, stderr io.Writer) (int, error) {
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for line := range p.Lines() {
			fmt.Fprintln(stdout, line)
		}
	}()

	j, res, err := s.foreground.Attach(ctx, p)
	if err != nil {
		return 0, err
	}
	rc := res.Returncode
	if res.State == jobs.Stopped {
		fmt.Fprintf(stderr, "\n%s\n", jobStyle(jobs.Stopped).Render(j.Format("+")))
		s.foreground.HangupAll()
		if _, err := p.Wait(ctx); err != nil {
			return 0, err
		}
		rc = stoppedCode
	}
	<-printed
	return rc, nil
}

// reportStatuses prints launch failures and the terminating signal of p in
// the shell's customary form.
func reportStatuses(w io.Writer, p *pipeline.Pipeline) {
	for _, st := range p.Statuses() {
		var le *launch.LaunchError
		if errors.As(st.Err, &le) {
			fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("procsh:"), le.Error())
		}
	}
	if msg := p.SignalMessage(); msg != "" {
		fmt.Fprintln(w, WarningStyle.Render(msg))
	}
}
