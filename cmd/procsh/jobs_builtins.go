// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"

	"github.com/procsh/procsh/internal/alias"
	"github.com/procsh/procsh/internal/jobs"
	"github.com/procsh/procsh/internal/launch"
)

// stoppedCode is the status a foreground job reports when it is stopped.
const stoppedCode = launch.CodeSignalBase + int(syscall.SIGTSTP)

// registerJobBuiltins adds the job-control builtins bound to t. They touch
// the terminal, so they never run on a worker goroutine.
func registerJobBuiltins(r *alias.Registry, t *jobs.Table) {
	r.Register(alias.NewWithStreams("jobs", jobsBuiltin(t), alias.Unthreadable()))
	r.Register(alias.NewWithStreams("fg", fgBuiltin(t), alias.Unthreadable()))
	r.Register(alias.NewWithStreams("bg", bgBuiltin(t), alias.Unthreadable()))
	r.Register(alias.NewWithStreams("disown", disownBuiltin(t), alias.Unthreadable()))
}

func jobsBuiltin(t *jobs.Table) alias.StreamsFunc {
	return func(_ context.Context, _ []string, _ alias.Streams) (alias.Result, error) {
		var out strings.Builder
		for _, e := range t.List() {
			out.WriteString(jobStyle(e.Job.State()).Render(e.String()))
			out.WriteByte('\n')
		}
		return alias.Result{Stdout: out.String()}, nil
	}
}

func fgBuiltin(t *jobs.Table) alias.StreamsFunc {
	return func(ctx context.Context, args []string, s alias.Streams) (alias.Result, error) {
		if len(args) > 1 {
			return usage("fg", "fg [job]"), nil
		}
		j, err := t.Resolve(firstOr(args, "+"))
		if err != nil {
			return failure("fg", err), nil
		}
		fmt.Fprintln(s.Stdout, j.Pipeline().Summary())

		res, err := t.Foreground(ctx, j)
		if err != nil {
			return failure("fg", err), nil
		}
		if res.State == jobs.Stopped {
			return alias.Result{Stderr: "\n" + jobStyle(jobs.Stopped).Render(j.Format("+")) + "\n", Code: stoppedCode}, nil
		}
		return alias.Result{Code: res.Returncode}, nil
	}
}

func bgBuiltin(t *jobs.Table) alias.StreamsFunc {
	return func(_ context.Context, args []string, _ alias.Streams) (alias.Result, error) {
		if len(args) == 0 {
			args = []string{"+"}
		}
		var res alias.Result
		for _, spec := range args {
			j, err := t.Resolve(spec)
			if err == nil {
				err = t.Background(j)
			}
			if err != nil {
				f := failure("bg", err)
				res.Stderr += f.Stderr
				res.Code = f.Code
				continue
			}
			res.Stdout += j.Format("+") + "\n"
		}
		return res, nil
	}
}

func disownBuiltin(t *jobs.Table) alias.StreamsFunc {
	return func(_ context.Context, args []string, _ alias.Streams) (alias.Result, error) {
		ids := make([]int, 0, len(args))
		for _, spec := range args {
			j, err := t.Resolve(spec)
			if err != nil {
				return failure("disown", err), nil
			}
			ids = append(ids, j.ID())
		}
		if err := t.Disown(ids...); err != nil {
			return failure("disown", err), nil
		}
		return alias.Result{}, nil
	}
}

func jobStyle(st jobs.State) lipgloss.Style {
	switch st {
	case jobs.Stopped:
		return jobStoppedStyle
	case jobs.Done:
		return jobDoneStyle
	default:
		return jobRunningStyle
	}
}

func firstOr(args []string, def string) string {
	if len(args) == 0 {
		return def
	}
	return args[0]
}

func failure(name string, err error) alias.Result {
	return alias.Result{Stderr: fmt.Sprintf("%s: %v\n", name, err), Code: 1}
}

func usage(name, synopsis string) alias.Result {
	return alias.Result{Stderr: fmt.Sprintf("%s: usage: %s\n", name, synopsis), Code: 2}
}
