// SPDX-License-Identifier: MPL-2.0

package launch

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/semaphore"

	"github.com/procsh/procsh/internal/alias"
	"github.com/procsh/procsh/internal/plumbing"
	"github.com/procsh/procsh/internal/predict"
	"github.com/procsh/procsh/internal/spec"
)

// DefaultMaxThreads bounds concurrently running in-process stages.
const DefaultMaxThreads = 8

type (
	// Options configures a Launcher.
	Options struct {
		// MaxThreads bounds concurrently running in-process stages; zero
		// means DefaultMaxThreads.
		MaxThreads int64
		// ReExec is the executable that runs must-process exec blocks in a
		// child process. Empty runs them synchronously instead.
		ReExec string
		// Logger receives debug output; nil means log.Default().
		Logger *log.Logger
	}

	// Launcher starts stages. It is safe for concurrent use; the thread
	// bound is shared by every pipeline it launches.
	Launcher struct {
		sem    *semaphore.Weighted
		reexec string
		logger *log.Logger
	}
)

// New returns a Launcher configured by opts.
func New(opts Options) *Launcher {
	if opts.MaxThreads <= 0 {
		opts.MaxThreads = DefaultMaxThreads
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Launcher{
		sem:    semaphore.NewWeighted(opts.MaxThreads),
		reexec: opts.ReExec,
		logger: opts.Logger,
	}
}

// Launch starts s with the streams in ss. Processes join g. ctx bounds the
// life of in-process stages only through its values; cancelling it does not
// stop them, Interrupt does.
func (l *Launcher) Launch(ctx context.Context, s *spec.CommandSpec, ss *plumbing.StreamSet, d predict.Decision, g *Group) Handle {
	name := s.Name()
	base := context.WithoutCancel(ctx)
	l.logger.Debug("launching stage", "index", s.Index, "name", name, "kind", s.Exec.Kind, "decision", d)

	switch s.Exec.Kind {
	case spec.CallableAlias:
		c := s.Exec.Callable
		run := func(ctx context.Context) (int, error) {
			return c.Invoke(ctx, s.Argv[1:], streamsFor(s, ss))
		}
		if d.Threadable() {
			return l.startThread(base, name, run, ss, l.sem)
		}
		return newSyncHandle(base, name, run, ss, l.logger)

	case spec.ExecBlockAlias:
		b := s.Exec.Block
		if !d.Threadable() && l.reexec != "" {
			argv, cleanup, err := reexecArgv(l.reexec, b, s.Argv[1:], s.Dir)
			if err != nil {
				ss.ReleaseChild()
				return newFailedHandle(name, Status{Code: 1, Err: &LaunchError{Name: name, Path: l.reexec, Err: err}})
			}
			return l.startProcess(name, l.command(l.reexec, argv, s.EnvSlice(), s.Dir, ss), ss, g, cleanup)
		}
		run := func(ctx context.Context) (int, error) {
			return b.Run(ctx, s.Argv[1:], streamsFor(s, ss))
		}
		if d.Threadable() {
			return l.startThread(base, name, run, ss, l.sem)
		}
		return newSyncHandle(base, name, run, ss, l.logger)

	case spec.ExternalBinary:
		return l.startProcess(name, l.command(s.Exec.Path, s.Argv, s.EnvSlice(), s.Dir, ss), ss, g, nil)

	default:
		ss.ReleaseChild()
		return newFailedHandle(name, Status{
			Code: CodeNotExecutable,
			Err:  &LaunchError{Name: name, Err: fmt.Errorf("unknown executable kind %v", s.Exec.Kind)},
		})
	}
}

// streamsFor adapts a stage's wired files to the alias calling convention.
func streamsFor(s *spec.CommandSpec, ss *plumbing.StreamSet) alias.Streams {
	return alias.Streams{
		Stdin:  reader(ss.Stdin),
		Stdout: writer(ss.Stdout),
		Stderr: writer(ss.Stderr),
		Dir:    s.Dir,
		Env:    s.EnvSlice(),
	}
}

func reader(f *os.File) io.Reader {
	if f == nil {
		return nil
	}
	return f
}

func writer(f *os.File) io.Writer {
	if f == nil {
		return nil
	}
	return f
}
