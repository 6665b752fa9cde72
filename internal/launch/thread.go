// SPDX-License-Identifier: MPL-2.0

package launch

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/sourcegraph/conc/panics"
	"golang.org/x/sync/semaphore"

	"github.com/procsh/procsh/internal/plumbing"
)

type (
	// runFunc is the body of an in-process stage.
	runFunc func(ctx context.Context) (int, error)

	// threadHandle runs an alias on a worker goroutine.
	threadHandle struct {
		state
		cancel context.CancelFunc
	}

	// syncHandle runs an alias on the goroutine that calls RunHere, locked
	// to its OS thread.
	syncHandle struct {
		state
		ctx     context.Context
		cancel  context.CancelFunc
		run     runFunc
		streams *plumbing.StreamSet
		logger  *log.Logger
		once    sync.Once
	}
)

// runInProcess executes run, converting panics into a failed status and
// cancellation into an interrupted one. The stage's child-side streams are
// released before it returns so downstream readers observe EOF.
func runInProcess(ctx context.Context, name string, run runFunc, ss *plumbing.StreamSet) Status {
	defer ss.ReleaseChild()

	var (
		code   int
		runErr error
		pc     panics.Catcher
	)
	pc.Try(func() { code, runErr = run(ctx) })
	if r := pc.Recovered(); r != nil {
		return Status{Code: 1, Err: fmt.Errorf("%s: %w: %w", name, ErrStagePanic, r.AsError())}
	}
	st := Status{Code: code, Err: runErr}
	if ctx.Err() != nil && !st.Success() {
		st.Interrupted = true
	}
	return st
}

func (l *Launcher) startThread(base context.Context, name string, run runFunc, ss *plumbing.StreamSet, sem *semaphore.Weighted) *threadHandle {
	ctx, cancel := context.WithCancel(base)
	h := &threadHandle{state: newState(name), cancel: cancel}

	go func() {
		defer cancel()
		if err := sem.Acquire(ctx, 1); err != nil {
			ss.ReleaseChild()
			h.finish(Status{Code: CodeInterrupted, Interrupted: true, Err: err})
			return
		}
		defer sem.Release(1)

		st := runInProcess(ctx, name, run, ss)
		l.logger.Debug("thread exited", "name", name, "code", st.Code, "err", st.Err)
		h.finish(st)
	}()
	return h
}

func (h *threadHandle) PID() (int, bool) { return 0, false }

func (h *threadHandle) Threaded() bool { return true }

func (h *threadHandle) Signal(sig os.Signal) error { return cancelOnSignal(&h.state, h.cancel, sig) }

func (h *threadHandle) Interrupt() {
	h.markInterrupted()
	h.cancel()
}

func (h *threadHandle) Kill() { h.Interrupt() }

func newSyncHandle(base context.Context, name string, run runFunc, ss *plumbing.StreamSet, logger *log.Logger) *syncHandle {
	ctx, cancel := context.WithCancel(base)
	return &syncHandle{state: newState(name), ctx: ctx, cancel: cancel, run: run, streams: ss, logger: logger}
}

// RunHere executes the stage on the calling goroutine. Only the first call
// does any work.
func (h *syncHandle) RunHere() {
	h.once.Do(func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		defer h.cancel()

		st := runInProcess(h.ctx, h.name, h.run, h.streams)
		h.logger.Debug("synchronous stage exited", "name", h.name, "code", st.Code)
		h.finish(st)
	})
}

func (h *syncHandle) PID() (int, bool) { return 0, false }

func (h *syncHandle) Threaded() bool { return true }

func (h *syncHandle) Signal(sig os.Signal) error { return cancelOnSignal(&h.state, h.cancel, sig) }

func (h *syncHandle) Interrupt() {
	h.markInterrupted()
	h.cancel()
}

func (h *syncHandle) Kill() { h.Interrupt() }

// cancelOnSignal maps terminating signals onto cancellation; other signals
// have no in-process meaning.
func cancelOnSignal(s *state, cancel context.CancelFunc, sig os.Signal) error {
	switch sig {
	case syscall.SIGINT, syscall.SIGTERM, syscall.SIGKILL, syscall.SIGHUP:
		s.markInterrupted()
		cancel()
		return nil
	default:
		return fmt.Errorf("%w: %v", ErrSignalUnsupported, sig)
	}
}
