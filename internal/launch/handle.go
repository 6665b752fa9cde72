// SPDX-License-Identifier: MPL-2.0

package launch

import (
	"context"
	"errors"
	"os"
	"sync"
)

// ErrSignalUnsupported is returned when a signal cannot be delivered to an
// in-process stage.
var ErrSignalUnsupported = errors.New("signal not supported for in-process stage")

type (
	// Handle is the uniform view of a launched stage.
	Handle interface {
		// Name returns argv[0] of the stage.
		Name() string
		// PID returns the process id; ok is false for in-process stages.
		PID() (pid int, ok bool)
		// Threaded reports whether the stage runs inside the host process.
		Threaded() bool
		// Poll returns the final status without blocking; ok is false while
		// the stage is still running.
		Poll() (st Status, ok bool)
		// Wait blocks until the stage ends or ctx is done.
		Wait(ctx context.Context) (Status, error)
		// Done is closed once the stage has ended.
		Done() <-chan struct{}
		// Signal delivers sig to the stage.
		Signal(sig os.Signal) error
		// Interrupt asks the stage to stop: SIGINT for processes,
		// cancellation for in-process stages.
		Interrupt()
		// Kill forcibly ends the stage.
		Kill()
	}

	// Deferred is a Handle whose work runs on the caller's goroutine. The
	// coordinator calls RunHere after every other stage has been launched.
	Deferred interface {
		Handle
		RunHere()
	}

	// Stopper is implemented by handles whose stage can be stopped by job
	// control signals.
	Stopper interface {
		// Stopped reports whether the stage is currently stopped.
		Stopped() bool
	}

	// state is the shared completion bookkeeping of every handle kind.
	state struct {
		name string

		once   sync.Once
		done   chan struct{}
		mu     sync.Mutex
		status Status

		interrupted bool
	}
)

func newState(name string) state {
	return state{name: name, done: make(chan struct{})}
}

func (s *state) Name() string { return s.name }

func (s *state) Done() <-chan struct{} { return s.done }

func (s *state) Poll() (Status, bool) {
	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.status, true
	default:
		return Status{}, false
	}
}

func (s *state) Wait(ctx context.Context) (Status, error) {
	select {
	case <-s.done:
		st, _ := s.Poll()
		return st, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// finish records the final status once; later calls are ignored.
func (s *state) finish(st Status) {
	s.once.Do(func() {
		s.mu.Lock()
		if s.interrupted && !st.Success() {
			st.Interrupted = true
		}
		s.status = st
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *state) markInterrupted() {
	s.mu.Lock()
	s.interrupted = true
	s.mu.Unlock()
}

// failedHandle is a stage that ended before it started.
type failedHandle struct {
	state
}

func newFailedHandle(name string, st Status) *failedHandle {
	h := &failedHandle{state: newState(name)}
	h.finish(st)
	return h
}

func (h *failedHandle) PID() (int, bool) { return 0, false }

func (h *failedHandle) Threaded() bool { return false }

func (h *failedHandle) Signal(os.Signal) error { return nil }

func (h *failedHandle) Interrupt() {}

func (h *failedHandle) Kill() {}
