// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/procsh/procsh/internal/launch"
	"github.com/procsh/procsh/internal/plumbing"
	"github.com/procsh/procsh/internal/spec"
)

const (
	// Launched is the state while stages are being started.
	Launched State = iota
	// Running is the state once every stage has been started.
	Running
	// Stopped is the state while every live process is stopped.
	Stopped
	// Ended is the terminal state.
	Ended
)

var (
	// ErrNoInput is returned by Input when no stage reads from the caller.
	ErrNoInput = errors.New("pipeline has no open input")

	// ErrNonzeroReturn is wrapped by CalledProcessError.
	ErrNonzeroReturn = errors.New("pipeline returned nonzero status")
)

type (
	// State is the lifecycle state of a pipeline.
	State int

	// Pipeline is one running instance of a list of connected stages.
	Pipeline struct {
		id         string
		coord      *Coordinator
		specs      []*spec.CommandSpec
		sets       []*plumbing.StreamSet
		handles    []launch.Handle
		group      *launch.Group
		background bool
		negate     bool

		lines    chan string
		abort    chan struct{}
		recv     chan struct{}
		readers  conc.WaitGroup
		done     chan struct{}
		stopOnce sync.Once

		interrupted atomic.Bool
		interruptMu sync.Once

		mu        sync.Mutex
		state     State
		retained  []string
		exhausted bool
		stderr    []strings.Builder
		input     *plumbing.StreamSet
		started   time.Time
		ended     time.Time
		rc        int
	}

	// CalledProcessError reports a pipeline that ended with a nonzero
	// status.
	CalledProcessError struct {
		Returncode int
		Args       [][]string
		Output     string
		Errors     string
	}
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Launched:
		return "launched"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Ended:
		return "ended"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Error implements the error interface.
func (e *CalledProcessError) Error() string {
	cmds := make([]string, len(e.Args))
	for i, a := range e.Args {
		cmds[i] = strings.Join(a, " ")
	}
	return fmt.Sprintf("command %q returned nonzero status %d", strings.Join(cmds, " | "), e.Returncode)
}

// Unwrap returns ErrNonzeroReturn.
func (e *CalledProcessError) Unwrap() error { return ErrNonzeroReturn }

func newPipeline(c *Coordinator, specs []*spec.CommandSpec, sets []*plumbing.StreamSet) *Pipeline {
	p := &Pipeline{
		id:         newID(),
		coord:      c,
		specs:      specs,
		sets:       sets,
		background: spec.Background(specs),
		negate:     spec.Negated(specs),
		lines:      make(chan string, c.lineBuffer),
		abort:      make(chan struct{}),
		recv:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		state:      Launched,
		stderr:     make([]strings.Builder, len(specs)),
		started:    time.Now(),
	}
	for _, ss := range sets {
		if ss.Input != nil {
			p.input = ss
			break
		}
	}
	return p
}

// ID returns the pipeline's unique id.
func (p *Pipeline) ID() string { return p.id }

// Background reports whether the pipeline was launched in the background.
func (p *Pipeline) Background() bool { return p.background }

// Summary renders the pipeline as a command line.
func (p *Pipeline) Summary() string { return spec.Summary(p.specs) }

// PGID returns the process group of the pipeline's processes, or 0 when no
// process was started or processes share the host's group.
func (p *Pipeline) PGID() int { return p.group.PGID() }

// Group returns the process group shared by the pipeline's processes.
func (p *Pipeline) Group() *launch.Group { return p.group }

// Handles returns the stage handles in index order.
func (p *Pipeline) Handles() []launch.Handle { return p.handles }

// HasProcesses reports whether any stage runs as a child process.
func (p *Pipeline) HasProcesses() bool {
	for _, h := range p.handles {
		if _, ok := h.PID(); ok {
			return true
		}
	}
	return false
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	st := p.state
	p.mu.Unlock()
	if st != Running {
		return st
	}
	if p.allLiveStopped() {
		return Stopped
	}
	return Running
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Ended {
		p.state = s
	}
}

// allLiveStopped reports whether at least one stage is stopped and no
// stage is running.
func (p *Pipeline) allLiveStopped() bool {
	stopped := false
	for _, h := range p.handles {
		if _, ended := h.Poll(); ended {
			continue
		}
		s, ok := h.(launch.Stopper)
		if !ok || !s.Stopped() {
			return false
		}
		stopped = true
	}
	return stopped
}

// Ended reports whether every stage has ended and every reader drained.
func (p *Pipeline) Ended() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Done is closed once the pipeline has ended.
func (p *Pipeline) Done() <-chan struct{} { return p.done }

// Returncode returns the pipeline status; ok is false while it runs.
func (p *Pipeline) Returncode() (rc int, ok bool) {
	if !p.Ended() {
		return 0, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rc, true
}

// Wait closes the pipeline's input, drains captured output and blocks until
// the pipeline ends or ctx is done. It may be called any number of times.
func (p *Pipeline) Wait(ctx context.Context) (int, error) {
	p.closeInput()
	for {
		more, err := p.pull(ctx)
		if err != nil {
			return 0, err
		}
		if !more {
			break
		}
	}
	select {
	case <-p.done:
		rc, _ := p.Returncode()
		return rc, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Lines yields captured stdout line by line without line terminators. It
// blocks only while waiting for more output. Lines already delivered are
// retained, so iterating again replays them before continuing with live
// output.
func (p *Pipeline) Lines() iter.Seq[string] {
	return func(yield func(string) bool) {
		for i := 0; ; {
			p.mu.Lock()
			n, exhausted := len(p.retained), p.exhausted
			var line string
			if i < n {
				line = p.retained[i]
			}
			p.mu.Unlock()

			if i < n {
				i++
				if !yield(trimEOL(line)) {
					return
				}
				continue
			}
			if exhausted {
				return
			}
			if _, err := p.pull(context.Background()); err != nil {
				return
			}
		}
	}
}

// CheckedLines yields captured lines and, once the output is exhausted,
// waits for the pipeline and yields a *CalledProcessError if it failed.
func (p *Pipeline) CheckedLines() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for line := range p.Lines() {
			if !yield(line, nil) {
				return
			}
		}
		if err := p.Check(context.Background()); err != nil {
			yield("", err)
		}
	}
}

// Check waits for the pipeline and returns a *CalledProcessError when its
// status is nonzero.
func (p *Pipeline) Check(ctx context.Context) error {
	rc, err := p.Wait(ctx)
	if err != nil {
		return err
	}
	if rc == 0 {
		return nil
	}
	return &CalledProcessError{Returncode: rc, Args: p.Args(), Output: p.Output(), Errors: p.Errors()}
}

// pull moves one line from the live stream into the retained buffer. It
// reports false once the stream is exhausted.
func (p *Pipeline) pull(ctx context.Context) (bool, error) {
	select {
	case p.recv <- struct{}{}:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	defer func() { <-p.recv }()

	p.mu.Lock()
	exhausted := p.exhausted
	p.mu.Unlock()
	if exhausted {
		return false, nil
	}

	select {
	case line, ok := <-p.lines:
		p.mu.Lock()
		defer p.mu.Unlock()
		if !ok {
			p.exhausted = true
			return false, nil
		}
		p.retained = append(p.retained, line)
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Output returns the captured stdout received so far.
func (p *Pipeline) Output() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.Join(p.retained, "")
}

// Errors returns captured stderr of every stage, in index order.
func (p *Pipeline) Errors() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var b strings.Builder
	for i := range p.stderr {
		b.WriteString(p.stderr[i].String())
	}
	return b.String()
}

// Input writes text to the stage reading from the caller.
func (p *Pipeline) Input(text string) error {
	p.mu.Lock()
	ss := p.input
	p.mu.Unlock()
	if ss == nil {
		return ErrNoInput
	}
	if _, err := ss.Input.WriteString(text); err != nil {
		return fmt.Errorf("writing pipeline input: %w", err)
	}
	return nil
}

// CloseInput signals end of input to the stage reading from the caller.
func (p *Pipeline) CloseInput() error {
	if !p.closeInput() {
		return ErrNoInput
	}
	return nil
}

func (p *Pipeline) closeInput() bool {
	p.mu.Lock()
	ss := p.input
	p.input = nil
	p.mu.Unlock()
	if ss == nil {
		return false
	}
	_ = ss.Input.Close()
	return true
}

// PIDs returns the process ids of the stages that run as processes.
func (p *Pipeline) PIDs() []int {
	var pids []int
	for _, h := range p.handles {
		if pid, ok := h.PID(); ok {
			pids = append(pids, pid)
		}
	}
	return pids
}

// Args returns the argv of every stage.
func (p *Pipeline) Args() [][]string {
	out := make([][]string, len(p.specs))
	for i, s := range p.specs {
		out[i] = append([]string(nil), s.Argv...)
	}
	return out
}

// Timestamps returns the start time and, once ended, the end time.
func (p *Pipeline) Timestamps() (start, end time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started, p.ended
}

// Statuses returns the final status of every stage; it is nil until the
// pipeline has ended.
func (p *Pipeline) Statuses() []launch.Status {
	if !p.Ended() {
		return nil
	}
	out := make([]launch.Status, len(p.handles))
	for i, h := range p.handles {
		out[i], _ = h.Poll()
	}
	return out
}

// SignalMessage describes the signal that ended the rightmost signaled
// stage, or returns "".
func (p *Pipeline) SignalMessage() string {
	for i := len(p.handles) - 1; i >= 0; i-- {
		st, ok := p.handles[i].Poll()
		if !ok {
			continue
		}
		if msg := st.SignalMessage(); msg != "" {
			return msg
		}
	}
	return ""
}

// Interrupt asks every stage to stop. Processes get SIGINT, in-process
// stages are cancelled. Stages still alive after the grace period are
// killed and captured streams are closed, so the pipeline always ends.
func (p *Pipeline) Interrupt() {
	p.interruptMu.Do(func() {
		p.interrupted.Store(true)
		p.coord.logger.Debug("interrupting pipeline", "id", p.id)
		p.teardown()
	})
}

// teardown stops every stage and escalates to kill after the grace
// period.
func (p *Pipeline) teardown() {
	p.stopOnce.Do(func() {
		if err := p.group.Signal(syscall.SIGINT); err == nil {
			_ = p.group.Signal(syscall.SIGCONT)
		} else if !errors.Is(err, launch.ErrNoProcessGroup) {
			p.coord.logger.Debug("signal delivery failed", "id", p.id, "err", err)
		}
		for _, h := range p.handles {
			h.Interrupt()
		}

		go func() {
			timer := time.NewTimer(p.coord.grace)
			defer timer.Stop()
			select {
			case <-p.done:
				return
			case <-timer.C:
			}
			p.coord.logger.Debug("killing pipeline after grace period", "id", p.id)
			// Descendants that ignore SIGINT share the group but have no handle.
			if err := p.group.Signal(syscall.SIGKILL); err != nil && !errors.Is(err, launch.ErrNoProcessGroup) {
				p.coord.logger.Debug("signal delivery failed", "id", p.id, "err", err)
			}
			for _, h := range p.handles {
				h.Kill()
			}
			close(p.abort)
			for _, ss := range p.sets {
				ss.ReleaseParent()
			}
		}()
	})
}

// monitor waits for every stage and reader, then records the result.
func (p *Pipeline) monitor() {
	if p.coord.failFast {
		for _, h := range p.handles {
			go func() {
				select {
				case <-h.Done():
				case <-p.done:
					return
				}
				if st, _ := h.Poll(); !st.Success() {
					p.coord.logger.Debug("stage failed, stopping pipeline", "id", p.id, "name", h.Name(), "code", st.Code)
					p.teardown()
				}
			}()
		}
	}

	for _, h := range p.handles {
		<-h.Done()
	}
	p.readers.Wait()
	p.closeInput()

	statuses := make([]launch.Status, len(p.handles))
	for i, h := range p.handles {
		statuses[i], _ = h.Poll()
	}
	rc := returncode(statuses, p.coord.policy, p.negate, p.interrupted.Load())

	p.mu.Lock()
	p.rc = rc
	p.state = Ended
	p.ended = time.Now()
	p.mu.Unlock()
	p.coord.logger.Debug("pipeline ended", "id", p.id, "returncode", rc)
	close(p.done)
}

// returncode combines stage statuses into the pipeline status.
func returncode(statuses []launch.Status, policy ReturnPolicy, negate, interrupted bool) int {
	if interrupted {
		return launch.CodeInterrupted
	}
	rc := statuses[len(statuses)-1].Code
	if policy == ReturnPipefail {
		for i := len(statuses) - 1; i >= 0; i-- {
			if statuses[i].Code != 0 {
				rc = statuses[i].Code
				break
			}
		}
	}
	if negate {
		if rc == 0 {
			return 1
		}
		return 0
	}
	return rc
}

func trimEOL(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}
