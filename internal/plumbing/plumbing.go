// SPDX-License-Identifier: MPL-2.0

package plumbing

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/creack/pty"
	"golang.org/x/term"

	"github.com/procsh/procsh/internal/predict"
	"github.com/procsh/procsh/internal/spec"
)

// ErrPlumbing is the sentinel error wrapped by PlumbingError.
var ErrPlumbing = errors.New("stream plumbing failed")

type (
	// StreamSet holds the wired handles of one stage.
	StreamSet struct {
		// Stdin, Stdout and Stderr are the child-side handles.
		Stdin  *os.File
		Stdout *os.File
		Stderr *os.File

		// CaptureStdout and CaptureStderr are read ends of capture pipes.
		CaptureStdout *os.File
		CaptureStderr *os.File
		// Input is the write end feeding a Capture stdin.
		Input *os.File
		// PTY is the master side of a pseudo-terminal allocated for the
		// stage's terminal output.
		PTY *os.File

		mu    sync.Mutex
		child []*os.File
	}

	// Options configures a Plumber.
	Options struct {
		// Stdin, Stdout and Stderr are the host streams inherited by stages;
		// nil means os.Stdin, os.Stdout and os.Stderr.
		Stdin  *os.File
		Stdout *os.File
		Stderr *os.File
		// Pipe allocates an OS pipe; nil means os.Pipe.
		Pipe func() (r, w *os.File, err error)
		// OpenPTY allocates a pseudo-terminal; nil means pty.Open.
		OpenPTY func() (master, slave *os.File, err error)
		// IsTerminal reports whether fd is a terminal; nil means term.IsTerminal.
		IsTerminal func(fd int) bool
		// Logger receives debug output; nil means log.Default().
		Logger *log.Logger
	}

	// Plumber wires stages. It holds no per-pipeline state and is safe for
	// concurrent use.
	Plumber struct {
		stdin, stdout, stderr *os.File

		pipe       func() (*os.File, *os.File, error)
		openPTY    func() (*os.File, *os.File, error)
		isTerminal func(int) bool
		logger     *log.Logger
	}

	// PlumbingError reports an allocation failure for a stage stream.
	PlumbingError struct {
		Index  int
		Stream string
		Err    error
	}

	// handleSet tracks every handle allocated during one Wire call so a
	// failure can release all of them.
	handleSet struct {
		files []*os.File
	}
)

// Error implements the error interface.
func (e *PlumbingError) Error() string {
	return fmt.Sprintf("stage %d %s: %v", e.Index, e.Stream, e.Err)
}

// Unwrap returns both ErrPlumbing and the cause.
func (e *PlumbingError) Unwrap() []error { return []error{ErrPlumbing, e.Err} }

// New creates a Plumber.
func New(opts Options) *Plumber {
	p := &Plumber{
		stdin:      opts.Stdin,
		stdout:     opts.Stdout,
		stderr:     opts.Stderr,
		pipe:       opts.Pipe,
		openPTY:    opts.OpenPTY,
		isTerminal: opts.IsTerminal,
		logger:     opts.Logger,
	}
	if p.stdin == nil {
		p.stdin = os.Stdin
	}
	if p.stdout == nil {
		p.stdout = os.Stdout
	}
	if p.stderr == nil {
		p.stderr = os.Stderr
	}
	if p.pipe == nil {
		p.pipe = os.Pipe
	}
	if p.openPTY == nil {
		p.openPTY = pty.Open
	}
	if p.isTerminal == nil {
		p.isTerminal = term.IsTerminal
	}
	if p.logger == nil {
		p.logger = log.Default()
	}
	return p
}

// Host returns the host streams stages inherit.
func (p *Plumber) Host() (stdin, stdout, stderr *os.File) {
	return p.stdin, p.stdout, p.stderr
}

// Wire allocates the handles for specs, which must already be prepared.
// decisions[i] is the prediction for specs[i]. On error no handle stays open.
func (p *Plumber) Wire(specs []*spec.CommandSpec, decisions []predict.Decision) (_ []*StreamSet, err error) {
	if len(decisions) != len(specs) {
		return nil, fmt.Errorf("%w: %d specs but %d decisions", ErrPlumbing, len(specs), len(decisions))
	}

	var hs handleSet
	defer func() {
		if err != nil {
			hs.closeAll()
		}
	}()

	sets := make([]*StreamSet, len(specs))
	for i := range sets {
		sets[i] = &StreamSet{}
	}

	// junction[i] carries stage i's output into stage i+1.
	type junction struct{ r, w *os.File }
	junctions := make([]junction, len(specs))
	pipeAt := func(i int) (*os.File, error) {
		if junctions[i].w == nil {
			r, w, err := p.pipe()
			if err != nil {
				return nil, err
			}
			hs.add(r, w)
			junctions[i] = junction{r: r, w: w}
		}
		return junctions[i].w, nil
	}

	for i, s := range specs {
		ss := sets[i]
		fail := func(stream string, err error) error {
			return &PlumbingError{Index: i, Stream: stream, Err: err}
		}

		switch s.Stdin.Kind {
		case spec.Inherit:
			ss.Stdin = p.stdin
		case spec.PipePrev:
			ss.Stdin = junctions[i-1].r
			ss.own(ss.Stdin)
		case spec.Capture:
			r, w, err := p.pipe()
			if err != nil {
				return nil, fail("stdin", err)
			}
			hs.add(r, w)
			ss.Stdin, ss.Input = r, w
			ss.own(r)
		default:
			f, err := openEndpoint(s, s.Stdin, &hs)
			if err != nil {
				return nil, fail("stdin", err)
			}
			ss.Stdin = f
			ss.own(f)
		}

		var tty *os.File
		if decisions[i].Threadable() && s.Stdout.Kind == spec.Inherit && p.isTerminal(int(p.stdout.Fd())) {
			master, slave, err := p.openPTY()
			if err != nil {
				return nil, fail("pty", err)
			}
			hs.add(master, slave)
			ss.PTY, tty = master, slave
			ss.own(slave)
			p.logger.Debug("allocated pty", "stage", i, "name", slave.Name())
		}

		next := func() (*os.File, error) { return pipeAt(i) }
		out, err := p.output(s.Stdout, s, ss, &hs, tty, p.stdout, next, true)
		if err != nil {
			return nil, fail("stdout", err)
		}
		errf, err := p.output(s.Stderr, s, ss, &hs, tty, p.stderr, next, false)
		if err != nil {
			return nil, fail("stderr", err)
		}
		// Merges resolve after both sides are known.
		if s.Stdout.Kind == spec.ToStderr {
			out = errf
		}
		if s.Stderr.Kind == spec.ToStdout {
			errf = out
		}
		ss.Stdout, ss.Stderr = out, errf
	}

	return sets, nil
}

// output resolves a stdout or stderr endpoint. Merge endpoints return nil
// and are filled in by the caller.
func (p *Plumber) output(e spec.Endpoint, s *spec.CommandSpec, ss *StreamSet, hs *handleSet,
	tty, host *os.File, next func() (*os.File, error), stdout bool,
) (*os.File, error) {
	switch e.Kind {
	case spec.Inherit:
		if tty != nil {
			return tty, nil
		}
		return host, nil
	case spec.PipeNext:
		w, err := next()
		if err != nil {
			return nil, err
		}
		ss.own(w)
		return w, nil
	case spec.Capture:
		r, w, err := p.pipe()
		if err != nil {
			return nil, err
		}
		hs.add(r, w)
		if stdout {
			ss.CaptureStdout = r
		} else {
			ss.CaptureStderr = r
		}
		ss.own(w)
		return w, nil
	case spec.ToStdout, spec.ToStderr:
		return nil, nil
	default:
		f, err := openEndpoint(s, e, hs)
		if err != nil {
			return nil, err
		}
		ss.own(f)
		return f, nil
	}
}

func openEndpoint(s *spec.CommandSpec, e spec.Endpoint, hs *handleSet) (*os.File, error) {
	path := os.DevNull
	flags := os.O_RDWR
	if e.Kind == spec.File {
		path = e.Path
		if !filepath.IsAbs(path) && s.Dir != "" {
			path = filepath.Join(s.Dir, path)
		}
		flags = e.Mode.Flags()
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, err
	}
	hs.add(f)
	return f, nil
}

// own records f as a child-side handle released by ReleaseChild.
func (ss *StreamSet) own(f *os.File) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if !slices.Contains(ss.child, f) {
		ss.child = append(ss.child, f)
	}
}

// ReleaseChild closes the child-side handles this set allocated. Host
// streams are never closed. It is safe to call more than once.
func (ss *StreamSet) ReleaseChild() {
	ss.mu.Lock()
	files := ss.child
	ss.child = nil
	ss.mu.Unlock()

	for _, f := range files {
		_ = f.Close()
	}
}

// ReleaseParent closes the parent-side handles. The pipeline calls it on
// construction failure; during normal runs each reader closes its own end.
func (ss *StreamSet) ReleaseParent() {
	for _, f := range []*os.File{ss.CaptureStdout, ss.CaptureStderr, ss.Input, ss.PTY} {
		if f != nil {
			_ = f.Close()
		}
	}
}

// ReleaseAll closes every handle of every set.
func ReleaseAll(sets []*StreamSet) {
	for _, ss := range sets {
		if ss == nil {
			continue
		}
		ss.ReleaseChild()
		ss.ReleaseParent()
	}
}

func (hs *handleSet) add(files ...*os.File) {
	hs.files = append(hs.files, files...)
}

func (hs *handleSet) closeAll() {
	for _, f := range hs.files {
		_ = f.Close()
	}
	hs.files = nil
}
