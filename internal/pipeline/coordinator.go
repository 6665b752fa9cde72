// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/procsh/procsh/internal/launch"
	"github.com/procsh/procsh/internal/plumbing"
	"github.com/procsh/procsh/internal/predict"
	"github.com/procsh/procsh/internal/spec"
)

// Coordinator turns command specs into running pipelines. It is safe for
// concurrent use.
type Coordinator struct {
	predictor *predict.Predictor
	plumber   *plumbing.Plumber
	launcher  *launch.Launcher

	encoding    encoding.Encoding
	lineBuffer  int
	policy      ReturnPolicy
	failFast    bool
	grace       time.Duration
	sharedGroup bool
	termOutput  io.Writer
	tty         *os.File
	logger      *log.Logger
}

// New returns a Coordinator configured by opts.
func New(opts Options) (*Coordinator, error) {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Predictor == nil {
		opts.Predictor = predict.New(predict.Options{Logger: opts.Logger})
	}
	if opts.Plumber == nil {
		opts.Plumber = plumbing.New(plumbing.Options{Logger: opts.Logger})
	}
	if opts.Launcher == nil {
		opts.Launcher = launch.New(launch.Options{Logger: opts.Logger})
	}
	if opts.Encoding == "" {
		opts.Encoding = DefaultEncoding
	}
	if opts.LineBuffer <= 0 {
		opts.LineBuffer = DefaultLineBuffer
	}
	if opts.ReturnPolicy == "" {
		opts.ReturnPolicy = ReturnLast
	}
	if opts.InterruptGrace <= 0 {
		opts.InterruptGrace = DefaultInterruptGrace
	}
	if opts.TermOutput == nil {
		opts.TermOutput = os.Stdout
	}

	if err := opts.ReturnPolicy.Validate(); err != nil {
		return nil, err
	}
	enc, err := htmlindex.Get(opts.Encoding)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, opts.Encoding)
	}

	return &Coordinator{
		predictor:   opts.Predictor,
		plumber:     opts.Plumber,
		launcher:    opts.Launcher,
		encoding:    enc,
		lineBuffer:  opts.LineBuffer,
		policy:      opts.ReturnPolicy,
		failFast:    opts.FailFast,
		grace:       opts.InterruptGrace,
		sharedGroup: opts.SharedGroup,
		termOutput:  opts.TermOutput,
		tty:         opts.ControllingTTY,
		logger:      opts.Logger,
	}, nil
}

// Predictor returns the predictor used for launches.
func (c *Coordinator) Predictor() *predict.Predictor { return c.predictor }

// Run validates specs, wires and launches every stage, and returns the
// running pipeline. Errors are returned only for invalid specs and stream
// allocation failures, in which case nothing has been started. Stages that
// fail to start surface through the pipeline's status instead.
//
// Stages that must run on the calling goroutine run before Run returns,
// unless the pipeline is in the background.
func (c *Coordinator) Run(ctx context.Context, specs []*spec.CommandSpec) (*Pipeline, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prepared, err := spec.Prepare(specs)
	if err != nil {
		return nil, err
	}

	decisions := make([]predict.Decision, len(prepared))
	for i, s := range prepared {
		decisions[i] = c.predictor.Predict(s)
	}

	sets, err := c.plumber.Wire(prepared, decisions)
	if err != nil {
		return nil, err
	}

	p := newPipeline(c, prepared, sets)
	p.group = launch.NewGroup(!c.sharedGroup)
	if c.tty != nil && !c.sharedGroup && !p.background {
		p.group.Foreground(int(c.tty.Fd()))
	}
	c.logger.Debug("launching pipeline", "id", p.id, "stages", len(prepared), "background", p.background)

	var deferred []launch.Deferred
	for i, s := range prepared {
		h := c.launcher.Launch(ctx, s, sets[i], decisions[i], p.group)
		p.handles = append(p.handles, h)
		if d, ok := h.(launch.Deferred); ok {
			deferred = append(deferred, d)
		}
		pid, _ := h.PID()
		c.logger.Debug("stage launched", "id", p.id, "index", i, "name", s.Name(), "kind", s.Exec.Kind, "pid", pid, "threaded", h.Threaded())
	}
	p.group.Seal()

	p.startReaders()
	p.setState(Running)
	go p.monitor()

	c.runDeferred(p, deferred)
	return p, nil
}

// runDeferred runs must-process aliases. The last one owns the calling
// goroutine; any earlier ones run concurrently so that pipes between them
// cannot deadlock.
func (c *Coordinator) runDeferred(p *Pipeline, deferred []launch.Deferred) {
	if len(deferred) == 0 {
		return
	}
	if p.background {
		c.logger.Warn("running terminal-bound alias in a background pipeline", "id", p.id, "name", deferred[0].Name())
		for _, d := range deferred {
			go d.RunHere()
		}
		return
	}
	last := len(deferred) - 1
	for _, d := range deferred[:last] {
		go d.RunHere()
	}

	// Nobody consumes captured output while the caller is busy, so keep
	// the line channel moving until the stage returns.
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go func() {
		for {
			if more, err := p.pull(ctx); err != nil || !more {
				return
			}
		}
	}()
	deferred[last].RunHere()
}

func newID() string { return uuid.NewString() }
