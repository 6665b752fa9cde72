// SPDX-License-Identifier: MPL-2.0

package jobs

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"

	"github.com/procsh/procsh/internal/launch"
	"github.com/procsh/procsh/internal/pipeline"
)

// DefaultPollInterval is how often a foreground job is checked for a stop
// when no SIGCHLD arrives.
const DefaultPollInterval = 100 * time.Millisecond

type (
	// Options configures a Table.
	Options struct {
		// Terminal is handed to foreground jobs; nil disables terminal
		// handoff.
		Terminal Terminal
		// ShellPGID is the group that owns the terminal between jobs; zero
		// means the calling process's group.
		ShellPGID int
		// PollInterval bounds stop detection latency; zero means
		// DefaultPollInterval.
		PollInterval time.Duration
		// Logger receives debug output; nil means log.Default().
		Logger *log.Logger
	}

	// Table is the set of active jobs. It is safe for concurrent use.
	Table struct {
		term      Terminal
		shellPGID int
		poll      time.Duration
		logger    *log.Logger

		sigchld chan os.Signal

		mu    sync.Mutex
		jobs  map[int]*Job
		order []int // most recently used first
	}

	// Result is how a foreground wait ended.
	Result struct {
		// State is Done or Stopped.
		State State
		// Returncode is the pipeline status once State is Done.
		Returncode int
	}
)

// New returns an empty Table. Close releases its signal subscription.
func New(opts Options) *Table {
	if opts.ShellPGID == 0 {
		opts.ShellPGID = unix.Getpgrp()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	t := &Table{
		term:      opts.Terminal,
		shellPGID: opts.ShellPGID,
		poll:      opts.PollInterval,
		logger:    opts.Logger,
		sigchld:   make(chan os.Signal, 1),
		jobs:      make(map[int]*Job),
	}
	signal.Notify(t.sigchld, syscall.SIGCHLD)
	return t
}

// Close stops listening for SIGCHLD.
func (t *Table) Close() {
	signal.Stop(t.sigchld)
}

// Add registers p under the lowest free job number and makes it the
// current job.
func (t *Table) Add(p *pipeline.Pipeline) *Job {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := 1
	for t.jobs[id] != nil {
		id++
	}
	j := &Job{id: id, pipeline: p, foreground: !p.Background(), last: Running}
	t.jobs[id] = j
	t.order = slices.Insert(t.order, 0, id)
	t.logger.Debug("job added", "job", id, "pipeline", p.ID(), "background", p.Background())
	return j
}

// Get returns the job numbered id.
func (t *Table) Get(id int) (*Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[id]
	if !ok {
		return nil, &JobError{ID: id, Op: "lookup", Err: ErrNoSuchJob}
	}
	return j, nil
}

// Resolve looks a job up by specifier: "" "+" "%+" "%%" name the current
// job, "-" "%-" the previous one, and "n" or "%n" job number n.
func (t *Table) Resolve(spec string) (*Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.order) == 0 {
		return nil, ErrNoJobs
	}
	s := spec
	if s != "%" {
		s = strings.TrimPrefix(s, "%")
	}
	switch s {
	case "", "+", "%":
		return t.jobs[t.order[0]], nil
	case "-":
		if len(t.order) < 2 {
			return nil, &JobError{Op: "lookup " + spec, Err: ErrNoSuchJob}
		}
		return t.jobs[t.order[1]], nil
	}
	id, err := strconv.Atoi(s)
	if err != nil {
		return nil, &JobError{Op: "lookup " + spec, Err: ErrNoSuchJob}
	}
	j, ok := t.jobs[id]
	if !ok {
		return nil, &JobError{ID: id, Op: "lookup", Err: ErrNoSuchJob}
	}
	return j, nil
}

// List returns every job, most recently used first, with its position
// marker ("+", "-" or " ").
func (t *Table) List() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.order))
	for i, id := range t.order {
		pos := " "
		switch i {
		case 0:
			pos = "+"
		case 1:
			pos = "-"
		}
		out[i] = Entry{Job: t.jobs[id], Pos: pos}
	}
	return out
}

// Entry is one row of List.
type Entry struct {
	Job *Job
	Pos string
}

// String renders the entry in the POSIX jobs style.
func (e Entry) String() string { return e.Job.Format(e.Pos) }

// Len returns the number of jobs.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs)
}

func (t *Table) touch(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i := slices.Index(t.order, id); i >= 0 {
		t.order = slices.Delete(t.order, i, i+1)
		t.order = slices.Insert(t.order, 0, id)
	}
}

func (t *Table) remove(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.jobs, id)
	if i := slices.Index(t.order, id); i >= 0 {
		t.order = slices.Delete(t.order, i, i+1)
	}
}

// Attach registers a freshly launched pipeline. A background pipeline is
// left running and Attach returns at once. A foreground pipeline, whose
// leader took the terminal as it started, is waited on until it stops or
// ends; an ended job is removed from the table again.
func (t *Table) Attach(ctx context.Context, p *pipeline.Pipeline) (*Job, Result, error) {
	j := t.Add(p)
	if p.Background() {
		return j, Result{State: Running}, nil
	}
	t.setForeground(j)
	res, err := t.waitStopOrDone(ctx, j)
	t.reclaimTerminal(j)
	j.setForeground(false)
	if err == nil && res.State == Done {
		t.remove(j.id)
	}
	return j, res, err
}

func (t *Table) reclaimTerminal(j *Job) {
	if t.term == nil || j.PGID() == 0 {
		return
	}
	if err := t.term.SetForegroundGroup(t.shellPGID); err != nil {
		t.logger.Warn("failed to reclaim terminal", "err", err)
	}
}

// Foreground makes j the foreground job: it becomes current, owns the
// terminal, is continued if stopped, and is waited on until it stops or
// ends. The shell regains the terminal before Foreground returns. A job
// that ends is removed; one that already ended, or whose process group has
// no members left, yields ErrJobGone.
func (t *Table) Foreground(ctx context.Context, j *Job) (Result, error) {
	if err := t.checkAlive(j, "fg"); err != nil {
		return Result{}, err
	}
	t.touch(j.id)
	t.setForeground(j)
	defer j.setForeground(false)

	pgid := j.PGID()
	if t.term != nil && pgid > 0 {
		if err := t.term.SetForegroundGroup(pgid); err != nil {
			return Result{}, &JobError{ID: j.id, Op: "fg", Err: err}
		}
		defer t.reclaimTerminal(j)
	}
	if j.State() == Stopped {
		if err := t.signal(j, syscall.SIGCONT); err != nil {
			return Result{}, &JobError{ID: j.id, Op: "fg", Err: err}
		}
	}
	res, err := t.waitStopOrDone(ctx, j)
	if err == nil && res.State == Done {
		t.remove(j.id)
	}
	return res, err
}

// waitStopOrDone blocks until j stops, ends or ctx is done.
func (t *Table) waitStopOrDone(ctx context.Context, j *Job) (Result, error) {
	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()

	// Draining captured output keeps a capturing pipeline from blocking
	// before it can end.
	p := j.Pipeline()
	drainCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _, _ = p.Wait(drainCtx) }()

	for {
		select {
		case <-p.Done():
			rc, _ := p.Returncode()
			t.logState(j)
			return Result{State: Done, Returncode: rc}, nil
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-t.sigchld:
		case <-ticker.C:
		}
		if st := t.logState(j); st == Stopped {
			return Result{State: Stopped}, nil
		}
	}
}

func (t *Table) logState(j *Job) State {
	st, changed := j.observe()
	if changed {
		t.logger.Debug("job state changed", "job", j.id, "state", st)
	}
	return st
}

func (t *Table) setForeground(j *Job) {
	t.mu.Lock()
	others := make([]*Job, 0, len(t.jobs))
	for _, o := range t.jobs {
		others = append(others, o)
	}
	t.mu.Unlock()
	for _, o := range others {
		o.setForeground(o == j)
	}
}

// Background continues j without giving it the terminal and makes it the
// current job.
func (t *Table) Background(j *Job) error {
	if err := t.checkAlive(j, "bg"); err != nil {
		return err
	}
	t.touch(j.id)
	j.setForeground(false)
	if j.State() != Stopped {
		return nil
	}
	if err := t.signal(j, syscall.SIGCONT); err != nil {
		return &JobError{ID: j.id, Op: "bg", Err: err}
	}
	return nil
}

// Stop suspends every process of j with SIGTSTP.
func (t *Table) Stop(j *Job) error {
	if !j.Pipeline().HasProcesses() {
		return &JobError{ID: j.id, Op: "stop", Err: ErrCannotStopThreads}
	}
	if err := t.signal(j, syscall.SIGTSTP); err != nil {
		return &JobError{ID: j.id, Op: "stop", Err: err}
	}
	return nil
}

// Resume continues every process of j with SIGCONT.
func (t *Table) Resume(j *Job) error {
	if !j.Pipeline().HasProcesses() {
		return nil
	}
	if err := t.signal(j, syscall.SIGCONT); err != nil {
		return &JobError{ID: j.id, Op: "resume", Err: err}
	}
	return nil
}

// Wait blocks until j ends, removes it from the table and returns its
// status.
func (t *Table) Wait(ctx context.Context, j *Job) (int, error) {
	rc, err := j.Pipeline().Wait(ctx)
	if err != nil {
		return 0, err
	}
	t.remove(j.id)
	return rc, nil
}

// Disown removes jobs from the table without signalling them. With no ids
// it disowns the current job.
func (t *Table) Disown(ids ...int) error {
	if len(ids) == 0 {
		j, err := t.Resolve("+")
		if err != nil {
			return err
		}
		ids = []int{j.id}
	}
	var errs []error
	for _, id := range ids {
		if _, err := t.Get(id); err != nil {
			errs = append(errs, err)
			continue
		}
		t.remove(id)
		t.logger.Debug("job disowned", "job", id)
	}
	return errors.Join(errs...)
}

// HangupAll sends SIGHUP, followed by SIGCONT, to every job's processes
// and cancels their in-process stages. It is used when the shell exits.
func (t *Table) HangupAll() {
	t.mu.Lock()
	jobs := make([]*Job, 0, len(t.jobs))
	for _, j := range t.jobs {
		jobs = append(jobs, j)
	}
	t.mu.Unlock()

	for _, j := range jobs {
		if j.State() == Done {
			continue
		}
		if j.Pipeline().HasProcesses() {
			if err := t.signal(j, syscall.SIGHUP); err == nil {
				_ = t.signal(j, syscall.SIGCONT)
			}
		}
		for _, h := range j.Pipeline().Handles() {
			if h.Threaded() {
				_ = h.Signal(syscall.SIGHUP)
			}
		}
	}
}

// ClearDone removes ended jobs and returns them in job number order.
func (t *Table) ClearDone() []*Job {
	t.mu.Lock()
	var done []*Job
	for _, j := range t.jobs {
		if j.State() == Done {
			done = append(done, j)
		}
	}
	t.mu.Unlock()

	slices.SortFunc(done, func(a, b *Job) int { return a.id - b.id })
	for _, j := range done {
		t.remove(j.id)
	}
	return done
}

// checkAlive returns ErrJobGone for a job that has ended or whose process
// group no longer has members, and drops it from the table.
func (t *Table) checkAlive(j *Job, op string) error {
	gone := j.State() == Done
	if !gone && j.Pipeline().HasProcesses() && j.PGID() > 0 && !j.Pipeline().Group().Alive() {
		gone = true
	}
	if gone {
		t.remove(j.id)
		return &JobError{ID: j.id, Op: op, Err: ErrJobGone}
	}
	return nil
}

// signal delivers sig to the job's process group, or to each process when
// the job has no group of its own.
func (t *Table) signal(j *Job, sig syscall.Signal) error {
	err := j.Pipeline().Group().Signal(sig)
	if errors.Is(err, launch.ErrNoProcessGroup) {
		err = nil
		for _, h := range j.Pipeline().Handles() {
			if _, ok := h.PID(); ok {
				if serr := h.Signal(sig); serr != nil && !errors.Is(serr, os.ErrProcessDone) {
					err = serr
				}
			}
		}
	}
	if errors.Is(err, unix.ESRCH) {
		err = ErrJobGone
	}
	if err != nil {
		t.logger.Debug("signal delivery failed", "job", j.id, "signal", sig, "err", err)
	}
	return err
}
