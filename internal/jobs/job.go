// SPDX-License-Identifier: MPL-2.0

package jobs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/procsh/procsh/internal/pipeline"
)

const (
	// Running is the state of a job with at least one running stage.
	Running State = iota
	// Stopped is the state of a job whose processes are all stopped.
	Stopped
	// Done is the state of a job whose pipeline has ended.
	Done
)

var (
	// ErrNoSuchJob is returned when a job id or specifier does not match.
	ErrNoSuchJob = errors.New("no such job")

	// ErrNoJobs is returned when the table is empty.
	ErrNoJobs = errors.New("there are currently no jobs")

	// ErrJobGone is returned when a job's process group has no living
	// members.
	ErrJobGone = errors.New("job has terminated")

	// ErrCannotStopThreads is returned when stopping a job whose stages all
	// run inside the shell.
	ErrCannotStopThreads = errors.New("in-process stages cannot be stopped")
)

type (
	// State is the job-control state of a job.
	State int

	// Job is a pipeline tracked by a Table.
	Job struct {
		id       int
		pipeline *pipeline.Pipeline

		mu         sync.Mutex
		foreground bool
		last       State
	}

	// JobError ties a failure to a job.
	JobError struct {
		ID  int
		Op  string
		Err error
	}
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Error implements the error interface.
func (e *JobError) Error() string {
	return fmt.Sprintf("%s: job %d: %v", e.Op, e.ID, e.Err)
}

// Unwrap returns the underlying cause.
func (e *JobError) Unwrap() error { return e.Err }

// ID returns the job number.
func (j *Job) ID() int { return j.id }

// Pipeline returns the job's pipeline.
func (j *Job) Pipeline() *pipeline.Pipeline { return j.pipeline }

// PGID returns the job's process group, or 0 for a job without processes.
func (j *Job) PGID() int { return j.pipeline.PGID() }

// Foreground reports whether the job currently owns the terminal.
func (j *Job) Foreground() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.foreground
}

func (j *Job) setForeground(fg bool) {
	j.mu.Lock()
	j.foreground = fg
	j.mu.Unlock()
}

// State derives the job state from its pipeline.
func (j *Job) State() State {
	switch j.pipeline.State() {
	case pipeline.Ended:
		return Done
	case pipeline.Stopped:
		return Stopped
	default:
		return Running
	}
}

// observe returns the current state and whether it differs from the one
// seen last time.
func (j *Job) observe() (State, bool) {
	st := j.State()
	j.mu.Lock()
	defer j.mu.Unlock()
	changed := st != j.last
	j.last = st
	return st, changed
}

// Format renders the job in the POSIX jobs style:
//
//	[1]+ running: sleep 5 & (4242)
//
// pos is "+" for the current job, "-" for the previous one, or " ".
func (j *Job) Format(pos string) string {
	var b strings.Builder
	st := j.State()
	fmt.Fprintf(&b, "[%d]%s %s: %s", j.id, pos, st, j.pipeline.Summary())
	if st == Running && !j.Foreground() {
		b.WriteString(" &")
	}
	if pids := j.pipeline.PIDs(); len(pids) > 0 {
		parts := make([]string, len(pids))
		for i, pid := range pids {
			parts[i] = strconv.Itoa(pid)
		}
		fmt.Fprintf(&b, " (%s)", strings.Join(parts, ","))
	}
	return b.String()
}
