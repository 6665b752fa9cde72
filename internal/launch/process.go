// SPDX-License-Identifier: MPL-2.0

package launch

import (
	"bufio"
	"errors"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"
	"mvdan.cc/sh/v3/shell"

	"github.com/procsh/procsh/internal/plumbing"
)

// ErrNoProcessGroup is returned when a group has no process members.
var ErrNoProcessGroup = errors.New("pipeline has no process group")

type (
	// Group places the processes of one pipeline in a shared process group.
	// The first started process leads the group. Reaping is held back until
	// Seal so that a leader exiting early cannot dissolve the group before
	// the remaining stages join it.
	Group struct {
		mu      sync.Mutex
		enabled bool
		pgid    int
		tty     int
		hasTTY  bool
		sealed  bool
		pending []*processHandle
	}

	processHandle struct {
		state
		cmd     *exec.Cmd
		cleanup func()
		logger  *log.Logger
	}
)

// NewGroup returns a Group. When enabled is false processes stay in the
// host's process group.
func NewGroup(enabled bool) *Group {
	return &Group{enabled: enabled}
}

// Foreground makes the group's leader take the terminal open as fd in the
// parent before it execs.
func (g *Group) Foreground(fd int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tty, g.hasTTY = fd, true
}

// PGID returns the group id, or 0 when no process has joined.
func (g *Group) PGID() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pgid
}

func (g *Group) sysProcAttr() *syscall.SysProcAttr {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.enabled {
		return nil
	}
	attr := &syscall.SysProcAttr{Setpgid: true, Pgid: g.pgid}
	if g.hasTTY && g.pgid == 0 {
		attr.Foreground = true
		attr.Ctty = g.tty
	}
	return attr
}

func (g *Group) add(h *processHandle) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.enabled && g.pgid == 0 {
		g.pgid = h.cmd.Process.Pid
	}
	if g.sealed {
		go h.reap()
		return
	}
	g.pending = append(g.pending, h)
}

// Seal starts reaping every process added so far and any added later.
func (g *Group) Seal() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sealed = true
	for _, h := range g.pending {
		go h.reap()
	}
	g.pending = nil
}

// Signal delivers sig to every member of the group.
func (g *Group) Signal(sig syscall.Signal) error {
	pgid := g.PGID()
	if pgid == 0 {
		return ErrNoProcessGroup
	}
	return unix.Kill(-pgid, sig)
}

// Alive reports whether any member of the group still exists.
func (g *Group) Alive() bool {
	return g.Signal(0) == nil
}

func (l *Launcher) command(path string, argv []string, env []string, dir string, ss *plumbing.StreamSet) *exec.Cmd {
	return &exec.Cmd{
		Path:   path,
		Args:   argv,
		Env:    env,
		Dir:    dir,
		Stdin:  ss.Stdin,
		Stdout: ss.Stdout,
		Stderr: ss.Stderr,
	}
}

// startProcess starts cmd in g. The parent's copies of the child-side
// handles are released whether or not the start succeeds.
func (l *Launcher) startProcess(name string, cmd *exec.Cmd, ss *plumbing.StreamSet, g *Group, cleanup func()) Handle {
	cmd.SysProcAttr = g.sysProcAttr()
	err := cmd.Start()
	if errors.Is(err, syscall.ENOEXEC) {
		// A text file without a usable interpreter line runs under sh,
		// as POSIX shells do.
		if argv, ok := scriptCommand(cmd.Path, cmd.Args); ok {
			if path, lerr := exec.LookPath(argv[0]); lerr == nil {
				retry := l.command(path, argv, cmd.Env, cmd.Dir, ss)
				retry.SysProcAttr = g.sysProcAttr()
				cmd, err = retry, retry.Start()
			}
		}
	}
	ss.ReleaseChild()

	if err != nil {
		if cleanup != nil {
			cleanup()
		}
		st := startFailure(name, cmd.Path, err)
		l.logger.Debug("stage failed to start", "name", name, "code", st.Code, "err", err)
		return newFailedHandle(name, st)
	}

	h := &processHandle{state: newState(name), cmd: cmd, cleanup: cleanup, logger: l.logger}
	g.add(h)
	return h
}

func (h *processHandle) reap() {
	err := h.cmd.Wait()
	st := exitStatus(h.cmd, err)
	if h.cleanup != nil {
		h.cleanup()
	}
	h.logger.Debug("process exited", "name", h.name, "pid", h.cmd.Process.Pid, "code", st.Code, "signal", st.Signal)
	h.finish(st)
}

func (h *processHandle) PID() (int, bool) { return h.cmd.Process.Pid, true }

func (h *processHandle) Threaded() bool { return false }

func (h *processHandle) Signal(sig os.Signal) error {
	if _, ended := h.Poll(); ended {
		return os.ErrProcessDone
	}
	return h.cmd.Process.Signal(sig)
}

func (h *processHandle) Interrupt() {
	h.markInterrupted()
	_ = h.Signal(syscall.SIGINT)
	// A stopped process only sees the interrupt once continued.
	_ = h.Signal(syscall.SIGCONT)
}

func (h *processHandle) Kill() {
	h.markInterrupted()
	_ = h.Signal(syscall.SIGKILL)
}

// Stopped reports whether the process is currently stopped by a signal.
func (h *processHandle) Stopped() bool {
	if _, ended := h.Poll(); ended {
		return false
	}
	return processStopped(h.cmd.Process.Pid)
}

// scriptCommand returns the argv that runs a script through its
// interpreter line, or through sh when the file has none.
func scriptCommand(path string, argv []string) ([]string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer func() { _ = f.Close() }()

	line, _ := bufio.NewReader(f).ReadString('\n')
	interp := []string{"sh"}
	if rest, ok := strings.CutPrefix(strings.TrimSpace(line), "#!"); ok {
		fields, ferr := shell.Fields(strings.TrimSpace(rest), nil)
		if ferr != nil || len(fields) == 0 {
			return nil, false
		}
		interp = fields
	}
	out := append(interp, path)
	if len(argv) > 1 {
		out = append(out, argv[1:]...)
	}
	return out, true
}
