// SPDX-License-Identifier: MPL-2.0

package launch

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"

	"github.com/procsh/procsh/internal/alias"
	"github.com/procsh/procsh/internal/plumbing"
	"github.com/procsh/procsh/internal/predict"
	"github.com/procsh/procsh/internal/spec"
	"github.com/procsh/procsh/internal/testutil"
)

func newTestLauncher(maxThreads int64) *Launcher {
	return New(Options{MaxThreads: maxThreads, Logger: log.New(io.Discard)})
}

// captured returns a spec whose stdout is captured and whose stdin is
// /dev/null, wired to a fresh stream set.
func captured(t *testing.T, exe spec.Executable, argv ...string) (*spec.CommandSpec, *plumbing.StreamSet) {
	t.Helper()
	s := &spec.CommandSpec{
		Argv:   argv,
		Exec:   exe,
		Stdin:  spec.Endpoint{Kind: spec.DevNull},
		Stdout: spec.Endpoint{Kind: spec.Capture},
		Stderr: spec.Endpoint{Kind: spec.DevNull},
	}
	p := plumbing.New(plumbing.Options{IsTerminal: func(int) bool { return false }, Logger: log.New(io.Discard)})
	sets, err := p.Wire([]*spec.CommandSpec{s}, []predict.Decision{predict.MayThread})
	if err != nil {
		t.Fatalf("Wire() error = %v", err)
	}
	t.Cleanup(func() { plumbing.ReleaseAll(sets) })
	return s, sets[0]
}

func waitStatus(t *testing.T, h Handle) Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()
	st, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	return st
}

func readCapture(t *testing.T, ss *plumbing.StreamSet) string {
	t.Helper()
	data, err := io.ReadAll(ss.CaptureStdout)
	if err != nil {
		t.Fatalf("reading capture: %v", err)
	}
	return string(data)
}

func TestLaunch_ExternalExitCodes(t *testing.T) {
	t.Parallel()

	sh := testutil.LookPath(t, "sh")
	tests := []struct {
		name       string
		script     string
		wantCode   int
		wantSignal syscall.Signal
		wantMsg    string
	}{
		{"success", "exit 0", 0, 0, ""},
		{"failure", "exit 3", 3, 0, ""},
		{"terminated", "kill -TERM $$", 128 + int(syscall.SIGTERM), syscall.SIGTERM, "Terminated"},
		{"killed", "kill -KILL $$", 128 + int(syscall.SIGKILL), syscall.SIGKILL, "Killed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s, ss := captured(t, spec.External(sh), "sh", "-c", tt.script)
			g := NewGroup(false)
			h := newTestLauncher(0).Launch(t.Context(), s, ss, predict.MustProcess, g)
			g.Seal()

			st := waitStatus(t, h)
			if st.Code != tt.wantCode {
				t.Errorf("Code = %d, want %d", st.Code, tt.wantCode)
			}
			if st.Signal != tt.wantSignal {
				t.Errorf("Signal = %v, want %v", st.Signal, tt.wantSignal)
			}
			if got := st.SignalMessage(); got != tt.wantMsg {
				t.Errorf("SignalMessage() = %q, want %q", got, tt.wantMsg)
			}
			if h.Threaded() {
				t.Error("external stage should not be threaded")
			}
		})
	}
}

func TestLaunch_NotFound(t *testing.T) {
	t.Parallel()

	s, ss := captured(t, spec.External("/nonexistent/procsh-missing"), "procsh-missing")
	h := newTestLauncher(0).Launch(t.Context(), s, ss, predict.MustProcess, NewGroup(false))

	st, ended := h.Poll()
	if !ended {
		t.Fatal("Poll() ended = false, want true for a stage that never started")
	}
	if st.Code != CodeNotFound {
		t.Errorf("Code = %d, want %d", st.Code, CodeNotFound)
	}
	if !errors.Is(st.Err, ErrCommandNotFound) {
		t.Errorf("Err = %v, want ErrCommandNotFound", st.Err)
	}
	var le *LaunchError
	if !errors.As(st.Err, &le) || le.Name != "procsh-missing" {
		t.Errorf("Err = %v, want *LaunchError for procsh-missing", st.Err)
	}
	if got := readCapture(t, ss); got != "" {
		t.Errorf("capture = %q, want empty", got)
	}
}

func TestLaunch_PermissionDenied(t *testing.T) {
	t.Parallel()

	if os.Geteuid() == 0 {
		t.Skip("root ignores execute permission bits")
	}
	path := filepath.Join(t.TempDir(), "noexec")
	if err := os.WriteFile(path, []byte("echo hi\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, ss := captured(t, spec.External(path), "noexec")
	st := waitStatus(t, newTestLauncher(0).Launch(t.Context(), s, ss, predict.MustProcess, NewGroup(false)))
	if st.Code != CodeNotExecutable {
		t.Errorf("Code = %d, want %d", st.Code, CodeNotExecutable)
	}
	if !errors.Is(st.Err, ErrPermissionDenied) {
		t.Errorf("Err = %v, want ErrPermissionDenied", st.Err)
	}
}

func TestLaunch_ScriptWithoutInterpreterLine(t *testing.T) {
	t.Parallel()

	testutil.LookPath(t, "sh")
	path := filepath.Join(t.TempDir(), "script")
	if err := os.WriteFile(path, []byte("echo scripted \"$1\"\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	s, ss := captured(t, spec.External(path), "script", "arg")
	g := NewGroup(false)
	h := newTestLauncher(0).Launch(t.Context(), s, ss, predict.MustProcess, g)
	g.Seal()

	if got := readCapture(t, ss); got != "scripted arg\n" {
		t.Errorf("output = %q, want %q", got, "scripted arg\n")
	}
	if st := waitStatus(t, h); !st.Success() {
		t.Errorf("status = %+v, want success", st)
	}
}

func TestGroup_LeaderKeepsGroupAlive(t *testing.T) {
	t.Parallel()

	trueBin := testutil.LookPath(t, "true")
	sleepBin := testutil.LookPath(t, "sleep")
	l := newTestLauncher(0)
	g := NewGroup(true)

	s0, ss0 := captured(t, spec.External(trueBin), "true")
	leader := l.Launch(t.Context(), s0, ss0, predict.MustProcess, g)
	leaderPID, ok := leader.PID()
	if !ok {
		t.Fatalf("leader did not start: %+v", leader)
	}
	// Give the leader time to exit before the next stage joins.
	time.Sleep(50 * time.Millisecond)

	s1, ss1 := captured(t, spec.External(sleepBin), "sleep", "5")
	member := l.Launch(t.Context(), s1, ss1, predict.MustProcess, g)
	memberPID, ok := member.PID()
	if !ok {
		st, _ := member.Poll()
		t.Fatalf("member did not start: %+v", st)
	}
	g.Seal()

	if g.PGID() != leaderPID {
		t.Errorf("PGID() = %d, want leader pid %d", g.PGID(), leaderPID)
	}
	if pgid, err := unix.Getpgid(memberPID); err != nil || pgid != leaderPID {
		t.Errorf("Getpgid(member) = %d, %v, want %d", pgid, err, leaderPID)
	}
	if !g.Alive() {
		t.Error("Alive() = false while a member is running")
	}

	if err := g.Signal(syscall.SIGKILL); err != nil {
		t.Fatalf("Signal() error = %v", err)
	}
	if st := waitStatus(t, member); st.Signal != syscall.SIGKILL {
		t.Errorf("member Signal = %v, want SIGKILL", st.Signal)
	}
	if st := waitStatus(t, leader); !st.Success() {
		t.Errorf("leader status = %+v, want success", st)
	}
}

func TestGroup_SignalWithoutMembers(t *testing.T) {
	t.Parallel()

	if err := NewGroup(true).Signal(syscall.SIGTERM); !errors.Is(err, ErrNoProcessGroup) {
		t.Errorf("Signal() error = %v, want ErrNoProcessGroup", err)
	}
}

func TestLaunch_ThreadedCallable(t *testing.T) {
	t.Parallel()

	c := alias.NewWithStreams("greet", func(_ context.Context, args []string, s alias.Streams) (alias.Result, error) {
		_, err := io.WriteString(s.Stdout, "hello "+strings.Join(args, " ")+"\n")
		return alias.Result{Code: 4}, err
	})
	s, ss := captured(t, spec.FromCallable(c), "greet", "world")
	h := newTestLauncher(0).Launch(t.Context(), s, ss, predict.MayThread, NewGroup(true))

	if got := readCapture(t, ss); got != "hello world\n" {
		t.Errorf("output = %q, want %q", got, "hello world\n")
	}
	st := waitStatus(t, h)
	if st.Code != 4 {
		t.Errorf("Code = %d, want 4", st.Code)
	}
	if !h.Threaded() {
		t.Error("Threaded() = false, want true")
	}
	if _, ok := h.PID(); ok {
		t.Error("PID() ok = true for an in-process stage")
	}
}

func TestLaunch_ThreadPanicBecomesStatus(t *testing.T) {
	t.Parallel()

	c := alias.NewFixedArity("boom", func(context.Context, []string) (alias.Result, error) {
		panic("kaboom")
	})
	s, ss := captured(t, spec.FromCallable(c), "boom")
	st := waitStatus(t, newTestLauncher(0).Launch(t.Context(), s, ss, predict.MayThread, NewGroup(false)))

	if st.Code != 1 {
		t.Errorf("Code = %d, want 1", st.Code)
	}
	if !errors.Is(st.Err, ErrStagePanic) {
		t.Errorf("Err = %v, want ErrStagePanic", st.Err)
	}
	if got := readCapture(t, ss); got != "" {
		t.Errorf("capture = %q, want empty", got)
	}
}

func TestLaunch_InterruptCancelsThread(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	c := alias.NewFixedArity("block", func(ctx context.Context, _ []string) (alias.Result, error) {
		close(started)
		<-ctx.Done()
		return alias.Result{Code: CodeInterrupted}, ctx.Err()
	})
	s, ss := captured(t, spec.FromCallable(c), "block")
	h := newTestLauncher(0).Launch(t.Context(), s, ss, predict.MayThread, NewGroup(false))

	<-started
	if err := h.Signal(syscall.SIGUSR1); !errors.Is(err, ErrSignalUnsupported) {
		t.Errorf("Signal(SIGUSR1) error = %v, want ErrSignalUnsupported", err)
	}
	h.Interrupt()

	st := waitStatus(t, h)
	if !st.Interrupted {
		t.Errorf("Interrupted = false, status %+v", st)
	}
	if st.Code != CodeInterrupted {
		t.Errorf("Code = %d, want %d", st.Code, CodeInterrupted)
	}
}

func TestLaunch_MustProcessCallableRunsHere(t *testing.T) {
	t.Parallel()

	c := alias.NewFixedArity("tty", func(context.Context, []string) (alias.Result, error) {
		return alias.Result{Stdout: "owned\n"}, nil
	}, alias.Unthreadable())
	s, ss := captured(t, spec.FromCallable(c), "tty")
	h := newTestLauncher(0).Launch(t.Context(), s, ss, predict.MustProcess, NewGroup(false))

	d, ok := h.(Deferred)
	if !ok {
		t.Fatalf("handle %T does not implement Deferred", h)
	}
	if _, ended := h.Poll(); ended {
		t.Fatal("stage ended before RunHere")
	}
	d.RunHere()
	d.RunHere()

	st, ended := h.Poll()
	if !ended || !st.Success() {
		t.Errorf("Poll() = %+v, %v, want success", st, ended)
	}
	if got := readCapture(t, ss); got != "owned\n" {
		t.Errorf("output = %q, want %q", got, "owned\n")
	}
}

func TestLaunch_ExecBlockThreaded(t *testing.T) {
	t.Parallel()

	b, err := alias.ParseBlock("twice", `echo "$1$1"`)
	if err != nil {
		t.Fatalf("ParseBlock() error = %v", err)
	}
	s, ss := captured(t, spec.FromBlock(b), "twice", "ab")
	h := newTestLauncher(0).Launch(t.Context(), s, ss, predict.MayThread, NewGroup(false))

	if got := readCapture(t, ss); got != "abab\n" {
		t.Errorf("output = %q, want %q", got, "abab\n")
	}
	if st := waitStatus(t, h); !st.Success() {
		t.Errorf("status = %+v, want success", st)
	}
}

func TestLaunch_ThreadBound(t *testing.T) {
	t.Parallel()

	var running, peak atomic.Int32
	release := make(chan struct{})
	c := alias.NewFixedArity("slow", func(context.Context, []string) (alias.Result, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return alias.Result{}, nil
	})

	l := newTestLauncher(2)
	var handles []Handle
	for range 5 {
		s, ss := captured(t, spec.FromCallable(c), "slow")
		handles = append(handles, l.Launch(t.Context(), s, ss, predict.MayThread, NewGroup(false)))
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	for _, h := range handles {
		waitStatus(t, h)
	}
	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrency = %d, want at most 2", got)
	}
}

func TestReexecArgv(t *testing.T) {
	t.Parallel()

	b, err := alias.ParseBlock("blk", "echo hi")
	if err != nil {
		t.Fatal(err)
	}
	argv, cleanup, err := reexecArgv("/usr/bin/procsh", b, []string{"-v", "x"}, "/tmp")
	if err != nil {
		t.Fatalf("reexecArgv() error = %v", err)
	}

	script := argv[slices.Index(argv, "--script-file")+1]
	data, err := os.ReadFile(script)
	if err != nil || string(data) != "echo hi" {
		t.Errorf("script file = %q, %v, want %q", data, err, "echo hi")
	}
	want := []string{"/usr/bin/procsh", "internal", "exec-block", "--name", "blk", "--script-file", script, "--workdir", "/tmp", "--", "-v", "x"}
	if !slices.Equal(argv, want) {
		t.Errorf("argv = %q, want %q", argv, want)
	}

	cleanup()
	if _, err := os.Stat(script); !os.IsNotExist(err) {
		t.Errorf("script file still present after cleanup: %v", err)
	}
}

func TestScriptCommand(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(body), 0o755); err != nil {
			t.Fatal(err)
		}
		return p
	}

	plain := write("plain", "echo hi\n")
	shebang := write("shebang", "#!/usr/bin/env python3 -u\nprint(1)\n")

	tests := []struct {
		name string
		path string
		argv []string
		want []string
		ok   bool
	}{
		{"no interpreter line", plain, []string{"plain", "a"}, []string{"sh", plain, "a"}, true},
		{"interpreter with args", shebang, []string{"shebang"}, []string{"/usr/bin/env", "python3", "-u", shebang}, true},
		{"missing file", filepath.Join(dir, "nope"), []string{"nope"}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := scriptCommand(tt.path, tt.argv)
			if ok != tt.ok || !slices.Equal(got, tt.want) {
				t.Errorf("scriptCommand() = %q, %v, want %q, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}
