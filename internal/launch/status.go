// SPDX-License-Identifier: MPL-2.0

package launch

import (
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"syscall"
)

const (
	// CodeNotFound is the status of a command that could not be found.
	CodeNotFound = 127
	// CodeNotExecutable is the status of a command that could not be run.
	CodeNotExecutable = 126
	// CodeInterrupted is the status of an interrupted stage.
	CodeInterrupted = 130
	// CodeSignalBase is added to the signal number of a killed process.
	CodeSignalBase = 128
)

var (
	// ErrCommandNotFound marks a stage whose executable does not exist.
	ErrCommandNotFound = errors.New("command not found")

	// ErrPermissionDenied marks a stage whose executable cannot be run.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrStagePanic marks an in-process alias that panicked.
	ErrStagePanic = errors.New("alias panicked")
)

type (
	// Status is the terminal state of a stage.
	Status struct {
		// Code is the exit status; 128+n for a process killed by signal n.
		Code int
		// Signal is the terminating signal, zero for a normal exit.
		Signal syscall.Signal
		// CoreDump is set when the process dumped core.
		CoreDump bool
		// Interrupted is set when the stage ended because it was interrupted.
		Interrupted bool
		// Err describes launch failures and alias errors.
		Err error
	}

	// LaunchError reports a stage that could not be started.
	LaunchError struct {
		Name string
		Path string
		Err  error
	}
)

// Error implements the error interface.
func (e *LaunchError) Error() string {
	return fmt.Sprintf("%s: %v", e.Name, e.Err)
}

// Unwrap returns the underlying cause.
func (e *LaunchError) Unwrap() error { return e.Err }

// Success reports whether the stage exited zero.
func (s Status) Success() bool { return s.Code == 0 && s.Err == nil }

// Signaled reports whether the stage was terminated by a signal.
func (s Status) Signaled() bool { return s.Signal != 0 }

// SignalMessage returns the conventional description of the terminating
// signal, or "" when there is none worth reporting.
func (s Status) SignalMessage() string {
	if s.Signal == 0 {
		return ""
	}
	msg, ok := signalMessages[s.Signal]
	if !ok {
		return ""
	}
	if s.CoreDump {
		msg += " (core dumped)"
	}
	return msg
}

var signalMessages = map[syscall.Signal]string{
	syscall.SIGABRT: "Aborted",
	syscall.SIGFPE:  "Floating point exception",
	syscall.SIGILL:  "Illegal instructions",
	syscall.SIGTERM: "Terminated",
	syscall.SIGSEGV: "Segmentation fault",
	syscall.SIGQUIT: "Quit",
	syscall.SIGHUP:  "Hangup",
	syscall.SIGKILL: "Killed",
	syscall.SIGTSTP: "Stopped",
}

// startFailure maps an error from exec.Cmd.Start to a synthetic status.
func startFailure(name, path string, err error) Status {
	le := &LaunchError{Name: name, Path: path, Err: err}
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		le.Err = fmt.Errorf("%w: %w", ErrCommandNotFound, err)
		return Status{Code: CodeNotFound, Err: le}
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.ENOEXEC):
		le.Err = fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		return Status{Code: CodeNotExecutable, Err: le}
	default:
		return Status{Code: CodeNotExecutable, Err: le}
	}
}

// exitStatus converts the result of exec.Cmd.Wait into a Status.
func exitStatus(cmd *exec.Cmd, err error) Status {
	if cmd.ProcessState == nil {
		if err == nil {
			return Status{}
		}
		return Status{Code: 1, Err: err}
	}
	if ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		sig := ws.Signal()
		return Status{Code: CodeSignalBase + int(sig), Signal: sig, CoreDump: ws.CoreDump()}
	}
	st := Status{Code: cmd.ProcessState.ExitCode()}
	// I/O copy failures surface here while the exit code itself is fine.
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			st.Err = err
		}
	}
	return st
}
