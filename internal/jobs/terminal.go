// SPDX-License-Identifier: MPL-2.0

package jobs

import (
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

type (
	// Terminal controls which process group owns a terminal.
	Terminal interface {
		// ForegroundGroup returns the process group owning the terminal.
		ForegroundGroup() (int, error)
		// SetForegroundGroup hands the terminal to pgid.
		SetForegroundGroup(pgid int) error
	}

	// TTY is a Terminal backed by a terminal file descriptor.
	TTY struct {
		fd int
	}
)

// OpenTTY returns a TTY for fd, or false when fd is not a terminal.
func OpenTTY(fd int) (*TTY, bool) {
	if !term.IsTerminal(fd) {
		return nil, false
	}
	return &TTY{fd: fd}, true
}

// ForegroundGroup implements Terminal.
func (t *TTY) ForegroundGroup() (int, error) {
	pgid, err := unix.IoctlGetInt(t.fd, unix.TIOCGPGRP)
	if err != nil {
		return 0, fmt.Errorf("tcgetpgrp: %w", err)
	}
	return pgid, nil
}

// SetForegroundGroup implements Terminal. Job-control signals are blocked on
// the calling thread while ownership changes, so a shell that is itself in
// the background is not stopped by SIGTTOU.
func (t *TTY) SetForegroundGroup(pgid int) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	restore, err := blockJobSignals()
	if err != nil {
		return err
	}
	defer restore()

	err = unix.IoctlSetPointerInt(t.fd, unix.TIOCSPGRP, pgid)
	switch {
	case err == nil:
		return nil
	// The group may have exited already, or the descriptor is not a
	// controlling terminal after all; neither is worth failing over.
	case errors.Is(err, unix.ESRCH), errors.Is(err, unix.EINVAL), errors.Is(err, unix.ENOTTY), errors.Is(err, unix.EPERM):
		return nil
	default:
		return fmt.Errorf("tcsetpgrp %d: %w", pgid, err)
	}
}
