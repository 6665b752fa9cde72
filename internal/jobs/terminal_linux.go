// SPDX-License-Identifier: MPL-2.0

//go:build linux

package jobs

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// blockJobSignals blocks SIGTTOU, SIGTTIN, SIGTSTP and SIGCHLD on the
// current thread and returns a function restoring the previous mask.
func blockJobSignals() (func(), error) {
	var set, old unix.Sigset_t
	for _, sig := range []syscall.Signal{syscall.SIGTTOU, syscall.SIGTTIN, syscall.SIGTSTP, syscall.SIGCHLD} {
		sigaddset(&set, sig)
	}
	if err := unix.PthreadSigmask(unix.SIG_BLOCK, &set, &old); err != nil {
		return nil, fmt.Errorf("blocking job-control signals: %w", err)
	}
	return func() { _ = unix.PthreadSigmask(unix.SIG_SETMASK, &old, nil) }, nil
}

func sigaddset(set *unix.Sigset_t, sig syscall.Signal) {
	width := uint(unsafe.Sizeof(set.Val[0])) * 8
	n := uint(sig) - 1
	set.Val[n/width] |= 1 << (n % width)
}
