// SPDX-License-Identifier: MPL-2.0

// Package launch starts pipeline stages and exposes each one through a
// uniform Handle.
//
// External binaries always become child processes. The first process of a
// pipeline leads a new process group and later ones join it. Callable and
// exec-block aliases predicted threadable run on a bounded pool of worker
// goroutines; panics are caught at the worker boundary and surface as a
// failed Status. Exec blocks that must own the terminal are re-executed as a
// separate process when a re-exec binary is configured. Other must-process
// aliases run synchronously on the caller's goroutine once the rest of the
// pipeline has started.
//
// Launch never returns an error: resolution failures produce a Handle that
// has already ended with a synthetic status (127 not found, 126 permission
// denied).
package launch
