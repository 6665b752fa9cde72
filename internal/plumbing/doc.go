// SPDX-License-Identifier: MPL-2.0

// Package plumbing allocates and wires the OS handles that connect pipeline
// stages: inter-stage pipes, capture pipes, caller-fed stdin, files, the
// null device and pseudo-terminals.
//
// Ownership follows one rule. Every handle handed to a stage is child-side
// and is released exactly once by whoever launches the stage: right after
// the child process starts, or when an in-process worker finishes. Every
// parent-side handle (capture read ends, the stdin feed, the pty master) is
// owned by the pipeline. If wiring fails part way, everything allocated so
// far is closed before Wire returns.
package plumbing
