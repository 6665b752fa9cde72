// SPDX-License-Identifier: MPL-2.0

// Package cmdline turns a shell command line into pipeline specs.
//
// Lines are parsed with the POSIX/bash grammar of mvdan.cc/sh. Each
// statement may be a simple command or a pipeline built with | and |&,
// optionally negated with ! and detached with a trailing &. Words are
// expanded (parameters, quotes, tilde) against the configured
// environment, and command names resolve to callable aliases, exec-block
// aliases, argv aliases or binaries found on PATH, in that order.
//
// Compound commands such as if, for, && and subshells are rejected; they
// belong in an exec-block alias.
package cmdline
