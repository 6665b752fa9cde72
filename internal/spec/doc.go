// SPDX-License-Identifier: MPL-2.0

// Package spec defines CommandSpec, the descriptor of a single stage in a
// pipeline, together with the stream endpoints that describe how each stage's
// stdin, stdout and stderr are connected.
//
// A slice of CommandSpec values is produced by a resolver (see package cmdline)
// and handed to the pipeline coordinator, which calls Prepare to validate the
// slice and obtain normalized private copies. After Prepare returns, the
// coordinator never mutates the caller's specs.
//
// Redirection tokens ("2>&1", "e>o", "a>", ">>", "<") are parsed by
// ParseRedirect and applied with CommandSpec.ApplyRedirect.
package spec
