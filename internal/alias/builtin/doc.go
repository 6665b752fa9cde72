// SPDX-License-Identifier: MPL-2.0

// Package builtin provides text utilities implemented as callable aliases
// so that common pipeline filters can run on worker goroutines instead of
// spawning processes.
//
// Each utility accepts the commonly used flags of its POSIX namesake, in
// short and GNU long form; an unknown flag is an error. Relative file
// operands resolve against the stage's working directory.
package builtin
