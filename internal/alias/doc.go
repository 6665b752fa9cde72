// SPDX-License-Identifier: MPL-2.0

// Package alias implements in-process command aliases.
//
// Two kinds of alias can run inside the host process:
//   - Callable: a Go function in one of two fixed shapes, FixedArity(args) or
//     WithStreams(args, stdin, stdout, stderr), chosen when the alias is built.
//   - Block: a shell block parsed once at registration and executed by the
//     embedded mvdan/sh interpreter, with registered callables visible to it
//     as builtins.
//
// A third kind, Argv, expands a name into a longer argument vector and is
// resolved before launch. All three live in a Registry.
package alias
