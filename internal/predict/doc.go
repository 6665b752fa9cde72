// SPDX-License-Identifier: MPL-2.0

// Package predict decides whether a command may run threaded inside the host
// process or must run as a real foreground process.
//
// Decisions come from a Table mapping command names to a Policy:
// AlwaysThread, NeverThread, InspectBinary or a Custom function. Commands
// without an entry fall back to binary inspection: the executable is scanned
// for signs of direct terminal control (ncurses, libgpm, or the trio isatty,
// tcgetattr and tcsetattr). Scan results are cached per resolved path.
package predict
