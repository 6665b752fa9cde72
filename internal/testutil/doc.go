// SPDX-License-Identifier: MPL-2.0

// Package testutil provides helper functions for tests that handle errors
// appropriately, reducing boilerplate and ensuring consistent error handling.
//
// Common helpers include binary lookup (LookPath, WriteExecutable), polling
// (WaitFor), and resource cleanup (MustClose, MustStop, DeferStop).
package testutil
