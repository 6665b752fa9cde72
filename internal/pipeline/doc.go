// SPDX-License-Identifier: MPL-2.0

// Package pipeline runs a prepared list of command specs as one connected
// pipeline and exposes the result.
//
// A Coordinator predicts, wires and launches every stage in index order
// without waiting between launches, so back-pressure through the pipes
// governs throughput. The returned Pipeline owns the stage handles and the
// reader tasks that drain captured streams. Captured stdout is decoded with
// the configured encoding and delivered line by line through a bounded
// channel; Lines blocks only for more data, never for process exit.
package pipeline
