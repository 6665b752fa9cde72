// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable errors and a catalogue of Markdown help
// texts rendered with glamour. An ActionableError can point at a catalogue
// entry so the CLI can print remediation steps next to the failure.
package issue
