// SPDX-License-Identifier: MPL-2.0

// Package sshserver serves procsh over SSH using the Wish library.
//
// Every session runs a fresh procsh child process: an interactive session
// gets "procsh shell" on a pseudo-terminal, and a session with a command
// gets "procsh run -- <command>" wired to the session's streams. Clients
// authenticate with a shared token given as the password; public keys are
// rejected.
package sshserver
