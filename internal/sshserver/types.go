// SPDX-License-Identifier: MPL-2.0

package sshserver

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// StateCreated indicates the server has been created but not started.
	StateCreated ServerState = iota
	// StateStarting indicates the server is in the process of starting.
	StateStarting
	// StateRunning indicates the server is accepting connections.
	StateRunning
	// StateStopping indicates the server is shutting down.
	StateStopping
	// StateStopped indicates the server has stopped (terminal state).
	StateStopped
	// StateFailed indicates the server failed to start (terminal state).
	StateFailed
)

var (
	// ErrInvalidSSHConfig is the sentinel error wrapped by InvalidSSHConfigError.
	ErrInvalidSSHConfig = errors.New("invalid SSH server config")

	// ErrNotStartable is returned by Start when the server has already been
	// started or stopped.
	ErrNotStartable = errors.New("server cannot be started")
)

type (
	// ServerState represents the lifecycle state of the server.
	ServerState int32

	// Config holds immutable configuration for the SSH server.
	Config struct {
		// Host is the address to bind to (default: 127.0.0.1).
		Host string
		// Port is the port to listen on (0 = auto-select).
		Port int
		// Token is the password clients must present.
		Token string
		// HostKeyPath is the host key file, created when missing.
		HostKeyPath string
		// Executable is the procsh binary run for each session.
		Executable string
		// ExtraArgs are passed to every child before its subcommand, such
		// as a --config flag.
		ExtraArgs []string
		// ShutdownTimeout bounds graceful shutdown (default: 10s).
		ShutdownTimeout time.Duration
		// StartupTimeout bounds Start (default: 5s).
		StartupTimeout time.Duration
	}

	// InvalidSSHConfigError is returned when a Config has invalid fields.
	InvalidSSHConfigError struct {
		FieldErrors []error
	}
)

// String returns a human-readable representation of the server state.
func (s ServerState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DefaultConfig returns a default configuration without a token.
func DefaultConfig() Config {
	return Config{
		Host:            "127.0.0.1",
		ShutdownTimeout: 10 * time.Second,
		StartupTimeout:  5 * time.Second,
	}
}

// Validate reports every invalid field of c.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Host) == "" {
		errs = append(errs, errors.New("host must be non-empty"))
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if strings.TrimSpace(c.Token) == "" {
		errs = append(errs, errors.New("token must be non-empty"))
	}
	if c.Executable == "" {
		errs = append(errs, errors.New("executable must be set"))
	}
	if c.HostKeyPath == "" {
		errs = append(errs, errors.New("host key path must be set"))
	}
	if len(errs) > 0 {
		return &InvalidSSHConfigError{FieldErrors: errs}
	}
	return nil
}

// Error implements the error interface.
func (e *InvalidSSHConfigError) Error() string {
	msgs := make([]string, len(e.FieldErrors))
	for i, err := range e.FieldErrors {
		msgs[i] = err.Error()
	}
	return "invalid SSH server config: " + strings.Join(msgs, "; ")
}

// Unwrap returns ErrInvalidSSHConfig for errors.Is() compatibility.
func (e *InvalidSSHConfigError) Unwrap() error { return ErrInvalidSSHConfig }
