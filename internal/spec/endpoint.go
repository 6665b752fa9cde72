// SPDX-License-Identifier: MPL-2.0

package spec

import (
	"errors"
	"fmt"
	"os"
)

// ErrInvalidEndpoint is the sentinel error wrapped by InvalidEndpointError.
var ErrInvalidEndpoint = errors.New("invalid stream endpoint")

const (
	// Inherit connects the stream to the corresponding stream of the host.
	Inherit EndpointKind = iota
	// PipePrev reads from the previous stage's pipe. Valid for stdin only.
	PipePrev
	// PipeNext writes into the pipe feeding the next stage. Valid for
	// stdout and stderr.
	PipeNext
	// File opens Path with Mode.
	File
	// Capture connects the stream to an in-process buffer. On stdin it
	// means the caller feeds the stage through Pipeline.Input.
	Capture
	// DevNull connects the stream to the null device.
	DevNull
	// ToStdout sends stderr wherever stdout goes (2>&1).
	ToStdout
	// ToStderr sends stdout wherever stderr goes (1>&2).
	ToStderr
)

const (
	// ModeRead opens a file for reading.
	ModeRead FileMode = iota
	// ModeTruncate creates or truncates a file for writing.
	ModeTruncate
	// ModeAppend creates or appends to a file.
	ModeAppend
)

type (
	// EndpointKind enumerates where a standard stream is connected.
	EndpointKind int

	// FileMode selects how a File endpoint is opened.
	FileMode int

	// Endpoint describes one side of a standard stream of a stage.
	Endpoint struct {
		Kind EndpointKind
		// Path is the file path for File endpoints.
		Path string
		// Mode is the open mode for File endpoints.
		Mode FileMode
	}

	// InvalidEndpointError is returned when an endpoint is not allowed on
	// the stream it is attached to.
	InvalidEndpointError struct {
		Stream   string
		Endpoint Endpoint
		Reason   string
	}
)

// Error implements the error interface.
func (e *InvalidEndpointError) Error() string {
	return fmt.Sprintf("invalid %s endpoint %s: %s", e.Stream, e.Endpoint, e.Reason)
}

// Unwrap returns ErrInvalidEndpoint so callers can use errors.Is for programmatic detection.
func (e *InvalidEndpointError) Unwrap() error { return ErrInvalidEndpoint }

// String returns the lowercase name of the endpoint kind.
func (k EndpointKind) String() string {
	switch k {
	case Inherit:
		return "inherit"
	case PipePrev:
		return "pipe-prev"
	case PipeNext:
		return "pipe-next"
	case File:
		return "file"
	case Capture:
		return "capture"
	case DevNull:
		return "devnull"
	case ToStdout:
		return "to-stdout"
	case ToStderr:
		return "to-stderr"
	default:
		return fmt.Sprintf("EndpointKind(%d)", int(k))
	}
}

// Flags returns the os.OpenFile flags for the mode.
func (m FileMode) Flags() int {
	switch m {
	case ModeTruncate:
		return os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	case ModeAppend:
		return os.O_WRONLY | os.O_CREATE | os.O_APPEND
	default:
		return os.O_RDONLY
	}
}

// String returns a compact textual form such as "file(>>out.log)".
func (e Endpoint) String() string {
	if e.Kind != File {
		return e.Kind.String()
	}
	op := "<"
	switch e.Mode {
	case ModeTruncate:
		op = ">"
	case ModeAppend:
		op = ">>"
	}
	return fmt.Sprintf("file(%s%s)", op, e.Path)
}

// IsPipe reports whether the endpoint is one side of an inter-stage pipe.
func (e Endpoint) IsPipe() bool { return e.Kind == PipePrev || e.Kind == PipeNext }

// FileEndpoint returns a File endpoint for path.
func FileEndpoint(path string, mode FileMode) Endpoint {
	return Endpoint{Kind: File, Path: path, Mode: mode}
}

func checkEndpoint(stream string, e Endpoint) error {
	bad := func(reason string) error {
		return &InvalidEndpointError{Stream: stream, Endpoint: e, Reason: reason}
	}
	switch e.Kind {
	case Inherit, Capture, DevNull:
	case File:
		if e.Path == "" {
			return bad("missing path")
		}
		if stream == "stdin" && e.Mode != ModeRead {
			return bad("stdin files must be opened for reading")
		}
		if stream != "stdin" && e.Mode == ModeRead {
			return bad("output files must be opened for writing")
		}
	case PipePrev:
		if stream != "stdin" {
			return bad("only stdin can read from the previous stage")
		}
	case PipeNext:
		if stream == "stdin" {
			return bad("stdin cannot write to the next stage")
		}
	case ToStdout:
		if stream != "stderr" {
			return bad("only stderr can be merged into stdout")
		}
	case ToStderr:
		if stream != "stdout" {
			return bad("only stdout can be merged into stderr")
		}
	default:
		return bad("unknown kind")
	}
	return nil
}
