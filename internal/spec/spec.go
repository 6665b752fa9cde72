// SPDX-License-Identifier: MPL-2.0

package spec

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/procsh/procsh/internal/alias"
)

const (
	// ExternalBinary is a program on the filesystem started as a child process.
	ExternalBinary ExecKind = iota
	// CallableAlias is an in-process Go function registered as an alias.
	CallableAlias
	// ExecBlockAlias is a shell block run by the embedded interpreter.
	ExecBlockAlias
)

const (
	// NotCaptured streams output to wherever the endpoints point.
	NotCaptured CaptureMode = iota
	// CapturedStdout buffers stdout for the caller.
	CapturedStdout
	// CapturedObject buffers both stdout and stderr for the caller.
	CapturedObject
)

var (
	// ErrEmptyPipeline is returned when Prepare is called with no specs.
	ErrEmptyPipeline = errors.New("pipeline has no commands")

	// ErrEmptyArgv is returned when a spec has no argument vector.
	ErrEmptyArgv = errors.New("command has an empty argument vector")

	// ErrIndexGap is returned when pipeline indices are not contiguous from 0.
	ErrIndexGap = errors.New("pipeline indices are not contiguous")

	// ErrUnpairedPipe is returned when one side of an inter-stage pipe has
	// no matching side on the neighbouring stage.
	ErrUnpairedPipe = errors.New("pipe endpoint has no matching neighbour")

	// ErrMultipleCaptures is returned when more than one stage captures stdout.
	ErrMultipleCaptures = errors.New("more than one stage captures stdout")

	// ErrMissingExecutable is returned when a spec's executable is incomplete.
	ErrMissingExecutable = errors.New("command has no resolved executable")
)

type (
	// ExecKind distinguishes the three executable variants.
	ExecKind int

	// CaptureMode controls whether output is buffered for the caller.
	CaptureMode int

	// Executable is the resolved target of a command: a path for external
	// binaries, or a reference to an alias.
	Executable struct {
		Kind     ExecKind
		Path     string
		Callable *alias.Callable
		Block    *alias.Block
	}

	// CommandSpec describes one stage of a pipeline.
	CommandSpec struct {
		// Argv is the argument vector; Argv[0] is the resolved command name.
		Argv []string
		// Exec is the resolved executable.
		Exec Executable
		// Stdin, Stdout and Stderr describe stream wiring.
		Stdin  Endpoint
		Stdout Endpoint
		Stderr Endpoint
		// Index is the 0-based position in the pipeline.
		Index int
		// Captured controls output buffering for the caller.
		Captured CaptureMode
		// Background detaches the whole pipeline from the caller's wait.
		Background bool
		// Negate inverts the exit status truthiness of the pipeline.
		Negate bool
		// Env is the full environment installed in the stage. A nil map
		// inherits the host environment.
		Env map[string]string
		// Dir is the working directory; empty means the host's.
		Dir string
	}

	// SpecError ties a validation failure to a pipeline position.
	SpecError struct {
		Index int
		Name  string
		Err   error
	}
)

// Error implements the error interface.
func (e *SpecError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("stage %d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("stage %d (%s): %v", e.Index, e.Name, e.Err)
}

// Unwrap returns the underlying validation error.
func (e *SpecError) Unwrap() error { return e.Err }

// String returns the lowercase name of the executable kind.
func (k ExecKind) String() string {
	switch k {
	case ExternalBinary:
		return "external"
	case CallableAlias:
		return "callable"
	case ExecBlockAlias:
		return "exec-block"
	default:
		return fmt.Sprintf("ExecKind(%d)", int(k))
	}
}

// String returns the lowercase name of the capture mode.
func (m CaptureMode) String() string {
	switch m {
	case NotCaptured:
		return "none"
	case CapturedStdout:
		return "stdout"
	case CapturedObject:
		return "object"
	default:
		return fmt.Sprintf("CaptureMode(%d)", int(m))
	}
}

// External returns an Executable for a binary at path.
func External(path string) Executable {
	return Executable{Kind: ExternalBinary, Path: path}
}

// FromCallable returns an Executable backed by a callable alias.
func FromCallable(c *alias.Callable) Executable {
	return Executable{Kind: CallableAlias, Callable: c}
}

// FromBlock returns an Executable backed by an exec-block alias.
func FromBlock(b *alias.Block) Executable {
	return Executable{Kind: ExecBlockAlias, Block: b}
}

// IsAlias reports whether the executable runs inside the host process.
func (e Executable) IsAlias() bool { return e.Kind != ExternalBinary }

func (e Executable) validate() error {
	switch e.Kind {
	case ExternalBinary:
		if e.Path == "" {
			return ErrMissingExecutable
		}
	case CallableAlias:
		if e.Callable == nil {
			return ErrMissingExecutable
		}
	case ExecBlockAlias:
		if e.Block == nil {
			return ErrMissingExecutable
		}
	default:
		return fmt.Errorf("%w: unknown kind %s", ErrMissingExecutable, e.Kind)
	}
	return nil
}

// Name returns the command name, Argv[0], or "" for an empty spec.
func (s *CommandSpec) Name() string {
	if len(s.Argv) == 0 {
		return ""
	}
	return s.Argv[0]
}

// String renders the argument vector the way a job listing shows it.
func (s *CommandSpec) String() string {
	return strings.Join(s.Argv, " ")
}

// Clone returns a deep copy of the spec.
func (s *CommandSpec) Clone() *CommandSpec {
	c := *s
	c.Argv = slices.Clone(s.Argv)
	if s.Env != nil {
		c.Env = maps.Clone(s.Env)
	}
	return &c
}

// EnvSlice renders Env as KEY=VALUE pairs sorted by key. It returns nil when
// Env is nil so that os/exec inherits the host environment.
func (s *CommandSpec) EnvSlice() []string {
	if s.Env == nil {
		return nil
	}
	out := make([]string, 0, len(s.Env))
	for _, k := range slices.Sorted(maps.Keys(s.Env)) {
		out = append(out, k+"="+s.Env[k])
	}
	return out
}

// CapturesStdout reports whether stdout ends up in a capture buffer.
func (s *CommandSpec) CapturesStdout() bool { return s.Stdout.Kind == Capture }

// CapturesStderr reports whether stderr ends up in a capture buffer.
func (s *CommandSpec) CapturesStderr() bool { return s.Stderr.Kind == Capture }

// normalize folds the Captured mode into the endpoints. Inherited stdout of
// a captured stage becomes a Capture endpoint; CapturedObject does the same
// for stderr.
func (s *CommandSpec) normalize() {
	if s.Captured == NotCaptured {
		return
	}
	if s.Stdout.Kind == Inherit {
		s.Stdout = Endpoint{Kind: Capture}
	}
	if s.Captured == CapturedObject && s.Stderr.Kind == Inherit {
		s.Stderr = Endpoint{Kind: Capture}
	}
}

func (s *CommandSpec) validate() error {
	if len(s.Argv) == 0 {
		return ErrEmptyArgv
	}
	if err := s.Exec.validate(); err != nil {
		return err
	}
	if err := checkEndpoint("stdin", s.Stdin); err != nil {
		return err
	}
	if err := checkEndpoint("stdout", s.Stdout); err != nil {
		return err
	}
	if err := checkEndpoint("stderr", s.Stderr); err != nil {
		return err
	}
	if s.Stdout.Kind == ToStderr && s.Stderr.Kind == ToStdout {
		return &InvalidEndpointError{Stream: "stdout", Endpoint: s.Stdout, Reason: "stdout and stderr point at each other"}
	}
	return nil
}

// Prepare validates specs and returns normalized private copies, sorted by
// index. It checks that the slice is non-empty, indices are contiguous from
// 0, every pipe side has a matching neighbour and at most one stage captures
// stdout. The input slice is never modified.
func Prepare(specs []*CommandSpec) ([]*CommandSpec, error) {
	if len(specs) == 0 {
		return nil, ErrEmptyPipeline
	}
	out := make([]*CommandSpec, len(specs))
	for i, s := range specs {
		if s == nil {
			return nil, &SpecError{Index: i, Err: ErrEmptyArgv}
		}
		out[i] = s.Clone()
	}
	slices.SortStableFunc(out, func(a, b *CommandSpec) int { return a.Index - b.Index })

	captures := 0
	for i, s := range out {
		if s.Index != i {
			return nil, &SpecError{Index: s.Index, Name: s.Name(), Err: ErrIndexGap}
		}
		s.normalize()
		if err := s.validate(); err != nil {
			return nil, &SpecError{Index: i, Name: s.Name(), Err: err}
		}
		if s.CapturesStdout() {
			captures++
		}
		writesNext := s.Stdout.Kind == PipeNext || s.Stderr.Kind == PipeNext
		last := i == len(out)-1
		if writesNext && last {
			return nil, &SpecError{Index: i, Name: s.Name(), Err: ErrUnpairedPipe}
		}
		if !last && writesNext != (out[i+1].Stdin.Kind == PipePrev) {
			return nil, &SpecError{Index: i, Name: s.Name(), Err: ErrUnpairedPipe}
		}
		if i == 0 && s.Stdin.Kind == PipePrev {
			return nil, &SpecError{Index: i, Name: s.Name(), Err: ErrUnpairedPipe}
		}
	}
	if captures > 1 {
		return nil, ErrMultipleCaptures
	}
	return out, nil
}

// Background reports whether any stage asks for the pipeline to be detached.
func Background(specs []*CommandSpec) bool {
	return slices.ContainsFunc(specs, func(s *CommandSpec) bool { return s.Background })
}

// Negated reports whether the pipeline's status is inverted. Negation is a
// pipeline-level operator; any stage may carry it.
func Negated(specs []*CommandSpec) bool {
	return slices.ContainsFunc(specs, func(s *CommandSpec) bool { return s.Negate })
}

// Summary joins the stages' argument vectors with " | ".
func Summary(specs []*CommandSpec) string {
	parts := make([]string, len(specs))
	for i, s := range specs {
		parts[i] = s.String()
	}
	return strings.Join(parts, " | ")
}
