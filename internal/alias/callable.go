// SPDX-License-Identifier: MPL-2.0

package alias

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	// FixedArity callables receive only their arguments and report output
	// through Result.
	FixedArity Variant = iota
	// WithStreams callables receive the standard streams directly.
	WithStreams
)

type (
	// Variant is the calling convention of a Callable.
	Variant int

	// Streams carries the standard streams and execution environment handed
	// to a callable.
	Streams struct {
		Stdin  io.Reader
		Stdout io.Writer
		Stderr io.Writer
		// Dir is the working directory relative paths resolve against.
		Dir string
		// Env holds KEY=VALUE pairs; nil means the host environment.
		Env []string
	}

	// Result is what a callable returns. Non-empty Stdout and Stderr are
	// written to the corresponding streams after the function returns.
	Result struct {
		Stdout string
		Stderr string
		Code   int
	}

	// FixedArityFunc is the signature of a FixedArity callable.
	FixedArityFunc func(ctx context.Context, args []string) (Result, error)

	// StreamsFunc is the signature of a WithStreams callable.
	StreamsFunc func(ctx context.Context, args []string, s Streams) (Result, error)

	// Callable is an alias implemented as a Go function.
	Callable struct {
		name       string
		variant    Variant
		fixed      FixedArityFunc
		streams    StreamsFunc
		threadable bool
	}

	// Option configures a Callable.
	Option func(*Callable)
)

// String returns the variant name.
func (v Variant) String() string {
	switch v {
	case FixedArity:
		return "fixed-arity"
	case WithStreams:
		return "with-streams"
	default:
		return fmt.Sprintf("Variant(%d)", int(v))
	}
}

// Unthreadable marks a callable as needing the calling goroutine's OS thread
// and direct terminal access.
func Unthreadable() Option {
	return func(c *Callable) { c.threadable = false }
}

// NewFixedArity returns a callable taking only its arguments.
func NewFixedArity(name string, fn FixedArityFunc, opts ...Option) *Callable {
	c := &Callable{name: name, variant: FixedArity, fixed: fn, threadable: true}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewWithStreams returns a callable that receives the standard streams.
func NewWithStreams(name string, fn StreamsFunc, opts ...Option) *Callable {
	c := &Callable{name: name, variant: WithStreams, streams: fn, threadable: true}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the alias name.
func (c *Callable) Name() string { return c.name }

// Variant returns the calling convention.
func (c *Callable) Variant() Variant { return c.variant }

// Threadable reports whether the callable may run on a worker goroutine.
func (c *Callable) Threadable() bool { return c.threadable }

// Invoke runs the callable. args excludes the alias name. Output carried in
// the Result is written to the streams; a returned error is reported on
// stderr and forces a nonzero code.
func (c *Callable) Invoke(ctx context.Context, args []string, s Streams) (int, error) {
	s = s.withDefaults()

	var (
		res Result
		err error
	)
	switch c.variant {
	case WithStreams:
		res, err = c.streams(ctx, args, s)
	default:
		res, err = c.fixed(ctx, args)
	}

	if res.Stdout != "" {
		_, _ = io.WriteString(s.Stdout, res.Stdout)
	}
	if res.Stderr != "" {
		_, _ = io.WriteString(s.Stderr, res.Stderr)
	}
	if err != nil {
		_, _ = fmt.Fprintf(s.Stderr, "%s: %v\n", c.name, err)
		if res.Code == 0 {
			res.Code = 1
		}
		return res.Code, err
	}
	return res.Code, nil
}

// LookupEnv looks name up in Env, falling back to the host environment when
// Env is nil.
func (s Streams) LookupEnv(name string) (string, bool) {
	if s.Env == nil {
		return os.LookupEnv(name)
	}
	prefix := name + "="
	for i := len(s.Env) - 1; i >= 0; i-- {
		if v, ok := strings.CutPrefix(s.Env[i], prefix); ok {
			return v, true
		}
	}
	return "", false
}

func (s Streams) withDefaults() Streams {
	if s.Stdin == nil {
		s.Stdin = strings.NewReader("")
	}
	if s.Stdout == nil {
		s.Stdout = io.Discard
	}
	if s.Stderr == nil {
		s.Stderr = io.Discard
	}
	return s
}
