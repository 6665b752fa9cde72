// SPDX-License-Identifier: MPL-2.0

package alias

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// ErrBlockParse is the sentinel error wrapped by BlockParseError.
var ErrBlockParse = errors.New("invalid exec block")

type (
	// Block is an alias whose body is a shell block run by the embedded
	// interpreter. Positional parameters $1.. receive the alias arguments.
	Block struct {
		name     string
		source   string
		prog     *syntax.File
		builtins func(string) (*Callable, bool)
	}

	// BlockParseError is returned when an exec block does not parse.
	BlockParseError struct {
		Name string
		Err  error
	}
)

// Error implements the error interface.
func (e *BlockParseError) Error() string {
	return fmt.Sprintf("exec block %q: %v", e.Name, e.Err)
}

// Unwrap returns ErrBlockParse so callers can use errors.Is for programmatic detection.
func (e *BlockParseError) Unwrap() error { return ErrBlockParse }

// ParseBlock parses source once so that syntax errors surface at
// registration instead of at launch.
func ParseBlock(name, source string) (*Block, error) {
	prog, err := syntax.NewParser().Parse(strings.NewReader(source), name)
	if err != nil {
		return nil, &BlockParseError{Name: name, Err: err}
	}
	return &Block{name: name, source: source, prog: prog}, nil
}

// Name returns the alias name.
func (b *Block) Name() string { return b.name }

// Source returns the unparsed block text.
func (b *Block) Source() string { return b.source }

// Run executes the block with args as positional parameters. It returns the
// block's exit status; err is non-nil only for failures other than a nonzero
// exit.
func (b *Block) Run(ctx context.Context, args []string, s Streams) (int, error) {
	s = s.withDefaults()
	env := s.Env
	if env == nil {
		env = os.Environ()
	}

	opts := []interp.RunnerOption{
		interp.Env(expand.ListEnviron(env...)),
		interp.StdIO(s.Stdin, s.Stdout, s.Stderr),
		interp.ExecHandlers(b.execHandler),
		// "--" keeps arguments such as "-v" from being read as shell options.
		interp.Params(append([]string{"--"}, args...)...),
	}
	if s.Dir != "" {
		opts = append(opts, interp.Dir(s.Dir))
	}

	runner, err := interp.New(opts...)
	if err != nil {
		return 1, fmt.Errorf("failed to create interpreter: %w", err)
	}

	if err := runner.Run(ctx, b.prog); err != nil {
		var exitStatus interp.ExitStatus
		if errors.As(err, &exitStatus) {
			return int(exitStatus), nil
		}
		return 1, fmt.Errorf("exec block %s failed: %w", b.name, err)
	}
	return 0, nil
}

// execHandler dispatches registered callables before falling back to
// external commands.
func (b *Block) execHandler(next interp.ExecHandlerFunc) interp.ExecHandlerFunc {
	return func(ctx context.Context, args []string) error {
		if len(args) == 0 || b.builtins == nil {
			return next(ctx, args)
		}
		c, found := b.builtins(args[0])
		if !found {
			return next(ctx, args)
		}

		hc := interp.HandlerCtx(ctx)
		code, err := c.Invoke(ctx, args[1:], Streams{
			Stdin:  hc.Stdin,
			Stdout: hc.Stdout,
			Stderr: hc.Stderr,
			Dir:    hc.Dir,
		})
		if code != 0 {
			return interp.ExitStatus(uint8(code))
		}
		return err
	}
}
