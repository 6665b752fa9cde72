// SPDX-License-Identifier: MPL-2.0

package cmdline

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"

	"github.com/procsh/procsh/internal/alias"
	"github.com/procsh/procsh/internal/spec"
)

// maxAliasDepth bounds argv alias expansion chains.
const maxAliasDepth = 16

var (
	// ErrUnsupported is the sentinel error wrapped by UnsupportedError.
	ErrUnsupported = errors.New("unsupported shell construct")

	// ErrAmbiguousRedirect is returned when a redirection target does not
	// expand to exactly one word.
	ErrAmbiguousRedirect = errors.New("ambiguous redirect")
)

type (
	// Options configures a Parser.
	Options struct {
		// Aliases resolves command names before PATH lookup. May be nil.
		Aliases *alias.Registry
		// Env holds KEY=VALUE pairs used for expansion and installed in
		// every stage. Nil expands against the host environment and lets
		// stages inherit it.
		Env []string
		// Dir is the working directory of every stage.
		Dir string
		// Capture is applied to the last stage of each pipeline.
		Capture spec.CaptureMode
	}

	// Parser converts command lines into specs.
	Parser struct {
		opts Options
		cfg  *expand.Config
	}

	// UnsupportedError reports a construct the pipeline layer cannot run.
	UnsupportedError struct {
		Construct string
		Pos       syntax.Pos
	}

	// ParseError wraps a syntax error in the command line.
	ParseError struct {
		Line string
		Err  error
	}

	// leaf is one simple command together with the operator joining it to
	// the next one.
	leaf struct {
		stmt    *syntax.Stmt
		call    *syntax.CallExpr
		pipeAll bool
	}
)

// Error implements the error interface.
func (e *UnsupportedError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s: %s is not supported in a pipeline", e.Pos, e.Construct)
	}
	return e.Construct + " is not supported in a pipeline"
}

// Unwrap returns ErrUnsupported.
func (e *UnsupportedError) Unwrap() error { return ErrUnsupported }

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %q: %v", e.Line, e.Err)
}

// Unwrap returns the underlying syntax error.
func (e *ParseError) Unwrap() error { return e.Err }

// New returns a Parser.
func New(opts Options) *Parser {
	env := opts.Env
	if env == nil {
		env = os.Environ()
	}
	return &Parser{
		opts: opts,
		cfg:  &expand.Config{Env: expand.ListEnviron(env...)},
	}
}

// Parse returns one spec slice per statement of line. An empty or
// comment-only line yields no statements.
func (p *Parser) Parse(line string) ([][]*spec.CommandSpec, error) {
	file, err := syntax.NewParser().Parse(strings.NewReader(line), "")
	if err != nil {
		return nil, &ParseError{Line: line, Err: err}
	}

	out := make([][]*spec.CommandSpec, 0, len(file.Stmts))
	for _, stmt := range file.Stmts {
		specs, err := p.statement(stmt)
		if err != nil {
			return nil, err
		}
		out = append(out, specs)
	}
	return out, nil
}

// ParsePipeline parses a line that must hold exactly one statement.
func (p *Parser) ParsePipeline(line string) ([]*spec.CommandSpec, error) {
	stmts, err := p.Parse(line)
	if err != nil {
		return nil, err
	}
	switch len(stmts) {
	case 0:
		return nil, spec.ErrEmptyPipeline
	case 1:
		return stmts[0], nil
	default:
		return nil, &UnsupportedError{Construct: "a list of statements"}
	}
}

func (p *Parser) statement(stmt *syntax.Stmt) ([]*spec.CommandSpec, error) {
	if stmt.Coprocess {
		return nil, &UnsupportedError{Construct: "coproc", Pos: stmt.Pos()}
	}
	leaves, err := flatten(stmt, nil)
	if err != nil {
		return nil, err
	}
	if _, isCall := stmt.Cmd.(*syntax.CallExpr); !isCall && len(stmt.Redirs) > 0 {
		return nil, &UnsupportedError{Construct: "a redirection on a whole pipeline", Pos: stmt.Pos()}
	}

	specs := make([]*spec.CommandSpec, len(leaves))
	for i, l := range leaves {
		s, err := p.stage(l)
		if err != nil {
			return nil, err
		}
		s.Index = i
		s.Background = stmt.Background
		specs[i] = s
	}
	connect(specs, leaves)

	last := specs[len(specs)-1]
	last.Negate = stmt.Negated
	last.Captured = p.opts.Capture
	return specs, nil
}

// flatten walks a pipeline tree left to right.
func flatten(stmt *syntax.Stmt, acc []leaf) ([]leaf, error) {
	switch cmd := stmt.Cmd.(type) {
	case *syntax.CallExpr:
		if len(cmd.Args) == 0 {
			return nil, &UnsupportedError{Construct: "a variable assignment without a command", Pos: stmt.Pos()}
		}
		return append(acc, leaf{stmt: stmt, call: cmd}), nil
	case *syntax.BinaryCmd:
		if cmd.Op != syntax.Pipe && cmd.Op != syntax.PipeAll {
			return nil, &UnsupportedError{Construct: cmd.Op.String(), Pos: cmd.OpPos}
		}
		if cmd.X.Negated || cmd.Y.Negated {
			return nil, &UnsupportedError{Construct: "negation inside a pipeline", Pos: cmd.OpPos}
		}
		acc, err := flatten(cmd.X, acc)
		if err != nil {
			return nil, err
		}
		acc[len(acc)-1].pipeAll = cmd.Op == syntax.PipeAll
		return flatten(cmd.Y, acc)
	case nil:
		return nil, &UnsupportedError{Construct: "an empty command", Pos: stmt.Pos()}
	default:
		return nil, &UnsupportedError{Construct: commandName(cmd), Pos: stmt.Pos()}
	}
}

func commandName(cmd syntax.Command) string {
	switch cmd.(type) {
	case *syntax.IfClause:
		return "if"
	case *syntax.WhileClause:
		return "while"
	case *syntax.ForClause:
		return "for"
	case *syntax.CaseClause:
		return "case"
	case *syntax.Block:
		return "a { } block"
	case *syntax.Subshell:
		return "a subshell"
	case *syntax.FuncDecl:
		return "a function declaration"
	default:
		return fmt.Sprintf("%T", cmd)
	}
}

// stage builds the spec of one simple command with its own redirections.
func (p *Parser) stage(l leaf) (*spec.CommandSpec, error) {
	argv, err := expand.Fields(p.cfg, l.call.Args...)
	if err != nil {
		return nil, err
	}
	if len(argv) == 0 {
		return nil, &UnsupportedError{Construct: "a command that expands to nothing", Pos: l.stmt.Pos()}
	}

	s := &spec.CommandSpec{Dir: p.opts.Dir}
	if s.Argv, s.Exec, err = p.resolve(argv); err != nil {
		return nil, err
	}
	if s.Env, err = p.environ(l.call.Assigns); err != nil {
		return nil, err
	}
	for _, r := range l.stmt.Redirs {
		red, err := p.redirect(r)
		if err != nil {
			return nil, err
		}
		s.ApplyRedirect(red)
	}
	return s, nil
}

// resolve expands argv aliases and finds the executable for argv[0].
func (p *Parser) resolve(argv []string) ([]string, spec.Executable, error) {
	seen := make(map[string]bool)
	for depth := 0; p.opts.Aliases != nil && depth < maxAliasDepth; depth++ {
		name := argv[0]
		if seen[name] {
			break
		}
		e, ok := p.opts.Aliases.Lookup(name)
		if !ok {
			break
		}
		switch e.Kind {
		case alias.KindCallable:
			return argv, spec.FromCallable(e.Callable), nil
		case alias.KindBlock:
			return argv, spec.FromBlock(e.Block), nil
		case alias.KindArgv:
			seen[name] = true
			argv = append(append([]string(nil), e.Argv...), argv[1:]...)
		}
	}
	return argv, spec.External(p.lookPath(argv[0])), nil
}

// lookPath returns the path of name, or name itself when it cannot be found
// so the launcher reports it as not found.
func (p *Parser) lookPath(name string) string {
	if strings.ContainsRune(name, filepath.Separator) {
		if !filepath.IsAbs(name) && p.opts.Dir != "" {
			return filepath.Join(p.opts.Dir, name)
		}
		return name
	}
	if path, err := exec.LookPath(name); err == nil {
		return path
	}
	return name
}

// environ returns the stage environment, or nil when the stage inherits
// the host's unchanged.
func (p *Parser) environ(assigns []*syntax.Assign) (map[string]string, error) {
	if p.opts.Env == nil && len(assigns) == 0 {
		return nil, nil
	}
	base := p.opts.Env
	if base == nil {
		base = os.Environ()
	}
	env := make(map[string]string, len(base)+len(assigns))
	for _, kv := range base {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	for _, a := range assigns {
		if a.Array != nil || a.Index != nil {
			return nil, &UnsupportedError{Construct: "an array assignment", Pos: a.Pos()}
		}
		val := ""
		if a.Value != nil {
			v, err := expand.Literal(p.cfg, a.Value)
			if err != nil {
				return nil, err
			}
			val = v
		}
		if a.Append {
			val = env[a.Name.Value] + val
		}
		env[a.Name.Value] = val
	}
	return env, nil
}

// redirect converts a shell redirection into a spec redirection.
func (p *Parser) redirect(r *syntax.Redirect) (spec.Redirect, error) {
	origin := ""
	if r.N != nil {
		origin = r.N.Value
	}

	target, err := p.target(r.Word)
	if err != nil {
		return spec.Redirect{}, err
	}

	switch r.Op {
	case syntax.RdrOut, syntax.ClbOut:
		return spec.ParseRedirect(origin+">", target)
	case syntax.AppOut:
		return spec.ParseRedirect(origin+">>", target)
	case syntax.RdrIn:
		return spec.ParseRedirect(origin+"<", target)
	case syntax.DplOut:
		return spec.ParseRedirect(origin+">&"+target, "")
	case syntax.RdrAll:
		return spec.ParseRedirect("a>", target)
	case syntax.AppAll:
		return spec.ParseRedirect("a>>", target)
	default:
		return spec.Redirect{}, &UnsupportedError{Construct: "the " + r.Op.String() + " redirection", Pos: r.OpPos}
	}
}

func (p *Parser) target(w *syntax.Word) (string, error) {
	if w == nil {
		return "", nil
	}
	fields, err := expand.Fields(p.cfg, w)
	if err != nil {
		return "", err
	}
	if len(fields) != 1 {
		return "", fmt.Errorf("%s: %w", w.Pos(), ErrAmbiguousRedirect)
	}
	return fields[0], nil
}

// connect installs the pipes between consecutive stages. A side whose
// stream was redirected elsewhere leaves its neighbour on the null device.
func connect(specs []*spec.CommandSpec, leaves []leaf) {
	for i := 0; i < len(specs)-1; i++ {
		left, right := specs[i], specs[i+1]
		if left.Stdout.Kind == spec.Inherit {
			left.Stdout = spec.Endpoint{Kind: spec.PipeNext}
		}
		if leaves[i].pipeAll {
			left.Stderr = spec.Endpoint{Kind: spec.ToStdout}
		}
		if right.Stdin.Kind == spec.Inherit {
			right.Stdin = spec.Endpoint{Kind: spec.PipePrev}
		}

		writes := left.Stdout.IsPipe() || left.Stderr.IsPipe()
		reads := right.Stdin.IsPipe()
		switch {
		case writes && !reads:
			if left.Stdout.IsPipe() {
				left.Stdout = spec.Endpoint{Kind: spec.DevNull}
			}
			if left.Stderr.IsPipe() {
				left.Stderr = spec.Endpoint{Kind: spec.DevNull}
			}
		case reads && !writes:
			right.Stdin = spec.Endpoint{Kind: spec.DevNull}
		}
	}
}
