// SPDX-License-Identifier: MPL-2.0

package cmdline

import (
	"errors"
	"slices"
	"testing"

	"github.com/procsh/procsh/internal/alias"
	"github.com/procsh/procsh/internal/alias/builtin"
	"github.com/procsh/procsh/internal/spec"
)

func newParser(t *testing.T, opts Options) *Parser {
	t.Helper()
	if opts.Aliases == nil {
		opts.Aliases = alias.NewRegistry()
		builtin.Register(opts.Aliases)
	}
	return New(opts)
}

func mustPipeline(t *testing.T, p *Parser, line string) []*spec.CommandSpec {
	t.Helper()
	specs, err := p.ParsePipeline(line)
	if err != nil {
		t.Fatalf("ParsePipeline(%q) error = %v", line, err)
	}
	if _, err := spec.Prepare(specs); err != nil {
		t.Fatalf("Prepare(%q) error = %v", line, err)
	}
	return specs
}

func TestParse_PipeWiring(t *testing.T) {
	t.Parallel()

	p := newParser(t, Options{})
	specs := mustPipeline(t, p, "printf 'a b' | tr a-z A-Z | wc -c")

	if len(specs) != 3 {
		t.Fatalf("len(specs) = %d, want 3", len(specs))
	}
	kinds := []spec.ExecKind{spec.ExternalBinary, spec.CallableAlias, spec.CallableAlias}
	for i, s := range specs {
		if s.Index != i {
			t.Errorf("specs[%d].Index = %d, want %d", i, s.Index, i)
		}
		if s.Exec.Kind != kinds[i] {
			t.Errorf("specs[%d].Exec.Kind = %v, want %v", i, s.Exec.Kind, kinds[i])
		}
	}
	if got := specs[0].Argv; !slices.Equal(got, []string{"printf", "a b"}) {
		t.Errorf("specs[0].Argv = %q, want [printf \"a b\"]", got)
	}
	if specs[0].Stdout.Kind != spec.PipeNext || specs[1].Stdin.Kind != spec.PipePrev {
		t.Errorf("first pipe = %v -> %v, want pipe-next -> pipe-prev", specs[0].Stdout, specs[1].Stdin)
	}
	if specs[2].Stdout.Kind != spec.Inherit {
		t.Errorf("last stdout = %v, want inherit", specs[2].Stdout)
	}
}

func TestParse_NegationAndBackground(t *testing.T) {
	t.Parallel()

	p := newParser(t, Options{})
	specs := mustPipeline(t, p, "! sleep 1 | tee &")

	if !spec.Negated(specs) {
		t.Error("Negated() = false, want true")
	}
	if !spec.Background(specs) {
		t.Error("Background() = false, want true")
	}
	if specs[0].Negate {
		t.Error("specs[0].Negate = true, want negation on the last stage only")
	}
}

func TestParse_Redirections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line       string
		wantStdin  spec.Endpoint
		wantStdout spec.Endpoint
		wantStderr spec.Endpoint
	}{
		{
			line:       "cat < in > out",
			wantStdin:  spec.FileEndpoint("in", spec.ModeRead),
			wantStdout: spec.FileEndpoint("out", spec.ModeTruncate),
		},
		{
			line:       "cat >> log 2>&1",
			wantStdout: spec.FileEndpoint("log", spec.ModeAppend),
			wantStderr: spec.Endpoint{Kind: spec.ToStdout},
		},
		{
			line:       "cat 2> errs",
			wantStderr: spec.FileEndpoint("errs", spec.ModeTruncate),
		},
		{
			line:       "cat &> all",
			wantStdout: spec.FileEndpoint("all", spec.ModeTruncate),
			wantStderr: spec.Endpoint{Kind: spec.ToStdout},
		},
		{
			line:       "cat >&2",
			wantStdout: spec.Endpoint{Kind: spec.ToStderr},
		},
	}

	p := newParser(t, Options{})
	for _, tt := range tests {
		specs := mustPipeline(t, p, tt.line)
		s := specs[0]
		if s.Stdin != tt.wantStdin {
			t.Errorf("%q stdin = %v, want %v", tt.line, s.Stdin, tt.wantStdin)
		}
		if s.Stdout != tt.wantStdout {
			t.Errorf("%q stdout = %v, want %v", tt.line, s.Stdout, tt.wantStdout)
		}
		if s.Stderr != tt.wantStderr {
			t.Errorf("%q stderr = %v, want %v", tt.line, s.Stderr, tt.wantStderr)
		}
	}
}

func TestParse_PipeAllMergesStderr(t *testing.T) {
	t.Parallel()

	p := newParser(t, Options{})
	specs := mustPipeline(t, p, "cat missing |& wc -l")

	if specs[0].Stderr.Kind != spec.ToStdout {
		t.Errorf("specs[0].Stderr = %v, want to-stdout", specs[0].Stderr)
	}
	if specs[0].Stdout.Kind != spec.PipeNext {
		t.Errorf("specs[0].Stdout = %v, want pipe-next", specs[0].Stdout)
	}
}

func TestParse_RedirectedSideOfPipe(t *testing.T) {
	t.Parallel()

	p := newParser(t, Options{})

	specs := mustPipeline(t, p, "cat > out | wc -l")
	if specs[1].Stdin.Kind != spec.DevNull {
		t.Errorf("reader stdin = %v, want devnull", specs[1].Stdin)
	}

	specs = mustPipeline(t, p, "cat | wc -l < in")
	if specs[0].Stdout.Kind != spec.DevNull {
		t.Errorf("writer stdout = %v, want devnull", specs[0].Stdout)
	}
}

func TestParse_AliasResolution(t *testing.T) {
	t.Parallel()

	reg := alias.NewRegistry()
	builtin.Register(reg)
	if err := reg.RegisterArgv("ll", []string{"ls", "-l"}); err != nil {
		t.Fatal(err)
	}
	if err := reg.RegisterArgv("ls", []string{"ls", "--color=never"}); err != nil {
		t.Fatal(err)
	}
	if err := reg.RegisterArgv("lines", []string{"wc", "-l"}); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.RegisterBlock("greet", "echo hello"); err != nil {
		t.Fatal(err)
	}

	p := newParser(t, Options{Aliases: reg})

	tests := []struct {
		line     string
		wantArgv []string
		wantKind spec.ExecKind
	}{
		{"ll /tmp", []string{"ls", "--color=never", "-l", "/tmp"}, spec.ExternalBinary},
		{"lines", []string{"wc", "-l"}, spec.CallableAlias},
		{"greet x", []string{"greet", "x"}, spec.ExecBlockAlias},
	}
	for _, tt := range tests {
		specs := mustPipeline(t, p, tt.line)
		if !slices.Equal(specs[0].Argv, tt.wantArgv) {
			t.Errorf("%q argv = %q, want %q", tt.line, specs[0].Argv, tt.wantArgv)
		}
		if specs[0].Exec.Kind != tt.wantKind {
			t.Errorf("%q kind = %v, want %v", tt.line, specs[0].Exec.Kind, tt.wantKind)
		}
	}
}

func TestParse_Expansion(t *testing.T) {
	t.Parallel()

	p := newParser(t, Options{Env: []string{"NAME=world", "PATH=/bin:/usr/bin"}})
	specs := mustPipeline(t, p, `GREETING="hi $NAME" printf '%s\n' "$NAME" ${MISSING}x`)

	want := []string{"printf", `%s\n`, "world", "x"}
	if !slices.Equal(specs[0].Argv, want) {
		t.Errorf("Argv = %q, want %q", specs[0].Argv, want)
	}
	if got := specs[0].Env["GREETING"]; got != "hi world" {
		t.Errorf("Env[GREETING] = %q, want %q", got, "hi world")
	}
	if got := specs[0].Env["NAME"]; got != "world" {
		t.Errorf("Env[NAME] = %q, want %q", got, "world")
	}
}

func TestParse_InheritedEnvironment(t *testing.T) {
	t.Parallel()

	p := newParser(t, Options{})
	specs := mustPipeline(t, p, "tee")
	if specs[0].Env != nil {
		t.Errorf("Env = %v, want nil", specs[0].Env)
	}
}

func TestParse_CaptureAppliesToLastStage(t *testing.T) {
	t.Parallel()

	p := newParser(t, Options{Capture: spec.CapturedStdout})
	specs := mustPipeline(t, p, "seq 3 | tee")
	if specs[0].Captured != spec.NotCaptured || specs[1].Captured != spec.CapturedStdout {
		t.Errorf("Captured = %v, %v, want %v, %v", specs[0].Captured, specs[1].Captured, spec.NotCaptured, spec.CapturedStdout)
	}
}

func TestParse_Statements(t *testing.T) {
	t.Parallel()

	p := newParser(t, Options{})

	stmts, err := p.Parse("seq 2; tee & # trailing comment")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(stmts) != 2 {
		t.Fatalf("len(stmts) = %d, want 2", len(stmts))
	}
	if spec.Background(stmts[0]) || !spec.Background(stmts[1]) {
		t.Errorf("Background = %v, %v, want false, true", spec.Background(stmts[0]), spec.Background(stmts[1]))
	}

	if _, err := p.ParsePipeline("seq 1; seq 2"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("ParsePipeline(list) error = %v, want %v", err, ErrUnsupported)
	}

	for _, line := range []string{"", "   ", "# only a comment"} {
		stmts, err := p.Parse(line)
		if err != nil || len(stmts) != 0 {
			t.Errorf("Parse(%q) = %d statements, %v, want 0, nil", line, len(stmts), err)
		}
		if _, err := p.ParsePipeline(line); !errors.Is(err, spec.ErrEmptyPipeline) {
			t.Errorf("ParsePipeline(%q) error = %v, want %v", line, err, spec.ErrEmptyPipeline)
		}
	}
}

func TestParse_Unsupported(t *testing.T) {
	t.Parallel()

	p := newParser(t, Options{})
	for _, line := range []string{
		"true && false",
		"true || false",
		"if true; then seq 1; fi",
		"(seq 1)",
		"{ seq 1; } > out",
		"FOO=bar",
		"cat <<EOF\nx\nEOF",
	} {
		_, err := p.Parse(line)
		if !errors.Is(err, ErrUnsupported) {
			t.Errorf("Parse(%q) error = %v, want %v", line, err, ErrUnsupported)
		}
	}
}

func TestParse_SyntaxError(t *testing.T) {
	t.Parallel()

	p := newParser(t, Options{})
	_, err := p.Parse("seq 1 |")

	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("Parse() error = %v, want *ParseError", err)
	}
	if pe.Line != "seq 1 |" {
		t.Errorf("ParseError.Line = %q, want %q", pe.Line, "seq 1 |")
	}
}

func TestParse_UnknownCommandKeepsName(t *testing.T) {
	t.Parallel()

	p := newParser(t, Options{})
	specs := mustPipeline(t, p, "procsh-no-such-command arg")
	if specs[0].Exec.Path != "procsh-no-such-command" {
		t.Errorf("Exec.Path = %q, want the bare name", specs[0].Exec.Path)
	}
}

func TestParse_RelativePathUsesDir(t *testing.T) {
	t.Parallel()

	p := newParser(t, Options{Dir: "/work"})
	specs := mustPipeline(t, p, "./run.sh")
	if specs[0].Exec.Path != "/work/run.sh" {
		t.Errorf("Exec.Path = %q, want %q", specs[0].Exec.Path, "/work/run.sh")
	}
	if specs[0].Dir != "/work" {
		t.Errorf("Dir = %q, want %q", specs[0].Dir, "/work")
	}
}
