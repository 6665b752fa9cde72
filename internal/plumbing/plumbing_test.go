// SPDX-License-Identifier: MPL-2.0

package plumbing

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/procsh/procsh/internal/predict"
	"github.com/procsh/procsh/internal/spec"
)

func stage(index int, argv ...string) *spec.CommandSpec {
	return &spec.CommandSpec{Argv: argv, Exec: spec.External("/bin/" + argv[0]), Index: index}
}

func chain(n int) []*spec.CommandSpec {
	specs := make([]*spec.CommandSpec, n)
	for i := range specs {
		specs[i] = stage(i, "cat")
		if i > 0 {
			specs[i].Stdin = spec.Endpoint{Kind: spec.PipePrev}
		}
		if i < n-1 {
			specs[i].Stdout = spec.Endpoint{Kind: spec.PipeNext}
		}
	}
	return specs
}

func decisions(n int, d predict.Decision) []predict.Decision {
	out := make([]predict.Decision, n)
	for i := range out {
		out[i] = d
	}
	return out
}

func newTestPlumber(t *testing.T) *Plumber {
	t.Helper()
	return New(Options{IsTerminal: func(int) bool { return false }})
}

func TestWire_PipesConnectNeighbours(t *testing.T) {
	t.Parallel()

	specs := chain(3)
	sets, err := newTestPlumber(t).Wire(specs, decisions(3, predict.MayThread))
	if err != nil {
		t.Fatalf("Wire() error = %v", err)
	}
	defer ReleaseAll(sets)

	for i := range 2 {
		if _, err := sets[i].Stdout.WriteString("x"); err != nil {
			t.Fatalf("stage %d write error = %v", i, err)
		}
		buf := make([]byte, 1)
		if _, err := io.ReadFull(sets[i+1].Stdin, buf); err != nil || buf[0] != 'x' {
			t.Errorf("stage %d read = %q, %v, want x", i+1, buf, err)
		}
	}
	if sets[0].Stdin != os.Stdin {
		t.Error("head stage should inherit host stdin")
	}
	if sets[2].Stdout != os.Stdout {
		t.Error("tail stage should inherit host stdout")
	}
}

func TestWire_EOFAfterChildRelease(t *testing.T) {
	t.Parallel()

	sets, err := newTestPlumber(t).Wire(chain(2), decisions(2, predict.MustProcess))
	if err != nil {
		t.Fatalf("Wire() error = %v", err)
	}
	defer sets[1].ReleaseChild()

	// Releasing the writer's child side leaves no writer open.
	sets[0].ReleaseChild()

	if n, err := sets[1].Stdin.Read(make([]byte, 1)); n != 0 || !errors.Is(err, io.EOF) {
		t.Errorf("Read() = %d, %v, want 0, EOF", n, err)
	}
}

func TestWire_Capture(t *testing.T) {
	t.Parallel()

	s := stage(0, "echo")
	s.Stdout = spec.Endpoint{Kind: spec.Capture}
	s.Stderr = spec.Endpoint{Kind: spec.Capture}
	sets, err := newTestPlumber(t).Wire([]*spec.CommandSpec{s}, decisions(1, predict.MayThread))
	if err != nil {
		t.Fatalf("Wire() error = %v", err)
	}
	ss := sets[0]
	defer ss.ReleaseParent()

	_, _ = ss.Stdout.WriteString("out")
	_, _ = ss.Stderr.WriteString("err")
	ss.ReleaseChild()

	if got, _ := io.ReadAll(ss.CaptureStdout); string(got) != "out" {
		t.Errorf("captured stdout = %q, want %q", got, "out")
	}
	if got, _ := io.ReadAll(ss.CaptureStderr); string(got) != "err" {
		t.Errorf("captured stderr = %q, want %q", got, "err")
	}
}

func TestWire_InputAndMerge(t *testing.T) {
	t.Parallel()

	s := stage(0, "cat")
	s.Stdin = spec.Endpoint{Kind: spec.Capture}
	s.Stdout = spec.Endpoint{Kind: spec.Capture}
	s.Stderr = spec.Endpoint{Kind: spec.ToStdout}
	sets, err := newTestPlumber(t).Wire([]*spec.CommandSpec{s}, decisions(1, predict.MayThread))
	if err != nil {
		t.Fatalf("Wire() error = %v", err)
	}
	ss := sets[0]
	defer ReleaseAll(sets)

	if ss.Stderr != ss.Stdout {
		t.Error("stderr merged into stdout should share the handle")
	}
	if _, err := ss.Input.WriteString("fed"); err != nil {
		t.Fatalf("Input write error = %v", err)
	}
	_ = ss.Input.Close()
	if got, _ := io.ReadAll(ss.Stdin); string(got) != "fed" {
		t.Errorf("stdin = %q, want %q", got, "fed")
	}
}

func TestWire_FilesRelativeToDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := stage(0, "echo")
	s.Dir = dir
	s.Stdout = spec.FileEndpoint("out.txt", spec.ModeTruncate)
	s.Stderr = spec.Endpoint{Kind: spec.DevNull}
	sets, err := newTestPlumber(t).Wire([]*spec.CommandSpec{s}, decisions(1, predict.MayThread))
	if err != nil {
		t.Fatalf("Wire() error = %v", err)
	}
	_, _ = sets[0].Stdout.WriteString("hello")
	sets[0].ReleaseChild()

	got, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	if err != nil || string(got) != "hello" {
		t.Errorf("out.txt = %q, %v, want %q", got, err, "hello")
	}
}

func TestWire_FailureReleasesEverything(t *testing.T) {
	t.Parallel()

	var opened []*os.File
	calls := 0
	p := New(Options{
		IsTerminal: func(int) bool { return false },
		Pipe: func() (*os.File, *os.File, error) {
			calls++
			if calls == 3 {
				return nil, nil, errors.New("out of descriptors")
			}
			r, w, err := os.Pipe()
			opened = append(opened, r, w)
			return r, w, err
		},
	})

	_, err := p.Wire(chain(4), decisions(4, predict.MayThread))
	if !errors.Is(err, ErrPlumbing) {
		t.Fatalf("Wire() error = %v, want ErrPlumbing", err)
	}
	if len(opened) != 4 {
		t.Fatalf("opened %d handles, want 4", len(opened))
	}
	for i, f := range opened {
		if err := f.Close(); !errors.Is(err, os.ErrClosed) {
			t.Errorf("handle %d Close() = %v, want already closed", i, err)
		}
	}
}

func TestWire_MissingInputFile(t *testing.T) {
	t.Parallel()

	s := stage(0, "cat")
	s.Stdin = spec.FileEndpoint(filepath.Join(t.TempDir(), "missing"), spec.ModeRead)
	_, err := newTestPlumber(t).Wire([]*spec.CommandSpec{s}, decisions(1, predict.MayThread))
	if !errors.Is(err, ErrPlumbing) || !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Wire() error = %v, want ErrPlumbing wrapping ErrNotExist", err)
	}
}

func TestWire_PTYForThreadableTerminalOutput(t *testing.T) {
	t.Parallel()

	var master, slave *os.File
	p := New(Options{
		IsTerminal: func(int) bool { return true },
		OpenPTY: func() (*os.File, *os.File, error) {
			r, w, err := os.Pipe()
			master, slave = r, w
			return r, w, err
		},
	})

	sets, err := p.Wire([]*spec.CommandSpec{stage(0, "ls")}, decisions(1, predict.MayThread))
	if err != nil {
		t.Fatalf("Wire() error = %v", err)
	}
	defer ReleaseAll(sets)
	if sets[0].PTY != master || sets[0].Stdout != slave || sets[0].Stderr != slave {
		t.Error("threadable terminal output should go through the pty")
	}

	master = nil
	sets, err = p.Wire([]*spec.CommandSpec{stage(0, "vim")}, decisions(1, predict.MustProcess))
	if err != nil {
		t.Fatalf("Wire() error = %v", err)
	}
	defer ReleaseAll(sets)
	if sets[0].PTY != nil || master != nil {
		t.Error("must-process stages inherit the terminal directly")
	}
}
