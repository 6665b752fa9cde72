// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"strings"
	"testing"

	"github.com/procsh/procsh/internal/config"
	"github.com/procsh/procsh/internal/jobs"
)

func newTestShell(t *testing.T, app *testApp) *shell {
	t.Helper()

	table := jobs.New(jobs.Options{Logger: app.logger})
	t.Cleanup(func() {
		table.HangupAll()
		table.Close()
	})
	sess, err := newSession(app.cfg, app.logger, sessionOptions{
		Stdin:      app.stdin,
		Stdout:     app.stdout,
		Stderr:     app.stderr,
		TermOutput: app.stdout,
		Jobs:       table,
	})
	if err != nil {
		t.Fatalf("newSession() error = %v", err)
	}
	return &shell{sess: sess, table: table, stdout: app.stdout, stderr: app.stderr}
}

func TestExitRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line   string
		want   exitCode
		wantOK bool
	}{
		{"exit", exitCode{}, true},
		{"exit 0", exitCode{value: 0, set: true}, true},
		{"exit 3", exitCode{value: 3, set: true}, true},
		{"exit 256", exitCode{value: 0, set: true}, true},
		{"exit -1", exitCode{value: 255, set: true}, true},
		{"exit abc", exitCode{}, false},
		{"exit 1 2", exitCode{}, false},
		{"exitcode", exitCode{}, false},
		{"echo exit", exitCode{}, false},
		{"", exitCode{}, false},
	}

	for _, tt := range tests {
		got, ok := exitRequest(tt.line)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("exitRequest(%q) = %+v, %v, want %+v, %v", tt.line, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestShellLoop_Status(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		input      string
		want       int
		wantStderr bool
	}{
		{"empty input", "", 0, false},
		{"blank lines", "\n\n", 0, false},
		{"last status", "fail\n", 3, false},
		{"status reset", "fail\nseq 1\n", 0, false},
		{"bare exit keeps status", "fail\nexit\nseq 1\n", 3, false},
		{"exit with code", "exit 5\nfail\n", 5, false},
		{"syntax error", "seq 1 && seq 2\n", syntaxErrorCode, true},
		{"command not found", "procsh-test-no-such-command\n", 127, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			app := newTestApp(t, "")
			app.cfg.Aliases = map[string]config.AliasConfig{"fail": {ExecBlock: "exit 3"}}
			sh := newTestShell(t, app)

			if got := sh.loop(t.Context(), strings.NewReader(tt.input)); got != tt.want {
				t.Errorf("loop(%q) = %d, want %d", tt.input, got, tt.want)
			}
			if gotStderr := app.err.Len() > 0; gotStderr != tt.wantStderr {
				t.Errorf("stderr = %q, want output %v", app.err.String(), tt.wantStderr)
			}
		})
	}
}

func TestShellLoop_Output(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, "")
	sh := newTestShell(t, app)

	if got := sh.loop(t.Context(), strings.NewReader("seq 2\nseq 3 | tail -n 1\n")); got != 0 {
		t.Fatalf("loop() = %d, want 0", got)
	}
	if got, want := app.out.String(), "1\n2\n3\n"; got != want {
		t.Errorf("stdout = %q, want %q", got, want)
	}
}

func TestShellLoop_BackgroundJob(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, "")
	sh := newTestShell(t, app)

	if got := sh.loop(t.Context(), strings.NewReader("sleep 30 &\njobs\n")); got != 0 {
		t.Fatalf("loop() = %d, want 0", got)
	}
	if !strings.HasPrefix(app.err.String(), "[1] ") {
		t.Errorf("stderr = %q, want a [1] job announcement", app.err.String())
	}
	out := app.out.String()
	if !strings.Contains(out, "[1]+") || !strings.Contains(out, "sleep 30") {
		t.Errorf("jobs output = %q, want the sleep job as current", out)
	}
	if n := sh.table.Len(); n != 1 {
		t.Errorf("table.Len() = %d, want 1", n)
	}
}

func TestJoinPIDs(t *testing.T) {
	t.Parallel()

	if got := joinPIDs(nil); got != "" {
		t.Errorf("joinPIDs(nil) = %q, want %q", got, "")
	}
	if got, want := joinPIDs([]int{12, 34}), "12 34"; got != want {
		t.Errorf("joinPIDs() = %q, want %q", got, want)
	}
}
