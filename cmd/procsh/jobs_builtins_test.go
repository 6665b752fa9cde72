// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/procsh/procsh/internal/alias"
	"github.com/procsh/procsh/internal/jobs"
)

func TestJobBuiltins_EmptyTable(t *testing.T) {
	t.Parallel()

	table := jobs.New(jobs.Options{})
	t.Cleanup(table.Close)

	tests := []struct {
		name     string
		fn       alias.StreamsFunc
		args     []string
		wantCode int
		wantErr  string
	}{
		{"jobs", jobsBuiltin(table), nil, 0, ""},
		{"fg", fgBuiltin(table), nil, 1, "fg: "},
		{"fg too many", fgBuiltin(table), []string{"%1", "%2"}, 2, "fg: usage: "},
		{"bg", bgBuiltin(table), nil, 1, "bg: "},
		{"bg unknown", bgBuiltin(table), []string{"%7"}, 1, "bg: "},
		{"disown", disownBuiltin(table), nil, 1, "disown: "},
		{"disown unknown", disownBuiltin(table), []string{"%7"}, 1, "disown: "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var out bytes.Buffer
			res, err := tt.fn(t.Context(), tt.args, alias.Streams{Stdout: &out, Stderr: &out})
			if err != nil {
				t.Fatalf("%s() error = %v", tt.name, err)
			}
			if res.Code != tt.wantCode {
				t.Errorf("%s() code = %d, want %d", tt.name, res.Code, tt.wantCode)
			}
			if !strings.HasPrefix(res.Stderr, tt.wantErr) {
				t.Errorf("%s() stderr = %q, want prefix %q", tt.name, res.Stderr, tt.wantErr)
			}
			if res.Stdout != "" {
				t.Errorf("%s() stdout = %q, want empty", tt.name, res.Stdout)
			}
		})
	}
}

func TestJobBuiltins_Disown(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, "")
	sh := newTestShell(t, app)

	if got := sh.loop(t.Context(), strings.NewReader("sleep 2 &\nsleep 30 &\ndisown %1\n")); got != 0 {
		t.Fatalf("loop() = %d, want 0; stderr %q", got, app.err.String())
	}
	if n := sh.table.Len(); n != 1 {
		t.Fatalf("table.Len() = %d, want 1", n)
	}
	if _, err := sh.table.Get(1); err == nil {
		t.Error("Get(1) succeeded after disown, want error")
	}
	if _, err := sh.table.Get(2); err != nil {
		t.Errorf("Get(2) error = %v", err)
	}
}

func TestJobStyle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state jobs.State
		want  string
	}{
		{jobs.Running, jobRunningStyle.Render("x")},
		{jobs.Stopped, jobStoppedStyle.Render("x")},
		{jobs.Done, jobDoneStyle.Render("x")},
	}
	for _, tt := range tests {
		if got := jobStyle(tt.state).Render("x"); got != tt.want {
			t.Errorf("jobStyle(%v).Render() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestFirstOr(t *testing.T) {
	t.Parallel()

	if got := firstOr(nil, "+"); got != "+" {
		t.Errorf("firstOr(nil) = %q, want %q", got, "+")
	}
	if got := firstOr([]string{"%2", "%3"}, "+"); got != "%2" {
		t.Errorf("firstOr() = %q, want %q", got, "%2")
	}
}
