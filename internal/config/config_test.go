// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/procsh/procsh/internal/issue"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.cue")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if cfg.Encoding != "utf-8" {
		t.Errorf("Encoding = %q, want %q", cfg.Encoding, "utf-8")
	}
	if cfg.ReturnPolicy != ReturnLast {
		t.Errorf("ReturnPolicy = %q, want %q", cfg.ReturnPolicy, ReturnLast)
	}
	if cfg.LineBuffer != 256 || cfg.MaxThreads != 8 {
		t.Errorf("LineBuffer, MaxThreads = %d, %d, want 256, 8", cfg.LineBuffer, cfg.MaxThreads)
	}
	if d, err := cfg.InterruptGrace.Duration(); err != nil || d != 2*time.Second {
		t.Errorf("InterruptGrace.Duration() = %v, %v, want 2s, nil", d, err)
	}
	if valid, errs := cfg.IsValid(); !valid {
		t.Errorf("DefaultConfig().IsValid() = false, %v", errs)
	}
}

func TestConfigDir(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	dir, err := ConfigDir()
	if err != nil {
		t.Fatalf("ConfigDir() error = %v", err)
	}
	if want := filepath.Join(xdg, AppName); runtime.GOOS != "darwin" && dir != want {
		t.Errorf("ConfigDir() = %q, want %q", dir, want)
	}

	SetConfigDirOverride("/custom")
	if dir, _ := ConfigDir(); dir != "/custom" {
		t.Errorf("ConfigDir() with override = %q, want %q", dir, "/custom")
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()

	cfg, path, err := NewProvider().Load(t.Context(), LoadOptions{ConfigDirPath: t.TempDir()})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if path != "" {
		t.Errorf("Load() path = %q, want empty", path)
	}
	if cfg.ReturnPolicy != ReturnLast {
		t.Errorf("ReturnPolicy = %q, want %q", cfg.ReturnPolicy, ReturnLast)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
encoding:        "latin1"
line_buffer:     16
return_policy:   "pipefail"
fail_fast:       true
interrupt_grace: "500ms"
max_threads:     2
predictors: {
	vim:  "always"
	mytool: "never"
}
aliases: {
	ll:    argv: ["ls", "-l"]
	greet: exec_block: "echo hello"
}
ui: verbose: true
`)

	cfg, got, err := NewProvider().Load(t.Context(), LoadOptions{ConfigFilePath: path})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got != path {
		t.Errorf("Load() path = %q, want %q", got, path)
	}
	if cfg.Encoding != "latin1" || cfg.LineBuffer != 16 || cfg.MaxThreads != 2 {
		t.Errorf("Load() = %+v, want encoding latin1, line_buffer 16, max_threads 2", cfg)
	}
	if cfg.ReturnPolicy != ReturnPipefail || !cfg.FailFast {
		t.Errorf("ReturnPolicy, FailFast = %q, %v, want pipefail, true", cfg.ReturnPolicy, cfg.FailFast)
	}
	if d, _ := cfg.InterruptGrace.Duration(); d != 500*time.Millisecond {
		t.Errorf("InterruptGrace = %v, want 500ms", d)
	}
	if cfg.Predictors["mytool"] != "never" || cfg.Predictors["vim"] != "always" {
		t.Errorf("Predictors = %v, want vim=always mytool=never", cfg.Predictors)
	}
	if a := cfg.Aliases["ll"]; len(a.Argv) != 2 || a.IsBlock() {
		t.Errorf("Aliases[ll] = %+v, want argv [ls -l]", a)
	}
	if a := cfg.Aliases["greet"]; a.ExecBlock != "echo hello" {
		t.Errorf("Aliases[greet] = %+v, want exec_block", a)
	}
	if !cfg.UI.Verbose || cfg.UI.ColorScheme != ColorSchemeAuto {
		t.Errorf("UI = %+v, want verbose with auto colors", cfg.UI)
	}
}

func TestLoad_SchemaViolations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{"bad policy", `return_policy: "first"`},
		{"bad predictor", `predictors: vim: "sometimes"`},
		{"negative buffer", `line_buffer: -1`},
		{"alias with both forms", `aliases: x: {argv: ["a"], exec_block: "b"}`},
		{"unknown key", `colour: "red"`},
		{"bad duration", `interrupt_grace: "soon"`},
		{"syntax error", `encoding: `},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := writeConfig(t, tt.content)
			_, _, err := NewProvider().Load(t.Context(), LoadOptions{ConfigFilePath: path})
			if err == nil {
				t.Fatal("Load() error = nil, want schema violation")
			}
			var ae *issue.ActionableError
			if !errors.As(err, &ae) {
				t.Errorf("Load() error = %T, want *issue.ActionableError", err)
			}
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	t.Parallel()

	_, _, err := NewProvider().Load(t.Context(), LoadOptions{ConfigFilePath: filepath.Join(t.TempDir(), "nope.cue")})
	var ae *issue.ActionableError
	if !errors.As(err, &ae) {
		t.Fatalf("Load() error = %v, want *issue.ActionableError", err)
	}
	if !ae.HasSuggestions() {
		t.Error("HasSuggestions() = false, want true")
	}
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	t.Setenv("PROCSH_RETURN_POLICY", "pipefail")
	t.Setenv("PROCSH_MAX_THREADS", "3")
	t.Setenv("PROCSH_UI_VERBOSE", "true")

	cfg, _, err := NewProvider().Load(t.Context(), LoadOptions{ConfigDirPath: t.TempDir()})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ReturnPolicy != ReturnPipefail {
		t.Errorf("ReturnPolicy = %q, want %q", cfg.ReturnPolicy, ReturnPipefail)
	}
	if cfg.MaxThreads != 3 {
		t.Errorf("MaxThreads = %d, want 3", cfg.MaxThreads)
	}
	if !cfg.UI.Verbose {
		t.Error("UI.Verbose = false, want true")
	}
}

func TestLoad_InvalidEnvironmentOverride(t *testing.T) {
	t.Setenv("PROCSH_RETURN_POLICY", "sometimes")

	_, _, err := NewProvider().Load(t.Context(), LoadOptions{ConfigDirPath: t.TempDir()})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Load() error = %v, want %v", err, ErrInvalidConfig)
	}
}

func TestLoad_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if _, _, err := NewProvider().Load(ctx, LoadOptions{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Load() error = %v, want %v", err, context.Canceled)
	}
}

func TestGenerateCUE_RoundTrip(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.ReturnPolicy = ReturnPipefail
	cfg.Predictors["mytool"] = "inspect"
	cfg.Aliases["ll"] = AliasConfig{Argv: []string{"ls", "-l"}}
	cfg.Aliases["hi"] = AliasConfig{ExecBlock: "echo \"hi $1\""}

	path := writeConfig(t, GenerateCUE(cfg))
	got, _, err := NewProvider().Load(t.Context(), LoadOptions{ConfigFilePath: path})
	if err != nil {
		t.Fatalf("Load(GenerateCUE()) error = %v", err)
	}
	if got.ReturnPolicy != ReturnPipefail || got.Predictors["mytool"] != "inspect" {
		t.Errorf("Load(GenerateCUE()) = %+v, want pipefail and mytool=inspect", got)
	}
	if got.Aliases["hi"].ExecBlock != "echo \"hi $1\"" {
		t.Errorf("Aliases[hi].ExecBlock = %q, want %q", got.Aliases["hi"].ExecBlock, "echo \"hi $1\"")
	}
}

func TestCreateDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	SetConfigDirOverride(dir)
	t.Cleanup(Reset)

	path, err := CreateDefaultConfig()
	if err != nil {
		t.Fatalf("CreateDefaultConfig() error = %v", err)
	}
	if path != filepath.Join(dir, "config.cue") {
		t.Errorf("CreateDefaultConfig() = %q, want %q", path, filepath.Join(dir, "config.cue"))
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file not written: %v", err)
	}

	// A second call leaves the existing file alone.
	if err := os.WriteFile(path, []byte("max_threads: 5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := CreateDefaultConfig(); err != nil {
		t.Fatalf("CreateDefaultConfig() second call error = %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "max_threads: 5\n" {
		t.Errorf("config file = %q, want it untouched", data)
	}
}
