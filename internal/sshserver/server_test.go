// SPDX-License-Identifier: MPL-2.0

package sshserver

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"slices"
	"strconv"
	"testing"
	"time"

	"github.com/procsh/procsh/internal/testutil"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Token = "secret"
	cfg.Executable = "/usr/local/bin/procsh"
	cfg.HostKeyPath = filepath.Join(t.TempDir(), "host_ed25519")
	cfg.StartupTimeout = 2 * time.Second
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig(t), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		valid  bool
	}{
		{"valid", func(*Config) {}, true},
		{"blank host", func(c *Config) { c.Host = " " }, false},
		{"negative port", func(c *Config) { c.Port = -1 }, false},
		{"port too large", func(c *Config) { c.Port = 70000 }, false},
		{"no token", func(c *Config) { c.Token = "" }, false},
		{"no executable", func(c *Config) { c.Executable = "" }, false},
		{"no host key", func(c *Config) { c.HostKeyPath = "" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig(t)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err == nil) != tt.valid {
				t.Fatalf("Validate() = %v, want valid %v", err, tt.valid)
			}
			if err != nil && !errors.Is(err, ErrInvalidSSHConfig) {
				t.Errorf("errors.Is(Validate(), ErrInvalidSSHConfig) = false, want true")
			}
		})
	}
}

func TestServerStateString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state ServerState
		want  string
	}{
		{StateCreated, "created"},
		{StateStarting, "starting"},
		{StateRunning, "running"},
		{StateStopping, "stopping"},
		{StateStopped, "stopped"},
		{StateFailed, "failed"},
		{ServerState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("ServerState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestServerStartStop(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	if err := s.Start(t.Context()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := s.State(); got != StateRunning {
		t.Errorf("State() = %s, want running", got)
	}
	if s.Port() == 0 {
		t.Errorf("Port() = 0, want the bound port")
	}

	conn, err := net.DialTimeout("tcp", s.Address(), time.Second)
	if err != nil {
		t.Fatalf("dial %s: %v", s.Address(), err)
	}
	testutil.MustClose(t, conn)

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got := s.State(); got != StateStopped {
		t.Errorf("State() after Stop = %s, want stopped", got)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop() error = %v, want nil", err)
	}
	if err := s.Wait(t.Context()); err != nil {
		t.Errorf("Wait() after Stop = %v, want nil", err)
	}
}

func TestServerDoubleStart(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	if err := s.Start(t.Context()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(testutil.DeferStop(t, s))

	if err := s.Start(t.Context()); !errors.Is(err, ErrNotStartable) {
		t.Errorf("second Start() = %v, want ErrNotStartable", err)
	}
}

func TestServerStartWithCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	s := newTestServer(t)
	if err := s.Start(ctx); err == nil {
		t.Fatal("Start() with cancelled context = nil, want error")
	}
	if got := s.State(); got != StateFailed {
		t.Errorf("State() = %s, want failed", got)
	}
	if err := s.Wait(t.Context()); err == nil {
		t.Error("Wait() after failed start = nil, want the start error")
	}
}

func TestServerStartWithUsedPort(t *testing.T) {
	t.Parallel()

	first := newTestServer(t)
	if err := first.Start(t.Context()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(testutil.DeferStop(t, first))

	cfg := testConfig(t)
	cfg.Port = first.Port()
	second, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := second.Start(t.Context()); err == nil {
		testutil.MustStop(t, second)
		t.Fatalf("Start() on port %d = nil, want error", cfg.Port)
	}
	if got := second.State(); got != StateFailed {
		t.Errorf("State() = %s, want failed", got)
	}
}

func TestStopWithoutStart(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got := s.State(); got != StateStopped {
		t.Errorf("State() = %s, want stopped", got)
	}
	if s.Address() != "" || s.Port() != 0 {
		t.Errorf("Address() = %q, Port() = %d, want empty", s.Address(), s.Port())
	}
}

func TestChildArgv(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.ExtraArgs = []string{"--config", "/etc/procsh.cue"}
	s, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	shell := s.childArgv(nil)
	want := []string{cfg.Executable, "--config", "/etc/procsh.cue", "shell"}
	if !slices.Equal(shell, want) {
		t.Errorf("childArgv(nil) = %q, want %q", shell, want)
	}

	run := s.childArgv([]string{"seq", "3", "|", "wc", "-l"})
	want = []string{cfg.Executable, "--config", "/etc/procsh.cue", "run", "--", "seq 3 | wc -l"}
	if !slices.Equal(run, want) {
		t.Errorf("childArgv(cmd) = %q, want %q", run, want)
	}
}

func TestSessionEnv(t *testing.T) {
	t.Parallel()

	base := []string{"HOME=/root"}
	env := sessionEnv(base, []string{"LANG=C"}, "xterm", true)
	want := []string{"HOME=/root", "LANG=C", "TERM=xterm"}
	if !slices.Equal(env, want) {
		t.Errorf("sessionEnv() = %q, want %q", env, want)
	}
	if len(base) != 1 {
		t.Errorf("sessionEnv() modified base: %q", base)
	}

	env = sessionEnv(base, nil, "xterm", false)
	if slices.Contains(env, "TERM=xterm") {
		t.Errorf("sessionEnv() without pty = %q, want no TERM", env)
	}
}

func TestGenerateToken(t *testing.T) {
	t.Parallel()

	a, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	b, _ := GenerateToken()
	if len(a) != 48 || a == b {
		t.Errorf("GenerateToken() = %q, %q, want two distinct 48-char tokens", a, b)
	}
	if _, err := strconv.ParseUint(a[:8], 16, 64); err != nil {
		t.Errorf("GenerateToken() = %q, want hex", a)
	}
}
