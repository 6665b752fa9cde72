// SPDX-License-Identifier: MPL-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestProvider_SearchesConfigDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName+"."+ConfigFileExt)
	if err := os.WriteFile(path, []byte("max_threads: 4\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, got, err := NewProvider().Load(t.Context(), LoadOptions{ConfigDirPath: dir})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got != path {
		t.Errorf("Load() path = %q, want %q", got, path)
	}
	if cfg.MaxThreads != 4 {
		t.Errorf("MaxThreads = %d, want 4", cfg.MaxThreads)
	}
	if cfg.LineBuffer != DefaultConfig().LineBuffer {
		t.Errorf("LineBuffer = %d, want default %d", cfg.LineBuffer, DefaultConfig().LineBuffer)
	}
}

func TestProvider_ExplicitFileWinsOverDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.cue"), []byte("max_threads: 4\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	explicit := filepath.Join(t.TempDir(), "other.cue")
	if err := os.WriteFile(explicit, []byte("max_threads: 6\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, got, err := NewProvider().Load(t.Context(), LoadOptions{ConfigFilePath: explicit, ConfigDirPath: dir})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got != explicit || cfg.MaxThreads != 6 {
		t.Errorf("Load() = %d from %q, want 6 from %q", cfg.MaxThreads, got, explicit)
	}
}
