package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pulmo/internal/config"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.LogDir = filepath.Join(cfg.Paths.DataDir, "logs")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, path, exists, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if exists {
		t.Fatalf("expected missing config to be reported, path=%s", path)
	}
	if cfg.Pipeline.Workers != 4 {
		t.Fatalf("expected default worker count, got %d", cfg.Pipeline.Workers)
	}
	if cfg.Pipeline.Overflow != "queue" {
		t.Fatalf("expected default overflow policy, got %q", cfg.Pipeline.Overflow)
	}
}

func TestLoadParsesAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
data_dir = "` + filepath.Join(dir, "data") + `"
log_dir = "` + filepath.Join(dir, "logs") + `"

[intake]
file_types = [".CSV", "txt", ""]

[pipeline]
workers = 2
overflow = "REJECT"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to be found")
	}
	if cfg.Pipeline.Workers != 2 {
		t.Fatalf("expected 2 workers, got %d", cfg.Pipeline.Workers)
	}
	if cfg.Pipeline.Overflow != "reject" {
		t.Fatalf("expected normalized overflow, got %q", cfg.Pipeline.Overflow)
	}
	if got := strings.Join(cfg.Intake.FileTypes, ","); got != "csv,txt" {
		t.Fatalf("expected normalized file types, got %q", got)
	}
}

func TestLoadRejectsBadOverflow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[pipeline]
overflow = "drop"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected validation error for unknown overflow policy")
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(t.TempDir(), "data")
	if got := cfg.DatabasePath(); got != filepath.Join(cfg.Paths.DataDir, "registry.db") {
		t.Fatalf("unexpected database path: %s", got)
	}
	if got := cfg.StagingDir(); got != filepath.Join(cfg.Paths.DataDir, "staging") {
		t.Fatalf("unexpected staging dir: %s", got)
	}
	if got := cfg.ReportsDir(); got != filepath.Join(cfg.Paths.DataDir, "reports") {
		t.Fatalf("unexpected reports dir: %s", got)
	}
}

func TestWriteSampleConfigRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := config.WriteSampleConfig(path); err != nil {
		t.Fatalf("WriteSampleConfig failed: %v", err)
	}
	if err := config.WriteSampleConfig(path); err == nil {
		t.Fatal("expected error when config already exists")
	}
}
