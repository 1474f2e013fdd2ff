package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"pulmo/internal/config"
	"pulmo/internal/daemon"
	"pulmo/internal/intake"
	"pulmo/internal/ipc"
	"pulmo/internal/logging"
	"pulmo/internal/registry"
	"pulmo/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	store      *registry.Store
	daemon     *daemon.Daemon
	server     *ipc.Server
	socketPath string
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	base := testsupport.BaseDir(cfg)

	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)

	configPath := filepath.Join(homeDir, ".config", "pulmo", "config.toml")
	writeTestConfig(t, configPath, cfg)

	logger := logging.NewNop()
	d, err := daemon.New(cfg, logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		t.Fatalf("daemon.Start: %v", err)
	}

	socketPath := cfg.SocketPath()
	srv, err := ipc.NewServer(ctx, socketPath, d, logger)
	if err != nil {
		cancel()
		d.Stop()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping CLI test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	t.Cleanup(func() {
		cancel()
		srv.Close()
		d.Stop()
		_ = d.Close()
	})

	return &cliTestEnv{
		cfg:        cfg,
		store:      d.Store(),
		daemon:     d,
		server:     srv,
		socketPath: socketPath,
		configPath: configPath,
		baseDir:    base,
	}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	content, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// submitSample admits the sample report through the daemon directly and waits
// for it to reach a terminal stage so list/show/report commands have data.
func submitSample(t *testing.T, env *cliTestEnv, patientID string) *registry.Request {
	t.Helper()
	ctx := context.Background()

	path := testsupport.WritePFTFixture(t, filepath.Join(env.baseDir, "intake"))
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	req, err := env.daemon.Submit(ctx, submission(path, data, patientID))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		current, err := env.store.GetByID(ctx, req.ID)
		if err != nil {
			t.Fatalf("get request: %v", err)
		}
		if current != nil && current.Stage.IsTerminal() {
			if current.Stage != registry.StageCompleted {
				t.Fatalf("request ended %s: %s", current.Stage, current.ErrorMessage)
			}
			return current
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("request %s did not finish", req.ID)
	return nil
}

func writeSampleFixture(t *testing.T, env *cliTestEnv) string {
	t.Helper()
	return testsupport.WritePFTFixture(t, filepath.Join(env.baseDir, "intake"))
}

func submission(path string, data []byte, patientID string) intake.Submission {
	sub := intake.Submission{
		FileName: filepath.Base(path),
		Data:     data,
	}
	if patientID != "" {
		sub.Attributes = map[string]any{"patient_id": patientID}
	}
	return sub
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
