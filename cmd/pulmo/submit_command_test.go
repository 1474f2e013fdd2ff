package main

import (
	"encoding/json"
	"path/filepath"
	"testing"
)

func TestSubmitCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	path := writeSampleFixture(t, env)

	out, _, err := runCLI(t, []string{"submit", path, "--patient", "MRN-6001"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	requireContains(t, out, "admitted")
	requireContains(t, out, filepath.Base(path))
}

func TestSubmitCommandWait(t *testing.T) {
	env := setupCLITestEnv(t)
	path := writeSampleFixture(t, env)

	out, _, err := runCLI(t, []string{"submit", path, "--patient", "MRN-6002", "--wait"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("submit --wait: %v", err)
	}
	requireContains(t, out, "admitted")
	requireContains(t, out, "completed")
}

func TestSubmitCommandWaitJSON(t *testing.T) {
	env := setupCLITestEnv(t)
	path := writeSampleFixture(t, env)

	out, _, err := runCLI(t, []string{"submit", path, "--wait", "--json",
		"--attributes", `{"patient_id":"MRN-6003","age":64}`}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("submit --wait --json: %v", err)
	}

	var view map[string]any
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("invalid JSON: %v\noutput: %s", err, out)
	}
	if view["stage"] != "completed" {
		t.Fatalf("expected stage completed, got %v", view["stage"])
	}
	if view["patientId"] != "MRN-6003" {
		t.Fatalf("expected patientId MRN-6003, got %v", view["patientId"])
	}
}

func TestSubmitCommandMissingFile(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"submit", filepath.Join(env.baseDir, "no-such-file.txt")}, env.socketPath, env.configPath)
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestSubmitCommandBadAttributeFlag(t *testing.T) {
	env := setupCLITestEnv(t)
	path := writeSampleFixture(t, env)

	_, _, err := runCLI(t, []string{"submit", path, "--attr", "not-a-pair"}, env.socketPath, env.configPath)
	if err == nil {
		t.Fatal("expected error for malformed --attr value")
	}
}
