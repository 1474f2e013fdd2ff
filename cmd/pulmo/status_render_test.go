package main

import (
	"strings"
	"testing"
)

func TestRenderStatusLinePlain(t *testing.T) {
	line := renderStatusLine("Pulmo", statusOK, "Running (pid 42)", false)
	requireContains(t, line, "Pulmo:")
	requireContains(t, line, "[OK] Running (pid 42)")
	if strings.Contains(line, "\x1b[") {
		t.Fatalf("expected no ANSI escapes, got %q", line)
	}
}

func TestRenderStatusLineColorized(t *testing.T) {
	line := renderStatusLine("Failed", statusError, "2", true)
	if !strings.HasPrefix(line, ansiRed) {
		t.Fatalf("expected red prefix, got %q", line)
	}
	if !strings.HasSuffix(line, ansiReset) {
		t.Fatalf("expected reset suffix, got %q", line)
	}
}

func TestRenderSectionHeader(t *testing.T) {
	lines := renderSectionHeader("Registry Status", false)
	if len(lines) != 2 {
		t.Fatalf("expected header and rule, got %d lines", len(lines))
	}
	requireContains(t, lines[0], "== Registry Status ==")
	if len(lines[1]) != len(lines[0]) {
		t.Fatalf("expected rule length %d, got %d", len(lines[0]), len(lines[1]))
	}
}

func TestFormatStageLabel(t *testing.T) {
	cases := map[string]string{
		"queued":       "Queued",
		"interpreting": "Interpreting",
		"":             "Unknown",
	}
	for input, want := range cases {
		if got := formatStageLabel(input); got != want {
			t.Fatalf("formatStageLabel(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestParseAttributeFlags(t *testing.T) {
	attrs, err := parseAttributeFlags([]string{"patient_id=MRN-1", "age=64", "smoker=false"})
	if err != nil {
		t.Fatalf("parseAttributeFlags: %v", err)
	}
	if attrs["patient_id"] != "MRN-1" {
		t.Fatalf("expected patient_id MRN-1, got %v", attrs["patient_id"])
	}
	if attrs["age"] != float64(64) {
		t.Fatalf("expected numeric age, got %T %v", attrs["age"], attrs["age"])
	}
	if attrs["smoker"] != "false" {
		t.Fatalf("expected string passthrough, got %v", attrs["smoker"])
	}

	if _, err := parseAttributeFlags([]string{"missing-separator"}); err == nil {
		t.Fatal("expected error for value without separator")
	}
}

func TestRenderTable(t *testing.T) {
	out := renderTable(
		[]string{"ID", "Count"},
		[][]string{{"abc", "3"}},
		[]columnAlignment{alignLeft, alignRight},
	)
	requireContains(t, out, "ID")
	requireContains(t, out, "abc")
	requireContains(t, out, "3")
}
