package deps

import (
	"os"
	"path/filepath"
	"testing"

	"rehearse/internal/config"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Blank", Command: "  ", Optional: true},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Detail != "" {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary to be unavailable with detail, got %#v", results[1])
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}
	if results[2].Detail != "command not configured" {
		t.Fatalf("unexpected detail for blank command: %q", results[2].Detail)
	}

	missing := Missing(results)
	if len(missing) != 1 || missing[0].Name != "Missing" {
		t.Fatalf("expected only required missing binary, got %#v", missing)
	}
}

func TestRequirements(t *testing.T) {
	cfg := config.Default()
	if reqs := Requirements(&cfg); len(reqs) != 1 || reqs[0].Command != "ffmpeg" {
		t.Fatalf("expected ffmpeg only, got %#v", reqs)
	}

	cfg.Guidance.DetectorCommand = "python3 -m facedetect --model small"
	reqs := Requirements(&cfg)
	if len(reqs) != 2 || reqs[1].Command != "python3" || !reqs[1].Optional {
		t.Fatalf("expected optional detector requirement, got %#v", reqs)
	}
}
