package deps

import (
	"os"
	"path/filepath"
	"testing"

	"quill/internal/config"
)

func TestCheckReportsMissingBinary(t *testing.T) {
	statuses := Check([]Requirement{{Name: "player", Command: "definitely-not-a-real-player-binary"}})
	if len(statuses) != 1 {
		t.Fatalf("expected 1 status, got %d", len(statuses))
	}
	if statuses[0].Available {
		t.Fatal("missing binary reported available")
	}
	if statuses[0].Detail == "" {
		t.Fatal("expected a detail message for the missing binary")
	}
}

func TestCheckReportsUnconfiguredCommand(t *testing.T) {
	statuses := Check([]Requirement{{Name: "player"}})
	if statuses[0].Available || statuses[0].Detail != "command not configured" {
		t.Fatalf("unexpected status: %+v", statuses[0])
	}
}

func TestCheckResolvesAndProbesVersion(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "fakeplayer")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho 'fakeplayer 0.1.0'\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))

	statuses := Check([]Requirement{{Name: "player", Command: "fakeplayer"}})
	status := statuses[0]
	if !status.Available {
		t.Fatalf("stub binary not found: %+v", status)
	}
	if status.Command != script {
		t.Fatalf("expected resolved path %q, got %q", script, status.Command)
	}
	if status.Version != "fakeplayer 0.1.0" {
		t.Fatalf("unexpected version: %q", status.Version)
	}
}

func TestRequirementsUseConfiguredPlayer(t *testing.T) {
	cfg := config.Default()
	cfg.Player.Binary = "mpv"
	reqs := Requirements(&cfg)
	if len(reqs) != 1 || reqs[0].Command != "mpv" {
		t.Fatalf("unexpected requirements: %+v", reqs)
	}
}
