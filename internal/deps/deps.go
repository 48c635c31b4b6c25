// Package deps verifies the external binaries quill drives.
package deps

import (
	"bufio"
	"bytes"
	"fmt"
	"os/exec"
	"strings"

	"quill/internal/config"
)

// Requirement names one external command quill needs at runtime.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports a requirement's availability on this host.
type Status struct {
	Requirement
	Available bool
	Version   string
	Detail    string
}

// Requirements returns the external commands the given configuration
// implies. Today that is only the player binary.
func Requirements(cfg *config.Config) []Requirement {
	return []Requirement{
		{
			Name:        "player",
			Command:     cfg.Player.Binary,
			Description: "audio backend used for playback",
		},
	}
}

// Check resolves each requirement on PATH and probes its version.
func Check(requirements []Requirement) []Status {
	statuses := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		status := Status{Requirement: req}
		command := strings.TrimSpace(req.Command)
		if command == "" {
			status.Detail = "command not configured"
			statuses = append(statuses, status)
			continue
		}
		resolved, err := exec.LookPath(command)
		if err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", command)
			statuses = append(statuses, status)
			continue
		}
		status.Available = true
		status.Command = resolved
		status.Version = probeVersion(resolved)
		statuses = append(statuses, status)
	}
	return statuses
}

// probeVersion runs `<binary> --version` and returns the first output
// line. mpv and compatible players all answer this flag.
func probeVersion(binary string) string {
	out, err := versionOutput(binary)
	if err != nil {
		return ""
	}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text())
	}
	return ""
}

var versionOutput = func(binary string) ([]byte, error) {
	return exec.Command(binary, "--version").Output()
}
