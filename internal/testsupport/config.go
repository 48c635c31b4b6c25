package testsupport

import (
	"path/filepath"
	"testing"

	"quill/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Fetch.TimeoutSeconds = 5

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return &cfg
}

// WithFetchConcurrency overrides the fetch concurrency cap on the test config.
func WithFetchConcurrency(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Fetch.Concurrency = n
	}
}

// WithFetchTimeout overrides the per-fetch timeout in seconds.
func WithFetchTimeout(seconds int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Fetch.TimeoutSeconds = seconds
	}
}

// WithCheckpointInterval overrides the playback checkpoint interval in seconds.
func WithCheckpointInterval(seconds int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Playback.CheckpointInterval = seconds
	}
}
