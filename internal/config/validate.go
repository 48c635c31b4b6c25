package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateFetch(); err != nil {
		return err
	}
	if err := c.validatePlayer(); err != nil {
		return err
	}
	if err := c.validatePlayback(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateFetch() error {
	if c.Fetch.Concurrency < 1 || c.Fetch.Concurrency > 32 {
		return fmt.Errorf("fetch.concurrency must be between 1 and 32, got %d", c.Fetch.Concurrency)
	}
	if c.Fetch.TimeoutSeconds < 1 {
		return errors.New("fetch.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validatePlayer() error {
	if c.Player.Binary == "" {
		return errors.New("player.binary must be set")
	}
	if c.Player.StartupTimeout < 1 {
		return errors.New("player.startup_timeout must be positive")
	}
	return nil
}

func (c *Config) validatePlayback() error {
	if c.Playback.CheckpointInterval < 1 {
		return errors.New("playback.checkpoint_interval must be positive")
	}
	if c.Playback.InitialVolume < 0 || c.Playback.InitialVolume > 100 {
		return fmt.Errorf("playback.initial_volume must be between 0 and 100, got %d", c.Playback.InitialVolume)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
