package config

const (
	defaultDataDir            = "~/.local/share/quill"
	defaultLogDir             = "~/.local/share/quill/logs"
	defaultFetchConcurrency   = 6
	defaultFetchTimeout       = 30
	defaultUserAgent          = "quill/0.1"
	defaultPlayerBinary       = "mpv"
	defaultStartupTimeout     = 10
	defaultCheckpointInterval = 5
	defaultInitialVolume      = 100
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Fetch: Fetch{
			Concurrency:    defaultFetchConcurrency,
			TimeoutSeconds: defaultFetchTimeout,
			UserAgent:      defaultUserAgent,
		},
		Player: Player{
			Binary:         defaultPlayerBinary,
			StartupTimeout: defaultStartupTimeout,
		},
		Playback: Playback{
			CheckpointInterval: defaultCheckpointInterval,
			InitialVolume:      defaultInitialVolume,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
