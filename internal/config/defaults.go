package config

const (
	defaultConfigPath         = "~/.config/aer/config.toml"
	defaultStateDir           = "~/.local/share/aer"
	defaultLogDir             = "~/.local/share/aer/logs"
	defaultWorkerBinary       = "aer-gpu-runtime"
	defaultStopTimeoutSeconds = 5
	defaultUserAgent          = "aer/dev"
	defaultMaxRedirects       = 10
	defaultParallelDownloads  = 2
	defaultHeaderTimeout      = 30
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Worker: Worker{
			Binary:             defaultWorkerBinary,
			AutoStart:          true,
			StopTimeoutSeconds: defaultStopTimeoutSeconds,
		},
		Downloads: Downloads{
			UserAgent:            defaultUserAgent,
			MaxRedirects:         defaultMaxRedirects,
			Parallel:             defaultParallelDownloads,
			HeaderTimeoutSeconds: defaultHeaderTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
