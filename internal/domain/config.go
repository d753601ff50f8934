package domain

import "time"

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Download DownloadConfig `mapstructure:"download"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DownloadConfig contains download-engine configuration
type DownloadConfig struct {
	Dir              string        `mapstructure:"dir"`
	ConcurrentLimit  int           `mapstructure:"concurrent_limit"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
	UserAgent        string        `mapstructure:"user_agent"`
}

// LoggingConfig contains logging-related configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, or file path
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8090,
		},
		Download: DownloadConfig{
			Dir:              "$HOME/Downloads/streamvault",
			ConcurrentLimit:  2,
			MaxRetries:       3,
			RetryBackoff:     1 * time.Second,
			RequestTimeout:   30 * time.Second,
			ProgressInterval: 500 * time.Millisecond,
			UserAgent:        "streamvault/1.0",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			OutputPath: "stdout",
		},
	}
}
