// Package config provides configuration loading and management for batchpipe.
//
// Configuration is loaded using Viper, supporting YAML config files and environment
// variable overrides. The package provides defaults that run the built-in
// operation catalog against a project directory without any configuration file.
//
// Key types:
//   - [Config] is the root configuration container with all settings
//   - [Loader] handles Viper-based configuration loading
//   - [EngineConfig] sizes the worker pool and relay buffers
//   - [ParamsConfig] selects the parameter store
//   - [ReportConfig] controls where run reports are archived
//
// Configuration priority (highest to lowest):
//  1. Environment variables (BATCHPIPE_ prefix, e.g. BATCHPIPE_ENGINE_POOL_SIZE)
//  2. Config file specified by BATCHPIPE_CONFIG_PATH
//  3. User config directory (platform-standard):
//     - Linux: ~/.config/batchpipe/config.yaml
//     - macOS: ~/Library/Application Support/batchpipe/config.yaml
//     - Windows: %APPDATA%\batchpipe\config.yaml
//  4. ./batchpipe.yaml
//  5. [DefaultConfig] defaults
package config

import (
	"errors"
	"fmt"
)

// Config represents the root configuration structure.
//
// This is the main configuration container loaded by [Loader] and used throughout
// the application. Use [DefaultConfig] to get defaults.
type Config struct {
	// Engine contains plan walk and venue settings.
	Engine EngineConfig `mapstructure:"engine"`

	// Registry locates operation tables beyond the built-in ones.
	Registry RegistryConfig `mapstructure:"registry"`

	// Params selects the settings store consulted after object attributes
	// and project settings.
	Params ParamsConfig `mapstructure:"params"`

	// Report controls run report archiving.
	Report ReportConfig `mapstructure:"report"`

	// Output contains terminal output and logging configuration.
	Output OutputConfig `mapstructure:"output"`

	// Worker configures the isolated worker process.
	Worker WorkerConfig `mapstructure:"worker"`
}

// EngineConfig sizes the engine's venues.
type EngineConfig struct {
	// PoolSize is the number of concurrent worker slots.
	// The plan walk is sequential, so one slot is enough unless operations
	// are invoked from outside the engine.
	// Default: 1
	PoolSize int `mapstructure:"pool_size"`

	// RelayBuffer is the number of lines buffered between a worker process
	// and the terminal before the worker blocks on output.
	// Default: 64
	RelayBuffer int `mapstructure:"relay_buffer"`
}

// RegistryConfig locates operation tables.
//
// The built-in table is always loaded first. An extra table pair and every
// package under CustomDir are merged after it; duplicate names are skipped.
type RegistryConfig struct {
	// FunctionsPath is an optional extra operations table.
	FunctionsPath string `mapstructure:"functions_path"`

	// ParametersPath is the defaults table paired with FunctionsPath.
	ParametersPath string `mapstructure:"parameters_path"`

	// CustomDir holds custom operation packages, one directory per package.
	// Missing directories are ignored.
	CustomDir string `mapstructure:"custom_dir"`
}

// ParamsConfig selects the settings store.
//
// At most one of Path and DatabaseURL may be set. With neither, only
// project settings and declared defaults are used.
type ParamsConfig struct {
	// Path is a YAML parameter file with named presets.
	Path string `mapstructure:"path"`

	// Preset is the preset read from the file or database.
	// Default: "default"
	Preset string `mapstructure:"preset"`

	// DatabaseURL is a PostgreSQL connection string for a parameters table.
	// Can be overridden with BATCHPIPE_PARAMS_DATABASE_URL.
	DatabaseURL string `mapstructure:"database_url"`
}

// ReportConfig controls where run reports are archived.
type ReportConfig struct {
	// Dir is the local report directory. Empty disables local archiving.
	// Default: ".batchpipe/reports"
	Dir string `mapstructure:"dir"`

	// MinIO uploads reports to an S3-compatible bucket when Endpoint is set.
	MinIO MinIOConfig `mapstructure:"minio"`
}

// MinIOConfig holds the report bucket settings.
type MinIOConfig struct {
	// Endpoint is host:port of the object store. Empty disables uploads.
	Endpoint string `mapstructure:"endpoint"`

	// AccessKey and SecretKey are static credentials.
	// Prefer BATCHPIPE_REPORT_MINIO_ACCESS_KEY and
	// BATCHPIPE_REPORT_MINIO_SECRET_KEY over storing them in a file.
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`

	// Bucket receives the reports and is created on first upload.
	// Default: "batchpipe-reports"
	Bucket string `mapstructure:"bucket"`

	// UseSSL selects https.
	UseSSL bool `mapstructure:"use_ssl"`

	// Region is passed when the bucket is created.
	Region string `mapstructure:"region"`

	// Prefix is prepended to every object key.
	Prefix string `mapstructure:"prefix"`
}

// Enabled reports whether uploads are configured.
func (c MinIOConfig) Enabled() bool {
	return c.Endpoint != ""
}

// OutputConfig contains terminal output and logging configuration.
type OutputConfig struct {
	// Color enables lipgloss styling when stdout is a terminal.
	// Default: true
	Color bool `mapstructure:"color"`

	// LogLevel is one of debug, info, warn or error.
	// Default: "warn"
	LogLevel string `mapstructure:"log_level"`

	// LogFormat is "text" or "json". Logs go to stderr.
	// Default: "text"
	LogFormat string `mapstructure:"log_format"`
}

// WorkerConfig configures the isolated worker process.
type WorkerConfig struct {
	// BinaryPath is the executable started for isolated steps. It must accept
	// the hidden "worker" subcommand. Empty means the running executable.
	// Can be overridden with BATCHPIPE_WORKER_PATH environment variable.
	BinaryPath string `mapstructure:"binary_path"`
}

// DefaultConfig returns a new [Config] with defaults.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			PoolSize:    1,
			RelayBuffer: 64,
		},
		Registry: RegistryConfig{
			CustomDir: "operations",
		},
		Params: ParamsConfig{
			Preset: "default",
		},
		Report: ReportConfig{
			Dir: ".batchpipe/reports",
			MinIO: MinIOConfig{
				Bucket: "batchpipe-reports",
			},
		},
		Output: OutputConfig{
			Color:     true,
			LogLevel:  "warn",
			LogFormat: "text",
		},
	}
}

// Validate checks settings that would otherwise fail late.
func (c *Config) Validate() error {
	var errs []error
	if c.Engine.PoolSize < 1 {
		errs = append(errs, fmt.Errorf("engine.pool_size must be at least 1, got %d", c.Engine.PoolSize))
	}
	if c.Engine.RelayBuffer < 1 {
		errs = append(errs, fmt.Errorf("engine.relay_buffer must be at least 1, got %d", c.Engine.RelayBuffer))
	}
	if c.Params.Path != "" && c.Params.DatabaseURL != "" {
		errs = append(errs, errors.New("params.path and params.database_url are mutually exclusive"))
	}
	if c.Registry.ParametersPath != "" && c.Registry.FunctionsPath == "" {
		errs = append(errs, errors.New("registry.parameters_path requires registry.functions_path"))
	}
	return errors.Join(errs...)
}
