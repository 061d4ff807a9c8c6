package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "BATCHPIPE"

// ConfigPathEnv names an explicit config file.
const ConfigPathEnv = "BATCHPIPE_CONFIG_PATH"

// Loader handles Viper-based configuration loading.
//
// Nested keys map to environment variables by upper-casing and replacing dots
// with underscores: engine.pool_size becomes BATCHPIPE_ENGINE_POOL_SIZE.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a [Loader] with environment overrides and defaults bound.
func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Short aliases for the most commonly overridden settings.
	_ = v.BindEnv("worker.binary_path", "BATCHPIPE_WORKER_BINARY_PATH", "BATCHPIPE_WORKER_PATH")
	_ = v.BindEnv("params.database_url", "BATCHPIPE_PARAMS_DATABASE_URL", "BATCHPIPE_DATABASE_URL")

	setDefaults(v, DefaultConfig())
	return &Loader{v: v}
}

// setDefaults registers every key so environment variables apply even when no
// config file mentions the key.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("engine.pool_size", cfg.Engine.PoolSize)
	v.SetDefault("engine.relay_buffer", cfg.Engine.RelayBuffer)

	v.SetDefault("registry.functions_path", cfg.Registry.FunctionsPath)
	v.SetDefault("registry.parameters_path", cfg.Registry.ParametersPath)
	v.SetDefault("registry.custom_dir", cfg.Registry.CustomDir)

	v.SetDefault("params.path", cfg.Params.Path)
	v.SetDefault("params.preset", cfg.Params.Preset)
	v.SetDefault("params.database_url", cfg.Params.DatabaseURL)

	v.SetDefault("report.dir", cfg.Report.Dir)
	v.SetDefault("report.minio.endpoint", cfg.Report.MinIO.Endpoint)
	v.SetDefault("report.minio.access_key", cfg.Report.MinIO.AccessKey)
	v.SetDefault("report.minio.secret_key", cfg.Report.MinIO.SecretKey)
	v.SetDefault("report.minio.bucket", cfg.Report.MinIO.Bucket)
	v.SetDefault("report.minio.use_ssl", cfg.Report.MinIO.UseSSL)
	v.SetDefault("report.minio.region", cfg.Report.MinIO.Region)
	v.SetDefault("report.minio.prefix", cfg.Report.MinIO.Prefix)

	v.SetDefault("output.color", cfg.Output.Color)
	v.SetDefault("output.log_level", cfg.Output.LogLevel)
	v.SetDefault("output.log_format", cfg.Output.LogFormat)

	v.SetDefault("worker.binary_path", cfg.Worker.BinaryPath)
}

// Load reads configuration from the first file found in priority order and
// applies environment overrides. With no file, defaults and environment
// variables are used.
func (l *Loader) Load() (*Config, error) {
	if path := os.Getenv(ConfigPathEnv); path != "" {
		return l.LoadFromFile(path)
	}
	for _, path := range searchPaths() {
		if _, err := os.Stat(path); err == nil {
			return l.LoadFromFile(path)
		}
	}
	return l.unmarshal()
}

func searchPaths() []string {
	var paths []string
	if path, err := DefaultConfigPath(); err == nil {
		paths = append(paths, path)
	}
	return append(paths, "batchpipe.yaml")
}

// ConfigDir returns the platform-standard batchpipe config directory.
func ConfigDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user config directory: %w", err)
	}
	return filepath.Join(dir, "batchpipe"), nil
}

// DefaultConfigPath returns the config file inside [ConfigDir].
func DefaultConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// LoadFromFile reads configuration from path and applies environment
// overrides. The file format is taken from the extension.
func (l *Loader) LoadFromFile(path string) (*Config, error) {
	l.v.SetConfigFile(path)
	if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext != "" {
		l.v.SetConfigType(ext)
	}
	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return l.unmarshal()
}

// ConfigFileUsed returns the file the last load read, or "".
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

func (l *Loader) unmarshal() (*Config, error) {
	cfg := DefaultConfig()
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// MustLoad loads configuration and panics on error.
func MustLoad() *Config {
	cfg, err := NewLoader().Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}
