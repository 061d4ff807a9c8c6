package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolateConfig points every config search location at empty temp dirs.
func isolateConfig(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv(ConfigPathEnv, "")
	chdir(t, t.TempDir())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 1, cfg.Engine.PoolSize)
	assert.Equal(t, 64, cfg.Engine.RelayBuffer)
	assert.Equal(t, "default", cfg.Params.Preset)
	assert.Equal(t, ".batchpipe/reports", cfg.Report.Dir)
	assert.Equal(t, "batchpipe-reports", cfg.Report.MinIO.Bucket)
	assert.False(t, cfg.Report.MinIO.Enabled())
	assert.True(t, cfg.Output.Color)
	assert.Equal(t, "warn", cfg.Output.LogLevel)
	assert.Empty(t, cfg.Worker.BinaryPath)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "zero pool", modify: func(c *Config) { c.Engine.PoolSize = 0 }, wantErr: "engine.pool_size"},
		{name: "zero relay buffer", modify: func(c *Config) { c.Engine.RelayBuffer = 0 }, wantErr: "engine.relay_buffer"},
		{
			name: "two parameter stores",
			modify: func(c *Config) {
				c.Params.Path = "params.yaml"
				c.Params.DatabaseURL = "postgres://localhost/batch"
			},
			wantErr: "mutually exclusive",
		},
		{name: "orphan defaults table", modify: func(c *Config) { c.Registry.ParametersPath = "p.csv" }, wantErr: "requires registry.functions_path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewLoader(t *testing.T) {
	loader := NewLoader()
	assert.NotNil(t, loader)
	assert.NotNil(t, loader.v)
}

func TestLoader_LoadFromFile(t *testing.T) {
	isolateConfig(t)
	configPath := filepath.Join(t.TempDir(), "test-config.yaml")
	configContent := `
engine:
  pool_size: 4
params:
  path: params.yaml
  preset: fast
report:
  minio:
    endpoint: localhost:9000
    bucket: runs
output:
  log_format: json
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	loader := NewLoader()
	cfg, err := loader.LoadFromFile(configPath)

	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Engine.PoolSize)
	assert.Equal(t, 64, cfg.Engine.RelayBuffer, "unset keys keep defaults")
	assert.Equal(t, "params.yaml", cfg.Params.Path)
	assert.Equal(t, "fast", cfg.Params.Preset)
	assert.True(t, cfg.Report.MinIO.Enabled())
	assert.Equal(t, "runs", cfg.Report.MinIO.Bucket)
	assert.Equal(t, "json", cfg.Output.LogFormat)
	assert.Equal(t, configPath, loader.ConfigFileUsed())
}

func TestLoader_LoadFromFile_NonExistent(t *testing.T) {
	loader := NewLoader()
	_, err := loader.LoadFromFile("/nonexistent/path/config.yaml")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestLoader_LoadFromFile_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "invalid.yaml")
	invalidContent := `
engine:
  - this is not valid yaml for this structure
    missing: colon here
`
	require.NoError(t, os.WriteFile(configPath, []byte(invalidContent), 0644))

	_, err := NewLoader().LoadFromFile(configPath)

	assert.Error(t, err)
}

func TestLoader_LoadFromFile_InvalidValues(t *testing.T) {
	isolateConfig(t)
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("engine:\n  pool_size: 0\n"), 0644))

	_, err := NewLoader().LoadFromFile(configPath)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestLoader_LoadFromFile_DifferentExtension(t *testing.T) {
	isolateConfig(t)
	configPath := filepath.Join(t.TempDir(), "config.json")
	jsonContent := `{
		"worker": {
			"binary_path": "/json/path/batchpipe"
		}
	}`
	require.NoError(t, os.WriteFile(configPath, []byte(jsonContent), 0644))

	cfg, err := NewLoader().LoadFromFile(configPath)

	require.NoError(t, err)
	assert.Equal(t, "/json/path/batchpipe", cfg.Worker.BinaryPath)
}

func TestLoader_Load_DefaultsWithNoConfigFile(t *testing.T) {
	isolateConfig(t)

	loader := NewLoader()
	cfg, err := loader.Load()

	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Empty(t, loader.ConfigFileUsed())
}

func TestLoader_Load_WithEnvOverride(t *testing.T) {
	isolateConfig(t)
	t.Setenv("BATCHPIPE_WORKER_PATH", "/env/batchpipe")
	t.Setenv("BATCHPIPE_ENGINE_POOL_SIZE", "3")
	t.Setenv("BATCHPIPE_REPORT_MINIO_SECRET_KEY", "s3cret")
	t.Setenv("BATCHPIPE_DATABASE_URL", "postgres://db/batch")

	cfg, err := NewLoader().Load()

	require.NoError(t, err)
	assert.Equal(t, "/env/batchpipe", cfg.Worker.BinaryPath)
	assert.Equal(t, 3, cfg.Engine.PoolSize)
	assert.Equal(t, "s3cret", cfg.Report.MinIO.SecretKey)
	assert.Equal(t, "postgres://db/batch", cfg.Params.DatabaseURL)
}

func TestLoader_Load_WithConfigPathEnv(t *testing.T) {
	isolateConfig(t)
	configPath := filepath.Join(t.TempDir(), "custom-config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("report:\n  dir: /var/reports\n"), 0644))
	t.Setenv(ConfigPathEnv, configPath)

	cfg, err := NewLoader().Load()

	require.NoError(t, err)
	assert.Equal(t, "/var/reports", cfg.Report.Dir)
}

func TestLoader_Load_WorkingDirectoryFile(t *testing.T) {
	isolateConfig(t)
	require.NoError(t, os.WriteFile("batchpipe.yaml", []byte("output:\n  color: false\n"), 0644))

	cfg, err := NewLoader().Load()

	require.NoError(t, err)
	assert.False(t, cfg.Output.Color)
}

func TestLoader_Load_UserConfigDirBeatsWorkingDirectory(t *testing.T) {
	isolateConfig(t)
	path, err := DefaultConfigPath()
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("output:\n  log_level: debug\n"), 0644))
	require.NoError(t, os.WriteFile("batchpipe.yaml", []byte("output:\n  log_level: error\n"), 0644))

	cfg, err := NewLoader().Load()

	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Output.LogLevel)
}

func TestLoader_Load_EnvOverridesTakePrecedence(t *testing.T) {
	isolateConfig(t)
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("worker:\n  binary_path: /from/file/batchpipe\n"), 0644))
	t.Setenv(ConfigPathEnv, configPath)
	t.Setenv("BATCHPIPE_WORKER_PATH", "/from/env/override/batchpipe")

	cfg, err := NewLoader().Load()

	require.NoError(t, err)
	assert.Equal(t, "/from/env/override/batchpipe", cfg.Worker.BinaryPath)
}

func TestMustLoad_Success(t *testing.T) {
	isolateConfig(t)

	cfg := MustLoad()
	assert.NotNil(t, cfg)
}

func TestMustLoad_Panics(t *testing.T) {
	isolateConfig(t)
	t.Setenv(ConfigPathEnv, "/nonexistent/batchpipe.yaml")

	assert.Panics(t, func() { MustLoad() })
}

func TestConfigDir(t *testing.T) {
	isolateConfig(t)

	configDir, err := ConfigDir()
	require.NoError(t, err)
	assert.Contains(t, configDir, "batchpipe")

	configPath, err := DefaultConfigPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(configDir, "config.yaml"), configPath)
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, added in Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatal(err)
		}
	})
}
