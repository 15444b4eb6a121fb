package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "localmesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, "localmesh:", cfg.Storage.KeyPrefix)
	assert.Empty(t, cfg.AI.Provider)
	assert.EqualValues(t, 4096, cfg.AI.MaxTokens)
	assert.Equal(t, 0.7, cfg.AI.Temperature)
	assert.Equal(t, 3, cfg.AI.MaxAttempts)
	assert.Equal(t, "/ws", cfg.Collab.Path)
	assert.Equal(t, 64, cfg.Collab.SendBuffer)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	assert.Equal(t, 60*time.Second, cfg.Collab.TaskTimeout())
	assert.Equal(t, 30*time.Minute, cfg.Collab.IdleSessionTTL())
	assert.Equal(t, time.Minute, cfg.Collab.SweepInterval())
	assert.Equal(t, 500*time.Millisecond, cfg.AI.RetryDelay())

	assert.NoError(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  address: ":9090"
storage:
  driver: file
  path: /tmp/mesh.json
ai:
  provider: mock
  model: test-model
  max_attempts: 5
collab:
  task_timeout_seconds: 120
logging:
  level: debug
  format: text
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, DriverFile, cfg.Storage.Driver)
	assert.Equal(t, "/tmp/mesh.json", cfg.Storage.Path)
	assert.Equal(t, ProviderMock, cfg.AI.Provider)
	assert.Equal(t, "test-model", cfg.AI.Model)
	assert.Equal(t, 5, cfg.AI.MaxAttempts)
	assert.Equal(t, 120*time.Second, cfg.Collab.TaskTimeout())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)

	// Unset fields still get defaults.
	assert.Equal(t, "/ws", cfg.Collab.Path)
	assert.EqualValues(t, 4096, cfg.AI.MaxTokens)
	assert.Equal(t, "localmesh:", cfg.Storage.KeyPrefix)
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeConfigFile(t, "server: [not a mapping")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config file")
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  address: ":9090"
storage:
  driver: memory
`)

	t.Setenv("LOCALMESH_SERVER_ADDRESS", ":7070")
	t.Setenv("LOCALMESH_STORAGE_DRIVER", "redis")
	t.Setenv("LOCALMESH_STORAGE_URL", "redis://localhost:6379/0")
	t.Setenv("LOCALMESH_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Address)
	assert.Equal(t, DriverRedis, cfg.Storage.Driver)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Storage.URL)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadProviderKeyFallback(t *testing.T) {
	t.Setenv("LOCALMESH_AI_API_KEY", "")

	t.Run("openai env key", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "sk-test")
		t.Setenv("LOCALMESH_AI_PROVIDER", ProviderOpenAI)

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "sk-test", cfg.AI.APIKey)
	})

	t.Run("anthropic env key", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "ak-test")
		t.Setenv("LOCALMESH_AI_PROVIDER", ProviderAnthropic)

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "ak-test", cfg.AI.APIKey)
	})

	t.Run("explicit key wins", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "sk-env")
		path := writeConfigFile(t, `
ai:
  provider: openai
  api_key: sk-file
`)

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "sk-file", cfg.AI.APIKey)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:   "file driver with path",
			mutate: func(cfg *Config) { cfg.Storage.Driver = DriverFile; cfg.Storage.Path = "/tmp/s.json" },
		},
		{
			name:    "unknown driver",
			mutate:  func(cfg *Config) { cfg.Storage.Driver = "etcd" },
			wantErr: `unknown storage driver "etcd"`,
		},
		{
			name:    "file driver without path",
			mutate:  func(cfg *Config) { cfg.Storage.Driver = DriverFile },
			wantErr: "requires storage.path",
		},
		{
			name:    "redis driver without url",
			mutate:  func(cfg *Config) { cfg.Storage.Driver = DriverRedis },
			wantErr: "requires storage.url",
		},
		{
			name:    "unknown provider",
			mutate:  func(cfg *Config) { cfg.AI.Provider = "llama" },
			wantErr: `unknown ai provider "llama"`,
		},
		{
			name:    "unknown log level",
			mutate:  func(cfg *Config) { cfg.Logging.Level = "trace" },
			wantErr: `unknown log level "trace"`,
		},
		{
			name:    "unknown log format",
			mutate:  func(cfg *Config) { cfg.Logging.Format = "logfmt" },
			wantErr: `unknown log format "logfmt"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
