package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 60*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, "aiproxy.db", cfg.AccessLog.Database)
	assert.Equal(t, "@hourly", cfg.AccessLog.PruneSchedule)
	assert.Equal(t, 10*time.Minute, cfg.AccessLog.ChunkTTL)
	assert.Equal(t, "memory", cfg.Queue.Backend)
	assert.Equal(t, 500*time.Millisecond, cfg.Queue.PollInterval)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromBytes(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(`
server:
  port: 9000
providers:
  openai:
    api_key: sk-test
accesslog:
  retention_days: 14
queue:
  backend: memory
logging:
  level: debug
`))
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "sk-test", cfg.Providers.OpenAI.APIKey)
	assert.Equal(t, 14, cfg.AccessLog.RetentionDays)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Unset sections still get defaults.
	assert.Equal(t, 60*time.Second, cfg.Upstream.Timeout)
}

func TestLoadFromBytes_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_AIPROXY_KEY", "sk-from-env")

	cfg, err := LoadFromBytes([]byte(`
providers:
  openai:
    api_key: ${TEST_AIPROXY_KEY}
    api_base: ${TEST_AIPROXY_BASE:-https://fallback.example.com}
`))
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", cfg.Providers.OpenAI.APIKey)
	assert.Equal(t, "https://fallback.example.com", cfg.Providers.OpenAI.APIBase)
}

func TestLoadFromBytes_EnvOverridesDefault(t *testing.T) {
	t.Setenv("TEST_AIPROXY_BASE", "https://set.example.com")

	cfg, err := LoadFromBytes([]byte(`
providers:
  openai:
    api_base: ${TEST_AIPROXY_BASE:-https://fallback.example.com}
`))
	require.NoError(t, err)
	assert.Equal(t, "https://set.example.com", cfg.Providers.OpenAI.APIBase)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 70000
	assert.ErrorContains(t, cfg.Validate(), "server.port")

	cfg = Default()
	cfg.Queue.Backend = "kafka"
	assert.ErrorContains(t, cfg.Validate(), "queue.backend")

	cfg = Default()
	cfg.Queue.Backend = "nats"
	assert.ErrorContains(t, cfg.Validate(), "queue.nats.url")
	cfg.Queue.NATS.URL = "nats://localhost:4222"
	assert.NoError(t, cfg.Validate())

	cfg = Default()
	cfg.AccessLog.RetentionDays = -1
	assert.ErrorContains(t, cfg.Validate(), "retention_days")

	cfg = Default()
	cfg.Providers.Azure.APIKey = "key"
	assert.ErrorContains(t, cfg.Validate(), "providers.azure")
	cfg.Providers.Azure.ResourceName = "res"
	cfg.Providers.Azure.DeploymentID = "dep"
	cfg.Providers.Azure.APIVersion = "2023-05-15"
	assert.NoError(t, cfg.Validate())
}
