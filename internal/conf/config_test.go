package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigExpandsEnvAndDefaults(t *testing.T) {
	t.Setenv("TEST_LLM_KEY", "sk-test")

	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  port: ":9090"
database:
  driver: sqlite
  dsn: ":memory:"
llm:
  api_key: "${TEST_LLM_KEY}"
crawl:
  timezone: Asia/Shanghai
  attempt_timeout: 5s
pipeline:
  platforms: [x]
jobs:
  - name: "sys:source_ping"
    cron: "@every 5m"
    enable: true
    params:
      timeout: 3
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, "sk-test", cfg.LLM.ApiKey)
	assert.Equal(t, "Asia/Shanghai", cfg.Crawl.Timezone)
	assert.Equal(t, 5*time.Second, cfg.Crawl.AttemptTimeout)
	assert.Equal(t, 3, cfg.Crawl.MaxAttempts)
	assert.Equal(t, []string{"x"}, cfg.Pipeline.Platforms)
	require.Len(t, cfg.Jobs, 1)
	assert.Equal(t, "sys:source_ping", cfg.Jobs[0].Name)
}

func TestLoadConfigRejectsLockShorterThanPublishTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
publish:
  timeout: 20s
  lock_ttl: 10s
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish.lock_ttl")

	// 默认值本身是合法的
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: \":9090\"\n"), 0o644))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Greater(t, cfg.Publish.LockTTL, cfg.Publish.Timeout)
	assert.Equal(t, 5*time.Minute, cfg.Publish.RetryDelay)
}
