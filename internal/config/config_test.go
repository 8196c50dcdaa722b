package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 300, cfg.Workflow.DefaultTimeoutSeconds)
	require.Equal(t, 50, cfg.Workflow.MaxResultsPerRequest)
	require.Equal(t, 8, cfg.Fetch.Concurrency)
	require.Equal(t, int64(2<<20), cfg.Fetch.MaxContentBytes)
	require.Equal(t, "memory", cfg.Cache.Backend)
	require.Equal(t, 256, cfg.Cache.Capacity)
	require.True(t, cfg.Politeness.RespectRobots)
	require.Equal(t, 24, cfg.Politeness.RobotsTTLHours)
	require.InDelta(t, 0.8, cfg.Pipeline.SimilarityThreshold, 1e-9)
	require.Equal(t, 50, cfg.Pipeline.MaxSimilarityPairs)
	require.Equal(t, 10, cfg.Pipeline.MaxSimilarityBatch)
	require.Equal(t, "none", cfg.AI.Provider)
	require.Equal(t, "memory", cfg.Storage.Provider)
	require.Equal(t, 10, cfg.Query.MaxURLs)
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
cache:
  backend: redis
  redis:
    addr: localhost:6379
pipeline:
  similarity_threshold: 0.9
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "redis", cfg.Cache.Backend)
	require.Equal(t, "localhost:6379", cfg.Cache.Redis.Addr)
	require.InDelta(t, 0.9, cfg.Pipeline.SimilarityThreshold, 1e-9)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("QUARRY_SERVER_PORT", "7070")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func(t *testing.T) Config {
		t.Helper()
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cfg := base(t)
	cfg.Cache.Backend = "memcached"
	require.Error(t, cfg.Validate())

	cfg = base(t)
	cfg.Cache.Backend = "redis"
	require.Error(t, cfg.Validate(), "redis backend without addr must fail")

	cfg = base(t)
	cfg.AI.Provider = "cohere"
	require.Error(t, cfg.Validate(), "cohere without api key must fail")

	cfg = base(t)
	cfg.Storage.Provider = "postgres"
	require.Error(t, cfg.Validate(), "postgres without dsn must fail")

	cfg = base(t)
	cfg.Pipeline.SimilarityThreshold = 0.3
	require.Error(t, cfg.Validate())
}
