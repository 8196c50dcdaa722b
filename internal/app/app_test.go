package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quarryd/quarry/internal/config"
)

func defaultConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestNewWiresInMemoryDefaults(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), defaultConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Coordinator())
	require.NotNil(t, a.Server())
	require.NotNil(t, a.Logger())
}

func TestNewRejectsUnknownProviders(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig(t)
	cfg.Cache.Backend = "memcached"
	_, err := New(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)

	cfg = defaultConfig(t)
	cfg.Storage.Provider = "dynamo"
	_, err = New(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
}

func TestPipelineDefaultsOverlay(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig(t)
	cfg.Pipeline.EnableSummarization = false
	cfg.Pipeline.Concurrency = 5
	cfg.Pipeline.StageTimeoutSeconds = 45

	pc := pipelineDefaults(cfg.Pipeline)
	require.False(t, pc.EnableSummarization)
	require.Equal(t, 5, pc.Concurrency)
	require.Equal(t, 45, pc.StageTimeoutSeconds)
	require.Equal(t, 10, pc.BatchSize, "unset knobs keep their defaults")
}
