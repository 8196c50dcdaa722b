package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quarryd/quarry/internal/clock/system"
	"github.com/quarryd/quarry/internal/harvest"
)

// unreachableClient talks to a port nothing listens on, with retries off so
// failures surface immediately.
func unreachableClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestRedisDegradesToMissOnBackendError(t *testing.T) {
	t.Parallel()

	c := NewRedis(unreachableClient(), time.Minute, system.New(), zap.NewNop())

	_, _, ok := c.Get(context.Background(), "some-key")
	require.False(t, ok, "backend errors must read as misses")

	// Put swallows the error; the workflow result is still returned upstream.
	c.Put(context.Background(), "some-key", harvest.WorkflowResult{WorkflowID: "wf-1"})

	stats := c.Stats()
	require.Equal(t, uint64(0), stats.Hits)
	require.Equal(t, uint64(1), stats.Misses)
}

func TestRedisPingReportsUnreachableBackend(t *testing.T) {
	t.Parallel()

	c := NewRedis(unreachableClient(), time.Minute, system.New(), zap.NewNop())
	require.Error(t, c.Ping(context.Background()))
}
