package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/quarryd/quarry/internal/harvest"
	"github.com/quarryd/quarry/internal/telemetry"
)

const redisKeyPrefix = "quarry:response:"

// Redis is a response cache backed by a Redis instance, for deployments
// where multiple service replicas should share one cache. TTL is enforced by
// Redis key expiry; LRU pressure is delegated to the server's maxmemory
// policy. Any backend error degrades to a miss.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	clock  harvest.Clock
	logger *zap.Logger

	hits     atomic.Uint64
	misses   atomic.Uint64
	degrades atomic.Uint64
}

type redisEnvelope struct {
	CreatedAt time.Time              `json:"created_at"`
	Result    harvest.WorkflowResult `json:"result"`
}

// NewRedis builds a Redis-backed response cache.
func NewRedis(client *redis.Client, ttl time.Duration, clock harvest.Clock, logger *zap.Logger) *Redis {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Redis{client: client, ttl: ttl, clock: clock, logger: logger}
}

// Get fetches and decodes the stored result. Backend and decode errors are
// logged as warnings and reported as misses, never as workflow errors.
func (r *Redis) Get(ctx context.Context, key string) (harvest.WorkflowResult, time.Duration, bool) {
	raw, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.degrade("get", err)
		}
		r.misses.Add(1)
		telemetry.CountCacheEvent("miss")
		return harvest.WorkflowResult{}, 0, false
	}
	var env redisEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		r.degrade("decode", err)
		r.misses.Add(1)
		telemetry.CountCacheEvent("miss")
		return harvest.WorkflowResult{}, 0, false
	}
	r.hits.Add(1)
	telemetry.CountCacheEvent("hit")
	return env.Result, r.clock.Now().Sub(env.CreatedAt), true
}

// Put stores the result with the configured TTL. Errors are swallowed.
func (r *Redis) Put(ctx context.Context, key string, result harvest.WorkflowResult) {
	env := redisEnvelope{CreatedAt: r.clock.Now(), Result: result}
	raw, err := json.Marshal(env)
	if err != nil {
		r.degrade("encode", err)
		return
	}
	if err := r.client.Set(ctx, redisKeyPrefix+key, raw, r.ttl).Err(); err != nil {
		r.degrade("set", err)
	}
}

// Stats reports hit/miss counters. Size is unknown for a shared backend.
func (r *Redis) Stats() Stats {
	return Stats{
		Hits:   r.hits.Load(),
		Misses: r.misses.Load(),
	}
}

// Ping verifies the backend is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (r *Redis) degrade(op string, err error) {
	r.degrades.Add(1)
	telemetry.CountCacheEvent("error")
	r.logger.Warn("response cache degraded to miss",
		zap.String("op", op), zap.Error(err))
}
