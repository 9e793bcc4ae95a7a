package clients

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/JasonWangA/bk-ci/internal/config"
	"github.com/JasonWangA/bk-ci/internal/orchestrator"
)

const redisProbeName = "redis"

// releaseScript deletes KEYS[1] only while it still holds ARGV[1].
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// redisConn is the subset of Redis used by RedisClient. It is implemented by
// the real go-redis client and by test doubles.
type redisConn interface {
	PingResult(ctx context.Context) (string, error)
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	DeleteIfEquals(ctx context.Context, key, value string) (int64, error)
	Close() error
}

// realRedisConn adapts a *redis.Client to redisConn. The wrapper exists so
// tests can inject a fake without constructing go-redis command values.
type realRedisConn struct {
	client *redis.Client
}

func (r *realRedisConn) PingResult(ctx context.Context) (string, error) {
	return r.client.Ping(ctx).Result()
}

func (r *realRedisConn) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	// SET key value NX PX ttl
	return r.client.SetNX(ctx, key, value, ttl).Result()
}

func (r *realRedisConn) DeleteIfEquals(ctx context.Context, key, value string) (int64, error) {
	return releaseScript.Run(ctx, r.client, []string{key}, value).Int64()
}

func (r *realRedisConn) Close() error {
	return r.client.Close()
}

// RedisClient is the lease store behind the fleet-wide bootstrap lock. It
// implements lock.Store and exposes a Probe method for health checks. Every
// call goes through the circuit breaker.
type RedisClient struct {
	cb   *gobreaker.CircuitBreaker
	conn redisConn
}

// NewRedisClient creates a RedisClient. go-redis dials lazily, so no
// connection is opened until the first command.
func NewRedisClient(cfg config.RedisConfig, cb *gobreaker.CircuitBreaker) *RedisClient {
	return &RedisClient{
		cb: cb,
		conn: &realRedisConn{
			client: redis.NewClient(&redis.Options{
				Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
				Password: cfg.Password,
				DB:       cfg.DB,
			}),
		},
	}
}

// SetNX stores value under key only if the key is absent, expiring it after
// ttl. It implements lock.Store.
func (c *RedisClient) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	res, err := c.cb.Execute(func() (any, error) {
		return c.conn.SetNX(ctx, key, value, ttl)
	})
	if err != nil {
		return false, breakerError("redis set nx", err)
	}
	return res.(bool), nil
}

// CompareAndDelete removes key only while it still holds value. It implements
// lock.Store.
func (c *RedisClient) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	res, err := c.cb.Execute(func() (any, error) {
		return c.conn.DeleteIfEquals(ctx, key, value)
	})
	if err != nil {
		return false, breakerError("redis compare and delete", err)
	}
	return res.(int64) == 1, nil
}

// Probe sends a PING command to Redis and validates the PONG response. After
// 3 consecutive failures the breaker opens and subsequent calls return
// immediately with "circuit open".
func (c *RedisClient) Probe(ctx context.Context) orchestrator.ProbeResult {
	start := time.Now()

	_, err := c.cb.Execute(func() (any, error) {
		val, err := c.conn.PingResult(ctx)
		if err != nil {
			return nil, fmt.Errorf("ping: %w", err)
		}
		if val != "PONG" {
			return nil, fmt.Errorf("unexpected PING response: %q", val)
		}
		return nil, nil
	})

	return probeResult(redisProbeName, start, err)
}

// Close releases the underlying connection pool.
func (c *RedisClient) Close() error {
	return c.conn.Close()
}
