package clients

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JasonWangA/bk-ci/internal/lock"
)

// mockRedisConn is a test double for redisConn that keeps keys in a map.
type mockRedisConn struct {
	mu      sync.Mutex
	keys    map[string]string
	ttls    map[string]time.Duration
	pingVal string
	err     error
}

func newMockRedisConn() *mockRedisConn {
	return &mockRedisConn{
		keys:    make(map[string]string),
		ttls:    make(map[string]time.Duration),
		pingVal: "PONG",
	}
}

func (m *mockRedisConn) PingResult(_ context.Context) (string, error) {
	return m.pingVal, m.err
}

func (m *mockRedisConn) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = value
	m.ttls[key] = ttl
	return true, nil
}

func (m *mockRedisConn) DeleteIfEquals(_ context.Context, key, value string) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[key] != value {
		return 0, nil
	}
	delete(m.keys, key)
	return 1, nil
}

func (m *mockRedisConn) Close() error { return nil }

func TestRedisProbe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		pingVal    string
		pingErr    error
		wantOK     bool
		wantErrSub string
	}{
		{
			name:    "success, PING returns PONG",
			pingVal: "PONG",
			wantOK:  true,
		},
		{
			name:       "failure, PING returns error",
			pingErr:    errors.New("connection refused"),
			wantOK:     false,
			wantErrSub: "connection refused",
		},
		{
			name:       "failure, PING returns unexpected value",
			pingVal:    "WHOOPS",
			wantOK:     false,
			wantErrSub: "unexpected PING response",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			conn := newMockRedisConn()
			conn.pingVal, conn.err = tc.pingVal, tc.pingErr
			client := &RedisClient{cb: NewCircuitBreaker("redis-test-" + tc.name), conn: conn}

			result := client.Probe(context.Background())

			assert.Equal(t, redisProbeName, result.Name)
			assert.Equal(t, tc.wantOK, result.OK)
			if tc.wantErrSub != "" {
				assert.Contains(t, result.Error, tc.wantErrSub)
			}
			if tc.wantOK {
				assert.Empty(t, result.Error)
			}
		})
	}
}

func TestRedisProbeCircuitBreaker_OpensAfterThreeFailures(t *testing.T) {
	t.Parallel()

	conn := newMockRedisConn()
	conn.err = errors.New("connection refused")
	client := &RedisClient{cb: NewCircuitBreaker("redis-cb-open-test"), conn: conn}

	for i := 0; i < 3; i++ {
		result := client.Probe(context.Background())
		assert.False(t, result.OK, "probe %d should fail", i+1)
		assert.NotEqual(t, "circuit open", result.Error,
			"probe %d should not be circuit-open yet", i+1)
	}

	result := client.Probe(context.Background())
	assert.False(t, result.OK)
	assert.Equal(t, "circuit open", result.Error)
}

func TestRedisClient_LockStore(t *testing.T) {
	t.Parallel()

	conn := newMockRedisConn()
	client := &RedisClient{cb: NewCircuitBreaker("redis-lock-test"), conn: conn}
	locker := lock.New(client)
	ctx := context.Background()

	h, ok, err := locker.TryAcquire(ctx, "IMAGE_INIT_LOCK", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, h.Owner, conn.keys["IMAGE_INIT_LOCK"])
	assert.Equal(t, time.Minute, conn.ttls["IMAGE_INIT_LOCK"])

	_, ok, err = locker.TryAcquire(ctx, "IMAGE_INIT_LOCK", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must lose")

	require.NoError(t, h.Release(ctx))
	assert.NotContains(t, conn.keys, "IMAGE_INIT_LOCK")
}

func TestRedisClient_CompareAndDeleteKeepsForeignLease(t *testing.T) {
	t.Parallel()

	conn := newMockRedisConn()
	conn.keys["IMAGE_INIT_LOCK"] = "other-owner"
	client := &RedisClient{cb: NewCircuitBreaker("redis-cad-test"), conn: conn}

	deleted, err := client.CompareAndDelete(context.Background(), "IMAGE_INIT_LOCK", "stale-owner")
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.Equal(t, "other-owner", conn.keys["IMAGE_INIT_LOCK"])
}

func TestRedisClient_SetNXCircuitOpen(t *testing.T) {
	t.Parallel()

	conn := newMockRedisConn()
	conn.err = errors.New("dial tcp: connection refused")
	client := &RedisClient{cb: NewCircuitBreaker("redis-setnx-cb-test"), conn: conn}

	for i := 0; i < 3; i++ {
		_, err := client.SetNX(context.Background(), "k", "v", time.Second)
		require.Error(t, err)
		assert.NotErrorIs(t, err, errCircuitOpen)
	}

	_, err := client.SetNX(context.Background(), "k", "v", time.Second)
	assert.ErrorIs(t, err, errCircuitOpen)
}
