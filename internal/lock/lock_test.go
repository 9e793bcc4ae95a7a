package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source shared by store and locker.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLocker() (*Locker, *MemoryStore, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	store.now = clock.Now
	l := New(store)
	l.now = clock.Now
	return l, store, clock
}

// countingStore records how many CompareAndDelete calls reach the backend.
type countingStore struct {
	Store
	deletes atomic.Int32
}

func (c *countingStore) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	c.deletes.Add(1)
	return c.Store.CompareAndDelete(ctx, key, value)
}

type errStore struct{ err error }

func (e errStore) SetNX(context.Context, string, string, time.Duration) (bool, error) {
	return false, e.err
}

func (e errStore) CompareAndDelete(context.Context, string, string) (bool, error) {
	return false, e.err
}

func TestTryAcquire(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, _, _ := newTestLocker()

	h, ok, err := l.TryAcquire(ctx, "IMAGE_INIT_LOCK", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "IMAGE_INIT_LOCK", h.Key)
	assert.Equal(t, time.Minute, h.Lease)
	assert.NotEmpty(t, h.Owner)

	// A second acquirer is turned away without error.
	h2, ok, err := l.TryAcquire(ctx, "IMAGE_INIT_LOCK", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, h2)

	// Other keys are independent.
	_, ok, err = l.TryAcquire(ctx, "OTHER", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, h.Release(ctx))

	_, ok, err = l.TryAcquire(ctx, "IMAGE_INIT_LOCK", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "key must be acquirable after release")
}

func TestTryAcquire_InvalidArguments(t *testing.T) {
	t.Parallel()

	l, _, _ := newTestLocker()

	_, _, err := l.TryAcquire(context.Background(), "  ", time.Minute)
	assert.Error(t, err)

	_, _, err = l.TryAcquire(context.Background(), "k", 0)
	assert.Error(t, err)
}

func TestTryAcquire_BackendError(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	l := New(errStore{err: boom})

	h, ok, err := l.TryAcquire(context.Background(), "k", time.Minute)
	assert.ErrorIs(t, err, boom)
	assert.False(t, ok)
	assert.Nil(t, h)
}

func TestLeaseExpires(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, _, clock := newTestLocker()

	crashed, ok, err := l.TryAcquire(ctx, "k", 60*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(59 * time.Second)
	_, ok, err = l.TryAcquire(ctx, "k", 60*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "lease still valid")

	clock.Advance(2 * time.Second)
	next, ok, err := l.TryAcquire(ctx, "k", 60*time.Second)
	require.NoError(t, err)
	require.True(t, ok, "expired lease must be re-acquirable")

	// The stale holder cannot free the new owner's lease.
	assert.ErrorIs(t, crashed.Release(ctx), ErrNotHeld)
	_, ok, err = l.TryAcquire(ctx, "k", 60*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, next.Release(ctx))
}

func TestRelease_Idempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &countingStore{Store: NewMemoryStore()}
	l := New(store)

	h, ok, err := l.TryAcquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, h.Release(ctx))
	require.NoError(t, h.Release(ctx))
	assert.Equal(t, int32(1), store.deletes.Load())
}

func TestTryAcquire_ConcurrentExactlyOneWins(t *testing.T) {
	t.Parallel()

	l := New(NewMemoryStore())

	const racers = 16
	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, ok, err := l.TryAcquire(context.Background(), "k", time.Minute)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}
