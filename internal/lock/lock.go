// Package lock provides a non-blocking, lease-bounded mutual-exclusion lock
// shared across a fleet of processes.
//
// A Locker keeps leases in a Store (Redis in production, see
// clients.RedisClient). TryAcquire never waits: when the key is held by anyone,
// including a crashed holder whose lease has not yet expired, it reports false.
// The returned Handle must be released exactly once, normally with
//
//	h, ok, err := locker.TryAcquire(ctx, key, lease)
//	if err != nil || !ok { ... }
//	defer h.Release(ctx)
//
// Release only deletes the key while it still carries the handle's owner token,
// so a holder whose lease expired can never free a lease taken over by another
// instance.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotHeld is returned by Release when the lease had already expired or was
// taken over by another owner.
var ErrNotHeld = errors.New("lock not held by this owner")

// Store is the lease backend. SetNX stores value under key only when the key
// is absent and expires it after ttl. CompareAndDelete removes key only when
// it still holds value.
type Store interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
}

// Locker hands out lease-bounded locks backed by a Store.
type Locker struct {
	store    Store
	newOwner func() string
	now      func() time.Time
}

// New returns a Locker over store. Owner tokens are random UUIDs.
func New(store Store) *Locker {
	return &Locker{
		store:    store,
		newOwner: uuid.NewString,
		now:      time.Now,
	}
}

// TryAcquire attempts to take key for lease. It returns (nil, false, nil) when
// the key is currently held; an error means the backend could not be asked.
func (l *Locker) TryAcquire(ctx context.Context, key string, lease time.Duration) (*Handle, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, errors.New("lock key is required")
	}
	if lease <= 0 {
		return nil, false, fmt.Errorf("lock lease must be positive, got %s", lease)
	}

	owner := l.newOwner()
	ok, err := l.store.SetNX(ctx, key, owner, lease)
	if err != nil {
		return nil, false, fmt.Errorf("acquiring lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	return &Handle{
		Key:        key,
		Owner:      owner,
		Lease:      lease,
		AcquiredAt: l.now(),
		store:      l.store,
	}, true, nil
}

// Handle identifies a held lease.
type Handle struct {
	Key        string
	Owner      string
	Lease      time.Duration
	AcquiredAt time.Time

	store Store
	once  sync.Once
	err   error
}

// Release frees the lease. Only the first call reaches the store; later calls
// return the first call's result.
func (h *Handle) Release(ctx context.Context) error {
	h.once.Do(func() {
		ok, err := h.store.CompareAndDelete(ctx, h.Key, h.Owner)
		switch {
		case err != nil:
			h.err = fmt.Errorf("releasing lock %s: %w", h.Key, err)
		case !ok:
			h.err = fmt.Errorf("releasing lock %s: %w", h.Key, ErrNotHeld)
		}
	})
	return h.err
}
