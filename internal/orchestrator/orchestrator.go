// Package orchestrator seeds a fresh deployment with the demo project and the
// demo CI image exactly once across a fleet of instances.
//
// A run acquires the fleet-wide lock, makes sure the demo project exists,
// stops if the demo image is already registered, and otherwise registers,
// finalizes and approves the image. The lock is released on every exit path.
// Collaborators are passed in explicitly through Deps.
package orchestrator

import (
	"context"
	"time"

	"github.com/JasonWangA/bk-ci/internal/envelope"
	"github.com/JasonWangA/bk-ci/internal/lock"
	"github.com/JasonWangA/bk-ci/internal/store"
)

// Locker is satisfied by *lock.Locker.
type Locker interface {
	TryAcquire(ctx context.Context, key string, lease time.Duration) (*lock.Handle, bool, error)
}

// ProjectService is satisfied by *clients.ProjectClient.
type ProjectService interface {
	GetProject(ctx context.Context, projectCode string) (envelope.Envelope[store.Project], error)
	CreateProject(ctx context.Context, userID string, info store.ProjectCreateInfo) (envelope.Envelope[bool], error)
}

// ImageService is satisfied by *clients.ImageClient.
type ImageService interface {
	AddImage(ctx context.Context, userID, imageCode string, req store.ImageRelRequest) (envelope.Envelope[string], error)
	UpdateImage(ctx context.Context, userID string, req store.ImageUpdateRequest, opts store.UpdateOptions) (envelope.Envelope[string], error)
	ApproveImage(ctx context.Context, userID, imageID string, req store.ApproveImageRequest) (envelope.Envelope[bool], error)
}

// ExistenceGuard is satisfied by *clients.PostgresClient. It must read the
// store on every call.
type ExistenceGuard interface {
	CountImagesByCode(ctx context.Context, imageCode string) (int, error)
}

// EventPublisher is satisfied by *clients.NATSClient.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev Event) error
}

// Prober is implemented by every client that can report its own health.
type Prober interface {
	Probe(ctx context.Context) ProbeResult
}

// Deps bundles the collaborators of a bootstrap run. Events is optional.
type Deps struct {
	Locker   Locker
	Projects ProjectService
	Images   ImageService
	Guard    ExistenceGuard
	Events   EventPublisher

	LockKey   string
	LockLease time.Duration
}
