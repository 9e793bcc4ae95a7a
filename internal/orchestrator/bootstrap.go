package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/JasonWangA/bk-ci/internal/envelope"
	"github.com/JasonWangA/bk-ci/internal/store"
)

const instrumentationName = "store-seeder"

// releaseTimeout bounds the lock release, which runs on a context detached
// from the caller's cancellation.
const releaseTimeout = 5 * time.Second

var runCounter, _ = otel.Meter(instrumentationName).Int64Counter(
	"seeder.bootstrap.runs",
	metric.WithDescription("Bootstrap attempts by final status and reason"),
)

// errAlreadySeeded ends a run early once the existence guard finds the image.
var errAlreadySeeded = errors.New("image already seeded")

// Bootstrap runs one seeding attempt. Losing the lock race is not an error: the
// result is skipped with ReasonLockHeld. Any failing step aborts the run and
// returns an error wrapping an *envelope.Error, after the lock is released.
// Upstream state created before the failure is left in place.
func Bootstrap(ctx context.Context, deps Deps, sample store.Sample) (*BootstrapResult, error) {
	r := &run{
		deps:   deps,
		sample: sample,
		result: &BootstrapResult{
			RunID:     uuid.NewString(),
			Status:    StatusInProgress,
			Steps:     make([]StepResult, 0, 6),
			StartedAt: time.Now().UTC(),
		},
	}

	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "seeder.bootstrap",
		trace.WithAttributes(
			attribute.String("seeder.run_id", r.result.RunID),
			attribute.String("seeder.project_code", sample.ProjectCode),
			attribute.String("seeder.image_code", sample.ImageCode),
		),
	)
	defer span.End()

	r.log = slog.Default().With(
		"run_id", r.result.RunID,
		"project_code", sample.ProjectCode,
		"image_code", sample.ImageCode,
	)
	r.log.InfoContext(ctx, "begin init image")

	err := r.execute(ctx)

	r.result.FinishedAt = time.Now().UTC()
	switch {
	case err != nil:
		r.result.Status = StatusError
		r.result.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.log.ErrorContext(ctx, "image init failed", "error", err)
		r.publish(ctx, EventFailed)
	case r.result.Reason == ReasonLockHeld:
		r.result.Status = StatusSkipped
		span.SetStatus(codes.Ok, "")
		r.log.InfoContext(ctx, "image init skipped, lock held elsewhere", "lock_key", deps.LockKey)
		r.publish(ctx, EventSkipped)
	default:
		r.result.Status = StatusOK
		span.SetStatus(codes.Ok, "")
		r.log.InfoContext(ctx, "image init finished", "reason", r.result.Reason)
		r.publish(ctx, EventCompleted)
	}

	span.SetAttributes(
		attribute.String("bootstrap.status", r.result.Status),
		attribute.String("bootstrap.reason", r.result.Reason),
	)
	runCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", r.result.Status),
		attribute.String("reason", r.result.Reason),
	))

	return r.result, err
}

type run struct {
	deps   Deps
	sample store.Sample
	result *BootstrapResult
	log    *slog.Logger
}

// execute holds the lock for the whole seeding sequence.
func (r *run) execute(ctx context.Context) error {
	handle, acquired, err := r.deps.Locker.TryAcquire(ctx, r.deps.LockKey, r.deps.LockLease)
	if err != nil {
		r.record(StepAcquireLock, "", err)
		return fmt.Errorf("%s: %w", StepAcquireLock, envelope.FromError(err))
	}
	if !acquired {
		r.result.Reason = ReasonLockHeld
		r.result.Steps = append(r.result.Steps, StepResult{Name: StepAcquireLock, Status: StatusSkipped, Detail: "held elsewhere"})
		return nil
	}
	r.record(StepAcquireLock, handle.Owner, nil)

	defer func() {
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if relErr := handle.Release(relCtx); relErr != nil {
			// The lease still expires on its own.
			r.log.WarnContext(ctx, "lock release failed", "lock_key", handle.Key, "error", relErr)
			return
		}
		r.log.DebugContext(ctx, "lock released", "lock_key", handle.Key)
	}()

	r.publish(ctx, EventStarted)

	err = r.seed(ctx)
	if errors.Is(err, errAlreadySeeded) {
		r.result.Reason = ReasonAlreadySeeded
		return nil
	}
	if err != nil {
		return err
	}
	r.result.Reason = ReasonSeeded
	return nil
}

func (r *run) seed(ctx context.Context) error {
	if err := r.step(ctx, StepEnsureProject, r.ensureProject); err != nil {
		return err
	}
	if err := r.step(ctx, StepCheckExisting, r.checkExisting); err != nil {
		return err
	}

	var imageID, versionID string
	if err := r.step(ctx, StepRegisterImage, func(ctx context.Context) (string, error) {
		env, err := r.deps.Images.AddImage(ctx, r.sample.UserID, r.sample.ImageCode, r.sample.RelRequest())
		imageID, err = envelope.Require(env, err)
		return imageID, err
	}); err != nil {
		return err
	}

	if err := r.step(ctx, StepUpdateImage, func(ctx context.Context) (string, error) {
		env, err := r.deps.Images.UpdateImage(ctx, r.sample.UserID, r.sample.Update, store.SeedOptions())
		versionID, err = envelope.Require(env, err)
		return versionID, err
	}); err != nil {
		return err
	}

	r.approve(ctx, versionID)
	return nil
}

func (r *run) ensureProject(ctx context.Context) (string, error) {
	env, err := r.deps.Projects.GetProject(ctx, r.sample.ProjectCode)
	project, err := envelope.Optional(env, err)
	if err != nil {
		return "", err
	}
	if project != nil {
		return "exists", nil
	}

	created, err := r.deps.Projects.CreateProject(ctx, r.sample.UserID, r.sample.Project)
	if _, err := envelope.Require(created, err); err != nil {
		return "", err
	}
	return "created", nil
}

func (r *run) checkExisting(ctx context.Context) (string, error) {
	count, err := r.deps.Guard.CountImagesByCode(ctx, r.sample.ImageCode)
	if err != nil {
		return "", envelope.FromError(err)
	}
	if count != 0 {
		return fmt.Sprintf("count=%d", count), errAlreadySeeded
	}
	return "count=0", nil
}

// approve is best-effort: the image is already registered and finalized, so
// a failed approval is reported on the step but does not fail the run.
func (r *run) approve(ctx context.Context, versionID string) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "seeder.step."+StepApproveImage)
	defer span.End()

	env, err := r.deps.Images.ApproveImage(ctx, r.sample.UserID, versionID, r.sample.Approve)
	if err := envelope.Check(env, err); err != nil {
		span.RecordError(err)
		r.record(StepApproveImage, versionID, err)
		r.log.WarnContext(ctx, "image approval failed, continuing", "image_id", versionID, "error", err)
		return
	}
	r.record(StepApproveImage, versionID, nil)
	r.log.InfoContext(ctx, "image approved", "image_id", versionID)
}

// step runs fn in its own span and records its outcome. errAlreadySeeded is
// recorded as a skip and passed through unwrapped.
func (r *run) step(ctx context.Context, name string, fn func(context.Context) (string, error)) error {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "seeder.step."+name)
	defer span.End()

	detail, err := fn(ctx)
	switch {
	case errors.Is(err, errAlreadySeeded):
		r.result.Steps = append(r.result.Steps, StepResult{Name: name, Status: StatusSkipped, Detail: detail})
		r.log.InfoContext(ctx, "image already exists, nothing to do", "step", name, "detail", detail)
		return err
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.record(name, detail, err)
		return fmt.Errorf("%s: %w", name, err)
	}
	r.record(name, detail, nil)
	r.log.InfoContext(ctx, "bootstrap step ok", "step", name, "detail", detail)
	return nil
}

func (r *run) record(name, detail string, err error) {
	s := StepResult{Name: name, Status: StatusOK, Detail: detail}
	if err != nil {
		s.Status = StatusError
		s.Error = err.Error()
	}
	r.result.Steps = append(r.result.Steps, s)
}

// publish emits a lifecycle event. Publishing is best-effort.
func (r *run) publish(ctx context.Context, typ string) {
	if r.deps.Events == nil {
		return
	}
	ev := Event{
		Type:        typ,
		RunID:       r.result.RunID,
		ProjectCode: r.sample.ProjectCode,
		ImageCode:   r.sample.ImageCode,
		Reason:      r.result.Reason,
		Error:       r.result.Error,
		At:          time.Now().UTC(),
	}
	if err := r.deps.Events.PublishEvent(ctx, ev); err != nil {
		r.log.WarnContext(ctx, "publishing bootstrap event failed", "event", typ, "error", err)
	}
}
