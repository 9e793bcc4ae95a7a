package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JasonWangA/bk-ci/internal/store"
)

// ErrBootstrapInProgress is returned when RunBootstrap is called while a
// bootstrap is already running in this process.
var ErrBootstrapInProgress = errors.New("bootstrap already in progress")

// Orchestrator runs bootstrap attempts for one process and reports dependency
// health.
type Orchestrator struct {
	deps    Deps
	sample  store.Sample
	probers map[string]Prober

	bootstrapInProgress atomic.Bool
	lastResult          *BootstrapResult
	resultMu            sync.RWMutex

	// runCtx outlives requests and is cancelled by Shutdown; background runs
	// derive from it and are tracked by inflight.
	runCtx     context.Context
	cancelRuns context.CancelFunc
	inflight   sync.WaitGroup
}

// New constructs an Orchestrator. probers maps dependency names to clients
// checked by RunDeepHealth.
func New(deps Deps, sample store.Sample, probers map[string]Prober) *Orchestrator {
	runCtx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		deps:       deps,
		sample:     sample,
		probers:    probers,
		runCtx:     runCtx,
		cancelRuns: cancel,
	}
}

// RunBootstrap runs one bootstrap attempt. Returns ErrBootstrapInProgress if
// an attempt is already running in this process; the fleet-wide lock covers
// other processes.
func (o *Orchestrator) RunBootstrap(ctx context.Context) (*BootstrapResult, error) {
	if !o.bootstrapInProgress.CompareAndSwap(false, true) {
		return nil, ErrBootstrapInProgress
	}
	defer o.bootstrapInProgress.Store(false)

	return o.runClaimed(ctx)
}

// StartBootstrap claims the in-progress flag and runs one attempt in the
// background, bounded by timeout when it is positive. Returns
// ErrBootstrapInProgress without starting anything if an attempt is already
// running. The attempt is cancelled by Shutdown.
func (o *Orchestrator) StartBootstrap(timeout time.Duration) error {
	if !o.bootstrapInProgress.CompareAndSwap(false, true) {
		return ErrBootstrapInProgress
	}

	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()
		defer o.bootstrapInProgress.Store(false)

		ctx := o.runCtx
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		if _, err := o.runClaimed(ctx); err != nil {
			slog.Warn("background bootstrap failed", "err", err)
		}
	}()
	return nil
}

// Shutdown waits for background attempts to finish. When ctx expires first
// they are cancelled, and Shutdown still waits for them to release the lock
// before returning ctx.Err(). Call it after the HTTP server has stopped
// accepting requests.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.cancelRuns()
		return nil
	case <-ctx.Done():
		o.cancelRuns()
		<-done
		return ctx.Err()
	}
}

func (o *Orchestrator) runClaimed(ctx context.Context) (*BootstrapResult, error) {
	result, err := Bootstrap(ctx, o.deps, o.sample)

	o.resultMu.Lock()
	o.lastResult = result
	o.resultMu.Unlock()

	return result, err
}

// RunDeepHealth probes all dependencies concurrently and returns a map of
// dependency name to ProbeResult.
func (o *Orchestrator) RunDeepHealth(ctx context.Context) map[string]ProbeResult {
	results := make(map[string]ProbeResult, len(o.probers))
	var mu sync.Mutex
	var g errgroup.Group

	for name, p := range o.probers {
		name, p := name, p
		g.Go(func() error {
			probe := p.Probe(ctx)
			mu.Lock()
			results[name] = probe
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return results
}

// IsBootstrapInProgress returns true while a bootstrap run is active.
func (o *Orchestrator) IsBootstrapInProgress() bool {
	return o.bootstrapInProgress.Load()
}

// IsReady returns true once a bootstrap attempt ended without error, either
// by seeding, by finding the image already seeded, or by yielding to another
// instance holding the lock.
func (o *Orchestrator) IsReady() bool {
	o.resultMu.RLock()
	defer o.resultMu.RUnlock()
	return o.lastResult != nil &&
		(o.lastResult.Status == StatusOK || o.lastResult.Status == StatusSkipped)
}

// LastResult returns the most recent bootstrap result, or nil before the first
// attempt.
func (o *Orchestrator) LastResult() *BootstrapResult {
	o.resultMu.RLock()
	defer o.resultMu.RUnlock()
	return o.lastResult
}
