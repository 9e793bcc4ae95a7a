package clients

import (
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/JasonWangA/bk-ci/internal/orchestrator"
)

// errCircuitOpen is reported in place of gobreaker.ErrOpenState.
var errCircuitOpen = errors.New("circuit open")

// NewCircuitBreaker returns a gobreaker configured to trip after 3 consecutive
// failures and reset after 30 seconds in the open state.
func NewCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
}

// breakerError prefixes err with the dependency name and turns an open
// breaker into errCircuitOpen.
func breakerError(dep string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w", dep, errCircuitOpen)
	}
	return fmt.Errorf("%s: %w", dep, err)
}

// probeResult builds the ProbeResult for a check that started at start.
func probeResult(name string, start time.Time, err error) orchestrator.ProbeResult {
	latency := time.Since(start).Milliseconds()

	if err != nil {
		errMsg := err.Error()
		if errors.Is(err, gobreaker.ErrOpenState) {
			errMsg = "circuit open"
		}
		return orchestrator.ProbeResult{
			Name:      name,
			OK:        false,
			LatencyMs: latency,
			Error:     errMsg,
		}
	}

	return orchestrator.ProbeResult{
		Name:      name,
		OK:        true,
		LatencyMs: latency,
	}
}
