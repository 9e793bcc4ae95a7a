package orchestrator

import "time"

// Status values used across BootstrapResult and StepResult.
const (
	StatusOK         = "ok"
	StatusError      = "error"
	StatusInProgress = "in-progress"
	StatusSkipped    = "skipped"
)

// Reasons a bootstrap run ended without error.
const (
	ReasonSeeded        = "seeded"
	ReasonAlreadySeeded = "already-seeded"
	ReasonLockHeld      = "lock-held"
)

// Step names, in execution order.
const (
	StepAcquireLock   = "acquire-lock"
	StepEnsureProject = "ensure-project"
	StepCheckExisting = "check-existing-image"
	StepRegisterImage = "register-image"
	StepUpdateImage   = "update-image"
	StepApproveImage  = "approve-image"
)

// BootstrapResult is the outcome of one bootstrap attempt.
type BootstrapResult struct {
	RunID      string       `json:"runId"`
	Status     string       `json:"status"` // "ok", "error", "skipped", "in-progress"
	Reason     string       `json:"reason,omitempty"`
	Steps      []StepResult `json:"steps"`
	Error      string       `json:"error,omitempty"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt"`
}

// StepResult represents the outcome of a single bootstrap step.
type StepResult struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "ok", "error", "skipped"
	Detail string `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Step returns the named step and whether it ran.
func (r *BootstrapResult) Step(name string) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepResult{}, false
}

// ProbeResult is returned by RunDeepHealth for each dependency.
type ProbeResult struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	LatencyMs int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}

// Event types published over the lifecycle of a bootstrap run.
const (
	EventStarted   = "started"
	EventSkipped   = "skipped"
	EventCompleted = "completed"
	EventFailed    = "failed"
)

// Event is a bootstrap lifecycle notification.
type Event struct {
	Type        string    `json:"type"`
	RunID       string    `json:"runId"`
	ProjectCode string    `json:"projectCode"`
	ImageCode   string    `json:"imageCode"`
	Reason      string    `json:"reason,omitempty"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}
