package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/JasonWangA/bk-ci/internal/orchestrator"
)

// orchestratorService is the subset of *orchestrator.Orchestrator used by the
// HTTP handlers. Declaring it as an interface allows test doubles to be injected.
type orchestratorService interface {
	StartBootstrap(timeout time.Duration) error
	RunDeepHealth(ctx context.Context) map[string]orchestrator.ProbeResult
	IsReady() bool
	IsBootstrapInProgress() bool
	LastResult() *orchestrator.BootstrapResult
}

// Handler holds the dependencies shared across all HTTP handlers.
type Handler struct {
	orchestrator orchestratorService
	// bootstrapTimeout bounds a bootstrap started over HTTP.
	bootstrapTimeout time.Duration
}

// Bootstrap handles POST /api/v1/bootstrap.
// It returns 202 when a new run is started in the background, or 409 if one is
// already running in this process. The run is owned by the orchestrator, not
// the request, and is drained by Orchestrator.Shutdown. The fleet-wide lock
// still decides whether the run seeds anything.
func (h *Handler) Bootstrap(c *gin.Context) {
	err := h.orchestrator.StartBootstrap(h.bootstrapTimeout)
	switch {
	case errors.Is(err, orchestrator.ErrBootstrapInProgress):
		c.JSON(http.StatusConflict, gin.H{"status": orchestrator.StatusInProgress})
	case err != nil:
		slog.ErrorContext(c.Request.Context(), "starting bootstrap failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": orchestrator.StatusError, "error": err.Error()})
	default:
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
	}
}

// BootstrapStatus handles GET /api/v1/bootstrap.
// It returns the most recent result, or 404 before the first run.
func (h *Handler) BootstrapStatus(c *gin.Context) {
	result := h.orchestrator.LastResult()
	if result == nil {
		status := "never-run"
		if h.orchestrator.IsBootstrapInProgress() {
			status = orchestrator.StatusInProgress
		}
		c.JSON(http.StatusNotFound, gin.H{"status": status})
		return
	}
	c.JSON(http.StatusOK, result)
}

// Health handles GET /health.
// It always returns 200; this is the liveness probe.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"mode":   "shallow",
	})
}

// DeepHealth handles GET /health/deep.
// It probes every backing service and returns 200 only when all probes are OK.
func (h *Handler) DeepHealth(c *gin.Context) {
	probes := h.orchestrator.RunDeepHealth(c.Request.Context())

	allOK := true
	for _, p := range probes {
		if !p.OK {
			allOK = false
			break
		}
	}

	status := "healthy"
	code := http.StatusOK
	if !allOK {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":       status,
		"dependencies": probes,
	})
}

// Ready handles GET /ready.
// It returns 200 once a bootstrap run ended ok or skipped; 503 otherwise.
func (h *Handler) Ready(c *gin.Context) {
	if h.orchestrator.IsReady() {
		c.JSON(http.StatusOK, gin.H{"ready": true})
		return
	}
	body := gin.H{"ready": false}
	if last := h.orchestrator.LastResult(); last != nil {
		body["lastStatus"] = last.Status
		if last.Error != "" {
			body["error"] = last.Error
		}
	}
	c.JSON(http.StatusServiceUnavailable, body)
}
