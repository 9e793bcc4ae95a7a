package clients

import (
	"context"
	"net/http"
	"net/url"

	"github.com/sony/gobreaker"

	"github.com/JasonWangA/bk-ci/internal/config"
	"github.com/JasonWangA/bk-ci/internal/envelope"
	"github.com/JasonWangA/bk-ci/internal/orchestrator"
	"github.com/JasonWangA/bk-ci/internal/store"
)

// ProjectClient calls the project service.
type ProjectClient struct {
	svc serviceClient
}

// NewProjectClient constructs a ProjectClient. No HTTP calls are made at
// construction time.
func NewProjectClient(cfg config.ServiceConfig, cb *gobreaker.CircuitBreaker) *ProjectClient {
	return &ProjectClient{svc: newServiceClient("project", cfg, cb)}
}

// GetProject looks a project up by its English name. An accepted envelope with
// no data means the project does not exist.
func (c *ProjectClient) GetProject(ctx context.Context, projectCode string) (envelope.Envelope[store.Project], error) {
	return call[store.Project](ctx, c.svc, http.MethodGet, "/api/service/projects/"+url.PathEscape(projectCode), "", nil)
}

// CreateProject creates a project on behalf of userID.
func (c *ProjectClient) CreateProject(ctx context.Context, userID string, info store.ProjectCreateInfo) (envelope.Envelope[bool], error) {
	return call[bool](ctx, c.svc, http.MethodPost, "/api/service/projects/", userID, info)
}

// Probe checks that the project service answers.
func (c *ProjectClient) Probe(ctx context.Context) orchestrator.ProbeResult {
	return c.svc.probe(ctx)
}
