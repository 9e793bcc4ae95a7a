package clients

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/sony/gobreaker"

	"github.com/JasonWangA/bk-ci/internal/config"
	"github.com/JasonWangA/bk-ci/internal/envelope"
	"github.com/JasonWangA/bk-ci/internal/orchestrator"
	"github.com/JasonWangA/bk-ci/internal/store"
)

const imageDeskPath = "/api/service/market/image/desk/image"

// ImageClient calls the image market endpoints of the store service.
type ImageClient struct {
	svc serviceClient
}

// NewImageClient constructs an ImageClient. No HTTP calls are made at
// construction time.
func NewImageClient(cfg config.ServiceConfig, cb *gobreaker.CircuitBreaker) *ImageClient {
	return &ImageClient{svc: newServiceClient("store", cfg, cb)}
}

// AddImage registers imageCode and returns the new image id.
func (c *ImageClient) AddImage(ctx context.Context, userID, imageCode string, req store.ImageRelRequest) (envelope.Envelope[string], error) {
	return call[string](ctx, c.svc, http.MethodPost, imageDeskPath+"/"+url.PathEscape(imageCode), userID, req)
}

// UpdateImage submits the full image descriptor and returns the id of the
// resulting image version.
func (c *ImageClient) UpdateImage(ctx context.Context, userID string, req store.ImageUpdateRequest, opts store.UpdateOptions) (envelope.Envelope[string], error) {
	q := url.Values{}
	q.Set("checkLatest", strconv.FormatBool(opts.CheckLatest))
	q.Set("sendCheckResultNotify", strconv.FormatBool(opts.SendCheckResultNotify))
	q.Set("runCheckPipeline", strconv.FormatBool(opts.RunCheckPipeline))
	return call[string](ctx, c.svc, http.MethodPut, imageDeskPath+"?"+q.Encode(), userID, req)
}

// ApproveImage applies an approval decision to an image version.
func (c *ImageClient) ApproveImage(ctx context.Context, userID, imageID string, req store.ApproveImageRequest) (envelope.Envelope[bool], error) {
	return call[bool](ctx, c.svc, http.MethodPut, "/api/op/market/image/"+url.PathEscape(imageID)+"/approve", userID, req)
}

// Probe checks that the store service answers.
func (c *ImageClient) Probe(ctx context.Context) orchestrator.ProbeResult {
	return c.svc.probe(ctx)
}
