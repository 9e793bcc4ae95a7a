package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/JasonWangA/bk-ci/internal/config"
	"github.com/JasonWangA/bk-ci/internal/envelope"
	"github.com/JasonWangA/bk-ci/internal/orchestrator"
)

// userHeader carries the acting user on platform service calls.
const userHeader = "X-DEVOPS-UID"

// maxErrorBody bounds how much of an undecodable error body ends up in a
// message.
const maxErrorBody = 512

// serviceClient is the HTTP plumbing shared by the platform service clients:
// base URL, circuit breakers and an injectable transport. Probes trip probeCB
// only, so health checks against a failing gateway root never open the
// breaker guarding bootstrap calls.
type serviceClient struct {
	name    string
	baseURL string
	cb      *gobreaker.CircuitBreaker
	probeCB *gobreaker.CircuitBreaker
	httpDo  func(req *http.Request) (*http.Response, error)
}

func newServiceClient(name string, cfg config.ServiceConfig, cb *gobreaker.CircuitBreaker) serviceClient {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	return serviceClient{
		name:    name,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		cb:      cb,
		probeCB: NewCircuitBreaker(cb.Name() + "-probe"),
		httpDo:  httpClient.Do,
	}
}

// call sends body as JSON and decodes the response envelope. A non-2xx reply
// that is not an envelope is turned into one carrying the HTTP status, so the
// caller always sees upstream rejections as a not-ok envelope. Only transport
// failures are returned as errors; an open breaker yields an *envelope.Error
// with status 503.
func call[T any](ctx context.Context, c serviceClient, method, path, userID string, body any) (envelope.Envelope[T], error) {
	var env envelope.Envelope[T]

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return env, fmt.Errorf("encoding %s %s body: %w", method, path, err)
		}
	}

	res, err := c.cb.Execute(func() (any, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("building request for %s %s: %w", method, path, err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if userID != "" {
			req.Header.Set(userHeader, userID)
		}

		resp, err := c.httpDo(req)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("reading %s %s response: %w", method, path, err)
		}
		return decodeEnvelope[T](resp.StatusCode, raw)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return env, &envelope.Error{
				StatusCode: http.StatusServiceUnavailable,
				Message:    breakerError(c.name, err).Error(),
				Cause:      err,
			}
		}
		return env, fmt.Errorf("%s: %w", c.name, err)
	}
	return res.(envelope.Envelope[T]), nil
}

func decodeEnvelope[T any](status int, raw []byte) (envelope.Envelope[T], error) {
	var env envelope.Envelope[T]
	if err := json.Unmarshal(raw, &env); err != nil {
		if status < http.StatusBadRequest {
			return env, fmt.Errorf("decoding response envelope: %w", err)
		}
		msg := strings.TrimSpace(string(raw))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		if msg == "" {
			msg = http.StatusText(status)
		}
		env = envelope.Envelope[T]{Status: status, Message: msg}
	}
	env.HTTPStatus = status
	return env, nil
}

// probe reports the service reachable when its base URL answers below 500.
func (c serviceClient) probe(ctx context.Context) orchestrator.ProbeResult {
	start := time.Now()

	_, err := c.probeCB.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
		if err != nil {
			return nil, fmt.Errorf("building probe request: %w", err)
		}

		resp, err := c.httpDo(req)
		if err != nil {
			return nil, fmt.Errorf("probe request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("probe returned HTTP %d", resp.StatusCode)
		}
		return nil, nil
	})

	return probeResult(c.name, start, err)
}
