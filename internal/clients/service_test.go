package clients

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JasonWangA/bk-ci/internal/config"
	"github.com/JasonWangA/bk-ci/internal/envelope"
	"github.com/JasonWangA/bk-ci/internal/store"
)

// recordedRequest is what the fake platform server saw.
type recordedRequest struct {
	method string
	uri    string
	user   string
	body   []byte
}

// platformServer answers every request with status and body, recording what
// it received.
type platformServer struct {
	mu       sync.Mutex
	requests []recordedRequest
	status   int
	body     string
}

func (p *platformServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	p.mu.Lock()
	p.requests = append(p.requests, recordedRequest{
		method: r.Method,
		uri:    r.URL.RequestURI(),
		user:   r.Header.Get(userHeader),
		body:   body,
	})
	status, resp := p.status, p.body
	p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, resp)
}

func (p *platformServer) last(t *testing.T) recordedRequest {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.requests)
	return p.requests[len(p.requests)-1]
}

func newPlatformServer(t *testing.T, status int, body string) (*platformServer, *httptest.Server) {
	t.Helper()
	ps := &platformServer{status: status, body: body}
	srv := httptest.NewServer(ps)
	t.Cleanup(srv.Close)
	return ps, srv
}

func makeProjectClient(srv *httptest.Server, cbName string) *ProjectClient {
	client := NewProjectClient(config.ServiceConfig{URL: srv.URL + "/", Timeout: 5 * time.Second}, NewCircuitBreaker(cbName))
	client.svc.httpDo = srv.Client().Do
	return client
}

func makeImageClient(srv *httptest.Server, cbName string) *ImageClient {
	client := NewImageClient(config.ServiceConfig{URL: srv.URL, Timeout: 5 * time.Second}, NewCircuitBreaker(cbName))
	client.svc.httpDo = srv.Client().Do
	return client
}

func TestNewServiceClient(t *testing.T) {
	t.Parallel()

	client := NewProjectClient(config.ServiceConfig{URL: "http://bk-ci-project:80/", Timeout: time.Second}, NewCircuitBreaker("new-project"))
	assert.Equal(t, "http://bk-ci-project:80", client.svc.baseURL)
	assert.Equal(t, "project", client.svc.name)
	assert.NotNil(t, client.svc.httpDo)
}

func TestGetProject(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     int
		body       string
		wantOK     bool
		wantData   bool
		wantStatus int
		wantMsg    string
	}{
		{
			name:     "found",
			status:   http.StatusOK,
			body:     `{"status":0,"data":{"projectCode":"demo","projectName":"Demo"}}`,
			wantOK:   true,
			wantData: true,
		},
		{
			name:   "not found",
			status: http.StatusOK,
			body:   `{"status":0,"data":null}`,
			wantOK: true,
		},
		{
			name:       "rejected by envelope",
			status:     http.StatusOK,
			body:       `{"status":2119001,"message":"project service busy"}`,
			wantStatus: 2119001,
			wantMsg:    "project service busy",
		},
		{
			name:       "gateway error without envelope",
			status:     http.StatusBadGateway,
			body:       `<html>bad gateway</html>`,
			wantStatus: http.StatusBadGateway,
			wantMsg:    "<html>bad gateway</html>",
		},
		{
			name:       "empty error body",
			status:     http.StatusNotFound,
			body:       ``,
			wantStatus: http.StatusNotFound,
			wantMsg:    "Not Found",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ps, srv := newPlatformServer(t, tc.status, tc.body)
			client := makeProjectClient(srv, "get-project-"+tc.name)

			env, err := client.GetProject(context.Background(), "demo")
			require.NoError(t, err)

			req := ps.last(t)
			assert.Equal(t, http.MethodGet, req.method)
			assert.Equal(t, "/api/service/projects/demo", req.uri)

			assert.Equal(t, tc.wantOK, env.OK())
			assert.Equal(t, tc.status, env.HTTPStatus)
			if tc.wantData {
				require.NotNil(t, env.Data)
				assert.Equal(t, "demo", env.Data.ProjectCode)
			} else {
				assert.Nil(t, env.Data)
			}
			if !tc.wantOK {
				assert.Equal(t, tc.wantStatus, env.Status)
				assert.Equal(t, tc.wantMsg, env.Message)
			}
		})
	}
}

func TestCreateProject(t *testing.T) {
	t.Parallel()

	ps, srv := newPlatformServer(t, http.StatusOK, `{"status":0,"data":true}`)
	client := makeProjectClient(srv, "create-project")

	sample := store.DemoSample("demo", "admin", "tlinux_ci")
	env, err := client.CreateProject(context.Background(), "admin", sample.Project)
	require.NoError(t, err)
	created, err := envelope.Require(env, nil)
	require.NoError(t, err)
	assert.True(t, created)

	req := ps.last(t)
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "/api/service/projects/", req.uri)
	assert.Equal(t, "admin", req.user)

	var body store.ProjectCreateInfo
	require.NoError(t, json.Unmarshal(req.body, &body))
	assert.Equal(t, sample.Project, body)
}

func TestAddImage(t *testing.T) {
	t.Parallel()

	ps, srv := newPlatformServer(t, http.StatusOK, `{"status":0,"data":"A1"}`)
	client := makeImageClient(srv, "add-image")

	sample := store.DemoSample("demo", "admin", "tlinux_ci")
	env, err := client.AddImage(context.Background(), "admin", "tlinux_ci", sample.RelRequest())
	require.NoError(t, err)
	id, err := envelope.Require(env, nil)
	require.NoError(t, err)
	assert.Equal(t, "A1", id)

	req := ps.last(t)
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "/api/service/market/image/desk/image/tlinux_ci", req.uri)
	assert.Equal(t, "admin", req.user)

	var body map[string]any
	require.NoError(t, json.Unmarshal(req.body, &body))
	assert.Equal(t, "demo", body["projectCode"])
	assert.Equal(t, "THIRD", body["imageSourceType"])
	assert.Nil(t, body["ticketId"])
}

func TestUpdateImage(t *testing.T) {
	t.Parallel()

	ps, srv := newPlatformServer(t, http.StatusOK, `{"status":0,"data":"V1"}`)
	client := makeImageClient(srv, "update-image")

	sample := store.DemoSample("demo", "admin", "tlinux_ci")
	env, err := client.UpdateImage(context.Background(), "admin", sample.Update, store.SeedOptions())
	require.NoError(t, err)
	assert.Equal(t, "V1", *env.Data)

	req := ps.last(t)
	assert.Equal(t, http.MethodPut, req.method)
	assert.Equal(t, "/api/service/market/image/desk/image?checkLatest=false&runCheckPipeline=false&sendCheckResultNotify=false", req.uri)

	var body map[string]any
	require.NoError(t, json.Unmarshal(req.body, &body))
	assert.Equal(t, "1.0.0", body["version"])
	assert.Equal(t, "NEW", body["releaseType"])
	assert.Equal(t, []any{"DOCKER", "IDC", "PUBLIC_DEVCLOUD"}, body["agentTypeScope"])
}

func TestApproveImage(t *testing.T) {
	t.Parallel()

	ps, srv := newPlatformServer(t, http.StatusOK, `{"status":0,"data":true}`)
	client := makeImageClient(srv, "approve-image")

	sample := store.DemoSample("demo", "admin", "tlinux_ci")
	env, err := client.ApproveImage(context.Background(), "admin", "V1", sample.Approve)
	require.NoError(t, err)
	assert.True(t, env.OK())

	req := ps.last(t)
	assert.Equal(t, http.MethodPut, req.method)
	assert.Equal(t, "/api/op/market/image/V1/approve", req.uri)

	var body store.ApproveImageRequest
	require.NoError(t, json.Unmarshal(req.body, &body))
	assert.Equal(t, store.ApprovePass, body.Result)
	assert.True(t, body.PublicFlag)
}

func TestServiceCall_UndecodableSuccess(t *testing.T) {
	t.Parallel()

	_, srv := newPlatformServer(t, http.StatusOK, `not json`)
	client := makeImageClient(srv, "undecodable")

	_, err := client.AddImage(context.Background(), "admin", "tlinux_ci", store.ImageRelRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding response envelope")
}

func TestServiceCall_CircuitOpen(t *testing.T) {
	t.Parallel()

	client := NewImageClient(config.ServiceConfig{URL: "http://bk-ci-store"}, NewCircuitBreaker("image-cb-open"))
	client.svc.httpDo = func(*http.Request) (*http.Response, error) {
		return nil, errors.New("dial tcp: connection refused")
	}

	for i := 0; i < 3; i++ {
		_, err := client.AddImage(context.Background(), "admin", "tlinux_ci", store.ImageRelRequest{})
		require.Error(t, err, "attempt %d should fail", i+1)
		var ue *envelope.Error
		assert.False(t, errors.As(err, &ue), "attempt %d should be a transport error", i+1)
	}

	_, err := client.AddImage(context.Background(), "admin", "tlinux_ci", store.ImageRelRequest{})
	var ue *envelope.Error
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusServiceUnavailable, ue.StatusCode)
	assert.Contains(t, ue.Message, "circuit open")
}

func TestServiceProbe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		wantOK bool
	}{
		{name: "ok", status: http.StatusOK, wantOK: true},
		{name: "not found still reachable", status: http.StatusNotFound, wantOK: true},
		{name: "server error", status: http.StatusServiceUnavailable, wantOK: false},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, srv := newPlatformServer(t, tc.status, "")
			result := makeProjectClient(srv, "probe-"+tc.name).Probe(context.Background())

			assert.Equal(t, "project", result.Name)
			assert.Equal(t, tc.wantOK, result.OK)
		})
	}
}

func TestServiceProbe_DoesNotTripCallBreaker(t *testing.T) {
	t.Parallel()

	// The gateway root fails while the service API answers.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":0,"data":{"projectCode":"demo"}}`))
	}))
	t.Cleanup(srv.Close)

	client := makeProjectClient(srv, "probe-isolation")

	for i := 0; i < 3; i++ {
		result := client.Probe(context.Background())
		assert.False(t, result.OK, "probe %d should fail", i+1)
	}
	result := client.Probe(context.Background())
	assert.Equal(t, "circuit open", result.Error)

	env, err := client.GetProject(context.Background(), "demo")
	require.NoError(t, err)
	assert.True(t, env.OK())
	require.NotNil(t, env.Data)
	assert.Equal(t, "demo", env.Data.ProjectCode)
	assert.Equal(t, gobreaker.StateClosed, client.svc.cb.State())
}
