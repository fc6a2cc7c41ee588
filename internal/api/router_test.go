package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrylevesque/controlx/internal/auth"
	"github.com/harrylevesque/controlx/internal/dispatch"
	"github.com/harrylevesque/controlx/internal/models"
)

type memRegistry struct {
	endpoints []*models.Endpoint
	err       error
}

func (m *memRegistry) Lookup(_ context.Context, route, method string) (*models.Endpoint, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, ep := range m.endpoints {
		if ep.Route == route && ep.Method == method {
			return ep, nil
		}
	}
	return nil, nil
}

type countingExecutor struct {
	inner dispatch.Executor
	calls int
}

func (c *countingExecutor) Execute(ctx context.Context, inv dispatch.Invocation) (dispatch.Output, error) {
	c.calls++
	return c.inner.Execute(ctx, inv)
}

type fixture struct {
	handler  http.Handler
	registry *memRegistry
	executor *countingExecutor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hash, err := auth.HashPassword("pw")
	require.NoError(t, err)
	users := auth.UserSourceFunc(func(_ context.Context, name string) (*models.User, error) {
		if name != "admin" {
			return nil, auth.ErrUserNotFound
		}
		return &models.User{Username: "admin", Password: hash, Role: models.RoleAdmin}, nil
	})

	reg := &memRegistry{endpoints: []*models.Endpoint{
		{Name: "echo", Route: "/echo", Method: "GET", Command: "echo {msg}"},
		{Name: "post-echo", Route: "/tools/echo", Method: "POST", Command: "echo {msg}"},
		{Name: "x", Route: "/x", Method: "GET", Command: "echo {v}"},
	}}
	exec := &countingExecutor{inner: &dispatch.ProcessExecutor{}}
	d := dispatch.New(reg, exec)
	a := auth.NewAuthenticator(users, "Login Required", nil)

	h := NewRouter(d, a, zerolog.Nop(), Options{
		CORSOrigins:    []string{"http://localhost:5000"},
		MetricsEnabled: true,
		MetricsPath:    "/metrics",
	})
	return &fixture{handler: h, registry: reg, executor: exec}
}

func (f *fixture) do(t *testing.T, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if authed {
		req.SetBasicAuth("admin", "pw")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestDispatchEcho(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/echo", `{"msg": "hello world"}`, true)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, map[string]any{
		"command": "echo 'hello world'",
		"output":  []any{"hello world"},
		"error":   "",
	}, decode(t, rec))
}

func TestNestedRoute(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/tools/echo", `{"msg": 42}`, true)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"42"}, decode(t, rec)["output"])
}

func TestUnauthenticated(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/echo", `{"msg": "x"}`, false)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, `Basic realm="Login Required"`, rec.Header().Get("WWW-Authenticate"))
	assert.Zero(t, f.executor.calls)
}

func TestAuthRunsBeforeResolution(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/missing", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouteMatchIsExact(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/api/echo%20", "/api/echo%09", "/api/echo%0A"} {
		rec := f.do(t, http.MethodGet, path, `{"msg": "x"}`, true)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}

	rec := f.do(t, http.MethodGet, "/api/echo%20", `{"msg": "x"}`, true)
	assert.Equal(t, map[string]any{"error": "No endpoint found for GET /echo "}, decode(t, rec))
	assert.Zero(t, f.executor.calls)
}

func TestNoEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/missing", "", true)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, map[string]any{"error": "No endpoint found for GET /missing"}, decode(t, rec))

	rec = f.do(t, http.MethodDelete, "/api/echo", "", true)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, map[string]any{"error": "No endpoint found for DELETE /echo"}, decode(t, rec))
}

func TestMissingParameter(t *testing.T) {
	f := newFixture(t)
	for _, body := range []string{"", "{}", "not json", "[1, 2]", `{"msg": "x"} trailing`} {
		rec := f.do(t, http.MethodGet, "/api/echo", body, true)
		require.Equal(t, http.StatusOK, rec.Code, "body %q", body)
		assert.Equal(t, map[string]any{"error": "Missing parameter: msg"}, decode(t, rec), "body %q", body)
	}
	assert.Zero(t, f.executor.calls)
}

func TestForbiddenCharacters(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/x", `{"v": "a; echo b"}`, true)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"error": "Command contains forbidden shell characters."}, decode(t, rec))
	assert.Zero(t, f.executor.calls)
}

func TestRegistryFailure(t *testing.T) {
	f := newFixture(t)
	f.registry.err = errors.New("disk I/O error")

	rec := f.do(t, http.MethodGet, "/api/echo", "", true)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, map[string]any{"error": "endpoint lookup failed"}, decode(t, rec))
}

func TestUnsupportedMethod(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPatch, "/api/echo", "", true)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK\n", rec.Body.String())

	f.do(t, http.MethodGet, "/api/echo", `{"msg": "hi"}`, true)
	rec = f.do(t, http.MethodGet, "/metrics", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "controlx_dispatch_total")
}

func TestRequestID(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "", false)
	assert.Len(t, rec.Header().Get(RequestIDHeader), 36)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "6f1c2a9e-1d7b-4c1e-9d57-2f8a3f1e5b10")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, "6f1c2a9e-1d7b-4c1e-9d57-2f8a3f1e5b10", rec.Header().Get(RequestIDHeader))
}

func TestCORS(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:5000")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:5000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
