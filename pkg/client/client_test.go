package client

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eugenetaranov/ledgerlink/internal/api"
	"github.com/eugenetaranov/ledgerlink/internal/connector"
	"github.com/eugenetaranov/ledgerlink/internal/deploy"
	"github.com/eugenetaranov/ledgerlink/internal/nodeshell"
)

type stubBackend struct {
	started   nodeshell.FlowInvocation
	stateType string
	deployErr error
	listErr   error
}

func (b *stubBackend) Deploy(_ context.Context, artifacts []deploy.Artifact) (*deploy.Outcome, error) {
	if b.deployErr != nil {
		return nil, b.deployErr
	}
	if _, err := deploy.Validate(artifacts); err != nil {
		return &deploy.Outcome{Errors: []string{err.Error()}}, nil
	}
	names := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		names = append(names, a.Filename)
	}
	return &deploy.Outcome{Deployed: names}, nil
}

func (b *stubBackend) ListFlows(context.Context) ([]string, error) {
	return []string{"flowA", "flowB", ""}, b.listErr
}

func (b *stubBackend) StartFlow(_ context.Context, inv nodeshell.FlowInvocation) (string, error) {
	b.started = inv
	return "Flow completed", nil
}

func (b *stubBackend) QueryVault(_ context.Context, stateType string) (string, error) {
	b.stateType = stateType
	return "states: []", nil
}

func newServer(t *testing.T, backend api.Backend) *httptest.Server {
	t.Helper()
	r := mux.NewRouter()
	api.Register(r, api.New(backend).Endpoints())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func serverURL(t *testing.T, backend api.Backend) string {
	return newServer(t, backend).URL
}

func TestDeployContractJars(t *testing.T) {
	srv := newServer(t, &stubBackend{})

	dir := t.TempDir()
	path := filepath.Join(dir, "workflows.jar")
	require.NoError(t, os.WriteFile(path, []byte("PK\x03\x04"), 0o644))

	jar, err := ArtifactFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "workflows.jar", jar.Filename)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("PK\x03\x04")), jar.ContentBase64)

	deployed, err := New(srv.URL).DeployContractJars(context.Background(), []Artifact{jar})
	require.NoError(t, err)
	assert.Equal(t, []string{"workflows.jar"}, deployed)
}

func TestDeployContractJarsAPIError(t *testing.T) {
	srv := newServer(t, &stubBackend{})

	_, err := New(srv.URL).DeployContractJars(context.Background(), nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.NotEmpty(t, apiErr.Errors)
	assert.Contains(t, apiErr.Error(), "400 Bad Request")
}

func TestDeployContractJarsConnectionFailure(t *testing.T) {
	srv := newServer(t, &stubBackend{deployErr: &connector.ConnectionError{Target: "ssh://root@node:22", Err: errors.New("refused")}})

	_, err := New(srv.URL).DeployContractJars(context.Background(), []Artifact{{Filename: "a.jar", ContentBase64: "eA=="}})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Contains(t, apiErr.Errors[0], "refused")
}

func TestFlowsAndVault(t *testing.T) {
	backend := &stubBackend{}
	c := New(serverURL(t, backend))

	flows, err := c.ListFlows(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"flowA", "flowB"}, flows)

	out, err := c.StartFlow(context.Background(), "com.example.EchoFlow", map[string]string{"msg": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Flow completed", out)
	assert.Equal(t, "com.example.EchoFlow", backend.started.FlowName)
	assert.Equal(t, map[string]string{"msg": "hi"}, backend.started.Args)

	out, err = c.QueryVault(context.Background(), "com.example.ActorState")
	require.NoError(t, err)
	assert.Equal(t, "states: []", out)
	assert.Equal(t, "com.example.ActorState", backend.stateType)
}

func TestListFlowsBadGateway(t *testing.T) {
	c := New(serverURL(t, &stubBackend{listErr: &connector.CommandError{Cmd: "flow list", ExitCode: 1, Stderr: "boom"}}))

	_, err := c.ListFlows(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"flowNames":["flowA"]}`))
	}))
	defer ts.Close()

	flows, err := New(ts.URL, WithRetry(3, time.Millisecond, 5*time.Millisecond)).ListFlows(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"flowA"}, flows)
	assert.Equal(t, int32(3), calls.Load())
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer ts.Close()

	_, err := New(ts.URL, WithRetry(3, time.Millisecond, 5*time.Millisecond)).ListFlows(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, []string{"nope"}, apiErr.Errors)
	assert.Equal(t, int32(1), calls.Load())
}

func TestArtifactFromMissingFile(t *testing.T) {
	_, err := ArtifactFromFile(filepath.Join(t.TempDir(), "missing.jar"))
	assert.Error(t, err)
}
