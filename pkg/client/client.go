// Package client is a Go client for the ledgerlink HTTP API.
package client

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/eugenetaranov/ledgerlink/internal/api"
	"github.com/eugenetaranov/ledgerlink/internal/deploy"
)

// Artifact is one contract jar to deploy.
type Artifact = deploy.Artifact

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Errors     []string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ledgerlink API returned %d %s: %s",
		e.StatusCode, http.StatusText(e.StatusCode), strings.Join(e.Errors, "; "))
}

// Client calls a ledgerlink server.
type Client struct {
	http *resty.Client
}

// Option configures a Client.
type Option func(*resty.Client)

// WithRetry retries transport errors and 5xx answers count times, backing off
// from wait up to maxWait.
func WithRetry(count int, wait, maxWait time.Duration) Option {
	return func(c *resty.Client) {
		c.SetRetryCount(count).
			SetRetryWaitTime(wait).
			SetRetryMaxWaitTime(maxWait).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return err != nil || r.StatusCode() >= http.StatusInternalServerError
			})
	}
}

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(c *resty.Client) {
		c.SetTimeout(d)
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(c *resty.Client) {
		c.SetHeader(key, value)
	}
}

// New creates a Client for the server at baseURL, e.g. http://127.0.0.1:8080.
func New(baseURL string, opts ...Option) *Client {
	rc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json")
	for _, opt := range opts {
		opt(rc)
	}
	return &Client{http: rc}
}

// DeployContractJars deploys jars and returns the deployed file names.
func (c *Client) DeployContractJars(ctx context.Context, jars []Artifact) ([]string, error) {
	var out api.DeployContractJarsResponse
	req := c.http.R().
		SetContext(ctx).
		SetBody(api.DeployContractJarsRequest{JarFiles: jars}).
		SetResult(&out)
	if err := c.do(req, http.MethodPost, api.DeployContractJarsPath); err != nil {
		return nil, err
	}
	return out.DeployedJarFiles, nil
}

// ListFlows returns the node's flow names.
func (c *Client) ListFlows(ctx context.Context) ([]string, error) {
	var out api.ListFlowsResponse
	req := c.http.R().SetContext(ctx).SetResult(&out)
	if err := c.do(req, http.MethodGet, api.ListFlowsPath); err != nil {
		return nil, err
	}
	return out.FlowNames, nil
}

// StartFlow starts a flow and returns the node's reply.
func (c *Client) StartFlow(ctx context.Context, flowName string, args map[string]string) (string, error) {
	var out api.OutputResponse
	req := c.http.R().
		SetContext(ctx).
		SetPathParam("flowName", flowName).
		SetBody(api.StartFlowRequest{Args: args}).
		SetResult(&out)
	if err := c.do(req, http.MethodPost, api.StartFlowPath); err != nil {
		return "", err
	}
	return out.Output, nil
}

// QueryVault returns the node's vault query reply for stateType.
func (c *Client) QueryVault(ctx context.Context, stateType string) (string, error) {
	var out api.OutputResponse
	req := c.http.R().
		SetContext(ctx).
		SetPathParam("stateType", stateType).
		SetResult(&out)
	if err := c.do(req, http.MethodGet, api.QueryVaultPath); err != nil {
		return "", err
	}
	return out.Output, nil
}

func (c *Client) do(req *resty.Request, method, path string) error {
	var apiErr api.ErrorResponse
	res, err := req.SetError(&apiErr).Execute(method, path)
	if err != nil {
		return fmt.Errorf("failed to call %s %s: %w", method, path, err)
	}
	if res.IsError() {
		errs := apiErr.Errors
		if len(errs) == 0 {
			if body := strings.TrimSpace(res.String()); body != "" {
				errs = []string{body}
			}
		}
		return &APIError{StatusCode: res.StatusCode(), Errors: errs}
	}
	return nil
}

// ArtifactFromFile reads a jar from disk and encodes it for deployment.
func ArtifactFromFile(path string) (Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Artifact{
		Filename:      filepath.Base(path),
		ContentBase64: base64.StdEncoding.EncodeToString(data),
	}, nil
}
