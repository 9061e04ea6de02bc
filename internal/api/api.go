// Package api exposes the connector operations over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/eugenetaranov/ledgerlink/internal/connector"
	"github.com/eugenetaranov/ledgerlink/internal/deploy"
	"github.com/eugenetaranov/ledgerlink/internal/logging"
	"github.com/eugenetaranov/ledgerlink/internal/nodeshell"
)

// Routes.
const (
	BasePath               = "/api/v1/plugins/ledger-connector-corda"
	DeployContractJarsPath = BasePath + "/deploy-contract-jars"
	ListFlowsPath          = BasePath + "/flows"
	StartFlowPath          = BasePath + "/flows/{flowName}/start"
	QueryVaultPath         = BasePath + "/vault/{stateType}"
)

// DefaultMaxBodyBytes bounds request bodies when no limit is configured.
const DefaultMaxBodyBytes = 50 * 1024 * 1024

// RequestIDHeader carries the id that tags a request's log lines.
const RequestIDHeader = "X-Request-Id"

// Backend performs the operations behind the endpoints.
type Backend interface {
	Deploy(ctx context.Context, artifacts []deploy.Artifact) (*deploy.Outcome, error)
	ListFlows(ctx context.Context) ([]string, error)
	StartFlow(ctx context.Context, inv nodeshell.FlowInvocation) (string, error)
	QueryVault(ctx context.Context, stateType string) (string, error)
}

// Endpoint is one route offered to the host application.
type Endpoint struct {
	Method  string
	Path    string
	Handler http.Handler
}

// Server holds the HTTP handlers.
type Server struct {
	backend      Backend
	log          *logrus.Entry
	maxBodyBytes int64
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(log *logrus.Entry) Option {
	return func(s *Server) {
		s.log = log
	}
}

// WithMaxBodyBytes limits request bodies. Larger bodies get 413.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// New creates a Server.
func New(backend Backend, opts ...Option) *Server {
	s := &Server{
		backend:      backend,
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.Component(s.log, "api")
	return s
}

// Endpoints returns every route with its handler.
func (s *Server) Endpoints() []Endpoint {
	return []Endpoint{
		{Method: http.MethodPost, Path: DeployContractJarsPath, Handler: s.wrap(s.deployContractJars)},
		{Method: http.MethodGet, Path: ListFlowsPath, Handler: s.wrap(s.listFlows)},
		{Method: http.MethodPost, Path: StartFlowPath, Handler: s.wrap(s.startFlow)},
		{Method: http.MethodGet, Path: QueryVaultPath, Handler: s.wrap(s.queryVault)},
	}
}

// Register adds endpoints to router.
func Register(router *mux.Router, endpoints []Endpoint) {
	for _, ep := range endpoints {
		router.Handle(ep.Path, ep.Handler).Methods(ep.Method)
	}
}

type ctxKey struct{}

// requestLogger returns the per-request logger set by wrap.
func requestLogger(ctx context.Context) *logrus.Entry {
	if log, ok := ctx.Value(ctxKey{}).(*logrus.Entry); ok {
		return log
	}
	return logging.Discard()
}

// wrap tags the request with an id and logs its outcome.
func (s *Server) wrap(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		log := s.log.WithField("req", id)
		w.Header().Set(RequestIDHeader, id)
		r = r.WithContext(context.WithValue(r.Context(), ctxKey{}, log))

		log.Debugf("--> %s %s", r.Method, r.URL.Path)
		m := httpsnoop.CaptureMetrics(h, w, r)
		entry := log.WithFields(logrus.Fields{
			"status":   m.Code,
			"duration": m.Duration.Round(time.Millisecond).String(),
		})
		if m.Code >= http.StatusInternalServerError {
			entry.Warnf("<-- %s %s", r.Method, r.URL.Path)
			return
		}
		entry.Infof("<-- %s %s", r.Method, r.URL.Path)
	})
}

func (s *Server) deployContractJars(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	if problems := validateDeployRequest(body); len(problems) > 0 {
		writeErrors(w, http.StatusBadRequest, deploy.LimitErrors(problems)...)
		return
	}
	var req DeployContractJarsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeErrors(w, http.StatusBadRequest, fmt.Sprintf("malformed request: %v", err))
		return
	}

	out, err := s.backend.Deploy(r.Context(), req.JarFiles)
	if err != nil {
		requestLogger(r.Context()).WithError(err).Error("Deployment could not start")
		writeErrors(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !out.OK() {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Errors: out.Errors})
		return
	}
	writeJSON(w, http.StatusOK, DeployContractJarsResponse{DeployedJarFiles: out.Deployed})
}

func (s *Server) listFlows(w http.ResponseWriter, r *http.Request) {
	flows, err := s.backend.ListFlows(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListFlowsResponse{FlowNames: nodeshell.FilterEmpty(flows)})
}

func (s *Server) startFlow(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	var req StartFlowRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeErrors(w, http.StatusBadRequest, fmt.Sprintf("malformed JSON body: %v", err))
			return
		}
	}

	output, err := s.backend.StartFlow(r.Context(), nodeshell.FlowInvocation{
		FlowName: mux.Vars(r)["flowName"],
		Args:     req.Args,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, OutputResponse{Output: output})
}

func (s *Server) queryVault(w http.ResponseWriter, r *http.Request) {
	output, err := s.backend.QueryVault(r.Context(), mux.Vars(r)["stateType"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, OutputResponse{Output: output})
}

// readBody reads the request body within the size limit, answering 413 or
// 400 itself when it cannot.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErrors(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return nil, false
		}
		writeErrors(w, http.StatusBadRequest, fmt.Sprintf("failed to read request body: %v", err))
		return nil, false
	}
	return body, true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		requestLogger(r.Context()).WithError(err).Error("Node shell operation failed")
	}
	writeErrors(w, status, err.Error())
}

// StatusFor maps an operation error to an HTTP status: 400 for rejected
// input, 502 when the node shell answered with a failure, 500 otherwise.
func StatusFor(err error) int {
	var (
		nameErr *nodeshell.InvalidNameError
		argErr  *nodeshell.InvalidArgumentError
		cmdErr  *connector.CommandError
	)
	switch {
	case errors.As(err, &nameErr), errors.As(err, &argErr):
		return http.StatusBadRequest
	case errors.As(err, &cmdErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeErrors(w http.ResponseWriter, status int, msgs ...string) {
	writeJSON(w, status, ErrorResponse{Errors: msgs})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
