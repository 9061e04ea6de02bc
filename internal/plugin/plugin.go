// Package plugin assembles the connector from its configuration and owns the
// lifecycle of its optional HTTP server.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/eugenetaranov/ledgerlink/internal/api"
	"github.com/eugenetaranov/ledgerlink/internal/config"
	"github.com/eugenetaranov/ledgerlink/internal/connector"
	"github.com/eugenetaranov/ledgerlink/internal/deploy"
	"github.com/eugenetaranov/ledgerlink/internal/logging"
	"github.com/eugenetaranov/ledgerlink/internal/metrics"
	"github.com/eugenetaranov/ledgerlink/internal/nodeshell"
)

// ID identifies the connector to the host application.
const ID = "ledgerlink-connector-corda"

// MetricsPath serves Prometheus metrics on the dedicated server.
const MetricsPath = "/metrics"

// ErrNoHTTPConfig is returned when a dedicated server is requested without
// an http section.
var ErrNoHTTPConfig = errors.New("no router supplied and no http section configured")

// Plugin is one configured connector instance.
type Plugin struct {
	cfg      config.Config
	log      *logrus.Entry
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	adminDial connector.Dialer
	shellDial connector.Dialer
	encoder   nodeshell.ArgEncoder
	pipeline  *deploy.Pipeline
	api       *api.Server

	mu        sync.Mutex
	server    *http.Server
	addr      net.Addr
	serveDone chan error
}

var _ api.Backend = (*Plugin)(nil)

// Option configures a Plugin.
type Option func(*Plugin)

// WithLogger sets the logger. By default one is built from the log section.
func WithLogger(log *logrus.Entry) Option {
	return func(p *Plugin) {
		p.log = log
	}
}

// WithDialer replaces the configured transports for both the administrative
// and the node shell.
func WithDialer(dial connector.Dialer) Option {
	return func(p *Plugin) {
		p.adminDial = dial
		p.shellDial = dial
	}
}

// WithRegistry registers the connector metrics on registry.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(p *Plugin) {
		p.registry = registry
	}
}

// New builds a Plugin. cfg is copied; later changes by the caller have no
// effect.
func New(cfg config.Config, opts ...Option) (*Plugin, error) {
	p := &Plugin{cfg: cfg.Clone()}
	for _, opt := range opts {
		opt(p)
	}

	if p.log == nil {
		log, err := logging.New(p.cfg.Log.Level, p.cfg.Log.Format, os.Stderr)
		if err != nil {
			return nil, err
		}
		p.log = log
	}
	p.log = p.log.WithField("plugin", ID)

	if p.registry == nil {
		p.registry = prometheus.NewRegistry()
		p.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	p.metrics = metrics.New(p.registry)

	enc, err := nodeshell.EncoderFor(p.cfg.Node.ArgEncoding)
	if err != nil {
		return nil, err
	}
	p.encoder = enc

	if p.adminDial == nil {
		if p.adminDial, err = NewDialer(p.cfg.Remote, p.log); err != nil {
			return nil, fmt.Errorf("failed to configure remote: %w", err)
		}
	}
	if p.shellDial == nil {
		if p.shellDial, err = NewDialer(p.cfg.NodeShellRemote(), p.log); err != nil {
			return nil, fmt.Errorf("failed to configure node shell: %w", err)
		}
	}

	p.pipeline = deploy.New(p.adminDial, deploy.Options{
		CorDappsDir: p.cfg.Node.CorDappsDir,
		StopCmd:     p.cfg.Node.StopCmd,
		StartCmd:    p.cfg.Node.StartCmd,
		FileMode:    p.cfg.Deploy.FileMode,
		Staging:     p.cfg.Deploy.Staging,
	}, deploy.WithLogger(p.log), deploy.WithMetrics(p.metrics))

	apiOpts := []api.Option{api.WithLogger(p.log)}
	if p.cfg.HTTP != nil {
		apiOpts = append(apiOpts, api.WithMaxBodyBytes(p.cfg.HTTP.MaxBodyBytes))
	}
	p.api = api.New(p, apiOpts...)

	return p, nil
}

// ID returns the connector identifier.
func (p *Plugin) ID() string {
	return ID
}

// Config returns a copy of the configuration in use.
func (p *Plugin) Config() config.Config {
	return p.cfg.Clone()
}

// InstallWebServices registers the endpoints on router. With a nil router the
// plugin starts its own server on the configured http address, which also
// serves metrics.
func (p *Plugin) InstallWebServices(ctx context.Context, router *mux.Router) ([]api.Endpoint, error) {
	endpoints := p.api.Endpoints()
	if router != nil {
		api.Register(router, endpoints)
		p.log.Infof("Installed %d endpoints on host router", len(endpoints))
		return endpoints, nil
	}

	if p.cfg.HTTP == nil {
		return nil, ErrNoHTTPConfig
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.server != nil {
		return nil, fmt.Errorf("HTTP server already running on %s", p.addr)
	}

	r := mux.NewRouter()
	api.Register(r, endpoints)
	r.Handle(MetricsPath, p.metrics.Handler()).Methods(http.MethodGet)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", p.cfg.HTTP.Addr())
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", p.cfg.HTTP.Addr(), err)
	}

	srv := &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 30 * time.Second,
	}
	done := make(chan error, 1)
	go func() {
		err := srv.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		if err != nil {
			p.log.WithError(err).Error("HTTP server stopped")
		}
		done <- err
	}()

	p.server = srv
	p.addr = listener.Addr()
	p.serveDone = done
	p.log.Infof("HTTP server listening on %s", p.addr)
	return endpoints, nil
}

// HTTPAddr returns the address of the dedicated server, if one is running.
func (p *Plugin) HTTPAddr() (net.Addr, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addr, p.addr != nil
}

// Shutdown stops the dedicated server, waiting for in-flight requests up to
// the configured shutdown timeout. It does nothing when no server runs.
func (p *Plugin) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	srv, done := p.server, p.serveDone
	p.server, p.addr, p.serveDone = nil, nil, nil
	p.mu.Unlock()

	if srv == nil {
		return nil
	}

	timeout := config.DefaultShutdownTimeout
	if p.cfg.HTTP != nil && p.cfg.HTTP.ShutdownTimeout > 0 {
		timeout = p.cfg.HTTP.ShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		_ = srv.Close()
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	p.log.Info("HTTP server stopped")
	return <-done
}

// Deploy writes contract jars to the node and restarts it.
func (p *Plugin) Deploy(ctx context.Context, artifacts []deploy.Artifact) (*deploy.Outcome, error) {
	return p.pipeline.Deploy(ctx, artifacts)
}

// ListFlows lists the flows registered on the node.
func (p *Plugin) ListFlows(ctx context.Context) ([]string, error) {
	var flows []string
	err := connector.WithSession(ctx, p.shellDial, func(conn connector.Connector) error {
		var err error
		flows, err = p.shell(conn).ListFlows(ctx)
		return err
	})
	return flows, err
}

// StartFlow starts a flow and returns the node's reply.
func (p *Plugin) StartFlow(ctx context.Context, inv nodeshell.FlowInvocation) (string, error) {
	// reject bad input before opening a session
	if _, err := p.shell(nil).StartFlowCommand(inv); err != nil {
		return "", err
	}

	var out string
	err := connector.WithSession(ctx, p.shellDial, func(conn connector.Connector) error {
		var err error
		out, err = p.shell(conn).StartFlow(ctx, inv)
		return err
	})
	return out, err
}

// QueryVault queries the node's vault for states of stateType.
func (p *Plugin) QueryVault(ctx context.Context, stateType string) (string, error) {
	if _, err := nodeshell.QueryVaultCommand(stateType); err != nil {
		return "", err
	}

	var out string
	err := connector.WithSession(ctx, p.shellDial, func(conn connector.Connector) error {
		var err error
		out, err = p.shell(conn).QueryVault(ctx, stateType)
		return err
	})
	return out, err
}

// Metrics returns the connector instruments.
func (p *Plugin) Metrics() *metrics.Metrics {
	return p.metrics
}

func (p *Plugin) shell(conn connector.Connector) *nodeshell.Shell {
	return nodeshell.New(conn,
		nodeshell.WithEncoder(p.encoder),
		nodeshell.WithLogger(p.log),
		nodeshell.WithMetrics(p.metrics),
	)
}
