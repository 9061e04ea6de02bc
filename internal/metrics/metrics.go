// Package metrics exposes Prometheus instruments for remote commands and
// deployments, registered on an explicit registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ledgerlink"

// Result labels.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultError   = "error"
)

// Metrics holds the connector instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	commands         *prometheus.CounterVec
	commandDuration  *prometheus.HistogramVec
	deployments      *prometheus.CounterVec
	deployedArtifact prometheus.Counter
}

// New creates the instruments and registers them on registry. A nil registry
// gets a fresh one.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: registry,
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_commands_total",
			Help:      "Remote shell commands executed, by kind and result.",
		}, []string{"kind", "result"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_command_duration_seconds",
			Help:      "Remote shell command latency.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"kind"}),
		deployments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deployments_total",
			Help:      "Contract jar deployment requests, by result.",
		}, []string{"result"}),
		deployedArtifact: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deployed_artifacts_total",
			Help:      "Contract jars written to the node.",
		}),
	}
	registry.MustRegister(m.commands, m.commandDuration, m.deployments, m.deployedArtifact)
	return m
}

// ObserveCommand records one remote command of the given kind.
func (m *Metrics) ObserveCommand(kind string, started time.Time, err error) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	m.commands.WithLabelValues(kind, result).Inc()
	m.commandDuration.WithLabelValues(kind).Observe(time.Since(started).Seconds())
}

// ObserveDeployment records a deployment outcome and the number of jars written.
func (m *Metrics) ObserveDeployment(result string, artifacts int) {
	if m == nil {
		return
	}
	m.deployments.WithLabelValues(result).Inc()
	m.deployedArtifact.Add(float64(artifacts))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the registry the instruments live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
