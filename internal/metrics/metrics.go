// Package metrics exposes Prometheus collectors for the sandbox service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/michaelbrown/runbox/internal/sandbox"
)

const namespace = "runbox"

// Collector owns a private registry, so independent servers (and tests) never
// collide on registration.
type Collector struct {
	registry *prometheus.Registry

	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	workspacesActive  prometheus.Gauge
	httpRequestsTotal *prometheus.CounterVec
}

// New creates a Collector with Go runtime and process collectors registered.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		executionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_total",
				Help:      "Total number of code executions by outcome",
			},
			[]string{"outcome"},
		),
		executionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_seconds",
				Help:      "Wall-clock execution time including workspace setup and teardown",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
			},
			[]string{"outcome"},
		),
		workspacesActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "workspaces_active",
				Help:      "Number of workspaces currently on disk",
			},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
	}
}

func (c *Collector) WorkspaceAcquired() { c.workspacesActive.Inc() }

func (c *Collector) WorkspaceReleased() { c.workspacesActive.Dec() }

func (c *Collector) ExecutionFinished(outcome sandbox.Outcome, d time.Duration) {
	c.executionsTotal.WithLabelValues(string(outcome)).Inc()
	c.executionDuration.WithLabelValues(string(outcome)).Observe(d.Seconds())
}

// ObserveHTTP counts one served request. route should be the router pattern,
// not the raw path, to keep label cardinality bounded.
func (c *Collector) ObserveHTTP(method, route string, status int) {
	c.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
