// Package metrics exposes Prometheus collectors for gateway command
// exchanges and reading ingestion.
//
// All methods are safe on a nil *Collector, so components can run without
// metrics in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "silowatch"

// Collector holds the registered collectors.
type Collector struct {
	registry *prometheus.Registry

	commandsIssued   *prometheus.CounterVec
	commandResults   *prometheus.CounterVec
	commandLatency   *prometheus.HistogramVec
	responsesDropped *prometheus.CounterVec
	readingsIngested *prometheus.CounterVec
}

// New creates a Collector on its own registry, including the Go runtime and
// process collectors.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		commandsIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_commands_issued_total",
			Help:      "Gateway commands published, by action.",
		}, []string{"action"}),
		commandResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_command_results_total",
			Help:      "Gateway command outcomes, by action and result.",
		}, []string{"action", "result"}),
		commandLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_command_duration_seconds",
			Help:      "Time from publish to resolution of a gateway command.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		}, []string{"action"}),
		responsesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_responses_dropped_total",
			Help:      "Gateway responses discarded, by reason.",
		}, []string{"reason"}),
		readingsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_ingested_total",
			Help:      "Sensor readings received, by result.",
		}, []string{"result"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.commandsIssued,
		c.commandResults,
		c.commandLatency,
		c.responsesDropped,
		c.readingsIngested,
	)
	return c
}

// RegisterOutstanding exposes the number of commands awaiting a response.
func (c *Collector) RegisterOutstanding(fn func() int) {
	if c == nil || fn == nil {
		return
	}
	c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "gateway_commands_outstanding",
		Help:      "Gateway commands awaiting a response.",
	}, func() float64 { return float64(fn()) }))
}

// IncCommandIssued counts a published command.
func (c *Collector) IncCommandIssued(action string) {
	if c == nil {
		return
	}
	c.commandsIssued.WithLabelValues(action).Inc()
}

// ObserveCommandResult records how and how fast a command resolved.
func (c *Collector) ObserveCommandResult(action, result string, d time.Duration) {
	if c == nil {
		return
	}
	c.commandResults.WithLabelValues(action, result).Inc()
	c.commandLatency.WithLabelValues(action).Observe(d.Seconds())
}

// IncResponseDropped counts a response that matched no pending command or
// could not be parsed.
func (c *Collector) IncResponseDropped(reason string) {
	if c == nil {
		return
	}
	c.responsesDropped.WithLabelValues(reason).Inc()
}

// IncReadingIngested counts an ingested reading; result is "ok" or "invalid".
func (c *Collector) IncReadingIngested(result string) {
	if c == nil {
		return
	}
	c.readingsIngested.WithLabelValues(result).Inc()
}

// Gatherer returns the underlying registry.
func (c *Collector) Gatherer() prometheus.Gatherer {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
