package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements metrics collection for a running orchestrator
// using Prometheus client_golang.
type Collector struct {
	runsStarted   *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	nodesExecuted *prometheus.CounterVec
	nodeDuration  *prometheus.HistogramVec

	gatewayRPCs      *prometheus.CounterVec
	gatewayRPCLatency *prometheus.HistogramVec
	handshakeOutcome *prometheus.CounterVec
	chatDeltas       prometheus.Counter

	foreachFanout prometheus.Histogram
	disabledEdges prometheus.Counter

	execPoolCapacity prometheus.Gauge
	execPoolActive   prometheus.Gauge
}

// NewCollector creates a new Prometheus metrics collector.
func NewCollector() *Collector {
	return &Collector{
		runsStarted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arborflow_runs_total",
				Help: "Total number of runs, by terminal status",
			},
			[]string{"status"},
		),
		runDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arborflow_run_duration_seconds",
				Help:    "Run wall-clock duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"status"},
		),
		nodesExecuted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arborflow_nodes_executed_total",
				Help: "Total number of node executions, by kind and outcome",
			},
			[]string{"kind", "status"},
		),
		nodeDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arborflow_node_duration_seconds",
				Help:    "Node execution duration in seconds, by kind",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"kind"},
		),
		gatewayRPCs: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arborflow_gateway_rpc_total",
				Help: "Total number of gateway RPC calls, by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		gatewayRPCLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arborflow_gateway_rpc_latency_seconds",
				Help:    "Gateway RPC round-trip latency in seconds, by method",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"method"},
		),
		handshakeOutcome: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arborflow_gateway_handshake_total",
				Help: "Total number of gateway handshake attempts, by outcome",
			},
			[]string{"outcome"},
		),
		chatDeltas: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "arborflow_chat_deltas_total",
				Help: "Total number of chat delta events received from the gateway",
			},
		),
		foreachFanout: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "arborflow_foreach_fanout_size",
				Help:    "Number of child subgraph runs spawned per ForEach execution",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
			},
		),
		disabledEdges: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "arborflow_disabled_edges_total",
				Help: "Total number of edges disabled by Switch/ForEach/pre-dispatch abort",
			},
		),
		execPoolCapacity: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "arborflow_execpool_capacity",
				Help: "Configured execpool admission capacity",
			},
		),
		execPoolActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "arborflow_execpool_active",
				Help: "Currently admitted (in-flight) execpool slots",
			},
		),
	}
}

// RecordRunStarted increments the started-run counter.
func (c *Collector) RecordRunStarted() {
	c.runsStarted.WithLabelValues("started").Inc()
}

// RecordRunFinished records a run's terminal status and total duration.
func (c *Collector) RecordRunFinished(status string, duration time.Duration) {
	c.runsStarted.WithLabelValues(status).Inc()
	c.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordNodeExecuted records one node execution's kind, outcome, and duration.
func (c *Collector) RecordNodeExecuted(kind, status string, duration time.Duration) {
	c.nodesExecuted.WithLabelValues(kind, status).Inc()
	c.nodeDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordGatewayRPC records one gateway RPC call's method, outcome, and latency.
func (c *Collector) RecordGatewayRPC(method, outcome string, latency time.Duration) {
	c.gatewayRPCs.WithLabelValues(method, outcome).Inc()
	c.gatewayRPCLatency.WithLabelValues(method).Observe(latency.Seconds())
}

// RecordHandshake records the outcome of a gateway connect attempt.
func (c *Collector) RecordHandshake(outcome string) {
	c.handshakeOutcome.WithLabelValues(outcome).Inc()
}

// RecordChatDelta increments the chat delta counter.
func (c *Collector) RecordChatDelta() {
	c.chatDeltas.Inc()
}

// RecordForeachFanout records the size of one ForEach fan-out.
func (c *Collector) RecordForeachFanout(n int) {
	c.foreachFanout.Observe(float64(n))
}

// RecordDisabledEdge increments the disabled-edge counter.
func (c *Collector) RecordDisabledEdge() {
	c.disabledEdges.Inc()
}

// SetExecPoolStatus sets the current execpool saturation gauges.
func (c *Collector) SetExecPoolStatus(active, capacity int) {
	c.execPoolActive.Set(float64(active))
	c.execPoolCapacity.Set(float64(capacity))
}
