// Package prometheus implements the metrics port with Prometheus
// collectors, served on /metrics by the HTTP server.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector records engine metrics under the muster_* namespace.
type Collector struct {
	itemsCreated      prometheus.Counter
	itemsTerminal     *prometheus.CounterVec
	itemRuntime       *prometheus.HistogramVec
	dispatches        *prometheus.CounterVec
	triggerFires      *prometheus.CounterVec
	llmCalls          *prometheus.CounterVec
	llmLatency        *prometheus.HistogramVec
	broadcasts        *prometheus.CounterVec
	heartbeatTimeouts prometheus.Counter
	fleetSize         *prometheus.GaugeVec
	queueDepth        *prometheus.GaugeVec
}

// NewCollector creates and registers the collectors.
func NewCollector() *Collector {
	return &Collector{
		itemsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "muster_items_created_total",
			Help: "Total number of work items created",
		}),
		itemsTerminal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "muster_items_terminal_total",
			Help: "Total number of work items reaching a terminal state",
		}, []string{"state"}),
		itemRuntime: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "muster_item_runtime_seconds",
			Help:    "Time from item creation to terminal state",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600, 14400},
		}, []string{"state"}),
		dispatches: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "muster_dispatches_total",
			Help: "Total number of dispatch outcomes",
		}, []string{"result"}),
		triggerFires: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "muster_trigger_fires_total",
			Help: "Total number of trigger fire attempts",
		}, []string{"result"}),
		llmCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "muster_llm_calls_total",
			Help: "Total number of model calls",
		}, []string{"tier", "status"}),
		llmLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "muster_llm_latency_seconds",
			Help:    "Model call latency in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 60, 120},
		}, []string{"tier"}),
		broadcasts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "muster_broadcasts_total",
			Help: "Total number of fleet broadcasts",
		}, []string{"kind"}),
		heartbeatTimeouts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "muster_worker_heartbeat_timeouts_total",
			Help: "Total number of workers evicted for missed heartbeats",
		}),
		fleetSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "muster_workers",
			Help: "Connected workers by state",
		}, []string{"state"}),
		queueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "muster_queue_depth",
			Help: "Work items by queue position",
		}, []string{"queue"}),
	}
}

func (c *Collector) RecordItemCreated() {
	c.itemsCreated.Inc()
}

func (c *Collector) RecordItemTerminal(state string, runtime time.Duration) {
	c.itemsTerminal.WithLabelValues(state).Inc()
	c.itemRuntime.WithLabelValues(state).Observe(runtime.Seconds())
}

func (c *Collector) RecordDispatch(result string) {
	c.dispatches.WithLabelValues(result).Inc()
}

func (c *Collector) RecordTriggerFire(result string) {
	c.triggerFires.WithLabelValues(result).Inc()
}

func (c *Collector) RecordLLMCall(tier string, duration time.Duration, failed bool) {
	status := "ok"
	if failed {
		status = "error"
	}
	c.llmCalls.WithLabelValues(tier, status).Inc()
	c.llmLatency.WithLabelValues(tier).Observe(duration.Seconds())
}

func (c *Collector) RecordBroadcast(kind string, receivers int) {
	c.broadcasts.WithLabelValues(kind).Add(float64(receivers))
}

func (c *Collector) RecordHeartbeatTimeout() {
	c.heartbeatTimeouts.Inc()
}

func (c *Collector) SetFleetSize(connected, idle, busy int) {
	c.fleetSize.WithLabelValues("connected").Set(float64(connected))
	c.fleetSize.WithLabelValues("idle").Set(float64(idle))
	c.fleetSize.WithLabelValues("busy").Set(float64(busy))
}

func (c *Collector) SetQueueDepths(pending, ready, inflight int) {
	c.queueDepth.WithLabelValues("pending").Set(float64(pending))
	c.queueDepth.WithLabelValues("ready").Set(float64(ready))
	c.queueDepth.WithLabelValues("inflight").Set(float64(inflight))
}
