// Package metrics provides optional Prometheus instrumentation for Flow
// execution. A Flow with no Recorder configured runs with zero metrics
// overhead.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder collects execution metrics for one or more Flows sharing a
// registry. All methods are safe for concurrent use across simultaneous
// RunHandles.
type Recorder struct {
	activeRuns  prometheus.Gauge
	stepLatency *prometheus.HistogramVec
	retries     *prometheus.CounterVec
	stepsTotal  *prometheus.CounterVec
}

// NewRecorder registers nanoflow_ namespaced metrics with registry. A nil
// registry uses prometheus.DefaultRegisterer.
func NewRecorder(registry prometheus.Registerer) *Recorder {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Recorder{
		activeRuns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "nanoflow",
			Name:      "active_runs",
			Help:      "Number of Flow runs currently executing (foreground or background).",
		}),
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nanoflow",
			Name:      "step_latency_ms",
			Help:      "Per-node execution latency in milliseconds.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"flow_name", "node_name", "status"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nanoflow",
			Name:      "retries_total",
			Help:      "Cumulative exec retry attempts.",
		}, []string{"flow_name", "node_name"}),
		stepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nanoflow",
			Name:      "steps_total",
			Help:      "Cumulative completed node steps.",
		}, []string{"flow_name"}),
	}
}

func (r *Recorder) RunStarted()   { r.activeRuns.Inc() }
func (r *Recorder) RunFinished()  { r.activeRuns.Dec() }

func (r *Recorder) RecordStep(flowName, nodeName, status string, elapsedMs float64) {
	r.stepLatency.WithLabelValues(flowName, nodeName, status).Observe(elapsedMs)
	if status == "success" {
		r.stepsTotal.WithLabelValues(flowName).Inc()
	}
}

func (r *Recorder) RecordRetry(flowName, nodeName string) {
	r.retries.WithLabelValues(flowName, nodeName).Inc()
}
