// Package metrics exposes the Prometheus gauges and counters the
// Inference Transport reports into, registered on a dedicated
// registry and served by cmd/server at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements transport.Metrics against a Prometheus registry.
type Recorder struct {
	engineReady     prometheus.Gauge
	engineBackoff   prometheus.Gauge
	activeSessions  prometheus.Gauge
	reconnectsTotal prometheus.Counter
	inferenceErrors *prometheus.CounterVec
}

// New registers the Inference Transport's metrics on reg and returns a
// Recorder. Passing prometheus.NewRegistry() keeps these metrics off
// the global default registry, which cmd/server otherwise leaves free
// for Go runtime collectors.
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		engineReady: factory.NewGauge(prometheus.GaugeOpts{
			Name: "engine_ready",
			Help: "1 if the Inference Transport's connection state is Ready, 0 otherwise.",
		}),
		engineBackoff: factory.NewGauge(prometheus.GaugeOpts{
			Name: "engine_backoff_seconds",
			Help: "Current reconnect backoff delay in seconds, 0 when not backing off.",
		}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "active_sessions",
			Help: "Number of sessions with an open Delivery Channel.",
		}),
		reconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "reconnects_total",
			Help: "Total number of times the Connection Supervisor re-entered Dialing after losing a Ready connection.",
		}),
		inferenceErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "inference_errors_total",
			Help: "Total number of errors surfaced from Infer, labeled by error kind.",
		}, []string{"kind"}),
	}
}

func (r *Recorder) SetEngineReady(ready bool) {
	if ready {
		r.engineReady.Set(1)
		return
	}
	r.engineReady.Set(0)
}

func (r *Recorder) SetBackoffSeconds(seconds float64) {
	r.engineBackoff.Set(seconds)
}

func (r *Recorder) SetActiveSessions(n int) {
	r.activeSessions.Set(float64(n))
}

func (r *Recorder) IncReconnects() {
	r.reconnectsTotal.Inc()
}

func (r *Recorder) IncInferenceErrors(kind string) {
	r.inferenceErrors.WithLabelValues(kind).Inc()
}
