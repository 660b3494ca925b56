// Package telemetry exposes prometheus instrumentation for the pipeline:
// oracle calls, retrieval queries and executed remote operations.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Telemetry aggregates the pipeline metrics. A nil *Telemetry is a valid
// no-op receiver so components can be constructed without monitoring.
type Telemetry struct {
	oracleCalls    *prometheus.CounterVec
	oracleLatency  *prometheus.HistogramVec
	retrievals     *prometheus.CounterVec
	operations     *prometheus.CounterVec
	operationTimes prometheus.Histogram
	sessions       *prometheus.CounterVec
	sessionSteps   prometheus.Histogram
}

// New registers all pipeline metrics against reg.
func New(reg prometheus.Registerer) *Telemetry {
	t := &Telemetry{
		oracleCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kramen_oracle_calls_total",
			Help: "Reasoning calls by kind (rephrase, filter, extract, plan, synthesize) and status.",
		}, []string{"kind", "status"}),
		oracleLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kramen_oracle_latency_seconds",
			Help:    "Reasoning call latency by kind.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		retrievals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kramen_retrievals_total",
			Help: "Hybrid retrieval queries by status.",
		}, []string{"status"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kramen_operations_total",
			Help: "Executed remote operations by HTTP method and status.",
		}, []string{"method", "status"}),
		operationTimes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kramen_operation_latency_seconds",
			Help:    "Latency of the remote call itself.",
			Buckets: prometheus.DefBuckets,
		}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kramen_sessions_total",
			Help: "Planning sessions by mode (action, deep) and status.",
		}, []string{"mode", "status"}),
		sessionSteps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kramen_session_steps",
			Help:    "Steps executed per deep session.",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 6, 7},
		}),
	}
	reg.MustRegister(t.oracleCalls, t.oracleLatency, t.retrievals, t.operations, t.operationTimes, t.sessions, t.sessionSteps)
	return t
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordOracleCall records one reasoning call.
func (t *Telemetry) RecordOracleCall(kind string, d time.Duration, err error) {
	if t == nil {
		return
	}
	t.oracleCalls.WithLabelValues(kind, statusLabel(err)).Inc()
	t.oracleLatency.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordRetrieval records one hybrid retrieval query.
func (t *Telemetry) RecordRetrieval(err error) {
	if t == nil {
		return
	}
	t.retrievals.WithLabelValues(statusLabel(err)).Inc()
}

// RecordOperation records one executed remote operation.
func (t *Telemetry) RecordOperation(method string, d time.Duration, err error) {
	if t == nil {
		return
	}
	t.operations.WithLabelValues(method, statusLabel(err)).Inc()
	if err == nil {
		t.operationTimes.Observe(d.Seconds())
	}
}

// RecordSession records one completed planning session.
func (t *Telemetry) RecordSession(mode string, steps int, err error) {
	if t == nil {
		return
	}
	t.sessions.WithLabelValues(mode, statusLabel(err)).Inc()
	if mode == "deep" {
		t.sessionSteps.Observe(float64(steps))
	}
}
