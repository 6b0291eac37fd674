// Package metrics declares the Prometheus collectors of the economy core.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "arcade"

// LedgerApplied counts ledger batches by source and outcome
// (applied, already_applied, insufficient_funds, error).
var LedgerApplied = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "batches_total",
	Help:      "Ledger batches by source and outcome.",
}, []string{"source", "outcome"})

// LedgerCredited sums currency credited by source.
var LedgerCredited = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "credited_total",
	Help:      "Currency credited by source and currency.",
}, []string{"source", "currency"})

var Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "economy",
	Name:      "rejections_total",
	Help:      "Policy rejections by operation and reason.",
}, []string{"operation", "reason"})

var AnomalyFlags = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "anomaly",
	Name:      "flags_total",
	Help:      "Gameplay results flagged by heuristic.",
}, []string{"reason"})

// SessionEvents counts session lifecycle events (started, conflict, heartbeat,
// expired, completed).
var SessionEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "session",
	Name:      "events_total",
	Help:      "Session lifecycle events.",
}, []string{"event"})

var OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "economy",
	Name:      "operation_seconds",
	Help:      "Economy operation latency.",
	Buckets:   prometheus.DefBuckets,
}, []string{"operation"})

var WSClients = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "ws",
	Name:      "clients",
	Help:      "Connected wallet stream clients.",
})

// Handler serves the default registry.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

var RateLimited = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "http",
	Name:      "rate_limited_total",
	Help:      "Requests rejected by the per-account rate limit.",
})
