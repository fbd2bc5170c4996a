// Package metrics exposes endpoint and health monitor activity to Prometheus.
//
// All methods are safe on a nil *Collectors, so instrumented code does not need to check
// whether metrics are enabled.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const Namespace = "framebridge"

// Call outcomes, used as the "outcome" label.
const (
	OutcomeOK          = "ok"
	OutcomeRemoteError = "remote_error"
	OutcomeTimeout     = "timeout"
	OutcomeCancelled   = "cancelled"
	OutcomeDestroyed   = "destroyed"
	OutcomeSendError   = "send_error"
)

type Collectors struct {
	calls        *prometheus.CounterVec
	served       *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	pending      prometheus.Gauge
	health       *prometheus.GaugeVec
	probeLatency *prometheus.HistogramVec
}

func New() *Collectors {
	return &Collectors{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "calls_total",
			Help:      "Outbound calls by method and outcome.",
		}, []string{"method", "outcome"}),
		served: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "served_total",
			Help:      "Inbound requests served, by method and whether the handler failed.",
		}, []string{"method", "outcome"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "dropped_messages_total",
			Help:      "Inbound messages dropped at the receive boundary, by reason.",
		}, []string{"reason"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "pending_calls",
			Help:      "Outbound calls waiting for a response.",
		}),
		health: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "target_healthy",
			Help:      "1 if the monitored target answered its last probe, 0 otherwise.",
		}, []string{"target"}),
		probeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "probe_duration_seconds",
			Help:      "Health probe round-trip time.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"target"}),
	}
}

// Register adds every collector to reg.
func (c *Collectors) Register(reg prometheus.Registerer) error {
	for _, col := range []prometheus.Collector{c.calls, c.served, c.dropped, c.pending, c.health, c.probeLatency} {
		if err := reg.Register(col); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collectors) CallStarted() {
	if c == nil {
		return
	}
	c.pending.Inc()
}

func (c *Collectors) CallFinished(method, outcome string) {
	if c == nil {
		return
	}
	c.pending.Dec()
	c.calls.WithLabelValues(method, outcome).Inc()
}

func (c *Collectors) Served(method string, failed bool) {
	if c == nil {
		return
	}
	outcome := OutcomeOK
	if failed {
		outcome = OutcomeRemoteError
	}
	c.served.WithLabelValues(method, outcome).Inc()
}

func (c *Collectors) Dropped(reason string) {
	if c == nil {
		return
	}
	c.dropped.WithLabelValues(reason).Inc()
}

func (c *Collectors) Health(target string, healthy bool, latencySeconds float64) {
	if c == nil {
		return
	}
	v := 0.0
	if healthy {
		v = 1
		c.probeLatency.WithLabelValues(target).Observe(latencySeconds)
	}
	c.health.WithLabelValues(target).Set(v)
}

// ForgetTarget removes the series of a target that is no longer monitored.
func (c *Collectors) ForgetTarget(target string) {
	if c == nil {
		return
	}
	c.health.DeleteLabelValues(target)
	c.probeLatency.DeleteLabelValues(target)
}
