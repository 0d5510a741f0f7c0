package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Host collects request and session metrics for a host server.
type Host struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
	Sessions prometheus.Gauge
	Events   *prometheus.CounterVec
}

// NewHost registers host collectors on reg.
func NewHost(reg prometheus.Registerer) *Host {
	h := &Host{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bio",
			Subsystem: "host",
			Name:      "requests_total",
			Help:      "Requests answered by the host, by method and outcome.",
		}, []string{"method", "outcome"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bio",
			Subsystem: "host",
			Name:      "request_duration_seconds",
			Help:      "Time from receiving a request to sending its response.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bio",
			Subsystem: "host",
			Name:      "sessions",
			Help:      "Connected miniapp sessions.",
		}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bio",
			Subsystem: "host",
			Name:      "events_total",
			Help:      "Events pushed to sessions.",
		}, []string{"event"}),
	}
	reg.MustRegister(h.Requests, h.Duration, h.Sessions, h.Events)
	return h
}

// ObserveRequest records one answered request. A nil receiver is a no-op.
func (h *Host) ObserveRequest(method, outcome string, elapsed time.Duration) {
	if h == nil {
		return
	}
	h.Requests.WithLabelValues(method, outcome).Inc()
	h.Duration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// SessionOpened increments the session gauge.
func (h *Host) SessionOpened() {
	if h != nil {
		h.Sessions.Inc()
	}
}

// SessionClosed decrements the session gauge.
func (h *Host) SessionClosed() {
	if h != nil {
		h.Sessions.Dec()
	}
}

// EventSent counts a pushed event.
func (h *Host) EventSent(name string) {
	if h != nil {
		h.Events.WithLabelValues(name).Inc()
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
