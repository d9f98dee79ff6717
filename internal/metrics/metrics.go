// Package metrics exposes dispatch counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
)

const namespace = "push"

// Metrics implements dispatch.Observer.
type Metrics struct {
	requests   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	batches    prometheus.Counter
	batchSize  prometheus.Histogram
	recipients *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Notification requests by audience and outcome.",
		}, []string{"audience", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time spent handling a notification request.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"audience"}),
		batches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Multicast batches sent to the delivery backend.",
		}),
		batchSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Tokens per multicast batch.",
			Buckets:   []float64{1, 10, 50, 100, 250, 500},
		}),
		recipients: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recipients_total",
			Help:      "Per-token delivery results reported by the backend.",
		}, []string{"result"}),
	}
}

func (m *Metrics) ObserveBatch(size, success, failure int) {
	m.batches.Inc()
	m.batchSize.Observe(float64(size))
	m.recipients.WithLabelValues("success").Add(float64(success))
	m.recipients.WithLabelValues("failure").Add(float64(failure))
}

func (m *Metrics) ObserveRequest(audience dispatch.AudienceKind, outcome string, elapsed time.Duration) {
	a := string(audience)
	if a == "" {
		a = "none"
	}
	m.requests.WithLabelValues(a, outcome).Inc()
	m.duration.WithLabelValues(a).Observe(elapsed.Seconds())
}

// Handler serves the collectors of g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
