package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/topichub/delivery-engine/internal/consumer"
	"github.com/topichub/delivery-engine/internal/domain"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	Delivered        *prometheus.CounterVec
	DeliveryFailed   *prometheus.CounterVec
	DeliveryLatency  *prometheus.HistogramVec
	RetriesScheduled *prometheus.CounterVec
	FanoutSize       prometheus.Histogram
	SendsRemaining   prometheus.Gauge
	TransportUp      prometheus.Gauge
	PendingDelivery  prometheus.Gauge
	PendingRetry     prometheus.Gauge
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deliveries_total",
			Help: "Total number of successful endpoint deliveries.",
		}, []string{"protocol"}),

		DeliveryFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deliveries_failed_total",
			Help: "Total number of permanently failed deliveries (retries exhausted included).",
		}, []string{"protocol"}),

		DeliveryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "delivery_seconds",
			Help:    "Endpoint delivery latency per attempt.",
			Buckets: prometheus.DefBuckets,
		}, []string{"protocol"}),

		RetriesScheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "retries_scheduled_total",
			Help: "Total number of transient failures requeued for retry.",
		}, []string{"protocol"}),

		FanoutSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fanout_subscribers",
			Help:    "Subscriber count per consumed fan-out job.",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),

		SendsRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sends_remaining",
			Help: "Delivery units dispatched but not yet terminal, across all in-flight jobs.",
		}),

		TransportUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transport_up",
			Help: "1 when the queue transport answered the last poll, 0 after connection refused.",
		}),

		PendingDelivery: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pending_delivery_tasks",
			Help: "Current depth of the delivery worker pool.",
		}),

		PendingRetry: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pending_retry_tasks",
			Help: "Current depth of the retry worker pool.",
		}),
	}

	reg.MustRegister(
		m.Delivered,
		m.DeliveryFailed,
		m.DeliveryLatency,
		m.RetriesScheduled,
		m.FanoutSize,
		m.SendsRemaining,
		m.TransportUp,
		m.PendingDelivery,
		m.PendingRetry,
	)

	return m
}

// ConsumerHooks returns the callback struct expected by consumer.New.
// Centralises the prometheus observation calls so the consumer package
// stays import-free.
func (m *Metrics) ConsumerHooks() consumer.Hooks {
	return consumer.Hooks{
		OnDelivered: func(p domain.Protocol, latency time.Duration) {
			m.Delivered.WithLabelValues(string(p)).Inc()
			m.DeliveryLatency.WithLabelValues(string(p)).Observe(latency.Seconds())
		},
		OnFailed: func(p domain.Protocol) {
			m.DeliveryFailed.WithLabelValues(string(p)).Inc()
		},
		OnRetryScheduled: func(p domain.Protocol) {
			m.RetriesScheduled.WithLabelValues(string(p)).Inc()
		},
		OnFanout: func(_ string, subscribers int) {
			m.FanoutSize.Observe(float64(subscribers))
			m.SendsRemaining.Add(float64(subscribers))
		},
		OnTerminal: func() {
			m.SendsRemaining.Dec()
		},
		OnTransportUp: func(up bool) {
			if up {
				m.TransportUp.Set(1)
			} else {
				m.TransportUp.Set(0)
			}
		},
	}
}
