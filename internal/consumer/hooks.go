package consumer

import (
	"time"

	"github.com/topichub/delivery-engine/internal/domain"
)

// Hooks carries the metric callback functions injected by main. Using a
// struct keeps the consumer constructor signature clean and the consumer
// itself metrics-agnostic; metrics.ConsumerHooks builds the real ones.
type Hooks struct {
	// OnDelivered fires after a successful endpoint delivery.
	OnDelivered func(protocol domain.Protocol, latency time.Duration)
	// OnFailed fires on a permanent failure (including exhausted retries).
	OnFailed func(protocol domain.Protocol)
	// OnRetryScheduled fires when a transient failure is requeued.
	OnRetryScheduled func(protocol domain.Protocol)
	// OnFanout fires once per decoded job with its subscriber count.
	OnFanout func(messageID string, subscribers int)
	// OnTerminal fires once per unit reaching a terminal state.
	OnTerminal func()
	// OnTransportUp reports transport availability transitions.
	OnTransportUp func(up bool)
}

// withDefaults replaces nil callbacks with no-ops.
func (h Hooks) withDefaults() Hooks {
	if h.OnDelivered == nil {
		h.OnDelivered = func(domain.Protocol, time.Duration) {}
	}
	if h.OnFailed == nil {
		h.OnFailed = func(domain.Protocol) {}
	}
	if h.OnRetryScheduled == nil {
		h.OnRetryScheduled = func(domain.Protocol) {}
	}
	if h.OnFanout == nil {
		h.OnFanout = func(string, int) {}
	}
	if h.OnTerminal == nil {
		h.OnTerminal = func() {}
	}
	if h.OnTransportUp == nil {
		h.OnTransportUp = func(bool) {}
	}
	return h
}
