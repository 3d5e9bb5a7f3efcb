package consumer

import "sync/atomic"

// Governor decides when the consumer should pause intake. The pool depth
// reads are approximate: a stale reading costs at most one extra short
// pause, never a correctness violation.
type Governor struct {
	delivery *Pool
	retry    *Pool

	deliveryLimit int
	retryLimit    int

	// override, when positive, replaces both configured limits uniformly.
	// Used by tests to force or release overload without real load.
	override atomic.Int64
}

func NewGovernor(delivery, retry *Pool, deliveryLimit, retryLimit int) *Governor {
	return &Governor{
		delivery:      delivery,
		retry:         retry,
		deliveryLimit: deliveryLimit,
		retryLimit:    retryLimit,
	}
}

// IsOverloaded reports whether either pool's pending work meets or exceeds
// its limit.
func (g *Governor) IsOverloaded() bool {
	deliveryLimit, retryLimit := g.deliveryLimit, g.retryLimit
	if o := g.override.Load(); o > 0 {
		deliveryLimit, retryLimit = int(o), int(o)
	}
	return g.delivery.Pending() >= deliveryLimit || g.retry.Pending() >= retryLimit
}

// SetLimitOverride replaces both limits with n until cleared.
func (g *Governor) SetLimitOverride(n int) {
	g.override.Store(int64(n))
}

// ClearLimitOverride restores the configured limits.
func (g *Governor) ClearLimitOverride() {
	g.override.Store(0)
}
