package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/topichub/delivery-engine/internal/domain"
)

// ProtocolLimiters holds one token bucket limiter per delivery protocol.
// Each limiter enforces a steady-state rate (e.g. 100 tokens/sec).
// Burst is set equal to the rate so no extra burst capacity is allowed
// beyond the configured per-second maximum.
type ProtocolLimiters struct {
	limiters map[domain.Protocol]*rate.Limiter
}

// New creates a ProtocolLimiters with ratePerSec tokens per second per
// protocol. A non-positive rate disables limiting.
func New(ratePerSec int) *ProtocolLimiters {
	limiters := make(map[domain.Protocol]*rate.Limiter)
	if ratePerSec > 0 {
		r := rate.Limit(ratePerSec)
		for _, p := range domain.Protocols() {
			limiters[p] = rate.NewLimiter(r, ratePerSec)
		}
	}
	return &ProtocolLimiters{limiters: limiters}
}

// Wait blocks until the protocol's limiter grants a token. Called by each
// delivery worker immediately before the endpoint attempt. Returns a
// non-nil error only if ctx is cancelled while waiting.
func (pl *ProtocolLimiters) Wait(ctx context.Context, p domain.Protocol) error {
	l, ok := pl.limiters[p]
	if !ok {
		return nil
	}
	return l.Wait(ctx)
}
