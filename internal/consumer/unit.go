package consumer

import (
	"time"

	"go.uber.org/zap"

	"github.com/topichub/delivery-engine/internal/domain"
	"github.com/topichub/delivery-engine/internal/provider"
)

// DeliveryUnit is one subscriber's delivery attempt, schedulable
// independently of its siblings. Identity is stable across retries; only
// Attempt advances when the unit re-submits itself to the retry pool.
type DeliveryUnit struct {
	Message        *domain.Message
	User           *domain.User
	Protocol       domain.Protocol
	Endpoint       string
	SubscriptionID string

	// Attempt counts transient failures so far; 0 on first delivery.
	Attempt int

	tracker *Tracker
}

// deliver executes one attempt for the unit and classifies the outcome.
// Delivered and permanent failures are terminal and decrement the shared
// tracker; a transient failure re-submits the unit to the retry pool with
// backoff and leaves the tracker untouched.
func (c *Consumer) deliver(u *DeliveryUnit) {
	ctx := c.runCtx
	log := c.logger.With(
		zap.String("message_id", u.Message.ID),
		zap.String("subscription_id", u.SubscriptionID),
		zap.String("protocol", string(u.Protocol)),
		zap.Int("attempt", u.Attempt),
	)

	// Block this worker until the protocol's limiter grants a token.
	if err := c.limiter.Wait(ctx, u.Protocol); err != nil {
		// Shutting down; the unacknowledged job is redelivered later.
		return
	}

	start := time.Now()
	outcome, err := c.deliverer.Deliver(ctx, provider.Attempt{
		Message:        u.Message,
		User:           u.User,
		Protocol:       u.Protocol,
		Endpoint:       u.Endpoint,
		SubscriptionID: u.SubscriptionID,
	})
	elapsed := time.Since(start)

	switch outcome {
	case provider.OutcomeDelivered:
		log.Info("notification delivered", zap.Duration("latency", elapsed))
		c.hooks.OnDelivered(u.Protocol, elapsed)
		u.tracker.MarkTerminal(ctx)

	case provider.OutcomePermanent:
		log.Warn("permanent delivery failure", zap.Error(err))
		c.hooks.OnFailed(u.Protocol)
		u.tracker.MarkTerminal(ctx)

	case provider.OutcomeTransient:
		next := u.Attempt + 1
		if next >= c.cfg.MaxDeliveryAttempts {
			log.Warn("delivery retries exhausted", zap.Error(err))
			c.hooks.OnFailed(u.Protocol)
			u.tracker.MarkTerminal(ctx)
			return
		}
		u.Attempt = next
		delay := c.backoffFor(next)
		log.Warn("transient delivery failure, scheduling retry",
			zap.Duration("delay", delay), zap.Error(err))
		if err := c.SubmitForRedeliver(u, delay); err != nil {
			log.Error("could not schedule retry; job will be redelivered", zap.Error(err))
			return
		}
		c.hooks.OnRetryScheduled(u.Protocol)
	}
}

// backoffFor returns the delay before retry number attempt (1-based),
// clamped to the last entry of the configured schedule.
func (c *Consumer) backoffFor(attempt int) time.Duration {
	backoff := c.cfg.RetryBackoff
	if len(backoff) == 0 {
		return 0
	}
	idx := attempt - 1
	if idx >= len(backoff) {
		idx = len(backoff) - 1
	}
	return backoff[idx]
}
