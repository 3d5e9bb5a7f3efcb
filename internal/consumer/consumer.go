// Package consumer implements the fan-out delivery core: the partition
// polling loop, the delivery and retry worker pools, per-job completion
// tracking, and overload backpressure.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/topichub/delivery-engine/internal/config"
	"github.com/topichub/delivery-engine/internal/domain"
	"github.com/topichub/delivery-engine/internal/job"
	"github.com/topichub/delivery-engine/internal/provider"
	"github.com/topichub/delivery-engine/internal/ratelimiter"
	"github.com/topichub/delivery-engine/internal/repository"
	"github.com/topichub/delivery-engine/internal/transport"
)

// Consumer dequeues fan-out jobs from partitioned queues and dispatches one
// delivery unit per subscriber. At-least-once: a job is acknowledged only
// after every unit reaches a terminal state; anything interrupted comes back
// via the transport's visibility timeout.
type Consumer struct {
	cfg        *config.Config
	transport  transport.Transport
	decoder    *job.Decoder
	users      repository.UserStore
	heartbeats repository.HeartbeatStore
	deliverer  provider.Deliverer
	limiter    *ratelimiter.ProtocolLimiters
	hooks      Hooks
	logger     *zap.Logger
	host       string

	mu          sync.Mutex
	initialized atomic.Bool
	delivery    *Pool
	retry       *Pool
	governor    *Governor
	runCtx      context.Context
	cancelRun   context.CancelFunc

	lastHeartbeatMinute atomic.Int64
}

func New(
	cfg *config.Config,
	tr transport.Transport,
	decoder *job.Decoder,
	users repository.UserStore,
	heartbeats repository.HeartbeatStore,
	deliverer provider.Deliverer,
	limiter *ratelimiter.ProtocolLimiters,
	hooks Hooks,
	logger *zap.Logger,
) *Consumer {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return &Consumer{
		cfg:        cfg,
		transport:  tr,
		decoder:    decoder,
		users:      users,
		heartbeats: heartbeats,
		deliverer:  deliverer,
		limiter:    limiter,
		hooks:      hooks.withDefaults(),
		logger:     logger,
		host:       host,
	}
}

// Initialize provisions both worker pools and ensures the partitioned
// queues exist. Idempotent: a no-op when already initialized. Callable
// again after Shutdown.
func (c *Consumer) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized.Load() {
		return nil
	}

	if err := c.transport.EnsureQueues(ctx, c.cfg.QueuePrefix, c.cfg.Partitions); err != nil {
		return fmt.Errorf("ensure queues: %w", err)
	}

	c.runCtx, c.cancelRun = context.WithCancel(context.Background())
	// Queue capacity doubles the governor limit so a fan-out admitted just
	// below the threshold still fits all of its units.
	c.delivery = NewPool(c.cfg.DeliveryWorkers, 2*c.cfg.DeliveryQueueLimit,
		c.logger.With(zap.String("pool", "delivery")))
	c.retry = NewPool(c.cfg.RetryWorkers, 2*c.cfg.RetryQueueLimit,
		c.logger.With(zap.String("pool", "retry")))
	c.governor = NewGovernor(c.delivery, c.retry, c.cfg.DeliveryQueueLimit, c.cfg.RetryQueueLimit)

	c.initialized.Store(true)
	c.logger.Info("consumer initialized",
		zap.Int("partitions", c.cfg.Partitions),
		zap.Int("delivery_workers", c.cfg.DeliveryWorkers),
		zap.Int("retry_workers", c.cfg.RetryWorkers))
	return nil
}

// Shutdown force-stops both pools and marks the consumer uninitialized.
// In-flight attempts may be abandoned; their jobs stay unacknowledged and
// return via visibility-timeout redelivery.
func (c *Consumer) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized.Load() {
		return
	}
	c.initialized.Store(false)
	c.cancelRun()
	c.delivery.Stop()
	c.retry.Stop()
	c.logger.Info("consumer shut down")
}

// Run performs one polling pass against the given partition. Returns true
// iff a job was found and processed in this invocation. Calling Run before
// Initialize is a programming error and returns domain.ErrNotInitialized.
func (c *Consumer) Run(ctx context.Context, partition int) (bool, error) {
	if !c.initialized.Load() {
		return false, domain.ErrNotInitialized
	}

	c.heartbeat(ctx)

	if c.governor.IsOverloaded() {
		c.logger.Info("consumer overloaded, pausing intake",
			zap.Int("pending_deliveries", c.delivery.Pending()),
			zap.Int("pending_retries", c.retry.Pending()))
		time.Sleep(c.cfg.OverloadSleep)
		return false, nil
	}

	queueName := c.cfg.QueuePrefix + strconv.Itoa(partition)
	queueURL, err := c.transport.URLFor(ctx, queueName)
	if err != nil {
		c.handleTransportFailure(ctx, err)
		return false, nil
	}

	msg, err := c.transport.Receive(ctx, queueURL)
	if err != nil {
		c.handleTransportFailure(ctx, err)
		return false, nil
	}
	c.hooks.OnTransportUp(true)
	if msg == nil {
		return false, nil
	}

	log := c.logger.With(zap.Int("partition", partition))

	fj, err := c.decoder.Decode(ctx, msg.Body)
	if err != nil {
		if errors.Is(err, domain.ErrTopicNotFound) {
			// The topic is gone; retrying is pointless. Drop the job.
			log.Error("job references deleted topic, dropping", zap.Error(err))
			if derr := c.transport.Delete(ctx, queueURL, msg.ReceiptHandle); derr != nil {
				log.Error("failed to drop stale job", zap.Error(derr))
			}
			return true, nil
		}
		// Leave the message for visibility-timeout redelivery.
		log.Error("job decode failed, leaving for redelivery", zap.Error(err))
		return true, nil
	}

	user, err := c.users.GetByID(ctx, fj.Message.UserID)
	if err != nil {
		log.Error("publisher lookup failed, leaving for redelivery",
			zap.String("user_id", fj.Message.UserID), zap.Error(err))
		return true, nil
	}

	subscribers := fj.Subscribers
	c.hooks.OnFanout(fj.Message.ID, len(subscribers))
	log.Info("fan-out job received",
		zap.String("message_id", fj.Message.ID),
		zap.Int("subscribers", len(subscribers)))

	if len(subscribers) == 0 {
		// Valid job, empty delivery set: acknowledge immediately.
		if derr := c.transport.Delete(ctx, queueURL, msg.ReceiptHandle); derr != nil {
			log.Error("failed to acknowledge empty fan-out job", zap.Error(derr))
		}
		return true, nil
	}

	tracker := NewTracker(len(subscribers), c.transport, queueURL, msg.ReceiptHandle,
		c.hooks.OnTerminal, log.With(zap.String("message_id", fj.Message.ID)))

	for _, sub := range subscribers {
		u := &DeliveryUnit{
			Message:        fj.Message,
			User:           user,
			Protocol:       sub.Protocol,
			Endpoint:       sub.Endpoint,
			SubscriptionID: sub.SubscriptionID,
			tracker:        tracker,
		}
		if err := c.delivery.Submit(func() { c.deliver(u) }); err != nil {
			// The tracker never completes, so the job is redelivered whole.
			log.Warn("delivery pool rejected unit, job will be redelivered",
				zap.String("subscription_id", u.SubscriptionID), zap.Error(err))
		}
	}
	return true, nil
}

// SubmitForRedeliver schedules a unit onto the retry pool after delay. Also
// the entry point for external retry policies that want to reuse the
// consumer's retry executor.
func (c *Consumer) SubmitForRedeliver(u *DeliveryUnit, delay time.Duration) error {
	if !c.initialized.Load() {
		return domain.ErrNotInitialized
	}
	return c.retry.SubmitAfter(delay, func() { c.deliver(u) })
}

// IsOverloaded exposes the governor's verdict to ops tooling.
func (c *Consumer) IsOverloaded() bool {
	if !c.initialized.Load() {
		return false
	}
	return c.governor.IsOverloaded()
}

// PendingDeliveries reports the delivery pool's pending-work count.
func (c *Consumer) PendingDeliveries() int {
	if !c.initialized.Load() {
		return 0
	}
	return c.delivery.Pending()
}

// PendingRetries reports the retry pool's pending-work count.
func (c *Consumer) PendingRetries() int {
	if !c.initialized.Load() {
		return 0
	}
	return c.retry.Pending()
}

// SetQueueLimitOverride replaces both governor limits, for tests.
func (c *Consumer) SetQueueLimitOverride(n int) {
	if g := c.governor; g != nil {
		g.SetLimitOverride(n)
	}
}

// ClearQueueLimitOverride restores the configured governor limits.
func (c *Consumer) ClearQueueLimitOverride() {
	if g := c.governor; g != nil {
		g.ClearLimitOverride()
	}
}

// heartbeat writes a best-effort liveness record at most once per minute.
// Failures are logged and swallowed; liveness reporting must never affect
// job processing.
func (c *Consumer) heartbeat(ctx context.Context) {
	minute := time.Now().Unix() / 60
	last := c.lastHeartbeatMinute.Load()
	if last == minute || !c.lastHeartbeatMinute.CompareAndSwap(last, minute) {
		return
	}
	if err := c.heartbeats.Beat(ctx, c.host, time.Now().UTC()); err != nil {
		c.logger.Warn("heartbeat glitch", zap.Error(err))
	}
}

// handleTransportFailure splits connectivity loss from everything else:
// connection refused flags the transport unavailable, any other failure
// triggers a queue-existence reconciliation before the next pass.
func (c *Consumer) handleTransportFailure(ctx context.Context, err error) {
	if errors.Is(err, syscall.ECONNREFUSED) {
		c.logger.Error("transport unavailable", zap.Error(err))
		c.hooks.OnTransportUp(false)
		return
	}
	c.logger.Error("transport failure, reconciling queues", zap.Error(err))
	if rerr := c.transport.EnsureQueues(ctx, c.cfg.QueuePrefix, c.cfg.Partitions); rerr != nil {
		c.logger.Error("queue reconciliation failed", zap.Error(rerr))
	}
}
