package consumer

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/topichub/delivery-engine/internal/transport"
)

// Tracker is the shared completion counter for one fan-out job. Every
// delivery unit spawned from the job reports its terminal outcome here;
// when the last one does, the source job is deleted from the transport
// exactly once. Transient failures never touch the tracker.
type Tracker struct {
	remaining     atomic.Int64
	tr            transport.Transport
	queueURL      string
	receiptHandle string
	onTerminal    func()
	logger        *zap.Logger
}

func NewTracker(
	subscribers int,
	tr transport.Transport,
	queueURL, receiptHandle string,
	onTerminal func(),
	logger *zap.Logger,
) *Tracker {
	t := &Tracker{
		tr:            tr,
		queueURL:      queueURL,
		receiptHandle: receiptHandle,
		onTerminal:    onTerminal,
		logger:        logger,
	}
	t.remaining.Store(int64(subscribers))
	return t
}

// MarkTerminal records one delivered or permanently-failed unit. The atomic
// decrement returns the new count, so exactly one caller observes zero and
// performs the acknowledgment — no read-then-act race, no double delete.
func (t *Tracker) MarkTerminal(ctx context.Context) {
	if t.onTerminal != nil {
		t.onTerminal()
	}
	if t.remaining.Add(-1) != 0 {
		return
	}
	if err := t.tr.Delete(ctx, t.queueURL, t.receiptHandle); err != nil {
		// The job stays on the transport and will be redelivered after its
		// visibility timeout; duplicate deliveries are the at-least-once cost.
		t.logger.Error("failed to acknowledge completed fan-out job", zap.Error(err))
		return
	}
	t.logger.Debug("fan-out complete, source job acknowledged")
}

// Remaining reports the number of units still outstanding.
func (t *Tracker) Remaining() int {
	return int(t.remaining.Load())
}
