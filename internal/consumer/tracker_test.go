package consumer_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/topichub/delivery-engine/internal/consumer"
	"github.com/topichub/delivery-engine/internal/transport"
)

func newTrackedJob(t *testing.T, subscribers int, onTerminal func()) (*consumer.Tracker, *transport.MockTransport, string) {
	t.Helper()
	tr := transport.NewMockTransport()
	tr.Push("fanout-0", "body")
	url, err := tr.URLFor(context.Background(), "fanout-0")
	if err != nil {
		t.Fatalf("url: %v", err)
	}
	msg, err := tr.Receive(context.Background(), url)
	if err != nil || msg == nil {
		t.Fatalf("receive: %v %v", msg, err)
	}
	tk := consumer.NewTracker(subscribers, tr, url, msg.ReceiptHandle, onTerminal, zap.NewNop())
	return tk, tr, msg.ReceiptHandle
}

func TestTracker_AcknowledgesExactlyOnce(t *testing.T) {
	const n = 8
	var terminal atomic.Int64
	tk, tr, receipt := newTrackedJob(t, n, func() { terminal.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tk.MarkTerminal(context.Background())
		}()
	}
	wg.Wait()

	if got := tr.DeleteCount(receipt); got != 1 {
		t.Fatalf("expected exactly 1 delete, got %d", got)
	}
	if got := terminal.Load(); got != n {
		t.Fatalf("expected %d terminal callbacks, got %d", n, got)
	}
	if tk.Remaining() != 0 {
		t.Fatalf("expected remaining=0, got %d", tk.Remaining())
	}
}

func TestTracker_NoAckBeforeLastTerminal(t *testing.T) {
	tk, tr, _ := newTrackedJob(t, 3, nil)
	ctx := context.Background()

	tk.MarkTerminal(ctx)
	tk.MarkTerminal(ctx)
	if tr.TotalDeletes() != 0 {
		t.Fatal("job acknowledged before all units terminated")
	}

	tk.MarkTerminal(ctx)
	if tr.TotalDeletes() != 1 {
		t.Fatalf("expected 1 delete after final terminal, got %d", tr.TotalDeletes())
	}
	if tr.InflightLen() != 0 {
		t.Fatal("expected no in-flight message after acknowledgment")
	}
}
