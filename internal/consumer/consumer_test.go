package consumer_test

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/topichub/delivery-engine/internal/config"
	"github.com/topichub/delivery-engine/internal/consumer"
	"github.com/topichub/delivery-engine/internal/directory"
	"github.com/topichub/delivery-engine/internal/domain"
	"github.com/topichub/delivery-engine/internal/job"
	"github.com/topichub/delivery-engine/internal/provider"
	"github.com/topichub/delivery-engine/internal/ratelimiter"
	"github.com/topichub/delivery-engine/internal/repository"
	"github.com/topichub/delivery-engine/internal/transport"
)

func testConfig() *config.Config {
	return &config.Config{
		QueuePrefix:         "fanout-",
		Partitions:          1,
		DeliveryWorkers:     4,
		RetryWorkers:        2,
		DeliveryQueueLimit:  100,
		RetryQueueLimit:     100,
		OverloadSleep:       time.Millisecond,
		UseSubscriberCache:  true,
		CacheTTL:            time.Minute,
		CacheMaxTopics:      100,
		MaxDeliveryAttempts: 4,
		RetryBackoff:        []time.Duration{time.Millisecond, 2 * time.Millisecond},
	}
}

type fixture struct {
	cfg        *config.Config
	consumer   *consumer.Consumer
	transport  *transport.MockTransport
	store      *repository.MockSubscriptionStore
	users      *repository.MockUserStore
	heartbeats *repository.MockHeartbeatStore
	deliverer  provider.Deliverer
	mock       *provider.MockDeliverer
}

func newFixture(t *testing.T, cfg *config.Config, deliverer provider.Deliverer) *fixture {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	f := &fixture{
		cfg:        cfg,
		transport:  transport.NewMockTransport(),
		store:      repository.NewMockSubscriptionStore(),
		users:      repository.NewMockUserStore(),
		heartbeats: repository.NewMockHeartbeatStore(),
	}
	f.users.Add(domain.User{ID: "user-1", Name: "Publisher"})

	if deliverer == nil {
		f.mock = provider.NewMockDeliverer()
		deliverer = f.mock
	}
	f.deliverer = deliverer

	dir := directory.New(f.store, cfg.CacheTTL, cfg.CacheMaxTopics, zap.NewNop())
	decoder := job.NewDecoder(dir, job.NewProtocolRenderer(), cfg.UseSubscriberCache, zap.NewNop())
	f.consumer = consumer.New(cfg, f.transport, decoder, f.users, f.heartbeats,
		deliverer, ratelimiter.New(0), consumer.Hooks{}, zap.NewNop())

	t.Cleanup(f.consumer.Shutdown)
	return f
}

func (f *fixture) initialize(t *testing.T) {
	t.Helper()
	if err := f.consumer.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
}

func record(topic, suffix string) domain.SubscriberRecord {
	return domain.SubscriberRecord{
		Protocol:       domain.ProtocolHTTP,
		Endpoint:       "http://example.com/" + suffix,
		SubscriptionID: topic + ":" + suffix,
	}
}

// pushJob seeds topic subscriptions and enqueues a compact-encoded job.
func (f *fixture) pushJob(t *testing.T, topic string, suffixes ...string) []domain.SubscriberRecord {
	t.Helper()
	subs := make([]domain.SubscriberRecord, len(suffixes))
	for i, s := range suffixes {
		subs[i] = record(topic, s)
	}
	if len(subs) > 0 {
		f.store.AddTopic(topic, subs...)
	}
	raw, err := job.Encode(&domain.Message{ID: "msg-1", UserID: "user-1", Body: "hello"}, subs, true)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	f.transport.Push(f.cfg.QueuePrefix+"0", raw)
	return subs
}

func TestConsumer_RunBeforeInitializeIsFatal(t *testing.T) {
	f := newFixture(t, nil, nil)
	_, err := f.consumer.Run(context.Background(), 0)
	if !errors.Is(err, domain.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if err := f.consumer.SubmitForRedeliver(&consumer.DeliveryUnit{}, time.Millisecond); !errors.Is(err, domain.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized from SubmitForRedeliver, got %v", err)
	}
}

func TestConsumer_InitializeIsIdempotent(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.initialize(t)
	f.initialize(t)
	if got := f.transport.EnsureCalls(); got != 1 {
		t.Fatalf("expected a single queue provisioning, got %d", got)
	}
}

func TestConsumer_NoMessageReturnsFalse(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.initialize(t)

	found, err := f.consumer.Run(context.Background(), 0)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if found {
		t.Fatal("expected found=false on empty queue")
	}
}

func TestConsumer_FanoutDeliversAndAcknowledges(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.initialize(t)
	subs := f.pushJob(t, "orders", "a", "b", "c")

	found, err := f.consumer.Run(context.Background(), 0)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !found {
		t.Fatal("expected found=true")
	}

	waitUntil(t, 2*time.Second, func() bool { return f.transport.TotalDeletes() == 1 })
	if f.transport.InflightLen() != 0 {
		t.Fatal("expected no in-flight message after fan-out completion")
	}
	for _, s := range subs {
		if got := f.mock.Calls(s.SubscriptionID); got != 1 {
			t.Fatalf("expected 1 attempt for %s, got %d", s.SubscriptionID, got)
		}
	}
}

func TestConsumer_EmptyJobAcknowledgedImmediately(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.initialize(t)
	f.pushJob(t, "orders")

	found, err := f.consumer.Run(context.Background(), 0)
	if err != nil || !found {
		t.Fatalf("run: found=%v err=%v", found, err)
	}
	if f.transport.TotalDeletes() != 1 {
		t.Fatalf("expected immediate acknowledgment, deletes=%d", f.transport.TotalDeletes())
	}
}

func TestConsumer_TopicNotFoundDropsJob(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.initialize(t)

	// Encode against a topic, then delete it before the job is consumed.
	subs := f.pushJob(t, "orders", "a")
	f.store.RemoveTopic("orders")

	found, err := f.consumer.Run(context.Background(), 0)
	if err != nil || !found {
		t.Fatalf("run: found=%v err=%v", found, err)
	}
	if f.transport.TotalDeletes() != 1 {
		t.Fatalf("stale job must be dropped, deletes=%d", f.transport.TotalDeletes())
	}
	if got := f.mock.Calls(subs[0].SubscriptionID); got != 0 {
		t.Fatalf("expected no delivery attempts, got %d", got)
	}
}

func TestConsumer_MalformedJobLeftForRedelivery(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.initialize(t)
	f.transport.Push(f.cfg.QueuePrefix+"0", "garbage")

	found, err := f.consumer.Run(context.Background(), 0)
	if err != nil || !found {
		t.Fatalf("run: found=%v err=%v", found, err)
	}
	if f.transport.TotalDeletes() != 0 {
		t.Fatal("malformed job must not be deleted")
	}
	if f.transport.InflightLen() != 1 {
		t.Fatal("malformed job must stay in flight awaiting visibility expiry")
	}
}

func TestConsumer_UnknownPublisherLeftForRedelivery(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.initialize(t)
	subs := []domain.SubscriberRecord{record("orders", "a")}
	f.store.AddTopic("orders", subs...)
	raw, err := job.Encode(&domain.Message{ID: "m", UserID: "nobody", Body: "x"}, subs, true)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	f.transport.Push(f.cfg.QueuePrefix+"0", raw)

	found, err := f.consumer.Run(context.Background(), 0)
	if err != nil || !found {
		t.Fatalf("run: found=%v err=%v", found, err)
	}
	if f.transport.TotalDeletes() != 0 {
		t.Fatal("job with unknown publisher must not be deleted")
	}
}

func TestConsumer_TransientRetriesDecrementOnce(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.initialize(t)
	subs := f.pushJob(t, "orders", "a")
	f.mock.Script(subs[0].SubscriptionID,
		provider.OutcomeTransient, provider.OutcomeTransient, provider.OutcomeDelivered)

	if _, err := f.consumer.Run(context.Background(), 0); err != nil {
		t.Fatalf("run: %v", err)
	}

	waitUntil(t, 2*time.Second, func() bool { return f.transport.TotalDeletes() == 1 })
	if got := f.mock.Calls(subs[0].SubscriptionID); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
	// Exactly one delete means the tracker was decremented exactly once.
	waitUntil(t, time.Second, func() bool { return f.consumer.PendingRetries() == 0 })
	if f.transport.TotalDeletes() != 1 {
		t.Fatalf("expected exactly 1 delete, got %d", f.transport.TotalDeletes())
	}
}

func TestConsumer_ExhaustedRetriesAreTerminal(t *testing.T) {
	cfg := testConfig()
	cfg.MaxDeliveryAttempts = 2
	f := newFixture(t, cfg, nil)
	f.initialize(t)
	subs := f.pushJob(t, "orders", "a")
	f.mock.Script(subs[0].SubscriptionID,
		provider.OutcomeTransient, provider.OutcomeTransient, provider.OutcomeTransient)

	if _, err := f.consumer.Run(context.Background(), 0); err != nil {
		t.Fatalf("run: %v", err)
	}

	waitUntil(t, 2*time.Second, func() bool { return f.transport.TotalDeletes() == 1 })
	if got := f.mock.Calls(subs[0].SubscriptionID); got != 2 {
		t.Fatalf("expected attempts capped at 2, got %d", got)
	}
}

func TestConsumer_MixedOutcomesSingleAck(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.initialize(t)
	subs := f.pushJob(t, "orders", "ok", "bad")
	f.mock.Script(subs[1].SubscriptionID, provider.OutcomePermanent)

	if _, err := f.consumer.Run(context.Background(), 0); err != nil {
		t.Fatalf("run: %v", err)
	}

	waitUntil(t, 2*time.Second, func() bool { return f.transport.TotalDeletes() == 1 })
	time.Sleep(10 * time.Millisecond)
	if f.transport.TotalDeletes() != 1 {
		t.Fatalf("expected exactly 1 delete, got %d", f.transport.TotalDeletes())
	}
}

// blockingDeliverer parks every attempt until released, letting tests hold
// pool depth at a known value.
type blockingDeliverer struct {
	started chan string
	release chan struct{}
}

func (d *blockingDeliverer) Deliver(_ context.Context, a provider.Attempt) (provider.Outcome, error) {
	d.started <- a.SubscriptionID
	<-d.release
	return provider.OutcomeDelivered, nil
}

func TestConsumer_OverloadGatesIntake(t *testing.T) {
	bd := &blockingDeliverer{started: make(chan string, 8), release: make(chan struct{})}
	cfg := testConfig()
	cfg.DeliveryWorkers = 1
	f := newFixture(t, cfg, bd)
	f.initialize(t)

	f.pushJob(t, "orders", "a")
	if _, err := f.consumer.Run(context.Background(), 0); err != nil {
		t.Fatalf("run: %v", err)
	}
	<-bd.started // delivery in flight, pending >= 1

	f.store.AddTopic("payments", record("payments", "x"))
	raw, err := job.Encode(&domain.Message{ID: "m2", UserID: "user-1", Body: "y"},
		[]domain.SubscriberRecord{record("payments", "x")}, true)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	f.transport.Push(f.cfg.QueuePrefix+"0", raw)

	f.consumer.SetQueueLimitOverride(1)
	if !f.consumer.IsOverloaded() {
		t.Fatal("expected overload with one delivery in flight and limit 1")
	}
	found, err := f.consumer.Run(context.Background(), 0)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if found {
		t.Fatal("overloaded run must not consume a message")
	}
	if f.transport.QueueLen(f.cfg.QueuePrefix+"0") != 1 {
		t.Fatal("message must remain on the queue while overloaded")
	}

	// Release the stuck delivery; intake resumes below the limit.
	close(bd.release)
	waitUntil(t, 2*time.Second, func() bool { return f.consumer.PendingDeliveries() == 0 })

	found, err = f.consumer.Run(context.Background(), 0)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !found {
		t.Fatal("expected intake to resume once below the limit")
	}
	<-bd.started
}

func TestConsumer_TransportFailureClassification(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.initialize(t)
	base := f.transport.EnsureCalls()

	// Connection refused: flag unavailability, do not reconcile queues.
	f.transport.ReceiveErr = fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED)
	if found, err := f.consumer.Run(context.Background(), 0); err != nil || found {
		t.Fatalf("run: found=%v err=%v", found, err)
	}
	if got := f.transport.EnsureCalls(); got != base {
		t.Fatalf("connection refused must not reconcile queues, ensures=%d", got)
	}

	// Any other transport failure triggers reconciliation.
	f.transport.ReceiveErr = errors.New("queue does not exist")
	if found, err := f.consumer.Run(context.Background(), 0); err != nil || found {
		t.Fatalf("run: found=%v err=%v", found, err)
	}
	if got := f.transport.EnsureCalls(); got != base+1 {
		t.Fatalf("expected queue reconciliation, ensures=%d", got)
	}
}

func TestConsumer_HeartbeatIsBestEffort(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.heartbeats.BeatErr = errors.New("monitoring store down")
	f.initialize(t)

	// A failing heartbeat must never affect the polling pass.
	if _, err := f.consumer.Run(context.Background(), 0); err != nil {
		t.Fatalf("run: %v", err)
	}

	f.heartbeats.BeatErr = nil
	if _, err := f.consumer.Run(context.Background(), 0); err != nil {
		t.Fatalf("run: %v", err)
	}
	// At most one beat per minute regardless of pass count.
	if _, err := f.consumer.Run(context.Background(), 0); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := f.heartbeats.Beats(); got > 2 {
		t.Fatalf("expected minute-gated heartbeats, got %d", got)
	}
}

func TestConsumer_ShutdownAndReinitialize(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.initialize(t)
	f.consumer.Shutdown()

	if _, err := f.consumer.Run(context.Background(), 0); !errors.Is(err, domain.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized after shutdown, got %v", err)
	}
	if f.consumer.PendingDeliveries() != 0 || f.consumer.PendingRetries() != 0 {
		t.Fatal("expected zero pending counts after shutdown")
	}

	f.initialize(t)
	f.pushJob(t, "orders", "a")
	found, err := f.consumer.Run(context.Background(), 0)
	if err != nil || !found {
		t.Fatalf("run after reinitialize: found=%v err=%v", found, err)
	}
	waitUntil(t, 2*time.Second, func() bool { return f.transport.TotalDeletes() == 1 })
}
