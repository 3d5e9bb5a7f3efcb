package consumer_test

import (
	"testing"

	"go.uber.org/zap"

	"github.com/topichub/delivery-engine/internal/consumer"
)

// Pools with zero workers never drain, so pending depth is fully
// controlled by the test.
func newIdlePools(t *testing.T) (delivery, retry *consumer.Pool) {
	t.Helper()
	delivery = consumer.NewPool(0, 16, zap.NewNop())
	retry = consumer.NewPool(0, 16, zap.NewNop())
	t.Cleanup(func() {
		delivery.Stop()
		retry.Stop()
	})
	return delivery, retry
}

func TestGovernor_Thresholds(t *testing.T) {
	delivery, retry := newIdlePools(t)
	g := consumer.NewGovernor(delivery, retry, 2, 3)

	if g.IsOverloaded() {
		t.Fatal("empty pools must not be overloaded")
	}

	_ = delivery.Submit(func() {})
	if g.IsOverloaded() {
		t.Fatal("depth below limit must not be overloaded")
	}

	_ = delivery.Submit(func() {})
	if !g.IsOverloaded() {
		t.Fatal("delivery depth at limit must be overloaded")
	}
}

func TestGovernor_RetryPoolCounts(t *testing.T) {
	delivery, retry := newIdlePools(t)
	g := consumer.NewGovernor(delivery, retry, 100, 1)

	_ = retry.Submit(func() {})
	if !g.IsOverloaded() {
		t.Fatal("retry depth at limit must be overloaded")
	}
}

func TestGovernor_OverrideReplacesBothLimits(t *testing.T) {
	delivery, retry := newIdlePools(t)
	g := consumer.NewGovernor(delivery, retry, 2, 2)

	_ = delivery.Submit(func() {})
	_ = delivery.Submit(func() {})
	if !g.IsOverloaded() {
		t.Fatal("expected overload at configured limit")
	}

	g.SetLimitOverride(10)
	if g.IsOverloaded() {
		t.Fatal("override above depth must release overload")
	}

	g.SetLimitOverride(1)
	if !g.IsOverloaded() {
		t.Fatal("override below depth must force overload")
	}

	g.ClearLimitOverride()
	if !g.IsOverloaded() {
		t.Fatal("clearing the override must restore configured limits")
	}
}
