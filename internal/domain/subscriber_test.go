package domain_test

import (
	"testing"

	"github.com/topichub/delivery-engine/internal/domain"
)

func TestProtocol_IsValid(t *testing.T) {
	for _, p := range domain.Protocols() {
		if !p.IsValid() {
			t.Errorf("expected %q to be valid", p)
		}
	}
	if domain.Protocol("fax").IsValid() {
		t.Error("expected fax to be invalid")
	}
}

func TestTopicOfSubscription(t *testing.T) {
	tests := []struct {
		id      string
		topic   string
		derived bool
	}{
		{"orders:sub-1", "orders", true},
		{"region:orders:sub-1", "region:orders", true},
		{"no-separator", "", false},
		{":leading", "", false},
		{"", "", false},
	}

	for _, tc := range tests {
		topic, ok := domain.TopicOfSubscription(tc.id)
		if ok != tc.derived || topic != tc.topic {
			t.Errorf("TopicOfSubscription(%q) = (%q, %v), want (%q, %v)",
				tc.id, topic, ok, tc.topic, tc.derived)
		}
	}
}

func TestSubscriberRecord_Confirmed(t *testing.T) {
	r := domain.SubscriberRecord{Protocol: domain.ProtocolHTTP, Endpoint: "http://a", SubscriptionID: "t:1"}
	if !r.Confirmed() {
		t.Error("expected confirmed record")
	}
	r.SubscriptionID = domain.PendingConfirmation
	if r.Confirmed() {
		t.Error("expected pending record to be unconfirmed")
	}
}

func TestMessage_PayloadFor(t *testing.T) {
	m := &domain.Message{
		Body:             "raw",
		ProtocolPayloads: map[domain.Protocol]string{domain.ProtocolEmail: "rendered"},
	}
	if got := m.PayloadFor(domain.ProtocolEmail); got != "rendered" {
		t.Errorf("expected rendered payload, got %q", got)
	}
	if got := m.PayloadFor(domain.ProtocolSMS); got != "raw" {
		t.Errorf("expected body fallback, got %q", got)
	}
}
