package job_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/topichub/delivery-engine/internal/directory"
	"github.com/topichub/delivery-engine/internal/domain"
	"github.com/topichub/delivery-engine/internal/job"
	"github.com/topichub/delivery-engine/internal/repository"
)

func newDecoder(useCache bool) (*job.Decoder, *repository.MockSubscriptionStore) {
	store := repository.NewMockSubscriptionStore()
	dir := directory.New(store, time.Minute, 100, zap.NewNop())
	return job.NewDecoder(dir, job.NewProtocolRenderer(), useCache, zap.NewNop()), store
}

func record(topic, suffix string) domain.SubscriberRecord {
	return domain.SubscriberRecord{
		Protocol:       domain.ProtocolHTTP,
		Endpoint:       "http://example.com/" + suffix,
		SubscriptionID: topic + ":" + suffix,
	}
}

var testMessage = &domain.Message{
	ID:     "msg-1",
	UserID: "user-1",
	Body:   "order shipped",
}

func TestDecode_RoundTripZeroSubscribers(t *testing.T) {
	d, _ := newDecoder(true)

	raw, err := job.Encode(testMessage, nil, true)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := d.Decode(context.Background(), raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded.Subscribers) != 0 {
		t.Fatalf("expected empty subscriber list, got %d", len(decoded.Subscribers))
	}
	if decoded.Message.ID != testMessage.ID || decoded.Message.Body != testMessage.Body {
		t.Fatalf("message mismatch: %+v", decoded.Message)
	}
}

func TestDecode_RoundTripCompactTokens(t *testing.T) {
	d, store := newDecoder(true)
	subs := []domain.SubscriberRecord{record("orders", "a"), record("orders", "b"), record("orders", "c")}
	store.AddTopic("orders", subs...)

	raw, err := job.Encode(testMessage, subs, true)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := d.Decode(context.Background(), raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	got := make(map[string]bool)
	for _, r := range decoded.Subscribers {
		got[r.SubscriptionID] = true
		if r.Endpoint == "" || !r.Protocol.IsValid() {
			t.Fatalf("compact token not fully resolved: %+v", r)
		}
	}
	for _, s := range subs {
		if !got[s.SubscriptionID] {
			t.Fatalf("missing subscription %s in decoded set", s.SubscriptionID)
		}
	}
}

func TestDecode_FullTokensNeedNoStore(t *testing.T) {
	d, store := newDecoder(true)
	subs := []domain.SubscriberRecord{record("orders", "a"),
		{Protocol: domain.ProtocolEmail, Endpoint: "ops@example.com", SubscriptionID: "orders:b"}}

	raw, err := job.Encode(testMessage, subs, false)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := d.Decode(context.Background(), raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded.Subscribers) != 2 {
		t.Fatalf("expected 2 subscribers, got %d", len(decoded.Subscribers))
	}
	if store.ListCalls("orders") != 0 || store.GetCalls() != 0 {
		t.Fatal("full tokens must not hit the store")
	}
	if decoded.Message.PayloadFor(domain.ProtocolEmail) == "" {
		t.Fatal("expected email rendering from preprocessing")
	}
}

func TestDecode_NonCachedModeUsesPointLookups(t *testing.T) {
	d, store := newDecoder(false)
	subs := []domain.SubscriberRecord{record("orders", "a"), record("orders", "b")}
	store.AddTopic("orders", subs...)

	raw, err := job.Encode(testMessage, subs, true)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := d.Decode(context.Background(), raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded.Subscribers) != 2 {
		t.Fatalf("expected 2 subscribers, got %d", len(decoded.Subscribers))
	}
	if store.GetCalls() != 2 {
		t.Fatalf("expected 2 point lookups, got %d", store.GetCalls())
	}
	if store.ListCalls("orders") != 0 {
		t.Fatal("non-cached mode must not bulk fetch")
	}
}

func TestDecode_Malformed(t *testing.T) {
	d, _ := newDecoder(true)
	ctx := context.Background()

	tests := []struct {
		name string
		raw  string
	}{
		{"single line", "0"},
		{"non-numeric count", "abc\n{}"},
		{"negative count", "-1\n{}"},
		{"count exceeds lines", "3\norders:a\n{}"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := d.Decode(ctx, tc.raw)
			if !errors.Is(err, domain.ErrMalformedJob) {
				t.Fatalf("expected ErrMalformedJob, got %v", err)
			}
		})
	}
}

func TestDecode_TopicNotFoundPropagatesUnwrapped(t *testing.T) {
	d, _ := newDecoder(true)

	raw, err := job.Encode(testMessage, []domain.SubscriberRecord{record("ghost", "a")}, true)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	_, err = d.Decode(context.Background(), raw)
	if !errors.Is(err, domain.ErrTopicNotFound) {
		t.Fatalf("expected ErrTopicNotFound, got %v", err)
	}
	if errors.Is(err, domain.ErrInternal) {
		t.Fatal("topic-not-found must not be wrapped as internal error")
	}
}

func TestDecode_BadPayloadWrapsInternal(t *testing.T) {
	d, store := newDecoder(true)
	store.AddTopic("orders", record("orders", "a"))

	raw := strings.Join([]string{"1", "orders:a", "{not json"}, "\n")
	_, err := d.Decode(context.Background(), raw)
	if !errors.Is(err, domain.ErrInternal) {
		t.Fatalf("expected wrapped internal error, got %v", err)
	}
}

func TestDecode_MultiLinePayload(t *testing.T) {
	d, _ := newDecoder(true)

	msg := &domain.Message{ID: "m", UserID: "u", Body: "line one\nline two"}
	raw, err := job.Encode(msg, nil, true)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := d.Decode(context.Background(), raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Message.Body != msg.Body {
		t.Fatalf("multi-line body mangled: %q", decoded.Message.Body)
	}
}
