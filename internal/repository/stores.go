package repository

import (
	"context"
	"time"

	"github.com/topichub/delivery-engine/internal/domain"
)

// SubscriptionStore is the durable subscription backing store.
// The pgx implementation is in pg_stores.go; tests use the hand-written
// mocks in mock_stores.go.
type SubscriptionStore interface {
	// ListByTopic returns every subscriber record for the topic, including
	// pending-confirmation ones — filtering is the directory's job.
	// Returns domain.ErrTopicNotFound when the topic does not exist.
	ListByTopic(ctx context.Context, topicID string) ([]domain.SubscriberRecord, error)

	// Get performs a point lookup of one subscription.
	// Returns domain.ErrNotFound when the subscription does not exist.
	Get(ctx context.Context, subscriptionID string) (domain.SubscriberRecord, error)
}

// UserStore resolves the publishing account of a consumed job.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

// HeartbeatStore records consumer liveness. Writes are best-effort: the
// consumer logs and swallows any error from Beat.
type HeartbeatStore interface {
	Beat(ctx context.Context, host string, seenAt time.Time) error
}
