package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/topichub/delivery-engine/internal/domain"
)

type pgSubscriptionStore struct {
	pool *pgxpool.Pool
}

// NewPgSubscriptionStore returns a SubscriptionStore backed by PostgreSQL.
func NewPgSubscriptionStore(pool *pgxpool.Pool) SubscriptionStore {
	return &pgSubscriptionStore{pool: pool}
}

func (s *pgSubscriptionStore) ListByTopic(ctx context.Context, topicID string) ([]domain.SubscriberRecord, error) {
	// Distinguish "topic deleted" from "topic with no subscribers".
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM topics WHERE id = $1)`, topicID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check topic %s: %w", topicID, err)
	}
	if !exists {
		return nil, domain.ErrTopicNotFound
	}

	rows, err := s.pool.Query(ctx, `
		SELECT protocol, endpoint, id
		FROM subscriptions
		WHERE topic_id = $1`, topicID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions for %s: %w", topicID, err)
	}
	defer rows.Close()

	var records []domain.SubscriberRecord
	for rows.Next() {
		var r domain.SubscriberRecord
		if err := rows.Scan(&r.Protocol, &r.Endpoint, &r.SubscriptionID); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *pgSubscriptionStore) Get(ctx context.Context, subscriptionID string) (domain.SubscriberRecord, error) {
	var r domain.SubscriberRecord
	err := s.pool.QueryRow(ctx, `
		SELECT protocol, endpoint, id
		FROM subscriptions WHERE id = $1`, subscriptionID).
		Scan(&r.Protocol, &r.Endpoint, &r.SubscriptionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SubscriberRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.SubscriberRecord{}, fmt.Errorf("get subscription %s: %w", subscriptionID, err)
	}
	return r, nil
}

type pgUserStore struct {
	pool *pgxpool.Pool
}

// NewPgUserStore returns a UserStore backed by PostgreSQL.
func NewPgUserStore(pool *pgxpool.Pool) UserStore {
	return &pgUserStore{pool: pool}
}

func (s *pgUserStore) GetByID(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, name FROM users WHERE id = $1`, id).Scan(&u.ID, &u.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return &u, nil
}

type pgHeartbeatStore struct {
	pool *pgxpool.Pool
}

// NewPgHeartbeatStore returns a HeartbeatStore backed by PostgreSQL.
func NewPgHeartbeatStore(pool *pgxpool.Pool) HeartbeatStore {
	return &pgHeartbeatStore{pool: pool}
}

func (s *pgHeartbeatStore) Beat(ctx context.Context, host string, seenAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO consumer_heartbeats (host, seen_at)
		VALUES ($1, $2)
		ON CONFLICT (host) DO UPDATE SET seen_at = EXCLUDED.seen_at`,
		host, seenAt)
	if err != nil {
		return fmt.Errorf("record heartbeat for %s: %w", host, err)
	}
	return nil
}
