package transport

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/topichub/delivery-engine/internal/domain"
)

const urlScheme = "pg://"

// PgTransport is a queue transport on PostgreSQL. Receive claims a message
// with FOR UPDATE SKIP LOCKED and pushes its visible_at past the visibility
// timeout, so an unacknowledged message is redelivered automatically —
// at-least-once semantics without any broker-side state of our own.
type PgTransport struct {
	pool       *pgxpool.Pool
	visibility time.Duration
}

func NewPgTransport(pool *pgxpool.Pool, visibility time.Duration) *PgTransport {
	return &PgTransport{pool: pool, visibility: visibility}
}

func (t *PgTransport) Receive(ctx context.Context, queueURL string) (*Message, error) {
	queueName, err := queueNameFromURL(queueURL)
	if err != nil {
		return nil, err
	}

	receipt := uuid.NewString()
	var body string
	err = t.pool.QueryRow(ctx, `
		WITH next AS (
			SELECT id FROM queue_messages
			WHERE queue_name = $1 AND visible_at <= now()
			ORDER BY enqueued_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE queue_messages m
		SET visible_at = now() + $2, receipt_handle = $3
		FROM next
		WHERE m.id = next.id
		RETURNING m.body`,
		queueName, t.visibility, receipt).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("receive from %s: %w", queueName, err)
	}
	return &Message{Body: body, ReceiptHandle: receipt}, nil
}

func (t *PgTransport) Delete(ctx context.Context, queueURL, receiptHandle string) error {
	queueName, err := queueNameFromURL(queueURL)
	if err != nil {
		return err
	}
	_, err = t.pool.Exec(ctx, `
		DELETE FROM queue_messages
		WHERE queue_name = $1 AND receipt_handle = $2`,
		queueName, receiptHandle)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", queueName, err)
	}
	return nil
}

func (t *PgTransport) EnsureQueues(ctx context.Context, prefix string, count int) error {
	for i := 0; i < count; i++ {
		name := prefix + strconv.Itoa(i)
		if _, err := t.pool.Exec(ctx, `
			INSERT INTO queues (name) VALUES ($1)
			ON CONFLICT (name) DO NOTHING`, name); err != nil {
			return fmt.Errorf("ensure queue %s: %w", name, err)
		}
	}
	return nil
}

func (t *PgTransport) URLFor(ctx context.Context, queueName string) (string, error) {
	var exists bool
	err := t.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM queues WHERE name = $1)`, queueName).Scan(&exists)
	if err != nil {
		return "", fmt.Errorf("resolve queue %s: %w", queueName, err)
	}
	if !exists {
		return "", fmt.Errorf("queue %s: %w", queueName, domain.ErrNotFound)
	}
	return urlScheme + queueName, nil
}

// Send enqueues a job body. Not part of the Transport interface — the
// delivery engine never produces — but the publishing side and integration
// tooling share this implementation.
func (t *PgTransport) Send(ctx context.Context, queueURL, body string) error {
	queueName, err := queueNameFromURL(queueURL)
	if err != nil {
		return err
	}
	_, err = t.pool.Exec(ctx, `
		INSERT INTO queue_messages (queue_name, body) VALUES ($1, $2)`,
		queueName, body)
	if err != nil {
		return fmt.Errorf("send to %s: %w", queueName, err)
	}
	return nil
}

func queueNameFromURL(queueURL string) (string, error) {
	if !strings.HasPrefix(queueURL, urlScheme) {
		return "", fmt.Errorf("bad queue URL %q", queueURL)
	}
	return queueURL[len(urlScheme):], nil
}

var _ Transport = (*PgTransport)(nil)
