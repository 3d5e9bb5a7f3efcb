// Package transport abstracts the queueing system the fan-out jobs travel
// on. The engine only ever receives, deletes, and provisions queues; the
// enqueue side belongs to the publishing half of the broker.
package transport

import "context"

// Message is one received queue message. The receipt handle is the opaque
// token required to delete (acknowledge) it; an unacknowledged message
// becomes visible again after the transport's visibility timeout, which is
// the engine's sole recovery path for interrupted work.
type Message struct {
	Body          string
	ReceiptHandle string
}

// Transport is the queue transport consumed by the partition consumer.
// The Postgres implementation is in pg_transport.go; tests use the
// in-memory MockTransport.
type Transport interface {
	// Receive attempts a single dequeue. Returns (nil, nil) when the queue
	// is empty; no blocking guarantee beyond the transport's own polling
	// semantics.
	Receive(ctx context.Context, queueURL string) (*Message, error)

	// Delete acknowledges a message, removing it permanently.
	Delete(ctx context.Context, queueURL, receiptHandle string) error

	// EnsureQueues provisions the partitioned queues named prefix+0 through
	// prefix+(count-1), creating any that are missing.
	EnsureQueues(ctx context.Context, prefix string, count int) error

	// URLFor resolves a queue name to the URL used by Receive and Delete.
	URLFor(ctx context.Context, queueName string) (string, error)
}
