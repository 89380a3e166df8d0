// Package queue decouples request handling from access log persistence.
//
// DESIGN: Request handlers put small log items onto a Channel; a single worker
// drains them in batches. Two backends exist: an in-process channel for the
// default single-node deployment, and a NATS JetStream channel for setups
// where the worker runs in a separate process. Both preserve per-producer
// ordering and deliver at least once.
package queue

import "context"

// Item is one unit of work for the access log worker. Implementations are
// plain structs; Kind returns the type tag used to round-trip items through
// serializing backends.
type Item interface {
	Kind() string
}

// Channel is an ordered, at-least-once item queue.
type Channel interface {
	// Put enqueues one item. It must be safe for concurrent producers.
	Put(ctx context.Context, item Item) error
	// Get removes and returns up to max pending items without blocking.
	// An empty slice means the queue is currently drained.
	Get(ctx context.Context, max int) ([]Item, error)
	// Close releases backend resources. Items put after Close are rejected.
	Close() error
}
