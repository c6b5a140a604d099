package dbqueue

import (
	"context"
	"time"

	"github.com/coregx/dbqueue/model"
)

// Store is the persistence contract of the queue: a SQL table used as an
// at-least-once, multi-consumer FIFO with a visibility timeout.
//
// Implementations must be safe for concurrent use across goroutines and
// processes. Every operation runs in its own transaction boundary and reads
// fresh state; nothing is cached between calls.
type Store interface {
	// Send enqueues a message that becomes claimable after delay.
	// Returns the id assigned by the store.
	Send(ctx context.Context, body string, headers map[string]string, delay time.Duration) (int64, error)

	// Get claims the oldest claimable message of the configured queue.
	// Returns ErrNoData when nothing is claimable. At most one concurrent
	// caller can claim a given row until it is acked, rejected or redelivered.
	Get(ctx context.Context) (*model.Message, error)

	// Ack deletes a message. Returns false when the row no longer exists,
	// which callers should treat as a benign no-op.
	Ack(ctx context.Context, id int64) (bool, error)

	// Reject permanently discards a message. Same mechanics as Ack.
	Reject(ctx context.Context, id int64) (bool, error)

	// Setup creates the table and its indexes if they do not exist.
	Setup(ctx context.Context) error
}

// StatsStore is implemented by stores that support operational tooling
// (queue stats, listing and purge commands).
type StatsStore interface {
	Store

	// MessageCount returns the number of currently claimable messages.
	MessageCount(ctx context.Context) (int, error)

	// Find loads a message of the configured queue by id, whatever its state.
	// Returns ErrNoData if not found.
	Find(ctx context.Context, id int64) (*model.Message, error)

	// All lists up to limit claimable messages in claim order.
	// A limit <= 0 means no limit.
	All(ctx context.Context, limit int) ([]model.Message, error)

	// Purge deletes every message of the configured queue.
	// Returns the number of deleted rows.
	Purge(ctx context.Context) (int, error)
}
