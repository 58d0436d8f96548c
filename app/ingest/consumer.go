package ingest

import (
	"context"
)

// Message is one broker record.
type Message struct {
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
}

// Consumer is a batch-oriented broker consumer with at-least-once delivery.
// Poll returns the next batch without committing; Commit acknowledges
// everything polled so far; Rewind schedules all uncommitted messages for
// redelivery on the next Poll.
type Consumer interface {
	Poll(ctx context.Context, max int) ([]Message, error)
	Commit(ctx context.Context) error
	Rewind()
	Close() error
}
