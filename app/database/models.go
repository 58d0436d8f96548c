package database

import (
	"time"

	"github.com/google/uuid"
)

// FeedItem is the current-state row for an ad. One row per ad id; every
// ingested event overwrites it.
type FeedItem struct {
	ID           uuid.UUID
	Content      string // serialized public ad, empty when inactive or masked
	LastModified time.Time
	Status       string
	Source       string
}

// FeedPageItem is one row of the append-only change log. seq_no and
// last_modified are assigned by the database on insert; last_modified is not
// guaranteed monotonic with seq_no across concurrent transactions.
type FeedPageItem struct {
	ID           uuid.UUID
	SeqNo        int64
	LastModified time.Time
	Status       string
	Title        string
	BusinessName string
	Municipal    string
	FeedItemID   uuid.UUID
	Source       string
}

type Consumer struct {
	ID            uuid.UUID
	Identifier    string
	Email         string
	Phone         string
	ContactPerson string
	CreatedAt     time.Time
}
