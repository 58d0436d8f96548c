package database

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// FeedRepository is the sequencer store. All reads apply the standing
// excluded-source filter configured at construction; writes never do.
type FeedRepository interface {
	UpsertItem(ctx context.Context, tx *Tx, item FeedItem) error
	AppendPageItem(ctx context.Context, tx *Tx, page FeedPageItem) (FeedPageItem, error)

	GetItem(ctx context.Context, tx *Tx, id uuid.UUID) (*FeedItem, error)
	GetActiveItemsBySource(ctx context.Context, tx *Tx, source string) ([]FeedItem, error)
	UpdateItemSource(ctx context.Context, tx *Tx, id uuid.UUID, source string) (int, error)

	GetPageItem(ctx context.Context, tx *Tx, id uuid.UUID) (*FeedPageItem, error)
	GetPageItemsAfter(ctx context.Context, tx *Tx, seqNo int64, limit int, modifiedSince *time.Time) ([]FeedPageItem, error)
	FirstPageItem(ctx context.Context, tx *Tx) (*FeedPageItem, error)
	LastPageItem(ctx context.Context, tx *Tx, window int) (*FeedPageItem, error)
	FirstPageItemModifiedAfter(ctx context.Context, tx *Tx, cutoff time.Time) (*FeedPageItem, error)
}

type TokenRepository interface {
	CreateConsumer(ctx context.Context, tx *Tx, consumer Consumer) error
	GetConsumer(ctx context.Context, tx *Tx, id uuid.UUID) (*Consumer, error)
	GetConsumersByIdentifier(ctx context.Context, tx *Tx, identifier string) ([]Consumer, error)

	SaveToken(ctx context.Context, tx *Tx, consumerID uuid.UUID, jwt string, issuedAt time.Time) error
	InvalidateTokens(ctx context.Context, tx *Tx, consumerID uuid.UUID) error
	InvalidatedTokens(ctx context.Context, tx *Tx) ([]string, error)
	ValidTokens(ctx context.Context, tx *Tx, consumerID uuid.UUID) ([]string, error)
}
