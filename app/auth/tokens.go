package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jobfeed/jobfeed/app/database"
)

// PublicConsumerIdentifier names the shared consumer whose token is published
// openly and rotated on a schedule.
const PublicConsumerIdentifier = "public-token"

// publicTokenLifetime is how long each rotation of the public token lives.
const publicTokenLifetime = 93 * 24 * time.Hour

// TokenService manages consumers and their tokens on top of the token store.
type TokenService struct {
	repo     database.TokenRepository
	db       database.TxRunner
	security *Security
}

func NewTokenService(repo database.TokenRepository, db database.TxRunner, security *Security) *TokenService {
	return &TokenService{repo: repo, db: db, security: security}
}

func (t *TokenService) CreateConsumer(ctx context.Context, consumer database.Consumer) (*database.Consumer, error) {
	if consumer.ID == uuid.Nil {
		consumer.ID = uuid.New()
	}
	if consumer.CreatedAt.IsZero() {
		consumer.CreatedAt = time.Now()
	}
	if err := t.repo.CreateConsumer(ctx, nil, consumer); err != nil {
		return nil, err
	}
	slog.Info("Created consumer", "consumer", consumer.ID, "identifier", consumer.Identifier)
	return &consumer, nil
}

func (t *TokenService) GetConsumer(ctx context.Context, id uuid.UUID) (*database.Consumer, error) {
	return t.repo.GetConsumer(ctx, nil, id)
}

// IssueToken rotates the consumer's token: every earlier token is invalidated
// and a fresh one saved, atomically. A nil expiry issues a token that lives
// until the next rotation.
func (t *TokenService) IssueToken(ctx context.Context, consumerID uuid.UUID, expires *time.Time) (string, error) {
	consumer, err := t.repo.GetConsumer(ctx, nil, consumerID)
	if err != nil {
		return "", err
	}
	if consumer == nil {
		return "", fmt.Errorf("unknown consumer %s", consumerID)
	}

	issuedAt := time.Now()
	token, err := t.security.NewToken(consumer.ID, consumer.Email, issuedAt, expires)
	if err != nil {
		return "", err
	}

	err = t.db.InTx(ctx, nil, func(tx *database.Tx) error {
		if err := t.repo.InvalidateTokens(ctx, tx, consumer.ID); err != nil {
			return err
		}
		return t.repo.SaveToken(ctx, tx, consumer.ID, token, issuedAt)
	})
	if err != nil {
		return "", err
	}

	slog.Info("Issued token", "consumer", consumer.ID, "identifier", consumer.Identifier)
	return token, nil
}

// RefreshDenylist reloads invalidated tokens from the store into the
// verifier.
func (t *TokenService) RefreshDenylist(ctx context.Context) error {
	tokens, err := t.repo.InvalidatedTokens(ctx, nil)
	if err != nil {
		return err
	}
	t.security.SetDenylist(tokens)
	slog.Debug("Refreshed token denylist", "count", len(tokens))
	return nil
}

// EnsurePublicToken makes sure the shared public consumer exists and holds a
// valid token, creating or rotating as needed. Returns the current token.
func (t *TokenService) EnsurePublicToken(ctx context.Context) (string, error) {
	consumer, err := t.publicConsumer(ctx)
	if err != nil {
		return "", err
	}

	tokens, err := t.repo.ValidTokens(ctx, nil, consumer.ID)
	if err != nil {
		return "", err
	}
	if len(tokens) > 0 {
		return tokens[0], nil
	}
	return t.rotatePublicToken(ctx, consumer.ID)
}

// RotatePublicTokenIfExpiring replaces the public token when it is within
// threshold of expiry. Returns true when a rotation happened.
func (t *TokenService) RotatePublicTokenIfExpiring(ctx context.Context, threshold time.Duration) (bool, error) {
	consumer, err := t.publicConsumer(ctx)
	if err != nil {
		return false, err
	}

	tokens, err := t.repo.ValidTokens(ctx, nil, consumer.ID)
	if err != nil {
		return false, err
	}
	if len(tokens) > 0 {
		exp, err := t.security.ExpiresAt(tokens[0])
		if err != nil {
			return false, err
		}
		if exp != nil && time.Until(*exp) > threshold {
			return false, nil
		}
	}

	if _, err := t.rotatePublicToken(ctx, consumer.ID); err != nil {
		return false, err
	}
	return true, nil
}

func (t *TokenService) publicConsumer(ctx context.Context) (*database.Consumer, error) {
	consumers, err := t.repo.GetConsumersByIdentifier(ctx, nil, PublicConsumerIdentifier)
	if err != nil {
		return nil, err
	}
	if len(consumers) > 0 {
		return &consumers[0], nil
	}
	return t.CreateConsumer(ctx, database.Consumer{
		Identifier:    PublicConsumerIdentifier,
		Email:         PublicConsumerIdentifier,
		Phone:         PublicConsumerIdentifier,
		ContactPerson: PublicConsumerIdentifier,
	})
}

func (t *TokenService) rotatePublicToken(ctx context.Context, consumerID uuid.UUID) (string, error) {
	expires := time.Now().Add(publicTokenLifetime)
	token, err := t.IssueToken(ctx, consumerID, &expires)
	if err != nil {
		return "", err
	}
	slog.Info("Rotated public token", "expires", expires)
	return token, nil
}
