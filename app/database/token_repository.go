package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var _ TokenRepository = (*TokenRepo)(nil)

// TokenRepo handles the consumer registry and issued tokens.
type TokenRepo struct {
	db *DB
}

func NewTokenRepository(db *DB) *TokenRepo {
	return &TokenRepo{db: db}
}

func (r *TokenRepo) CreateConsumer(ctx context.Context, tx *Tx, consumer Consumer) error {
	return r.db.InTx(ctx, tx, func(tx *Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO feed_consumer (id, identifier, email, phone, contact_person, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, consumer.ID, consumer.Identifier, consumer.Email, consumer.Phone,
			consumer.ContactPerson, consumer.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to create consumer: %w", err)
		}
		return nil
	})
}

func (r *TokenRepo) GetConsumer(ctx context.Context, tx *Tx, id uuid.UUID) (*Consumer, error) {
	var consumer *Consumer
	err := r.db.InTx(ctx, tx, func(tx *Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT id, identifier, email, phone, contact_person, created_at
			FROM feed_consumer
			WHERE id = $1
		`, id)

		var c Consumer
		err := row.Scan(&c.ID, &c.Identifier, &c.Email, &c.Phone, &c.ContactPerson, &c.CreatedAt)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get consumer: %w", err)
		}
		consumer = &c
		return nil
	})
	return consumer, err
}

func (r *TokenRepo) GetConsumersByIdentifier(ctx context.Context, tx *Tx, identifier string) ([]Consumer, error) {
	var consumers []Consumer
	err := r.db.InTx(ctx, tx, func(tx *Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, identifier, email, phone, contact_person, created_at
			FROM feed_consumer
			WHERE identifier = $1
			ORDER BY created_at DESC
		`, identifier)
		if err != nil {
			return fmt.Errorf("failed to get consumers: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var c Consumer
			if err := rows.Scan(&c.ID, &c.Identifier, &c.Email, &c.Phone, &c.ContactPerson, &c.CreatedAt); err != nil {
				return fmt.Errorf("failed to scan consumer row: %w", err)
			}
			consumers = append(consumers, c)
		}
		return rows.Err()
	})
	return consumers, err
}

func (r *TokenRepo) SaveToken(ctx context.Context, tx *Tx, consumerID uuid.UUID, jwt string, issuedAt time.Time) error {
	return r.db.InTx(ctx, tx, func(tx *Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO token (id, consumer_id, jwt, issued_at)
			VALUES ($1, $2, $3, $4)
		`, uuid.New(), consumerID, jwt, issuedAt)
		if err != nil {
			return fmt.Errorf("failed to save token: %w", err)
		}
		return nil
	})
}

func (r *TokenRepo) InvalidateTokens(ctx context.Context, tx *Tx, consumerID uuid.UUID) error {
	return r.db.InTx(ctx, tx, func(tx *Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE token SET invalidated = TRUE, invalidated_at = $1 WHERE consumer_id = $2
		`, time.Now().UTC(), consumerID)
		if err != nil {
			return fmt.Errorf("failed to invalidate tokens: %w", err)
		}
		return nil
	})
}

func (r *TokenRepo) InvalidatedTokens(ctx context.Context, tx *Tx) ([]string, error) {
	return r.queryTokens(ctx, tx, `SELECT jwt FROM token WHERE invalidated = TRUE`)
}

func (r *TokenRepo) ValidTokens(ctx context.Context, tx *Tx, consumerID uuid.UUID) ([]string, error) {
	return r.queryTokens(ctx, tx, `
		SELECT jwt FROM token
		WHERE invalidated = FALSE AND consumer_id = $1
		ORDER BY issued_at DESC
	`, consumerID)
}

func (r *TokenRepo) queryTokens(ctx context.Context, tx *Tx, query string, args ...any) ([]string, error) {
	var tokens []string
	err := r.db.InTx(ctx, tx, func(tx *Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to query tokens: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var jwt string
			if err := rows.Scan(&jwt); err != nil {
				return fmt.Errorf("failed to scan token row: %w", err)
			}
			tokens = append(tokens, jwt)
		}
		return rows.Err()
	})
	return tokens, err
}
