package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var _ FeedRepository = (*FeedRepo)(nil)

// FeedRepo persists the current-state table and the append-only change log.
// excludedSource is a platform-wide redaction: rows carrying it are stored
// but never returned by any read.
type FeedRepo struct {
	db             *DB
	excludedSource string
}

func NewFeedRepository(db *DB, excludedSource string) *FeedRepo {
	return &FeedRepo{db: db, excludedSource: excludedSource}
}

func (r *FeedRepo) UpsertItem(ctx context.Context, tx *Tx, item FeedItem) error {
	return r.db.InTx(ctx, tx, func(tx *Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO feed_item (id, content, last_modified, status, source)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET
				content = EXCLUDED.content,
				last_modified = EXCLUDED.last_modified,
				status = EXCLUDED.status,
				source = EXCLUDED.source
		`, item.ID, item.Content, item.LastModified, item.Status, item.Source)
		if err != nil {
			return fmt.Errorf("failed to upsert feed item: %w", err)
		}
		return nil
	})
}

// AppendPageItem inserts a new log row and returns it with the
// database-assigned seq_no and last_modified filled in.
func (r *FeedRepo) AppendPageItem(ctx context.Context, tx *Tx, page FeedPageItem) (FeedPageItem, error) {
	err := r.db.InTx(ctx, tx, func(tx *Tx) error {
		row := tx.QueryRowContext(ctx, `
			INSERT INTO feed_page_item (id, status, title, business_name, municipal, feed_item_id, source)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING seq_no, last_modified
		`, page.ID, page.Status, page.Title, page.BusinessName, page.Municipal, page.FeedItemID, page.Source)
		if err := row.Scan(&page.SeqNo, &page.LastModified); err != nil {
			return fmt.Errorf("failed to append feed page item: %w", err)
		}
		return nil
	})
	return page, err
}

func (r *FeedRepo) GetItem(ctx context.Context, tx *Tx, id uuid.UUID) (*FeedItem, error) {
	var item *FeedItem
	err := r.db.InTx(ctx, tx, func(tx *Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT id, content, last_modified, status, COALESCE(source, '')
			FROM feed_item
			WHERE id = $1 AND source IS DISTINCT FROM $2
		`, id, r.excludedSource)

		var i FeedItem
		err := row.Scan(&i.ID, &i.Content, &i.LastModified, &i.Status, &i.Source)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get feed item: %w", err)
		}
		item = &i
		return nil
	})
	return item, err
}

func (r *FeedRepo) GetActiveItemsBySource(ctx context.Context, tx *Tx, source string) ([]FeedItem, error) {
	var items []FeedItem
	err := r.db.InTx(ctx, tx, func(tx *Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, content, last_modified, status, COALESCE(source, '')
			FROM feed_item
			WHERE source = $1 AND status = 'ACTIVE'
		`, source)
		if err != nil {
			return fmt.Errorf("failed to get feed items by source: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var i FeedItem
			if err := rows.Scan(&i.ID, &i.Content, &i.LastModified, &i.Status, &i.Source); err != nil {
				return fmt.Errorf("failed to scan feed item row: %w", err)
			}
			items = append(items, i)
		}
		return rows.Err()
	})
	return items, err
}

// UpdateItemSource patches the origin tag on the current-state row and all
// historic log rows for an ad. Content and last_modified are left untouched.
func (r *FeedRepo) UpdateItemSource(ctx context.Context, tx *Tx, id uuid.UUID, source string) (int, error) {
	updated := 0
	err := r.db.InTx(ctx, tx, func(tx *Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE feed_item SET source = $1 WHERE id = $2`, source, id)
		if err != nil {
			return fmt.Errorf("failed to update feed item source: %w", err)
		}
		n, _ := res.RowsAffected()
		updated += int(n)

		res, err = tx.ExecContext(ctx, `UPDATE feed_page_item SET source = $1 WHERE feed_item_id = $2`, source, id)
		if err != nil {
			return fmt.Errorf("failed to update feed page item source: %w", err)
		}
		n, _ = res.RowsAffected()
		updated += int(n)
		return nil
	})
	return updated, err
}

const pageItemColumns = `id, last_modified, seq_no, status, title, business_name, municipal, feed_item_id, COALESCE(source, '')`

func scanPageItem(row interface{ Scan(...any) error }) (FeedPageItem, error) {
	var p FeedPageItem
	err := row.Scan(&p.ID, &p.LastModified, &p.SeqNo, &p.Status, &p.Title,
		&p.BusinessName, &p.Municipal, &p.FeedItemID, &p.Source)
	return p, err
}

func (r *FeedRepo) GetPageItem(ctx context.Context, tx *Tx, id uuid.UUID) (*FeedPageItem, error) {
	query := `
		SELECT ` + pageItemColumns + `
		FROM feed_page_item
		WHERE id = $1 AND source IS DISTINCT FROM $2
	`
	return r.queryOnePageItem(ctx, tx, query, id, r.excludedSource)
}

// GetPageItemsAfter returns up to limit log rows with seq_no strictly greater
// than seqNo, ascending. Ordering is by seq_no only; last_modified may be out
// of order relative to it.
func (r *FeedRepo) GetPageItemsAfter(ctx context.Context, tx *Tx, seqNo int64, limit int, modifiedSince *time.Time) ([]FeedPageItem, error) {
	var items []FeedPageItem
	err := r.db.InTx(ctx, tx, func(tx *Tx) error {
		query := `
			SELECT ` + pageItemColumns + `
			FROM feed_page_item
			WHERE seq_no > $1 AND source IS DISTINCT FROM $2
		`
		args := []any{seqNo, r.excludedSource}
		if modifiedSince != nil {
			query += ` AND last_modified >= $3`
			args = append(args, *modifiedSince)
		}
		query += fmt.Sprintf(` ORDER BY seq_no LIMIT $%d`, len(args)+1)
		args = append(args, limit)

		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to get feed page items: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			p, err := scanPageItem(rows)
			if err != nil {
				return fmt.Errorf("failed to scan feed page item row: %w", err)
			}
			items = append(items, p)
		}
		return rows.Err()
	})
	return items, err
}

func (r *FeedRepo) FirstPageItem(ctx context.Context, tx *Tx) (*FeedPageItem, error) {
	query := `
		SELECT ` + pageItemColumns + `
		FROM feed_page_item
		WHERE seq_no IN (
			SELECT min(f2.seq_no) FROM feed_page_item f2 WHERE f2.source IS DISTINCT FROM $1
		)
	`
	return r.queryOnePageItem(ctx, tx, query, r.excludedSource)
}

// LastPageItem returns the anchor of the newest page: the oldest of the final
// window entries, so one fetch from it covers the rest of the log.
func (r *FeedRepo) LastPageItem(ctx context.Context, tx *Tx, window int) (*FeedPageItem, error) {
	query := `
		SELECT ` + pageItemColumns + `
		FROM feed_page_item
		WHERE seq_no IN (
			SELECT min(tail.seq_no) FROM (
				SELECT f2.seq_no FROM feed_page_item f2
				WHERE f2.source IS DISTINCT FROM $1
				ORDER BY f2.seq_no DESC
				LIMIT $2
			) tail
		)
	`
	return r.queryOnePageItem(ctx, tx, query, r.excludedSource, window)
}

func (r *FeedRepo) FirstPageItemModifiedAfter(ctx context.Context, tx *Tx, cutoff time.Time) (*FeedPageItem, error) {
	query := `
		SELECT ` + pageItemColumns + `
		FROM feed_page_item
		WHERE seq_no IN (
			SELECT min(f2.seq_no) FROM feed_page_item f2
			WHERE f2.last_modified > $1 AND f2.source IS DISTINCT FROM $2
		)
	`
	return r.queryOnePageItem(ctx, tx, query, cutoff, r.excludedSource)
}

func (r *FeedRepo) queryOnePageItem(ctx context.Context, tx *Tx, query string, args ...any) (*FeedPageItem, error) {
	var item *FeedPageItem
	err := r.db.InTx(ctx, tx, func(tx *Tx) error {
		p, err := scanPageItem(tx.QueryRowContext(ctx, query, args...))
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get feed page item: %w", err)
		}
		item = &p
		return nil
	})
	return item, err
}
