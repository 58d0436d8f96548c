package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jobfeed/jobfeed/app/database"
)

const urlPrefix = "/api/v1"

const (
	feedTitle       = "Job advertisement feed"
	feedDescription = "Changelog feed of public job advertisements"
	lineContentText = "Job advertisement"
)

// Service owns the ingestion transform and the pagination engine. It is
// stateless; every operation runs in its own store transaction unless the
// caller passes one in.
type Service struct {
	repo         database.FeedRepository
	db           database.TxRunner
	adURLBase    string
	homePageURL  string
	directSource string
}

func NewService(repo database.FeedRepository, db database.TxRunner, adURLBase, homePageURL, directSource string) *Service {
	return &Service{
		repo:         repo,
		db:           db,
		adURLBase:    adURLBase,
		homePageURL:  homePageURL,
		directSource: directSource,
	}
}

// SaveAd persists one ad change event: the current-state row is overwritten
// and a log entry appended, atomically. Returns nil rows for events that are
// not yet published by an administrator.
func (s *Service) SaveAd(ctx context.Context, tx *database.Tx, event AdEvent) (*database.FeedItem, *database.FeedPageItem, error) {
	if event.PublishedByAdmin == nil {
		slog.Info("Ignoring ad that is not published yet", "ad", event.UUID)
		return nil, nil, nil
	}

	if shouldMask(event) {
		event = maskAd(event)
	}

	id, err := uuid.Parse(event.UUID)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid ad id %q: %w", event.UUID, err)
	}

	active := event.Status == StatusActive && event.Source != s.directSource
	status := StatusInactive
	content := ""
	if active {
		status = StatusActive
		serialized, err := json.Marshal(MapAd(event, s.adURLBase))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to serialize ad %s: %w", event.UUID, err)
		}
		content = string(serialized)
	}

	item := database.FeedItem{
		ID:           id,
		Content:      content,
		LastModified: event.Updated.Time,
		Status:       status,
		Source:       event.Source,
	}
	page := database.FeedPageItem{
		ID:           uuid.New(),
		Status:       status,
		Title:        defaultStr(event.Title, PlaceholderTitle),
		BusinessName: defaultStr(event.BusinessName, PlaceholderTitle),
		Municipal:    defaultStr(municipalOf(event), PlaceholderTitle),
		FeedItemID:   id,
		Source:       event.Source,
	}

	err = s.db.InTx(ctx, tx, func(tx *database.Tx) error {
		if err := s.repo.UpsertItem(ctx, tx, item); err != nil {
			return err
		}
		saved, err := s.repo.AppendPageItem(ctx, tx, page)
		if err != nil {
			return err
		}
		page = saved
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &item, &page, nil
}

func municipalOf(event AdEvent) string {
	if event.Location != nil {
		return event.Location.Municipal
	}
	return ""
}

func (s *Service) SaveAdJSON(ctx context.Context, tx *database.Tx, payload []byte) (*database.FeedItem, *database.FeedPageItem, error) {
	var event AdEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, nil, fmt.Errorf("failed to deserialize ad event: %w", err)
	}
	return s.SaveAd(ctx, tx, event)
}

// SaveAdPayloads processes a broker batch. A payload that does not
// deserialize is skipped individually; a store failure aborts and is
// returned, leaving the batch uncommitted for redelivery.
func (s *Service) SaveAdPayloads(ctx context.Context, payloads [][]byte) (int, error) {
	saved := 0
	for _, payload := range payloads {
		var event AdEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			slog.Warn("Skipping malformed ad event", "error", err)
			continue
		}
		item, _, err := s.SaveAd(ctx, nil, event)
		if err != nil {
			return saved, err
		}
		if item != nil {
			saved++
		}
	}
	return saved, nil
}

// SaveAdSources backfills the origin tag on historic rows. It deliberately
// leaves content and last_modified alone so concurrent primary ingestion
// cannot be disturbed.
func (s *Service) SaveAdSources(ctx context.Context, payloads [][]byte) (int, error) {
	updated := 0
	for _, payload := range payloads {
		var event AdEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			slog.Warn("Skipping malformed ad event", "error", err)
			continue
		}
		if event.Source == "" {
			continue
		}
		id, err := uuid.Parse(event.UUID)
		if err != nil {
			slog.Warn("Skipping ad event with invalid id", "ad", event.UUID)
			continue
		}
		n, err := s.repo.UpdateItemSource(ctx, nil, id, event.Source)
		if err != nil {
			return updated, err
		}
		updated += n
	}
	return updated, nil
}

// GetEntry returns the current state of one ad, or nil when absent or
// filtered out.
func (s *Service) GetEntry(ctx context.Context, id uuid.UUID) (*FeedEntryContent, error) {
	item, err := s.repo.GetItem(ctx, nil, id)
	if err != nil || item == nil {
		return nil, err
	}

	content := &FeedEntryContent{
		UUID:         item.ID,
		LastModified: item.LastModified,
		Status:       item.Status,
	}
	if item.Content != "" {
		var ad FeedAd
		if err := json.Unmarshal([]byte(item.Content), &ad); err != nil {
			return nil, fmt.Errorf("failed to deserialize stored ad %s: %w", item.ID, err)
		}
		content.AdContent = &ad
	}
	return content, nil
}

type PageQuery struct {
	PageSize        int
	IfNoneMatch     string
	IfModifiedSince *time.Time
}

// GetPage resolves the page anchored at anchorID. A nil Feed means the anchor
// does not exist. A Feed with Unchanged set means the caller already has this
// page's contents.
//
// The reported boundary is never the last fetched row: with two or more rows
// beyond the anchor, the final one is dropped from the page and only proves
// that the second-to-last row has settled. Timestamps are not monotonic with
// seq_no across concurrent commits, so using the very last row as the
// boundary could advertise a Last-Modified that a slower transaction then
// slips behind.
func (s *Service) GetPage(ctx context.Context, anchorID uuid.UUID, q PageQuery) (*Feed, error) {
	var feed *Feed
	err := s.db.InTx(ctx, nil, func(tx *database.Tx) error {
		anchor, err := s.repo.GetPageItem(ctx, tx, anchorID)
		if err != nil {
			return err
		}
		if anchor == nil {
			return nil
		}

		fetched, err := s.repo.GetPageItemsAfter(ctx, tx, anchor.SeqNo, q.PageSize, q.IfModifiedSince)
		if err != nil {
			return err
		}
		if len(fetched) == 0 {
			feed = &Feed{Unchanged: true}
			return nil
		}

		last := fetched[len(fetched)-1]
		boundary := last
		if len(fetched) > 1 {
			boundary = fetched[len(fetched)-2]
		}

		if q.IfNoneMatch != "" && q.IfModifiedSince != nil &&
			boundary.ID.String() == q.IfNoneMatch && boundary.LastModified.Before(*q.IfModifiedSince) {
			feed = &Feed{Unchanged: true}
			return nil
		}

		lines := []FeedLine{s.newFeedLine(*anchor)}
		drop := 0
		if boundary.ID != last.ID {
			drop = 1
		}
		for _, p := range fetched[:len(fetched)-drop] {
			lines = append(lines, s.newFeedLine(p))
		}

		var nextID *uuid.UUID
		var nextURL *string
		if boundary.ID != last.ID {
			id := boundary.ID
			url := fmt.Sprintf("%s/feed/%s", urlPrefix, id)
			nextID = &id
			nextURL = &url
		}

		feed = &Feed{
			Version:      "1.0",
			Title:        feedTitle,
			HomePageURL:  s.homePageURL,
			Description:  feedDescription,
			FeedURL:      fmt.Sprintf("%s/feed/%s", urlPrefix, anchor.ID),
			NextURL:      nextURL,
			ID:           anchor.ID,
			NextID:       nextID,
			Items:        lines,
			Etag:         boundary.ID.String(),
			LastModified: boundary.LastModified,
		}
		return nil
	})
	return feed, err
}

func (s *Service) newFeedLine(p database.FeedPageItem) FeedLine {
	return FeedLine{
		ID:           p.FeedItemID.String(),
		URL:          fmt.Sprintf("%s/feedentry/%s", urlPrefix, p.FeedItemID),
		Title:        p.Title,
		ContentText:  lineContentText,
		DateModified: p.LastModified,
		FeedEntry: FeedEntry{
			UUID:         p.FeedItemID.String(),
			Status:       p.Status,
			Title:        p.Title,
			BusinessName: p.BusinessName,
			Municipal:    p.Municipal,
			LastModified: p.LastModified,
		},
	}
}

func (s *Service) FirstPage(ctx context.Context) (*database.FeedPageItem, error) {
	return s.repo.FirstPageItem(ctx, nil)
}

// LastPage returns the anchor of the newest page for the given window size.
func (s *Service) LastPage(ctx context.Context, window int) (*database.FeedPageItem, error) {
	return s.repo.LastPageItem(ctx, nil, window)
}

func (s *Service) FirstPageModifiedAfter(ctx context.Context, cutoff time.Time) (*database.FeedPageItem, error) {
	return s.repo.FirstPageItemModifiedAfter(ctx, nil, cutoff)
}

// DeactivateDirectAds rewrites every still-active directly registered ad as
// INACTIVE with empty content, appending a log entry per ad. Run at startup.
func (s *Service) DeactivateDirectAds(ctx context.Context) error {
	items, err := s.repo.GetActiveItemsBySource(ctx, nil, s.directSource)
	if err != nil {
		return err
	}

	for _, item := range items {
		item.Status = StatusInactive
		item.Content = ""
		item.LastModified = time.Now()

		err := s.db.InTx(ctx, nil, func(tx *database.Tx) error {
			if err := s.repo.UpsertItem(ctx, tx, item); err != nil {
				return err
			}
			_, err := s.repo.AppendPageItem(ctx, tx, database.FeedPageItem{
				ID:           uuid.New(),
				Status:       StatusInactive,
				Title:        PlaceholderTitle,
				BusinessName: PlaceholderTitle,
				Municipal:    PlaceholderTitle,
				FeedItemID:   item.ID,
				Source:       s.directSource,
			})
			return err
		})
		if err != nil {
			return err
		}
	}

	if len(items) > 0 {
		slog.Info("Deactivated directly registered ads", "count", len(items))
	}
	return nil
}
