package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jobfeed/jobfeed/app/auth"
	"github.com/jobfeed/jobfeed/app/database"
	"github.com/jobfeed/jobfeed/app/feed"
	"github.com/jobfeed/jobfeed/app/health"
)

type passthroughTx struct{}

func (passthroughTx) InTx(_ context.Context, existing *database.Tx, fn func(tx *database.Tx) error) error {
	return fn(existing)
}

type memFeedRepo struct {
	items   map[uuid.UUID]database.FeedItem
	pages   []database.FeedPageItem
	nextSeq int64
}

func newMemFeedRepo() *memFeedRepo {
	return &memFeedRepo{items: map[uuid.UUID]database.FeedItem{}}
}

func (r *memFeedRepo) UpsertItem(_ context.Context, _ *database.Tx, item database.FeedItem) error {
	r.items[item.ID] = item
	return nil
}

func (r *memFeedRepo) AppendPageItem(_ context.Context, _ *database.Tx, page database.FeedPageItem) (database.FeedPageItem, error) {
	r.nextSeq++
	page.SeqNo = r.nextSeq
	if page.LastModified.IsZero() {
		page.LastModified = time.Now()
	}
	r.pages = append(r.pages, page)
	return page, nil
}

func (r *memFeedRepo) GetItem(_ context.Context, _ *database.Tx, id uuid.UUID) (*database.FeedItem, error) {
	item, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (r *memFeedRepo) GetActiveItemsBySource(_ context.Context, _ *database.Tx, source string) ([]database.FeedItem, error) {
	return nil, nil
}

func (r *memFeedRepo) UpdateItemSource(_ context.Context, _ *database.Tx, _ uuid.UUID, _ string) (int, error) {
	return 0, nil
}

func (r *memFeedRepo) GetPageItem(_ context.Context, _ *database.Tx, id uuid.UUID) (*database.FeedPageItem, error) {
	for _, p := range r.pages {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, nil
}

func (r *memFeedRepo) GetPageItemsAfter(_ context.Context, _ *database.Tx, seqNo int64, limit int, modifiedSince *time.Time) ([]database.FeedPageItem, error) {
	var out []database.FeedPageItem
	for _, p := range r.pages {
		if p.SeqNo <= seqNo {
			continue
		}
		if modifiedSince != nil && p.LastModified.Before(*modifiedSince) {
			continue
		}
		out = append(out, p)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memFeedRepo) FirstPageItem(_ context.Context, _ *database.Tx) (*database.FeedPageItem, error) {
	if len(r.pages) == 0 {
		return nil, nil
	}
	return &r.pages[0], nil
}

func (r *memFeedRepo) LastPageItem(_ context.Context, _ *database.Tx, window int) (*database.FeedPageItem, error) {
	if len(r.pages) == 0 {
		return nil, nil
	}
	start := len(r.pages) - window
	if start < 0 {
		start = 0
	}
	return &r.pages[start], nil
}

func (r *memFeedRepo) FirstPageItemModifiedAfter(_ context.Context, _ *database.Tx, cutoff time.Time) (*database.FeedPageItem, error) {
	for _, p := range r.pages {
		if !p.LastModified.Before(cutoff) {
			return &p, nil
		}
	}
	return nil, nil
}

type memTokenRepo struct {
	consumers map[uuid.UUID]database.Consumer
	tokens    map[uuid.UUID][]string
}

func newMemTokenRepo() *memTokenRepo {
	return &memTokenRepo{consumers: map[uuid.UUID]database.Consumer{}, tokens: map[uuid.UUID][]string{}}
}

func (r *memTokenRepo) CreateConsumer(_ context.Context, _ *database.Tx, consumer database.Consumer) error {
	r.consumers[consumer.ID] = consumer
	return nil
}

func (r *memTokenRepo) GetConsumer(_ context.Context, _ *database.Tx, id uuid.UUID) (*database.Consumer, error) {
	consumer, ok := r.consumers[id]
	if !ok {
		return nil, nil
	}
	return &consumer, nil
}

func (r *memTokenRepo) GetConsumersByIdentifier(_ context.Context, _ *database.Tx, identifier string) ([]database.Consumer, error) {
	var out []database.Consumer
	for _, c := range r.consumers {
		if c.Identifier == identifier {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memTokenRepo) SaveToken(_ context.Context, _ *database.Tx, consumerID uuid.UUID, jwt string, _ time.Time) error {
	r.tokens[consumerID] = append(r.tokens[consumerID], jwt)
	return nil
}

func (r *memTokenRepo) InvalidateTokens(_ context.Context, _ *database.Tx, consumerID uuid.UUID) error {
	r.tokens[consumerID] = nil
	return nil
}

func (r *memTokenRepo) InvalidatedTokens(_ context.Context, _ *database.Tx) ([]string, error) {
	return nil, nil
}

func (r *memTokenRepo) ValidTokens(_ context.Context, _ *database.Tx, consumerID uuid.UUID) ([]string, error) {
	return r.tokens[consumerID], nil
}

type testEnv struct {
	router      *gin.Engine
	feedService *feed.Service
	feedRepo    *memFeedRepo
	monitor     *health.Monitor
	token       string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	feedRepo := newMemFeedRepo()
	feedService := feed.NewService(feedRepo, passthroughTx{}, "https://ads.example.com", "https://example.com", "DIR")

	security := auth.NewSecurity("jobfeed-test", "feed-api", "test-signing-secret")
	tokens := auth.NewTokenService(newMemTokenRepo(), passthroughTx{}, security)

	consumer, err := tokens.CreateConsumer(context.Background(), database.Consumer{
		Identifier: "test-consumer", Email: "test@example.com",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	token, err := tokens.IssueToken(context.Background(), consumer.ID, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	monitor := health.NewMonitor()
	handler := NewHandler(feedService, tokens, security, monitor, 10, 100)

	return &testEnv{
		router:      NewServer(handler, security),
		feedService: feedService,
		feedRepo:    feedRepo,
		monitor:     monitor,
		token:       token,
	}
}

func (e *testEnv) get(t *testing.T, path string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer "+e.token)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) seed(t *testing.T, n int) []uuid.UUID {
	t.Helper()
	ids := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		now := feed.EventTime{Time: time.Now()}
		adID := uuid.NewString()
		_, page, err := e.feedService.SaveAd(context.Background(), nil, feed.AdEvent{
			UUID:             adID,
			Title:            "Developer",
			Status:           feed.StatusActive,
			Source:           "IMPORT",
			Updated:          now,
			PublishedByAdmin: &now,
			BusinessName:     "Acme AS",
		})
		if err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
		ids = append(ids, page.ID)
	}
	return ids
}

func TestFeedRequiresToken(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/feed", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/feed", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for garbage token, got %d", w.Code)
	}
}

func TestGetFeedEmptyStore(t *testing.T) {
	env := newTestEnv(t)
	if w := env.get(t, "/api/v1/feed", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for empty feed, got %d", w.Code)
	}
}

func TestGetFeedServesFirstPage(t *testing.T) {
	env := newTestEnv(t)
	ids := env.seed(t, 3)

	w := env.get(t, "/api/v1/feed", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var page feed.Feed
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if page.ID != ids[0] {
		t.Errorf("expected page anchored at %s, got %s", ids[0], page.ID)
	}
	if len(page.Items) != 2 {
		t.Errorf("expected 2 items, got %d", len(page.Items))
	}
	if w.Header().Get("ETag") == "" {
		t.Error("expected ETag header")
	}
	if w.Header().Get("Last-Modified") == "" {
		t.Error("expected Last-Modified header")
	}
}

func TestGetFeedLast(t *testing.T) {
	env := newTestEnv(t)
	ids := env.seed(t, 15)

	// Default page size is 10, so the newest page starts at entry 6.
	w := env.get(t, "/api/v1/feed?last=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var page feed.Feed
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if page.ID != ids[5] {
		t.Errorf("expected last page anchored at %s, got %s", ids[5], page.ID)
	}
	// The newest entry is withheld as the unsettled tail.
	if len(page.Items) != 9 {
		t.Errorf("expected 9 items on the last page, got %d", len(page.Items))
	}
	if page.NextID == nil || *page.NextID != ids[13] {
		t.Errorf("expected next id %s, got %v", ids[13], page.NextID)
	}

	// A bare ?last without a value selects the newest page too.
	if w := env.get(t, "/api/v1/feed?last", nil); w.Code != http.StatusOK {
		t.Errorf("expected 200 for valueless last flag, got %d", w.Code)
	}
}

func TestGetFeedModifiedSinceBeyondLog(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 3)

	since := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	w := env.get(t, "/api/v1/feed", map[string]string{"If-Modified-Since": since})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 when nothing is modified after the cutoff, got %d", w.Code)
	}
}

func TestGetFeedPageValidation(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 2)

	if w := env.get(t, "/api/v1/feed/not-a-uuid", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad id, got %d", w.Code)
	}
	if w := env.get(t, "/api/v1/feed/"+uuid.NewString(), nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown anchor, got %d", w.Code)
	}
	if w := env.get(t, "/api/v1/feed?pageSize=0", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for pageSize 0, got %d", w.Code)
	}
	if w := env.get(t, "/api/v1/feed?pageSize=bogus", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unparseable pageSize, got %d", w.Code)
	}
	if w := env.get(t, "/api/v1/feed?pageSize=101", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for pageSize over max, got %d", w.Code)
	}
}

func TestGetFeedConditional(t *testing.T) {
	env := newTestEnv(t)
	ids := env.seed(t, 3)

	first := env.get(t, "/api/v1/feed/"+ids[0].String(), nil)
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", first.Code)
	}

	etag := first.Header().Get("ETag")
	since := time.Now().Add(time.Minute).UTC().Format(http.TimeFormat)
	again := env.get(t, "/api/v1/feed/"+ids[0].String(), map[string]string{
		"If-None-Match":     etag,
		"If-Modified-Since": since,
	})
	if again.Code != http.StatusNotModified {
		t.Errorf("expected 304 on replay, got %d", again.Code)
	}
}

func TestGetFeedEntry(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 1)

	var adID uuid.UUID
	for id := range env.feedRepo.items {
		adID = id
	}

	w := env.get(t, "/api/v1/feedentry/"+adID.String(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var entry feed.FeedEntryContent
	if err := json.Unmarshal(w.Body.Bytes(), &entry); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if entry.UUID != adID {
		t.Errorf("expected entry %s, got %s", adID, entry.UUID)
	}
	if entry.AdContent == nil {
		t.Error("expected ad content for active ad")
	}

	if w := env.get(t, "/api/v1/feedentry/"+uuid.NewString(), nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown entry, got %d", w.Code)
	}
	if w := env.get(t, "/api/v1/feedentry/nope", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad id, got %d", w.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	if w := env.get(t, "/internal/isAlive", nil); w.Code != http.StatusOK {
		t.Errorf("expected 200 from isAlive, got %d", w.Code)
	}
	if w := env.get(t, "/internal/isReady", nil); w.Code != http.StatusOK {
		t.Errorf("expected 200 from isReady, got %d", w.Code)
	}

	// An unhealthy vote fails liveness so the instance gets restarted.
	env.monitor.VoteUnhealthy("test", errors.New("broker gone"))
	if w := env.get(t, "/internal/isAlive", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 after unhealthy vote, got %d", w.Code)
	}
}

func TestConsumerAndTokenEndpoints(t *testing.T) {
	env := newTestEnv(t)

	body := `{"identifier":"acme","email":"dev@acme.example","phone":"12345678","contactPerson":"Jane"}`
	req := httptest.NewRequest(http.MethodPost, "/internal/api/newConsumer", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("invalid body: %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/internal/api/newApiToken",
		strings.NewReader(`{"consumerId":"`+created.ID+`"}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var issued struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &issued); err != nil {
		t.Fatalf("invalid body: %v", err)
	}

	// The issued token opens the public feed endpoints.
	env.seed(t, 2)
	req = httptest.NewRequest(http.MethodGet, "/api/v1/feed", nil)
	req.Header.Set("Authorization", "Bearer "+issued.Token)
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected issued token to be accepted, got %d", w.Code)
	}

	// Missing required fields are rejected.
	req = httptest.NewRequest(http.MethodPost, "/internal/api/newConsumer", strings.NewReader(`{"phone":"1"}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing fields, got %d", w.Code)
	}
}

func TestTokenInfo(t *testing.T) {
	env := newTestEnv(t)

	w := env.get(t, "/internal/api/tokenInfo", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var info struct {
		Valid      bool   `json:"valid"`
		Identifier string `json:"identifier"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if !info.Valid {
		t.Error("expected the issued token to verify")
	}
	if info.Identifier != "test-consumer" {
		t.Errorf("expected consumer identifier, got %q", info.Identifier)
	}

	req := httptest.NewRequest(http.MethodGet, "/internal/api/tokenInfo", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if info.Valid {
		t.Error("expected garbage token to be reported invalid")
	}
}

func TestPublicTokenEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.get(t, "/internal/api/publicToken", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if resp.Token == "" {
		t.Error("expected a public token")
	}
}
