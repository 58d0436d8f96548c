package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jobfeed/jobfeed/app/auth"
	"github.com/jobfeed/jobfeed/app/database"
	"github.com/jobfeed/jobfeed/app/feed"
	"github.com/jobfeed/jobfeed/app/health"
)

type Handler struct {
	feedService     *feed.Service
	tokens          *auth.TokenService
	security        *auth.Security
	monitor         *health.Monitor
	defaultPageSize int
	maxPageSize     int
}

func NewHandler(feedService *feed.Service, tokens *auth.TokenService, security *auth.Security,
	monitor *health.Monitor, defaultPageSize, maxPageSize int) *Handler {
	return &Handler{
		feedService:     feedService,
		tokens:          tokens,
		security:        security,
		monitor:         monitor,
		defaultPageSize: defaultPageSize,
		maxPageSize:     maxPageSize,
	}
}

// GetFeed resolves an anchor without the client knowing a page id: the oldest
// page by default, the newest with ?last, or the first page touched
// since If-Modified-Since when that header is the only hint given.
func (h *Handler) GetFeed(c *gin.Context) {
	pageSize, ok := h.pageSize(c)
	if !ok {
		return
	}

	var anchor *database.FeedPageItem
	var err error

	modifiedSince := parseHTTPDate(c.GetHeader("If-Modified-Since"))
	switch {
	case c.Request.URL.Query().Has("last"):
		anchor, err = h.feedService.LastPage(c.Request.Context(), pageSize)
	case modifiedSince != nil:
		// No entry modified after the cutoff means no anchor, which maps
		// to 404 like any other missing anchor.
		anchor, err = h.feedService.FirstPageModifiedAfter(c.Request.Context(), *modifiedSince)
	default:
		anchor, err = h.feedService.FirstPage(c.Request.Context())
	}
	if err != nil {
		slog.Error("Database error", "operation", "resolve_anchor", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	if anchor == nil {
		c.Status(http.StatusNotFound)
		return
	}

	h.servePage(c, anchor.ID, pageSize)
}

func (h *Handler) GetFeedPage(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page id"})
		return
	}
	pageSize, ok := h.pageSize(c)
	if !ok {
		return
	}
	h.servePage(c, id, pageSize)
}

// pageSize parses the pageSize query parameter, writing a 400 and returning
// false when it is unusable.
func (h *Handler) pageSize(c *gin.Context) (int, bool) {
	pageSize := h.defaultPageSize
	if raw := c.Query("pageSize"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pageSize"})
			return 0, false
		}
		pageSize = parsed
	}
	if pageSize > h.maxPageSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pageSize exceeds maximum"})
		return 0, false
	}
	return pageSize, true
}

func (h *Handler) servePage(c *gin.Context, anchorID uuid.UUID, pageSize int) {
	page, err := h.feedService.GetPage(c.Request.Context(), anchorID, feed.PageQuery{
		PageSize:        pageSize,
		IfNoneMatch:     c.GetHeader("If-None-Match"),
		IfModifiedSince: parseHTTPDate(c.GetHeader("If-Modified-Since")),
	})
	if err != nil {
		slog.Error("Database error", "operation", "get_page", "page", anchorID, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	if page == nil {
		c.Status(http.StatusNotFound)
		return
	}
	if page.Unchanged {
		c.Status(http.StatusNotModified)
		return
	}

	c.Header("ETag", page.Etag)
	c.Header("Last-Modified", page.LastModified.UTC().Format(http.TimeFormat))
	c.JSON(http.StatusOK, page)
}

func (h *Handler) GetFeedEntry(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid entry id"})
		return
	}

	entry, err := h.feedService.GetEntry(c.Request.Context(), id)
	if err != nil {
		slog.Error("Database error", "operation", "get_entry", "entry", id, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	if entry == nil {
		c.Status(http.StatusNotFound)
		return
	}

	c.Header("Last-Modified", entry.LastModified.UTC().Format(http.TimeFormat))
	c.JSON(http.StatusOK, entry)
}

// IsAlive fails once any component has voted unhealthy, so the orchestrator
// restarts the instance and it can re-establish its broker sessions.
func (h *Handler) IsAlive(c *gin.Context) {
	if !h.monitor.Healthy() {
		c.String(http.StatusServiceUnavailable, "UNHEALTHY")
		return
	}
	c.String(http.StatusOK, "ALIVE")
}

func (h *Handler) IsReady(c *gin.Context) {
	c.String(http.StatusOK, "READY")
}

type newConsumerRequest struct {
	Identifier    string `json:"identifier" binding:"required"`
	Email         string `json:"email" binding:"required"`
	Phone         string `json:"phone"`
	ContactPerson string `json:"contactPerson"`
}

func (h *Handler) NewConsumer(c *gin.Context) {
	var req newConsumerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	consumer, err := h.tokens.CreateConsumer(c.Request.Context(), database.Consumer{
		Identifier:    req.Identifier,
		Email:         req.Email,
		Phone:         req.Phone,
		ContactPerson: req.ContactPerson,
	})
	if err != nil {
		slog.Error("Database error", "operation", "new_consumer", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":            consumer.ID,
		"identifier":    consumer.Identifier,
		"email":         consumer.Email,
		"phone":         consumer.Phone,
		"contactPerson": consumer.ContactPerson,
	})
}

type newTokenRequest struct {
	ConsumerID string `form:"consumerId" json:"consumerId" binding:"required"`
	Expires    string `form:"expires" json:"expires"`
}

func (h *Handler) NewApiToken(c *gin.Context) {
	var req newTokenRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	consumerID, err := uuid.Parse(req.ConsumerID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid consumer id"})
		return
	}

	var expires *time.Time
	if req.Expires != "" {
		parsed, err := time.Parse(time.RFC3339, req.Expires)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid expires, want RFC 3339"})
			return
		}
		expires = &parsed
	}

	token, err := h.tokens.IssueToken(c.Request.Context(), consumerID, expires)
	if err != nil {
		slog.Error("Token issue failed", "consumer", consumerID, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	// Make the new token effective immediately, not at the next refresh.
	refreshDenylist(c.Request.Context(), h.tokens)

	c.JSON(http.StatusOK, gin.H{"consumerId": consumerID, "token": token})
}

// TokenInfo inspects the bearer token on the request: whether it verifies,
// which consumer it belongs to, and when it expires.
func (h *Handler) TokenInfo(c *gin.Context) {
	raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok || raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing bearer token"})
		return
	}

	consumerID, err := h.security.Verify(raw)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": err.Error()})
		return
	}

	info := gin.H{"valid": true, "consumerId": consumerID}
	if consumer, err := h.tokens.GetConsumer(c.Request.Context(), consumerID); err == nil && consumer != nil {
		info["identifier"] = consumer.Identifier
		info["email"] = consumer.Email
	}
	if exp, err := h.security.ExpiresAt(raw); err == nil && exp != nil {
		info["expires"] = exp.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, info)
}

func (h *Handler) PublicToken(c *gin.Context) {
	token, err := h.tokens.EnsurePublicToken(c.Request.Context())
	if err != nil {
		slog.Error("Public token lookup failed", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func refreshDenylist(ctx context.Context, tokens *auth.TokenService) {
	if err := tokens.RefreshDenylist(ctx); err != nil {
		slog.Warn("Denylist refresh failed", "error", err)
	}
}

// parseHTTPDate accepts the RFC 1123 wire format plus RFC 3339, which some
// consumers send despite the standard.
func parseHTTPDate(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	if t, err := http.ParseTime(raw); err == nil {
		return &t
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t
	}
	return nil
}
