package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Luknarz/DailyVerse/internal/calendar"
	"github.com/Luknarz/DailyVerse/internal/content"
	"github.com/Luknarz/DailyVerse/internal/daily"
	"github.com/Luknarz/DailyVerse/internal/entitlement"
	"github.com/Luknarz/DailyVerse/internal/favorites"
	"github.com/Luknarz/DailyVerse/internal/history"
	"github.com/Luknarz/DailyVerse/internal/logging"
	"github.com/Luknarz/DailyVerse/internal/reference"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultRecentDays        = 14
	maxRecentDays            = 366
	defaultHeartbeatInterval = 25 * time.Second
)

var (
	errMissingDailyService  = errors.New("daily service dependency required")
	errMissingFavorites     = errors.New("favorites dependency required")
	errMissingHistory       = errors.New("history dependency required")
	errMissingEntitlements  = errors.New("entitlement dependency required")
	errInvalidDateParameter = errors.New("date must be formatted as YYYY-MM-DD")
)

type Dependencies struct {
	Daily        *daily.Service
	Favorites    *favorites.Set
	History      *history.Service
	Entitlements *entitlement.Manager
	Events       *EventDispatcher
	Calendar     calendar.Calendar
	Clock        func() time.Time
	Heartbeat    time.Duration
	Logger       *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Daily == nil {
		return nil, errMissingDailyService
	}
	if deps.Favorites == nil {
		return nil, errMissingFavorites
	}
	if deps.History == nil {
		return nil, errMissingHistory
	}
	if deps.Entitlements == nil {
		return nil, errMissingEntitlements
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	events := deps.Events
	if events == nil {
		events = NewEventDispatcher()
	}
	heartbeat := deps.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logging.RequestLogger(logger))
	router.Use(corsMiddleware())

	handler := &httpHandler{
		daily:        deps.Daily,
		favorites:    deps.Favorites,
		history:      deps.History,
		entitlements: deps.Entitlements,
		events:       events,
		calendar:     deps.Calendar,
		clock:        clock,
		heartbeat:    heartbeat,
		logger:       logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/today", handler.handleToday)
	router.GET("/today/share", handler.handleShare)
	router.POST("/today/extra", handler.handleExtraVerse)
	router.POST("/today/read", handler.handleMarkRead)
	router.GET("/streak/recent", handler.handleRecentStatuses)
	router.POST("/streak/reset", handler.handleResetStreak)
	router.POST("/sequence/reset", handler.handleResetSequence)
	router.GET("/passage", handler.handlePassage)
	router.GET("/reference", handler.handleReference)
	router.GET("/favorites", handler.handleListFavorites)
	router.POST("/favorites/:id/toggle", handler.handleToggleFavorite)
	router.DELETE("/history", handler.handleClearHistory)
	router.GET("/entitlement", handler.handleGetEntitlement)
	router.PUT("/entitlement", handler.handleSetEntitlement)
	router.GET("/events", handler.handleEvents)

	premium := router.Group("/history")
	premium.Use(handler.requireFeature(entitlement.FeatureReadingHistory))
	premium.GET("", handler.handleListHistory)
	premium.GET("/export", handler.handleExportHistory)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Content-Type", "Last-Event-ID"},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	daily        *daily.Service
	favorites    *favorites.Set
	history      *history.Service
	entitlements *entitlement.Manager
	events       *EventDispatcher
	calendar     calendar.Calendar
	clock        func() time.Time
	heartbeat    time.Duration
	logger       *zap.Logger
}

type shareResponsePayload struct {
	Text       string `json:"text"`
	StreakText string `json:"streak_text"`
}

type favoritesResponsePayload struct {
	IDs       []int           `json:"ids"`
	Verses    []content.Verse `json:"verses"`
	Remaining int             `json:"remaining"`
}

type entitlementPayload struct {
	Premium  bool                         `json:"premium"`
	Features map[entitlement.Feature]bool `json:"features,omitempty"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleToday(c *gin.Context) {
	date, ok := h.requestDate(c)
	if !ok {
		return
	}
	view, err := h.daily.Today(c.Request.Context(), date)
	if err != nil {
		h.respondServiceError(c, "today_failed", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) handleShare(c *gin.Context) {
	date, ok := h.requestDate(c)
	if !ok {
		return
	}
	view, err := h.daily.Today(c.Request.Context(), date)
	if err != nil {
		h.respondServiceError(c, "today_failed", err)
		return
	}
	c.JSON(http.StatusOK, shareResponsePayload{
		Text:       daily.ShareText(view.Verses),
		StreakText: daily.StreakShareText(view.Streak.Current),
	})
}

func (h *httpHandler) handleExtraVerse(c *gin.Context) {
	date, ok := h.requestDate(c)
	if !ok {
		return
	}
	verse, err := h.daily.RequestExtraVerse(c.Request.Context(), date)
	if errors.Is(err, daily.ErrExtraVerseLimit) {
		c.JSON(http.StatusForbidden, gin.H{"error": "extra_verse_limit"})
		return
	}
	if err != nil {
		h.respondServiceError(c, "extra_verse_failed", err)
		return
	}
	h.publish(TopicToday, date)
	c.JSON(http.StatusOK, verse)
}

func (h *httpHandler) handleMarkRead(c *gin.Context) {
	date, ok := h.requestDate(c)
	if !ok {
		return
	}
	snapshot, err := h.daily.MarkRead(c.Request.Context(), date)
	if err != nil {
		h.respondServiceError(c, "mark_read_failed", err)
		return
	}
	h.publish(TopicStreak, date)
	h.publish(TopicHistory, date)
	c.JSON(http.StatusOK, snapshot)
}

func (h *httpHandler) handleRecentStatuses(c *gin.Context) {
	date, ok := h.requestDate(c)
	if !ok {
		return
	}
	days := defaultRecentDays
	if raw := strings.TrimSpace(c.Query("days")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 || parsed > maxRecentDays {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_days"})
			return
		}
		days = parsed
	}
	c.JSON(http.StatusOK, gin.H{"statuses": h.daily.RecentDayStatuses(days, date)})
}

func (h *httpHandler) handleResetStreak(c *gin.Context) {
	if err := h.daily.ResetStreak(c.Request.Context()); err != nil {
		h.respondServiceError(c, "reset_failed", err)
		return
	}
	h.publish(TopicStreak, h.clock())
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleResetSequence(c *gin.Context) {
	if err := h.daily.ResetSequence(c.Request.Context()); err != nil {
		h.respondServiceError(c, "reset_failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handlePassage(c *gin.Context) {
	date, ok := h.requestDate(c)
	if !ok {
		return
	}
	passage, found := h.daily.Passage(date)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "passage_not_found"})
		return
	}
	c.JSON(http.StatusOK, passage)
}

func (h *httpHandler) handleReference(c *gin.Context) {
	parsed, ok := reference.Parse(c.Query("q"))
	if !ok {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "unparseable_reference"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"book":      parsed.Book,
		"chapter":   parsed.Chapter,
		"verses":    parsed.Verses,
		"canonical": parsed.String(),
	})
}

func (h *httpHandler) handleListFavorites(c *gin.Context) {
	remaining, err := h.favorites.Remaining(c.Request.Context())
	if err != nil {
		h.respondServiceError(c, "favorites_failed", err)
		return
	}
	ids := h.favorites.List()
	verses := make([]content.Verse, 0, len(ids))
	for _, id := range ids {
		if verse, ok := h.daily.VerseByID(id); ok {
			verses = append(verses, verse)
		}
	}
	c.JSON(http.StatusOK, favoritesResponsePayload{IDs: ids, Verses: verses, Remaining: remaining})
}

func (h *httpHandler) handleToggleFavorite(c *gin.Context) {
	verseID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_verse_id"})
		return
	}
	if _, ok := h.daily.VerseByID(verseID); !ok && !h.favorites.IsFavorite(verseID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "verse_not_found"})
		return
	}
	favorite, err := h.favorites.Toggle(c.Request.Context(), verseID)
	if errors.Is(err, favorites.ErrLimitReached) {
		c.JSON(http.StatusForbidden, gin.H{"error": "favorite_limit"})
		return
	}
	if err != nil {
		h.respondServiceError(c, "favorite_failed", err)
		return
	}
	h.publish(TopicFavorites, h.clock())
	c.JSON(http.StatusOK, gin.H{"favorite": favorite})
}

func (h *httpHandler) handleListHistory(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"events": h.history.Events()})
}

func (h *httpHandler) handleExportHistory(c *gin.Context) {
	payload, err := h.history.ExportJSON()
	if err != nil {
		h.respondServiceError(c, "export_failed", err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="reading-history.json"`)
	c.Data(http.StatusOK, "application/json", payload)
}

func (h *httpHandler) handleClearHistory(c *gin.Context) {
	if err := h.history.Clear(c.Request.Context()); err != nil {
		h.respondServiceError(c, "clear_failed", err)
		return
	}
	h.publish(TopicHistory, h.clock())
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleGetEntitlement(c *gin.Context) {
	h.respondEntitlement(c)
}

func (h *httpHandler) handleSetEntitlement(c *gin.Context) {
	var request struct {
		Premium *bool `json:"premium"`
	}
	if err := c.ShouldBindJSON(&request); err != nil || request.Premium == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.entitlements.SetPremium(c.Request.Context(), *request.Premium); err != nil {
		h.respondServiceError(c, "entitlement_failed", err)
		return
	}
	h.publish(TopicEntitlement, h.clock())
	h.respondEntitlement(c)
}

func (h *httpHandler) respondEntitlement(c *gin.Context) {
	ctx := c.Request.Context()
	premium, err := h.entitlements.IsPremium(ctx)
	if err != nil {
		h.respondServiceError(c, "entitlement_failed", err)
		return
	}
	features := make(map[entitlement.Feature]bool, len(entitlement.Features))
	for _, feature := range entitlement.Features {
		allowed, err := h.entitlements.CanAccess(ctx, feature)
		if err != nil {
			h.respondServiceError(c, "entitlement_failed", err)
			return
		}
		features[feature] = allowed
	}
	c.JSON(http.StatusOK, entitlementPayload{Premium: premium, Features: features})
}

// handleEvents streams change events as server-sent events until the client
// disconnects.
func (h *httpHandler) handleEvents(c *gin.Context) {
	topic := c.DefaultQuery("topic", TopicAll)
	if _, ok := knownTopics[topic]; !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_topic"})
		return
	}

	ctx := c.Request.Context()
	stream, cleanup := h.events.Subscribe(ctx, topic)
	defer cleanup()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent(eventHeartbeat, gin.H{"topic": topic})
	c.Writer.Flush()

	c.Stream(func(_ io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event, open := <-stream:
			if !open {
				return false
			}
			c.SSEvent(event.Topic, event)
			return true
		case <-ticker.C:
			c.SSEvent(eventHeartbeat, gin.H{"timestamp": h.clock().UTC()})
			return true
		}
	})
}

func (h *httpHandler) requireFeature(feature entitlement.Feature) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, err := h.entitlements.CanAccess(c.Request.Context(), feature)
		if err != nil {
			h.respondServiceError(c, "entitlement_failed", err)
			c.Abort()
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "premium_required"})
			return
		}
		c.Next()
	}
}

// requestDate resolves the optional date query parameter, defaulting to now.
func (h *httpHandler) requestDate(c *gin.Context) (time.Time, bool) {
	raw := strings.TrimSpace(c.Query("date"))
	if raw == "" {
		return h.clock(), true
	}
	date, err := h.calendar.ParseKey(raw)
	if err != nil {
		h.logger.Debug("invalid date parameter", zap.String("date", raw), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_date", "detail": errInvalidDateParameter.Error()})
		return time.Time{}, false
	}
	return date, true
}

func (h *httpHandler) publish(topic string, date time.Time) {
	h.events.Publish(ChangeEvent{
		Topic:     topic,
		Day:       h.calendar.Key(date).String(),
		Timestamp: h.clock().UTC(),
	})
}

type codedError interface {
	Code() string
}

func (h *httpHandler) respondServiceError(c *gin.Context, errorCode string, err error) {
	h.logger.Error("request failed", zap.String("error_code", errorCode), zap.Error(err))
	body := gin.H{"error": errorCode}
	var coded codedError
	if errors.As(err, &coded) {
		body["code"] = coded.Code()
	}
	c.JSON(http.StatusInternalServerError, body)
}
