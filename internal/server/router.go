package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/odil/backend/internal/board"
	"github.com/MarcoPoloResearchLab/odil/backend/internal/markdown"
	"github.com/MarcoPoloResearchLab/odil/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/odil/backend/internal/realtime"
	"github.com/MarcoPoloResearchLab/odil/backend/internal/refine"
	"github.com/MarcoPoloResearchLab/odil/backend/internal/store"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	actorIDContextKey = "odil_actor_id"
	visitorIDHeader   = "X-Visitor-Id"
)

var (
	errMissingStore = errors.New("store service dependency required")
	errMissingHub   = errors.New("realtime hub dependency required")
)

type Dependencies struct {
	Store        *store.Service
	Hub          *realtime.Hub
	RefineClient *refine.Client
	AllowOrigins []string
	Logger       *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Store == nil {
		return nil, errMissingStore
	}
	if deps.Hub == nil {
		return nil, errMissingHub
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := deps.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(metrics.Middleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Content-Type", visitorIDHeader},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		store:    deps.Store,
		hub:      deps.Hub,
		refiner:  deps.RefineClient,
		renderer: markdown.NewRenderer(),
		logger:   logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/metrics", metrics.Handler())

	api := router.Group("/api")
	api.Use(handler.identifyVisitor)
	api.POST("/sessions", handler.handleGetOrCreateSession)
	api.GET("/sessions/:sessionId", handler.handleGetSession)
	api.PUT("/sessions/:sessionId/name", handler.handleUpdateSessionName)
	api.PUT("/sessions/:sessionId/settings", handler.handleUpdateSessionSettings)
	api.DELETE("/sessions/:sessionId", handler.handleDeleteSession)
	api.POST("/sessions/:sessionId/join", handler.handleJoinSession)
	api.GET("/sessions/:sessionId/role", handler.handleGetRole)
	api.GET("/sessions/:sessionId/participants", handler.handleListParticipants)
	api.GET("/sessions/:sessionId/cards", handler.handleListCards)
	api.POST("/sessions/:sessionId/cards", handler.handleCreateCard)
	api.POST("/sessions/:sessionId/cards/cleanup", handler.handleDeleteEmptyCards)
	api.GET("/sessions/:sessionId/export", handler.handleExportSession)
	api.PATCH("/cards/:cardId", handler.handleUpdateCard)
	api.DELETE("/cards/:cardId", handler.handleDeleteCard)
	api.POST("/cards/:cardId/vote", handler.handleVoteCard)
	api.POST("/cards/:cardId/reactions", handler.handleReactCard)
	api.GET("/users/me", handler.handleGetUser)
	api.PUT("/users/me/username", handler.handleUpdateUsername)
	api.POST("/refine", handler.handleRefine)

	ws := router.Group("/realtime")
	ws.Use(handler.identifyVisitor)
	ws.GET("/cards/:sessionId", handler.handleCardsChannel)
	ws.GET("/cursors/:sessionId", handler.handleCursorsChannel)

	return router, nil
}

type httpHandler struct {
	store    *store.Service
	hub      *realtime.Hub
	refiner  *refine.Client
	renderer *markdown.Renderer
	logger   *zap.Logger
}

// identifyVisitor requires the browser-fingerprint identifier on every API
// call. There is no account system; the fingerprint is the actor.
func (h *httpHandler) identifyVisitor(c *gin.Context) {
	actorID := strings.TrimSpace(c.GetHeader(visitorIDHeader))
	if actorID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_visitor_id"})
		return
	}
	c.Set(actorIDContextKey, actorID)
	c.Next()
}

func (h *httpHandler) actorID(c *gin.Context) string {
	return c.GetString(actorIDContextKey)
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type sessionRequestPayload struct {
	ID string `json:"id"`
}

func (h *httpHandler) handleGetOrCreateSession(c *gin.Context) {
	// An absent or empty body asks for a brand new session.
	var request sessionRequestPayload
	if c.Request.Body != nil && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
	}

	session, err := h.store.GetOrCreateSession(c.Request.Context(), strings.TrimSpace(request.ID))
	if err != nil {
		h.respondError(c, "session_create_failed", err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *httpHandler) handleGetSession(c *gin.Context) {
	session, err := h.store.GetOrCreateSession(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		h.respondError(c, "session_lookup_failed", err)
		return
	}
	c.JSON(http.StatusOK, session)
}

type sessionNamePayload struct {
	Name string `json:"name"`
}

func (h *httpHandler) handleUpdateSessionName(c *gin.Context) {
	var request sessionNamePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	session, err := h.store.UpdateSessionName(c.Request.Context(), c.Param("sessionId"), h.actorID(c), request.Name)
	if err != nil {
		h.respondError(c, "session_rename_failed", err)
		return
	}
	c.JSON(http.StatusOK, session)
}

type sessionSettingsPayload struct {
	IsLocked         *bool   `json:"isLocked"`
	MovePermission   *string `json:"movePermission"`
	DeletePermission *string `json:"deletePermission"`
}

func (h *httpHandler) handleUpdateSessionSettings(c *gin.Context) {
	var request sessionSettingsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	patch := board.SettingsPatch{IsLocked: request.IsLocked}
	if request.MovePermission != nil {
		mode, err := parsePermissionMode(*request.MovePermission)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_permission_mode"})
			return
		}
		patch.MovePermission = &mode
	}
	if request.DeletePermission != nil {
		mode, err := parsePermissionMode(*request.DeletePermission)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_permission_mode"})
			return
		}
		patch.DeletePermission = &mode
	}

	session, err := h.store.UpdateSessionSettings(c.Request.Context(), c.Param("sessionId"), h.actorID(c), patch)
	if err != nil {
		h.respondError(c, "session_settings_failed", err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *httpHandler) handleDeleteSession(c *gin.Context) {
	if err := h.store.DeleteSession(c.Request.Context(), c.Param("sessionId"), h.actorID(c)); err != nil {
		h.respondError(c, "session_delete_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (h *httpHandler) handleJoinSession(c *gin.Context) {
	actorID := h.actorID(c)
	if _, err := h.store.GetOrCreateUser(c.Request.Context(), actorID); err != nil {
		h.respondError(c, "user_create_failed", err)
		return
	}
	participant, err := h.store.JoinSession(c.Request.Context(), c.Param("sessionId"), actorID)
	if err != nil {
		h.respondError(c, "session_join_failed", err)
		return
	}
	c.JSON(http.StatusOK, participant)
}

func (h *httpHandler) handleGetRole(c *gin.Context) {
	role, err := h.store.GetUserRoleInSession(c.Request.Context(), c.Param("sessionId"), h.actorID(c))
	if err != nil {
		h.respondError(c, "role_lookup_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"role": role})
}

func (h *httpHandler) handleListParticipants(c *gin.Context) {
	participants, err := h.store.GetSessionParticipants(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		h.respondError(c, "participant_query_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participants": participants})
}

func (h *httpHandler) handleListCards(c *gin.Context) {
	cards, err := h.store.ListSessionCards(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		h.respondError(c, "card_query_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cards": cards})
}

type createCardPayload struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Color   string  `json:"color"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

func (h *httpHandler) handleCreateCard(c *gin.Context) {
	var request createCardPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	card, err := h.store.CreateCard(c.Request.Context(), board.Card{
		ID:          request.ID,
		SessionID:   c.Param("sessionId"),
		Content:     request.Content,
		Color:       request.Color,
		X:           request.X,
		Y:           request.Y,
		CreatedByID: h.actorID(c),
	})
	if err != nil {
		h.respondError(c, "card_create_failed", err)
		return
	}
	h.touchActivity(c, card.SessionID)
	c.JSON(http.StatusCreated, card)
}

type updateCardPayload struct {
	Content *string  `json:"content"`
	Color   *string  `json:"color"`
	X       *float64 `json:"x"`
	Y       *float64 `json:"y"`
}

func (h *httpHandler) handleUpdateCard(c *gin.Context) {
	var request updateCardPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	card, err := h.store.UpdateCard(c.Request.Context(), c.Param("cardId"), board.CardPatch{
		Content: request.Content,
		Color:   request.Color,
		X:       request.X,
		Y:       request.Y,
	}, h.actorID(c))
	if err != nil {
		h.respondError(c, "card_update_failed", err)
		return
	}
	h.touchActivity(c, card.SessionID)
	c.JSON(http.StatusOK, card)
}

func (h *httpHandler) handleDeleteCard(c *gin.Context) {
	if err := h.store.DeleteCard(c.Request.Context(), c.Param("cardId"), h.actorID(c)); err != nil {
		h.respondError(c, "card_delete_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (h *httpHandler) handleVoteCard(c *gin.Context) {
	card, action, err := h.store.VoteCard(c.Request.Context(), c.Param("cardId"), h.actorID(c))
	if err != nil {
		h.respondError(c, "vote_failed", err)
		return
	}
	h.touchActivity(c, card.SessionID)
	c.JSON(http.StatusOK, gin.H{"card": card, "action": action})
}

type reactionPayload struct {
	Emoji string `json:"emoji"`
}

func (h *httpHandler) handleReactCard(c *gin.Context) {
	var request reactionPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	card, err := h.store.ReactCard(c.Request.Context(), c.Param("cardId"), request.Emoji, h.actorID(c))
	if err != nil {
		h.respondError(c, "reaction_failed", err)
		return
	}
	h.touchActivity(c, card.SessionID)
	c.JSON(http.StatusOK, card)
}

func (h *httpHandler) handleDeleteEmptyCards(c *gin.Context) {
	removed, err := h.store.DeleteEmptyCards(c.Request.Context(), c.Param("sessionId"), h.actorID(c))
	if err != nil {
		h.respondError(c, "cleanup_failed", err)
		return
	}
	if removed == nil {
		removed = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (h *httpHandler) handleGetUser(c *gin.Context) {
	user, err := h.store.GetOrCreateUser(c.Request.Context(), h.actorID(c))
	if err != nil {
		h.respondError(c, "user_lookup_failed", err)
		return
	}
	c.JSON(http.StatusOK, user)
}

type usernamePayload struct {
	Username string `json:"username"`
}

func (h *httpHandler) handleUpdateUsername(c *gin.Context) {
	var request usernamePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	user, err := h.store.UpdateUsername(c.Request.Context(), h.actorID(c), request.Username)
	if err != nil {
		h.respondError(c, "username_update_failed", err)
		return
	}
	c.JSON(http.StatusOK, user)
}

type refinePayload struct {
	Text string `json:"text"`
}

func (h *httpHandler) handleRefine(c *gin.Context) {
	var request refinePayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no_text_provided"})
		return
	}
	if h.refiner == nil || !h.refiner.Configured() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "refine_not_configured"})
		return
	}
	refined, err := h.refiner.Refine(c.Request.Context(), request.Text)
	if err != nil {
		h.logger.Error("refinement failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refine_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"refined": refined})
}

func (h *httpHandler) handleCardsChannel(c *gin.Context) {
	h.serveChannel(c, "cards")
}

func (h *httpHandler) handleCursorsChannel(c *gin.Context) {
	h.serveChannel(c, "cursors")
}

func (h *httpHandler) serveChannel(c *gin.Context, kind string) {
	sessionID := c.Param("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_session_id"})
		return
	}
	channel := kind + ":" + sessionID
	if err := realtime.ServeChannel(h.hub, h.logger, c.Writer, c.Request, channel, h.actorID(c)); err != nil {
		h.logger.Warn("websocket session ended with error",
			zap.String("channel", channel),
			zap.Error(err))
	}
}

// touchActivity is best-effort: a failed timestamp bump never fails the
// request that caused it.
func (h *httpHandler) touchActivity(c *gin.Context, sessionID string) {
	if err := h.store.TouchSessionActivity(c.Request.Context(), sessionID, h.actorID(c)); err != nil {
		h.logger.Warn("activity touch failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (h *httpHandler) respondError(c *gin.Context, fallback string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, store.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, board.ErrInvalidSessionName),
		errors.Is(err, board.ErrInvalidUsername),
		errors.Is(err, board.ErrInvalidReaction):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input"})
	default:
		h.logger.Error("request failed", zap.String("operation", fallback), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

func parsePermissionMode(value string) (board.PermissionMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(board.PermissionCreator):
		return board.PermissionCreator, nil
	case string(board.PermissionEveryone):
		return board.PermissionEveryone, nil
	default:
		return "", errors.New("unknown permission mode")
	}
}
