package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Podnation93/Zenith-PDF-sub001/internal/auth"
	"github.com/Podnation93/Zenith-PDF-sub001/internal/document"
	"github.com/Podnation93/Zenith-PDF-sub001/internal/realtime"
	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	identityContextKey = "zenith_identity"
	documentIDParam    = "documentId"
	wildcardOrigin     = "*"
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingHub              = errors.New("realtime hub dependency required")
	errMissingIdentity         = errors.New("authenticated identity missing from request")
)

// SessionValidator resolves the session identity carried by a request.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// Dependencies describes the collaborators of the HTTP surface.
type Dependencies struct {
	SessionValidator SessionValidator
	Hub              *realtime.Hub
	AllowedOrigins   []string
	Websocket        realtime.WebsocketConfig
	Metrics          http.Handler
	Logger           *zap.Logger
}

// NewHTTPHandler builds the gin router serving the collaboration routes.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Hub == nil {
		return nil, errMissingHub
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(cors.New(corsConfig(deps.AllowedOrigins)))

	handler := &httpHandler{
		sessions:  deps.SessionValidator,
		hub:       deps.Hub,
		websocket: deps.Websocket,
		origins:   normalizeOrigins(deps.AllowedOrigins),
		logger:    logger,
	}
	handler.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     handler.checkOrigin,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/metrics", gin.WrapH(metrics))

	documents := router.Group("/documents/:" + documentIDParam)
	documents.Use(handler.authorizeRequest)
	documents.GET("/ws", handler.handleRealtime)
	documents.GET("/presence", handler.handlePresence)

	return router, nil
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	normalized := normalizeOrigins(origins)
	if len(normalized) == 0 || containsWildcard(normalized) {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = normalized
	cfg.AllowCredentials = true
	return cfg
}

func normalizeOrigins(origins []string) []string {
	normalized := make([]string, 0, len(origins))
	for _, origin := range origins {
		if trimmed := strings.TrimRight(strings.TrimSpace(origin), "/"); trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}

func containsWildcard(origins []string) bool {
	for _, origin := range origins {
		if origin == wildcardOrigin {
			return true
		}
	}
	return false
}

type httpHandler struct {
	sessions  SessionValidator
	hub       *realtime.Hub
	websocket realtime.WebsocketConfig
	origins   []string
	upgrader  websocket.Upgrader
	logger    *zap.Logger
}

type presenceResponsePayload struct {
	DocumentID string                   `json:"documentId"`
	Entries    []realtime.PresenceEntry `json:"entries"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": h.hub.Connections(), "rooms": h.hub.Rooms()})
}

// authorizeRequest resolves the session identity and the document id.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	userID, err := document.NewUserID(claims.UserID)
	if err != nil {
		h.logger.Warn("session subject rejected", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if _, err := document.NewDocumentID(c.Param(documentIDParam)); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_document_id"})
		return
	}
	c.Set(identityContextKey, realtime.Identity{UserID: userID, DisplayName: claims.DisplayName()})
	c.Next()
}

func (h *httpHandler) handleRealtime(c *gin.Context) {
	identity, documentID, ok := h.requestScope(c)
	if !ok {
		return
	}
	if err := h.hub.Admit(c.Request.Context(), identity, documentID); err != nil {
		h.abortAccess(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			zap.String("document_id", documentID.String()),
			zap.String("user_id", identity.UserID.String()),
			zap.Error(err))
		return
	}
	transport := realtime.NewWebsocketTransport(conn, h.websocket)
	if err := h.hub.Serve(c.Request.Context(), transport, identity, documentID); err != nil {
		h.logger.Info("realtime session refused",
			zap.String("document_id", documentID.String()),
			zap.String("user_id", identity.UserID.String()),
			zap.Error(err))
	}
}

func (h *httpHandler) handlePresence(c *gin.Context) {
	identity, documentID, ok := h.requestScope(c)
	if !ok {
		return
	}
	if err := h.hub.Admit(c.Request.Context(), identity, documentID); err != nil {
		h.abortAccess(c, err)
		return
	}
	c.JSON(http.StatusOK, presenceResponsePayload{
		DocumentID: documentID.String(),
		Entries:    h.hub.Presence(documentID),
	})
}

func (h *httpHandler) requestScope(c *gin.Context) (realtime.Identity, document.DocumentID, bool) {
	value, exists := c.Get(identityContextKey)
	identity, ok := value.(realtime.Identity)
	if !exists || !ok {
		h.logger.Error("request reached handler without identity", zap.Error(errMissingIdentity))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return realtime.Identity{}, "", false
	}
	documentID, err := document.NewDocumentID(c.Param(documentIDParam))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_document_id"})
		return realtime.Identity{}, "", false
	}
	return identity, documentID, true
}

// abortAccess maps an admission failure onto an HTTP status.
func (h *httpHandler) abortAccess(c *gin.Context, err error) {
	var classified *realtime.Error
	if errors.As(err, &classified) && classified.Reason == realtime.ReasonPermissionCheckFailed {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": classified.Reason})
		return
	}
	reason := realtime.ReasonInsufficientPermission
	if classified != nil {
		reason = classified.Reason
	}
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": reason})
}

// checkOrigin accepts same-host requests, requests without an Origin header
// and any configured origin.
func (h *httpHandler) checkOrigin(r *http.Request) bool {
	origin := strings.TrimRight(r.Header.Get("Origin"), "/")
	if origin == "" || len(h.origins) == 0 || containsWildcard(h.origins) {
		return true
	}
	for _, allowed := range h.origins {
		if strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return strings.EqualFold(origin, "http://"+r.Host) || strings.EqualFold(origin, "https://"+r.Host)
}
