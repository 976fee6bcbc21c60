package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-chat-backend/internal/domain"
	"github.com/sirosfoundation/go-chat-backend/internal/gateway"
	"github.com/sirosfoundation/go-chat-backend/internal/service"
	"github.com/sirosfoundation/go-chat-backend/internal/storage"
)

// WelcomeMessage is returned by the root endpoint
const WelcomeMessage = "Welcome to this fantastic ChatP app! No way!!"

// Handlers aggregates the public HTTP handlers
type Handlers struct {
	gateway *gateway.Gateway
	history *service.HistoryService
	logger  *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(gw *gateway.Gateway, history *service.HistoryService, logger *zap.Logger) *Handlers {
	return &Handlers{
		gateway: gw,
		history: history,
		logger:  logger.Named("handlers"),
	}
}

// Root handles GET /
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": WelcomeMessage})
}

// Status handles the /status and /health endpoints
func (h *Handlers) Status(c *gin.Context) {
	stats := h.gateway.Stats()
	status := "ok"
	code := http.StatusOK
	if stats.Draining {
		status = "draining"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, StatusResponse{
		Status:       status,
		Service:      ServiceName,
		APIVersion:   CurrentAPIVersion,
		Capabilities: APICapabilities[CurrentAPIVersion],
		Rooms:        stats.Rooms,
		Connections:  stats.Connections,
		Draining:     stats.Draining,
	})
}

// WebSocket handles GET /ws/chat/:chat_type/:chat_id/:token.
// Authentication and room validation happen before the upgrade so that a
// rejected handshake gets a plain HTTP error.
func (h *Handlers) WebSocket(c *gin.Context) {
	token, err := gateway.ParseTokenSegment(c.Param("token"))
	if err != nil {
		_ = c.Error(err)
		c.Abort()
		return
	}

	conn, err := h.gateway.Admit(c.Request.Context(), c.Param("chat_type"), c.Param("chat_id"), token)
	if err != nil {
		_ = c.Error(err)
		c.Abort()
		return
	}

	h.gateway.Serve(c.Writer, c.Request, conn)
}

// History handles GET /api/v1/chat/:chat_type/:chat_id/messages
func (h *Handlers) History(c *gin.Context) {
	room, err := domain.NewRoomKey(c.Param("chat_type"), c.Param("chat_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	query, err := parseHistoryQuery(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	page, err := h.history.History(c.Request.Context(), room, query)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, page)
}

func parseHistoryQuery(c *gin.Context) (storage.HistoryQuery, error) {
	var q storage.HistoryQuery

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return q, domain.NewProtocolError(domain.CodeInvalidMessage, "limit must be a positive integer", err)
		}
		q.Limit = limit
	}

	if raw := c.Query("before"); raw != "" {
		before, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return q, domain.NewProtocolError(domain.CodeInvalidMessage, "before must be an RFC 3339 timestamp", err)
		}
		q.Before = before
	}

	return q.Normalize(), nil
}
