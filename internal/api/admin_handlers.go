package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-chat-backend/internal/auth"
	"github.com/sirosfoundation/go-chat-backend/internal/domain"
	"github.com/sirosfoundation/go-chat-backend/internal/gateway"
	"github.com/sirosfoundation/go-chat-backend/internal/storage"
	"github.com/sirosfoundation/go-chat-backend/pkg/middleware"
)

// TokenRevoker records revoked token ids
type TokenRevoker interface {
	Revoke(ctx context.Context, jti string, expiry time.Time) error
	Count() int
}

// AdminHandlers contains handlers for internal admin API endpoints
type AdminHandlers struct {
	gateway *gateway.Gateway
	store   storage.Store
	authn   auth.Authenticator
	revoker TokenRevoker
	logger  *zap.Logger
}

// NewAdminHandlers creates a new AdminHandlers instance. revoker may be nil
// when token revocation is disabled.
func NewAdminHandlers(gw *gateway.Gateway, store storage.Store, authn auth.Authenticator, revoker TokenRevoker, logger *zap.Logger) *AdminHandlers {
	return &AdminHandlers{
		gateway: gw,
		store:   store,
		authn:   authn,
		revoker: revoker,
		logger:  logger.Named("admin"),
	}
}

// AdminStatusResponse is returned by GET /admin/status
type AdminStatusResponse struct {
	Status        string        `json:"status"`
	Service       string        `json:"service"`
	Stats         gateway.Stats `json:"stats"`
	Storage       string        `json:"storage"`
	RevokedTokens int           `json:"revoked_tokens"`
}

// RoomListResponse lists live rooms
type RoomListResponse struct {
	Rooms []gateway.RoomInfo `json:"rooms"`
	Count int                `json:"count"`
}

// CloseRoomResponse reports how many connections a room close disconnected
type CloseRoomResponse struct {
	Room              domain.RoomKey `json:"room"`
	ClosedConnections int            `json:"closed_connections"`
}

// AdminStatus returns gateway and storage health
// GET /admin/status
func (h *AdminHandlers) AdminStatus(c *gin.Context) {
	resp := AdminStatusResponse{
		Status:  "ok",
		Service: ServiceName + "-admin",
		Stats:   h.gateway.Stats(),
		Storage: "ok",
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("Storage ping failed", zap.Error(err))
		resp.Status = "degraded"
		resp.Storage = "unreachable"
	}

	if h.revoker != nil {
		resp.RevokedTokens = h.revoker.Count()
	}

	c.JSON(http.StatusOK, resp)
}

// ListRooms returns every live room with its members
// GET /admin/rooms
func (h *AdminHandlers) ListRooms(c *gin.Context) {
	rooms := h.gateway.Rooms()
	c.JSON(http.StatusOK, RoomListResponse{Rooms: rooms, Count: len(rooms)})
}

// GetRoom returns one live room
// GET /admin/rooms/:chat_type/:chat_id
func (h *AdminHandlers) GetRoom(c *gin.Context) {
	key, err := domain.NewRoomKey(c.Param("chat_type"), c.Param("chat_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	info, ok := h.gateway.Room(key)
	if !ok {
		c.JSON(http.StatusNotFound, middleware.ErrorBody{Message: "Room not found", Type: "NotFound"})
		return
	}

	c.JSON(http.StatusOK, info)
}

// CloseRoom disconnects every member of a live room
// POST /admin/rooms/:chat_type/:chat_id/close
func (h *AdminHandlers) CloseRoom(c *gin.Context) {
	key, err := domain.NewRoomKey(c.Param("chat_type"), c.Param("chat_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	closed, ok := h.gateway.CloseRoom(key)
	if !ok {
		c.JSON(http.StatusNotFound, middleware.ErrorBody{Message: "Room not found", Type: "NotFound"})
		return
	}

	c.JSON(http.StatusOK, CloseRoomResponse{Room: key, ClosedConnections: closed})
}

// RevokeTokenRequest identifies the token to revoke, either by its id and
// expiry or by the token itself
type RevokeTokenRequest struct {
	JTI       string    `json:"jti,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
	Token     string    `json:"token,omitempty"`
}

// RevokeTokenResponse confirms a revocation
type RevokeTokenResponse struct {
	Revoked   string    `json:"revoked"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RevokeToken adds a token id to the revocation list
// POST /admin/tokens/revoke
func (h *AdminHandlers) RevokeToken(c *gin.Context) {
	if h.revoker == nil {
		c.JSON(http.StatusNotImplemented, middleware.ErrorBody{Message: "Token revocation is disabled", Type: "NotImplemented"})
		return
	}

	var req RevokeTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(domain.NewProtocolError(domain.CodeInvalidMessage, "Invalid request body", err))
		return
	}

	jti, expiry := req.JTI, req.ExpiresAt
	if req.Token != "" {
		identity, err := h.authn.Authenticate(c.Request.Context(), req.Token)
		if err != nil {
			_ = c.Error(domain.NewProtocolError(domain.CodeInvalidMessage, "Token cannot be revoked: "+domain.PublicMessage(err), err))
			return
		}
		jti, expiry = identity.TokenID, identity.ExpiresAt
	}

	if jti == "" {
		_ = c.Error(domain.NewProtocolError(domain.CodeInvalidMessage, "jti or token is required", nil))
		return
	}
	if expiry.IsZero() {
		_ = c.Error(domain.NewProtocolError(domain.CodeInvalidMessage, "expires_at is required with jti", nil))
		return
	}

	if err := h.revoker.Revoke(c.Request.Context(), jti, expiry); err != nil {
		h.logger.Error("Failed to revoke token", zap.String("jti", jti), zap.Error(err))
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, RevokeTokenResponse{Revoked: jti, ExpiresAt: expiry})
}
