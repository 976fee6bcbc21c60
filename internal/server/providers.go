package server

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-chat-backend/internal/api"
	"github.com/sirosfoundation/go-chat-backend/internal/auth"
	"github.com/sirosfoundation/go-chat-backend/pkg/middleware"
)

// ChatProvider serves the chat routes: the WebSocket endpoint, history,
// status and the admin API
type ChatProvider struct {
	handlers    *api.Handlers
	admin       *api.AdminHandlers
	authn       auth.Authenticator
	rateLimiter *middleware.RateLimiter
	logger      *zap.Logger
}

// NewChatProvider creates the chat route provider. rateLimiter may be nil to
// disable handshake rate limiting.
func NewChatProvider(handlers *api.Handlers, admin *api.AdminHandlers, authn auth.Authenticator, rateLimiter *middleware.RateLimiter, logger *zap.Logger) *ChatProvider {
	return &ChatProvider{
		handlers:    handlers,
		admin:       admin,
		authn:       authn,
		rateLimiter: rateLimiter,
		logger:      logger,
	}
}

func (p *ChatProvider) Name() string { return "chat" }

func (p *ChatProvider) RegisterRoutes(router *gin.Engine) {
	router.GET("/", p.handlers.Root)
	router.GET("/health", p.handlers.Status)
	router.GET("/status", p.handlers.Status)

	ws := router.Group("/ws/chat")
	if p.rateLimiter != nil {
		ws.Use(p.rateLimiter.Middleware())
	}
	ws.GET("/:chat_type/:chat_id/:token", p.handlers.WebSocket)

	chat := router.Group("/api/v1/chat")
	chat.Use(middleware.AuthMiddleware(p.authn, p.logger))
	chat.GET("/:chat_type/:chat_id/messages", p.handlers.History)
}

func (p *ChatProvider) RegisterAdminRoutes(router *gin.RouterGroup) {
	if p.admin == nil {
		return
	}
	router.GET("/status", p.admin.AdminStatus)
	router.GET("/rooms", p.admin.ListRooms)
	router.GET("/rooms/:chat_type/:chat_id", p.admin.GetRoom)
	router.POST("/rooms/:chat_type/:chat_id/close", p.admin.CloseRoom)
	router.POST("/tokens/revoke", p.admin.RevokeToken)
}
