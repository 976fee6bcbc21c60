package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-chat-backend/pkg/config"
	"github.com/sirosfoundation/go-chat-backend/pkg/middleware"
)

// RouteProvider registers routes on the public router
type RouteProvider interface {
	// RegisterRoutes adds this provider's routes to the router.
	RegisterRoutes(router *gin.Engine)

	// Name returns the provider name for logging
	Name() string
}

// AdminRouteProvider registers routes on the admin router
type AdminRouteProvider interface {
	RegisterAdminRoutes(router *gin.RouterGroup)
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Address string

	// AdminAddress is empty when the admin API is disabled
	AdminAddress string
	AdminToken   string

	CORS         config.CORSConfig
	LoggingLevel string
}

// ConfigFrom derives the server configuration from the application config
func ConfigFrom(cfg *config.Config) *ServerConfig {
	sc := &ServerConfig{
		Address:      cfg.Server.Address(),
		AdminToken:   cfg.Server.AdminToken,
		CORS:         cfg.CORS,
		LoggingLevel: cfg.Logging.Level,
	}
	if cfg.Server.AdminPort > 0 {
		sc.AdminAddress = cfg.Server.AdminAddress()
	}
	return sc
}

// Manager manages the public and admin HTTP servers
type Manager struct {
	cfg    *ServerConfig
	logger *zap.Logger

	providers []RouteProvider

	httpServer  *http.Server
	adminServer *http.Server
	httpAddr    net.Addr
	adminAddr   net.Addr

	httpRouter  *gin.Engine
	adminRouter *gin.Engine
	adminToken  string
}

// NewManager creates a new server manager
func NewManager(cfg *ServerConfig, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		logger:    logger.Named("server"),
		providers: make([]RouteProvider, 0),
	}
}

// AddProvider adds a RouteProvider to the manager.
// Call this before Start() to register all routes.
func (m *Manager) AddProvider(p RouteProvider) {
	m.providers = append(m.providers, p)
	m.logger.Debug("Added route provider", zap.String("name", p.Name()))
}

// Build creates the routers. Start calls it; tests may call it directly to
// serve the routers without listening.
func (m *Manager) Build() error {
	m.httpRouter = m.buildRouter()
	for _, p := range m.providers {
		m.logger.Info("Registering routes", zap.String("provider", p.Name()))
		p.RegisterRoutes(m.httpRouter)
	}

	if m.cfg.AdminAddress == "" {
		return nil
	}

	token := m.cfg.AdminToken
	if token == "" {
		var err error
		token, err = middleware.GenerateAdminToken()
		if err != nil {
			return fmt.Errorf("failed to generate admin token: %w", err)
		}
		m.logger.Info("Generated admin API token (set CHAT_SERVER_ADMIN_TOKEN to use a fixed token)",
			zap.String("token", token))
	}
	m.adminToken = token

	m.adminRouter = gin.New()
	m.adminRouter.Use(middleware.ErrorHandler(m.logger))
	m.adminRouter.Use(middleware.ServerHeaders())
	m.adminRouter.Use(middleware.AdminAuthMiddleware(token, m.logger))
	group := m.adminRouter.Group("/admin")
	for _, p := range m.providers {
		if ap, ok := p.(AdminRouteProvider); ok {
			ap.RegisterAdminRoutes(group)
		}
	}
	return nil
}

// Start builds routers and starts the http servers. Listen errors are
// returned before any server goroutine starts.
func (m *Manager) Start(ctx context.Context) error {
	if m.cfg.LoggingLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := m.Build(); err != nil {
		return err
	}

	httpListener, err := net.Listen("tcp", m.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.cfg.Address, err)
	}
	m.httpAddr = httpListener.Addr()
	m.httpServer = &http.Server{
		Handler:           m.httpRouter,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var adminListener net.Listener
	if m.adminRouter != nil {
		adminListener, err = net.Listen("tcp", m.cfg.AdminAddress)
		if err != nil {
			_ = httpListener.Close()
			return fmt.Errorf("failed to start admin server: %w", err)
		}
		m.adminAddr = adminListener.Addr()
		m.adminServer = &http.Server{
			Handler:      m.adminRouter,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
	}

	go m.serve("HTTP", m.httpServer, httpListener)
	if m.adminServer != nil {
		go m.serve("Admin", m.adminServer, adminListener)
	}

	return nil
}

func (m *Manager) serve(name string, srv *http.Server, ln net.Listener) {
	m.logger.Info(name+" server listening", zap.String("address", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		m.logger.Error(name+" server error", zap.Error(err))
	}
}

// Shutdown stops accepting new requests on all servers. Hijacked WebSocket
// connections are not affected; the gateway drains them.
func (m *Manager) Shutdown(ctx context.Context) error {
	var errs []error

	if m.httpServer != nil {
		if err := m.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
		}
	}

	if m.adminServer != nil {
		if err := m.adminServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("admin server shutdown: %w", err))
		}
	}

	return errors.Join(errs...)
}

// buildRouter creates a new router with common middleware
func (m *Manager) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(middleware.ErrorHandler(m.logger))
	router.Use(middleware.ServerHeaders())
	router.Use(middleware.Logger(m.logger))
	// cors.New panics on an empty origin list
	if len(m.cfg.CORS.AllowedOrigins) == 0 {
		return router
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     m.cfg.CORS.AllowedOrigins,
		AllowMethods:     m.cfg.CORS.AllowedMethods,
		AllowHeaders:     m.cfg.CORS.AllowedHeaders,
		ExposeHeaders:    m.cfg.CORS.ExposedHeaders,
		AllowCredentials: m.cfg.CORS.AllowCredentials,
		MaxAge:           time.Duration(m.cfg.CORS.MaxAge) * time.Second,
	}))
	return router
}

// HTTPRouter returns the public router
func (m *Manager) HTTPRouter() *gin.Engine {
	return m.httpRouter
}

// AdminRouter returns the admin router, nil when the admin API is disabled
func (m *Manager) AdminRouter() *gin.Engine {
	return m.adminRouter
}

// AdminToken returns the bearer token the admin API accepts
func (m *Manager) AdminToken() string {
	return m.adminToken
}

// Addr returns the public listener address once started
func (m *Manager) Addr() net.Addr {
	return m.httpAddr
}

// AdminAddr returns the admin listener address once started
func (m *Manager) AdminAddr() net.Addr {
	return m.adminAddr
}
