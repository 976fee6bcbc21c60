package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-chat-backend/internal/api"
	"github.com/sirosfoundation/go-chat-backend/internal/auth"
	"github.com/sirosfoundation/go-chat-backend/internal/backend"
	"github.com/sirosfoundation/go-chat-backend/internal/gateway"
	"github.com/sirosfoundation/go-chat-backend/internal/server"
	"github.com/sirosfoundation/go-chat-backend/internal/service"
	"github.com/sirosfoundation/go-chat-backend/pkg/config"
	"github.com/sirosfoundation/go-chat-backend/pkg/logging"
	"github.com/sirosfoundation/go-chat-backend/pkg/middleware"
)

var (
	configFile = flag.String("config", "configs/config.yaml", "Path to configuration file")
	version    = "dev"
	buildTime  = "unknown"
)

const shutdownTimeout = 30 * time.Second

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting Chat Backend Server",
		zap.String("version", version),
		zap.String("build_time", buildTime),
	)

	// Storage must be reachable before the listener starts; backend.New pings it
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := backend.New(ctx, cfg)
	cancel()
	if err != nil {
		logger.Fatal("Failed to initialize storage backend", zap.Error(err))
	}
	logger.Info("Storage backend initialized", zap.String("type", cfg.Storage.Type))

	// Authentication
	revocation := auth.NewRevocationList(cfg.TokenRevocation, logger)
	revocation.Start()
	var (
		authn   *auth.JWTAuthenticator
		revoker api.TokenRevoker
	)
	if cfg.TokenRevocation.Enabled {
		authn = auth.NewJWTAuthenticator(cfg.JWT, revocation)
		revoker = revocation
	} else {
		authn = auth.NewJWTAuthenticator(cfg.JWT, nil)
	}

	// Gateway
	registry := gateway.NewRegistry(store.Messages(), gateway.RoomOptionsFromConfig(cfg.Gateway), logger)
	gw := gateway.New(cfg.Gateway, authn, registry, logger)

	// HTTP surface
	var rateLimiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		rateLimiter = middleware.NewRateLimiter(cfg.RateLimit, logger)
		rateLimiter.Start(time.Minute)
	}

	handlers := api.NewHandlers(gw, service.NewHistoryService(store.Messages(), logger), logger)
	adminHandlers := api.NewAdminHandlers(gw, store, authn, revoker, logger)

	mgr := server.NewManager(server.ConfigFrom(cfg), logger)
	mgr.AddProvider(server.NewChatProvider(handlers, adminHandlers, authn, rateLimiter, logger))
	if err := mgr.Start(context.Background()); err != nil {
		_ = store.Close()
		logger.Fatal("Failed to start servers", zap.Error(err))
	}

	// Shutdown order: stop HTTP intake, drain the gateway, then release the store
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"chat-backend": func(ctx context.Context) error {
				logger.Info("Shutting down server...")

				if err := mgr.Shutdown(ctx); err != nil {
					logger.Error("HTTP servers forced to shutdown", zap.Error(err))
				}
				if err := gw.Shutdown(ctx); err != nil {
					logger.Error("Gateway forced to shutdown", zap.Error(err))
				}
				if rateLimiter != nil {
					rateLimiter.Stop()
				}
				revocation.Stop()

				return store.Close()
			},
		},
	)

	exitCode := <-wait
	logger.Info("Server exited", zap.Int("exit_code", exitCode))
	_ = logger.Sync()
	os.Exit(exitCode)
}
