package backend

import (
	"context"
	"fmt"

	"github.com/sirosfoundation/go-chat-backend/internal/storage"
	"github.com/sirosfoundation/go-chat-backend/internal/storage/memory"
	"github.com/sirosfoundation/go-chat-backend/internal/storage/mongodb"
	"github.com/sirosfoundation/go-chat-backend/internal/storage/redis"
	"github.com/sirosfoundation/go-chat-backend/internal/storage/sqlite"
	"github.com/sirosfoundation/go-chat-backend/pkg/config"
)

// Type defines the type of storage backend
type Type string

const (
	// TypeMemory keeps history in process (for testing/development)
	TypeMemory Type = "memory"
	// TypeSQLite stores history in a local SQLite file
	TypeSQLite Type = "sqlite"
	// TypeMongoDB uses MongoDB storage (for production)
	TypeMongoDB Type = "mongodb"
	// TypeRedis keeps a bounded history per room in Redis
	TypeRedis Type = "redis"
)

// New creates a storage backend based on the configuration. The returned
// store has been pinged.
func New(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	storageType := Type(cfg.Storage.Type)

	var (
		store storage.Store
		err   error
	)

	switch storageType {
	case TypeMemory, "":
		// Default to memory if not specified
		store = memory.NewStore()

	case TypeSQLite:
		store, err = sqlite.NewStore(ctx, &cfg.Storage.SQLite)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
		}

	case TypeMongoDB:
		store, err = mongodb.NewStore(ctx, &cfg.Storage.MongoDB)
		if err != nil {
			return nil, fmt.Errorf("failed to create MongoDB backend: %w", err)
		}

	case TypeRedis:
		store, err = redis.NewStore(ctx, &cfg.Storage.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to create Redis backend: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}

	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("storage backend %s not reachable: %w", storageType, err)
	}
	return store, nil
}
