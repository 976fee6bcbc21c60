package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sirosfoundation/go-chat-backend/internal/domain"
	"github.com/sirosfoundation/go-chat-backend/internal/storage"
)

// HistoryPage is one page of a room's stored messages, oldest first
type HistoryPage struct {
	Room     domain.RoomKey    `json:"room"`
	Messages []*domain.Message `json:"messages"`
	// Total is the number of messages stored for the room
	Total int64 `json:"total"`
}

// HistoryService serves stored room history
type HistoryService struct {
	store  storage.MessageStore
	group  singleflight.Group
	logger *zap.Logger
}

// NewHistoryService creates a new history service
func NewHistoryService(store storage.MessageStore, logger *zap.Logger) *HistoryService {
	return &HistoryService{
		store:  store,
		logger: logger.Named("history"),
	}
}

// History returns the newest messages of room selected by q.
// Identical concurrent queries share one store round trip.
func (s *HistoryService) History(ctx context.Context, room domain.RoomKey, q storage.HistoryQuery) (*HistoryPage, error) {
	q = q.Normalize()

	key := fmt.Sprintf("%s|%d|%d", room.String(), q.Limit, q.Before.UnixNano())
	if q.Before.IsZero() {
		key = fmt.Sprintf("%s|%d|now", room.String(), q.Limit)
	}

	val, err, shared := s.group.Do(key, func() (any, error) {
		messages, err := s.store.History(ctx, room, q)
		if err != nil {
			return nil, err
		}
		total, err := s.store.Count(ctx, room)
		if err != nil {
			return nil, err
		}
		if messages == nil {
			messages = []*domain.Message{}
		}
		return &HistoryPage{Room: room, Messages: messages, Total: total}, nil
	})
	if err != nil {
		s.logger.Error("Failed to load history",
			zap.String("room", room.String()),
			zap.Error(err))
		return nil, domain.NewInfrastructureError(domain.CodeRoomUnavailable, "Failed to load history", err)
	}

	if shared {
		s.logger.Debug("Shared history query", zap.String("room", room.String()))
	}

	return val.(*HistoryPage), nil
}
