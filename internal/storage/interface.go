package storage

import (
	"context"
	"errors"
	"time"

	"github.com/sirosfoundation/go-chat-backend/internal/domain"
)

// Common errors
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrDatabase      = errors.New("database error")
)

const (
	// DefaultHistoryLimit is used when a history query does not set a limit
	DefaultHistoryLimit = 50
	// MaxHistoryLimit caps a single history query
	MaxHistoryLimit = 500
)

// HistoryQuery selects the most recent messages of a room
type HistoryQuery struct {
	// Limit is the maximum number of messages returned
	Limit int
	// Before only returns messages created strictly before this instant (zero means now)
	Before time.Time
}

// Normalize clamps the limit into [1, MaxHistoryLimit]
func (q HistoryQuery) Normalize() HistoryQuery {
	if q.Limit <= 0 {
		q.Limit = DefaultHistoryLimit
	}
	if q.Limit > MaxHistoryLimit {
		q.Limit = MaxHistoryLimit
	}
	return q
}

// MessageStore is the append-only persistence adapter for sequenced messages
type MessageStore interface {
	// Append durably stores a sequenced message. Returns ErrAlreadyExists when
	// the (room, epoch, sequence) position is already taken.
	Append(ctx context.Context, msg *domain.Message) error

	// History returns up to q.Limit of the newest messages in the room,
	// oldest first (created_at, then sequence)
	History(ctx context.Context, room domain.RoomKey, q HistoryQuery) ([]*domain.Message, error)

	// Count returns the number of stored messages in the room
	Count(ctx context.Context, room domain.RoomKey) (int64, error)
}

// Store is the storage backend
type Store interface {
	Messages() MessageStore

	// Ping checks connectivity
	Ping(ctx context.Context) error

	// Close releases the backend's resources
	Close() error
}

// ValidateMessage checks that msg is sequenced and addressable
func ValidateMessage(msg *domain.Message) error {
	if msg == nil || msg.ID == "" || msg.Room.ChatType == "" || msg.Room.ChatID == "" ||
		msg.Epoch == "" || msg.Sequence == 0 {
		return ErrInvalidInput
	}
	return nil
}
