// Package sqlite stores messages in a SQLite database through gorm.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sirosfoundation/go-chat-backend/internal/domain"
	"github.com/sirosfoundation/go-chat-backend/internal/storage"
	"github.com/sirosfoundation/go-chat-backend/pkg/config"
)

// messageRow is the persisted form of a domain.Message
type messageRow struct {
	ID        string `gorm:"primarykey;size:36"`
	ChatType  string `gorm:"size:128;not null;uniqueIndex:idx_messages_position,priority:1;index:idx_messages_room_time,priority:1"`
	ChatID    string `gorm:"size:128;not null;uniqueIndex:idx_messages_position,priority:2;index:idx_messages_room_time,priority:2"`
	Epoch     string `gorm:"size:36;not null;uniqueIndex:idx_messages_position,priority:3"`
	Sequence  uint64 `gorm:"not null;uniqueIndex:idx_messages_position,priority:4"`
	SenderID  string `gorm:"size:255;not null"`
	Content   string `gorm:"not null"`
	CreatedAt int64  `gorm:"not null;autoCreateTime:false;index:idx_messages_room_time,priority:3"` // unix nanoseconds
}

// TableName returns the table name for messageRow
func (messageRow) TableName() string {
	return "messages"
}

func toRow(m *domain.Message) *messageRow {
	return &messageRow{
		ID:        m.ID,
		ChatType:  m.Room.ChatType,
		ChatID:    m.Room.ChatID,
		Epoch:     m.Epoch,
		Sequence:  m.Sequence,
		SenderID:  m.SenderID,
		Content:   m.Content,
		CreatedAt: m.CreatedAt.UnixNano(),
	}
}

func (r *messageRow) toDomain() *domain.Message {
	return &domain.Message{
		ID:        r.ID,
		Room:      domain.RoomKey{ChatType: r.ChatType, ChatID: r.ChatID},
		Epoch:     r.Epoch,
		Sequence:  r.Sequence,
		SenderID:  r.SenderID,
		Content:   r.Content,
		CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
	}
}

// Store implements SQLite storage
type Store struct {
	db       *gorm.DB
	messages *MessageStore
}

// NewStore opens (creating if needed) the database at cfg.Path and migrates it
func NewStore(ctx context.Context, cfg *config.SQLiteConfig) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	// SQLite allows one writer; ":memory:" databases are also per connection.
	sqlDB.SetMaxOpenConns(1)

	if err := db.WithContext(ctx).AutoMigrate(&messageRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db, messages: &MessageStore{db: db}}, nil
}

func (s *Store) Messages() storage.MessageStore { return s.messages }

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// MessageStore implements SQLite message storage
type MessageStore struct {
	db *gorm.DB
}

func isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *MessageStore) Append(ctx context.Context, msg *domain.Message) error {
	if err := storage.ValidateMessage(msg); err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Create(toRow(msg)).Error; err != nil {
		if isDuplicate(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("%w: failed to append message: %v", storage.ErrDatabase, err)
	}
	return nil
}

func (s *MessageStore) History(ctx context.Context, room domain.RoomKey, q storage.HistoryQuery) ([]*domain.Message, error) {
	q = q.Normalize()

	tx := s.db.WithContext(ctx).
		Where("chat_type = ? AND chat_id = ?", room.ChatType, room.ChatID)
	if !q.Before.IsZero() {
		tx = tx.Where("created_at < ?", q.Before.UnixNano())
	}

	var rows []messageRow
	if err := tx.Order("created_at DESC, sequence DESC").Limit(q.Limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: failed to query history: %v", storage.ErrDatabase, err)
	}

	msgs := make([]*domain.Message, len(rows))
	for i := range rows {
		msgs[len(rows)-1-i] = rows[i].toDomain()
	}
	return msgs, nil
}

func (s *MessageStore) Count(ctx context.Context, room domain.RoomKey) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&messageRow{}).
		Where("chat_type = ? AND chat_id = ?", room.ChatType, room.ChatID).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("%w: failed to count messages: %v", storage.ErrDatabase, err)
	}
	return n, nil
}
