package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/sirosfoundation/go-chat-backend/internal/domain"
	"github.com/sirosfoundation/go-chat-backend/internal/storage"
)

// Store implements an in-memory storage
type Store struct {
	messages *MessageStore
}

// NewStore creates a new in-memory store
func NewStore() *Store {
	return &Store{
		messages: &MessageStore{
			rooms:     make(map[domain.RoomKey][]*domain.Message),
			positions: make(map[position]struct{}),
		},
	}
}

func (s *Store) Messages() storage.MessageStore { return s.messages }
func (s *Store) Close() error                   { return nil }
func (s *Store) Ping(ctx context.Context) error { return nil }

type position struct {
	room  domain.RoomKey
	epoch string
	seq   uint64
}

// MessageStore implements in-memory message storage
type MessageStore struct {
	mu        sync.RWMutex
	rooms     map[domain.RoomKey][]*domain.Message
	positions map[position]struct{}
}

func (s *MessageStore) Append(ctx context.Context, msg *domain.Message) error {
	if err := storage.ValidateMessage(msg); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pos := position{room: msg.Room, epoch: msg.Epoch, seq: msg.Sequence}
	if _, exists := s.positions[pos]; exists {
		return storage.ErrAlreadyExists
	}
	s.positions[pos] = struct{}{}

	stored := *msg
	msgs := append(s.rooms[msg.Room], &stored)
	// Appends arrive in order per room; only clock skew between epochs needs a re-sort.
	if n := len(msgs); n > 1 && less(msgs[n-1], msgs[n-2]) {
		sort.SliceStable(msgs, func(i, j int) bool { return less(msgs[i], msgs[j]) })
	}
	s.rooms[msg.Room] = msgs
	return nil
}

func (s *MessageStore) History(ctx context.Context, room domain.RoomKey, q storage.HistoryQuery) ([]*domain.Message, error) {
	q = q.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.rooms[room]
	end := len(msgs)
	if !q.Before.IsZero() {
		end = sort.Search(len(msgs), func(i int) bool { return !msgs[i].CreatedAt.Before(q.Before) })
	}
	start := end - q.Limit
	if start < 0 {
		start = 0
	}

	result := make([]*domain.Message, 0, end-start)
	for _, m := range msgs[start:end] {
		cp := *m
		result = append(result, &cp)
	}
	return result, nil
}

func (s *MessageStore) Count(ctx context.Context, room domain.RoomKey) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.rooms[room])), nil
}

func less(a, b *domain.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Sequence < b.Sequence
}
