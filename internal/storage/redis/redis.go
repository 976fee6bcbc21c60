// Package redis stores room history in one sorted set per room.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/sirosfoundation/go-chat-backend/internal/domain"
	"github.com/sirosfoundation/go-chat-backend/internal/storage"
	"github.com/sirosfoundation/go-chat-backend/pkg/config"
)

// appendScript enforces increasing sequences per epoch and appends in one step.
// KEYS[1] message zset, KEYS[2] epoch hash
// ARGV epoch, sequence, score, member, max messages (0 = unbounded)
var appendScript = redis.NewScript(`
	local last = tonumber(redis.call('HGET', KEYS[2], ARGV[1]) or '0')
	local seq = tonumber(ARGV[2])
	if seq <= last then
		return 0
	end
	redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
	redis.call('ZADD', KEYS[1], ARGV[3], ARGV[4])
	local max = tonumber(ARGV[5])
	if max > 0 then
		redis.call('ZREMRANGEBYRANK', KEYS[1], 0, -max - 1)
	end
	return 1
`)

// Store implements Redis storage
type Store struct {
	client   *redis.Client
	messages *MessageStore
}

// NewStore connects to Redis and verifies the connection
func NewStore(ctx context.Context, cfg *config.RedisConfig) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "chat:"
	}

	return &Store{
		client: client,
		messages: &MessageStore{
			client:      client,
			keyPrefix:   prefix,
			maxMessages: cfg.MaxMessagesPerRoom,
		},
	}, nil
}

func (s *Store) Messages() storage.MessageStore { return s.messages }
func (s *Store) Close() error                   { return s.client.Close() }

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// MessageStore implements Redis message storage. Scores are unix milliseconds;
// members are prefixed with the nanosecond timestamp and sequence so that
// lexical order breaks score ties.
type MessageStore struct {
	client      *redis.Client
	keyPrefix   string
	maxMessages int64
}

func (s *MessageStore) messagesKey(room domain.RoomKey) string {
	return s.keyPrefix + "room:" + room.ChatType + ":" + room.ChatID + ":messages"
}

func (s *MessageStore) epochsKey(room domain.RoomKey) string {
	return s.keyPrefix + "room:" + room.ChatType + ":" + room.ChatID + ":epochs"
}

func encodeMember(msg *domain.Message) (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%019d|%020d|%s", msg.CreatedAt.UnixNano(), msg.Sequence, data), nil
}

func decodeMember(member string) (*domain.Message, error) {
	parts := strings.SplitN(member, "|", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed history entry")
	}
	var msg domain.Message
	if err := json.Unmarshal([]byte(parts[2]), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *MessageStore) Append(ctx context.Context, msg *domain.Message) error {
	if err := storage.ValidateMessage(msg); err != nil {
		return err
	}

	member, err := encodeMember(msg)
	if err != nil {
		return fmt.Errorf("%w: failed to encode message: %v", storage.ErrInvalidInput, err)
	}

	added, err := appendScript.Run(ctx, s.client,
		[]string{s.messagesKey(msg.Room), s.epochsKey(msg.Room)},
		msg.Epoch,
		msg.Sequence,
		msg.CreatedAt.UnixMilli(),
		member,
		s.maxMessages,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: failed to append message: %v", storage.ErrDatabase, err)
	}
	if added == 0 {
		return storage.ErrAlreadyExists
	}
	return nil
}

func (s *MessageStore) History(ctx context.Context, room domain.RoomKey, q storage.HistoryQuery) ([]*domain.Message, error) {
	q = q.Normalize()

	upper := "+inf"
	if !q.Before.IsZero() {
		upper = "(" + strconv.FormatInt(q.Before.UnixMilli(), 10)
	}

	members, err := s.client.ZRevRangeByScore(ctx, s.messagesKey(room), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   upper,
		Count: int64(q.Limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query history: %v", storage.ErrDatabase, err)
	}

	msgs := make([]*domain.Message, len(members))
	for i, member := range members {
		msg, err := decodeMember(member)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to decode history: %v", storage.ErrDatabase, err)
		}
		msgs[len(members)-1-i] = msg
	}
	return msgs, nil
}

func (s *MessageStore) Count(ctx context.Context, room domain.RoomKey) (int64, error) {
	n, err := s.client.ZCard(ctx, s.messagesKey(room)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: failed to count messages: %v", storage.ErrDatabase, err)
	}
	return n, nil
}
