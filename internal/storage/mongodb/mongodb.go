package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sirosfoundation/go-chat-backend/internal/domain"
	"github.com/sirosfoundation/go-chat-backend/internal/storage"
	"github.com/sirosfoundation/go-chat-backend/pkg/config"
)

// Store implements MongoDB storage
type Store struct {
	client   *mongo.Client
	database *mongo.Database
	cfg      *config.MongoDBConfig

	messages *MessageStore
}

// NewStore creates a new MongoDB store
func NewStore(ctx context.Context, cfg *config.MongoDBConfig) (*Store, error) {
	clientOptions := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(time.Duration(cfg.Timeout) * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping the database to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	database := client.Database(cfg.Database)

	s := &Store{
		client:   client,
		database: database,
		cfg:      cfg,
		messages: &MessageStore{collection: database.Collection("messages")},
	}

	if err := s.createIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	return s, nil
}

func (s *Store) createIndexes(ctx context.Context) error {
	_, err := s.messages.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "room.chat_type", Value: 1},
				{Key: "room.chat_id", Value: 1},
				{Key: "epoch", Value: 1},
				{Key: "sequence", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "room.chat_type", Value: 1},
				{Key: "room.chat_id", Value: 1},
				{Key: "created_at", Value: -1},
				{Key: "sequence", Value: -1},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create message indexes: %w", err)
	}
	return nil
}

func (s *Store) Messages() storage.MessageStore { return s.messages }

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// MessageStore implements MongoDB message storage
type MessageStore struct {
	collection *mongo.Collection
}

func roomFilter(room domain.RoomKey) bson.M {
	return bson.M{"room.chat_type": room.ChatType, "room.chat_id": room.ChatID}
}

func (s *MessageStore) Append(ctx context.Context, msg *domain.Message) error {
	if err := storage.ValidateMessage(msg); err != nil {
		return err
	}

	_, err := s.collection.InsertOne(ctx, msg)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("%w: failed to append message: %v", storage.ErrDatabase, err)
	}
	return nil
}

func (s *MessageStore) History(ctx context.Context, room domain.RoomKey, q storage.HistoryQuery) ([]*domain.Message, error) {
	q = q.Normalize()

	filter := roomFilter(room)
	if !q.Before.IsZero() {
		filter["created_at"] = bson.M{"$lt": q.Before}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "sequence", Value: -1}}).
		SetLimit(int64(q.Limit))

	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query history: %v", storage.ErrDatabase, err)
	}
	defer cursor.Close(ctx)

	var msgs []*domain.Message
	if err := cursor.All(ctx, &msgs); err != nil {
		return nil, fmt.Errorf("%w: failed to decode history: %v", storage.ErrDatabase, err)
	}

	// Newest-first from the query, oldest-first to the caller
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	if msgs == nil {
		msgs = []*domain.Message{}
	}
	return msgs, nil
}

func (s *MessageStore) Count(ctx context.Context, room domain.RoomKey) (int64, error) {
	n, err := s.collection.CountDocuments(ctx, roomFilter(room))
	if err != nil {
		return 0, fmt.Errorf("%w: failed to count messages: %v", storage.ErrDatabase, err)
	}
	return n, nil
}
