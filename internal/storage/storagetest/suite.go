// Package storagetest holds the behaviour every MessageStore backend must share.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-chat-backend/internal/domain"
	"github.com/sirosfoundation/go-chat-backend/internal/storage"
)

// NewMessage builds a sequenced message created at base+seq milliseconds
func NewMessage(room domain.RoomKey, epoch string, seq uint64, base time.Time) *domain.Message {
	m := domain.NewMessage(room, "user-"+fmt.Sprint(seq%3), fmt.Sprintf("message %d", seq))
	m.CreatedAt = base.Add(time.Duration(seq) * time.Millisecond).UTC()
	return m.Sequenced(epoch, seq)
}

// RunMessageStoreTests exercises a MessageStore. newStore must return an empty store.
func RunMessageStoreTests(t *testing.T, newStore func(t *testing.T) storage.MessageStore) {
	room := domain.RoomKey{ChatType: "group", ChatID: "suite"}
	other := domain.RoomKey{ChatType: "group", ChatID: "other"}
	base := time.Now().Add(-time.Hour).Truncate(time.Millisecond)

	t.Run("AppendAndHistory", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for seq := uint64(1); seq <= 5; seq++ {
			require.NoError(t, s.Append(ctx, NewMessage(room, "e1", seq, base)))
		}
		require.NoError(t, s.Append(ctx, NewMessage(other, "e1", 1, base)))

		msgs, err := s.History(ctx, room, storage.HistoryQuery{Limit: 10})
		require.NoError(t, err)
		require.Len(t, msgs, 5)
		for i, m := range msgs {
			assert.Equal(t, uint64(i+1), m.Sequence)
			assert.Equal(t, room, m.Room)
			assert.Equal(t, "e1", m.Epoch)
		}

		count, err := s.Count(ctx, room)
		require.NoError(t, err)
		assert.Equal(t, int64(5), count)
	})

	t.Run("HistoryLimitReturnsNewest", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for seq := uint64(1); seq <= 10; seq++ {
			require.NoError(t, s.Append(ctx, NewMessage(room, "e1", seq, base)))
		}

		msgs, err := s.History(ctx, room, storage.HistoryQuery{Limit: 3})
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, []uint64{8, 9, 10}, sequences(msgs))
	})

	t.Run("HistoryBefore", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for seq := uint64(1); seq <= 10; seq++ {
			require.NoError(t, s.Append(ctx, NewMessage(room, "e1", seq, base)))
		}

		before := base.Add(6 * time.Millisecond)
		msgs, err := s.History(ctx, room, storage.HistoryQuery{Limit: 2, Before: before})
		require.NoError(t, err)
		assert.Equal(t, []uint64{4, 5}, sequences(msgs))
	})

	t.Run("HistoryAcrossEpochs", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Append(ctx, NewMessage(room, "e1", 1, base)))
		require.NoError(t, s.Append(ctx, NewMessage(room, "e1", 2, base)))
		later := base.Add(time.Second)
		require.NoError(t, s.Append(ctx, NewMessage(room, "e2", 1, later)))

		msgs, err := s.History(ctx, room, storage.HistoryQuery{Limit: 10})
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, "e1", msgs[0].Epoch)
		assert.Equal(t, "e2", msgs[2].Epoch)
		assert.Equal(t, uint64(1), msgs[2].Sequence)
	})

	t.Run("DuplicatePosition", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Append(ctx, NewMessage(room, "e1", 1, base)))
		err := s.Append(ctx, NewMessage(room, "e1", 1, base))
		assert.True(t, errors.Is(err, storage.ErrAlreadyExists), "got %v", err)
	})

	t.Run("InvalidMessage", func(t *testing.T) {
		s := newStore(t)
		unsequenced := domain.NewMessage(room, "alice", "hi")
		err := s.Append(context.Background(), unsequenced)
		assert.True(t, errors.Is(err, storage.ErrInvalidInput), "got %v", err)
	})

	t.Run("EmptyRoom", func(t *testing.T) {
		s := newStore(t)
		msgs, err := s.History(context.Background(), domain.RoomKey{ChatType: "group", ChatID: "none"}, storage.HistoryQuery{})
		require.NoError(t, err)
		assert.Empty(t, msgs)

		count, err := s.Count(context.Background(), domain.RoomKey{ChatType: "group", ChatID: "none"})
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("RoundTripFields", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		in := NewMessage(room, "e1", 1, base)
		in.Content = "héllo wörld"
		require.NoError(t, s.Append(ctx, in))

		msgs, err := s.History(ctx, room, storage.HistoryQuery{Limit: 1})
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		out := msgs[0]
		assert.Equal(t, in.ID, out.ID)
		assert.Equal(t, in.SenderID, out.SenderID)
		assert.Equal(t, in.Content, out.Content)
		assert.True(t, in.CreatedAt.Equal(out.CreatedAt), "created_at %v != %v", in.CreatedAt, out.CreatedAt)
	})
}

func sequences(msgs []*domain.Message) []uint64 {
	out := make([]uint64, len(msgs))
	for i, m := range msgs {
		out[i] = m.Sequence
	}
	return out
}
