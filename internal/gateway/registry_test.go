package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-chat-backend/internal/domain"
)

func TestRegistry_GetOrCreateRoom(t *testing.T) {
	reg, _ := newTestRegistry(RoomOptions{})

	room := reg.GetOrCreateRoom(testRoomKey)
	require.NotNil(t, room)
	assert.Same(t, room, reg.GetOrCreateRoom(testRoomKey))
	assert.Equal(t, 1, reg.Len())

	got, ok := reg.Get(testRoomKey)
	assert.True(t, ok)
	assert.Same(t, room, got)
}

func TestRegistry_ConcurrentFirstJoinsShareOneRoom(t *testing.T) {
	reg, _ := newTestRegistry(RoomOptions{})

	const n = 64
	rooms := make([]*Room, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			conn := newTestConnection(fmt.Sprintf("user-%d", i), n+4)
			for {
				room := reg.GetOrCreateRoom(testRoomKey)
				err := room.Join(context.Background(), conn)
				if errors.Is(err, errRoomClosed) {
					continue
				}
				assert.NoError(t, err)
				rooms[i] = room
				return
			}
		}(i)
	}
	close(start)
	wg.Wait()

	for _, r := range rooms {
		assert.Same(t, rooms[0], r)
	}
	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, n, rooms[0].Len())
}

func TestRegistry_ConcurrentLeavesRemoveRoomOnce(t *testing.T) {
	reg, _ := newTestRegistry(RoomOptions{})
	room := reg.GetOrCreateRoom(testRoomKey)

	const n = 64
	conns := make([]*Connection, n)
	for i := range conns {
		conns[i] = newTestConnection(fmt.Sprintf("user-%d", i), n+4)
		require.NoError(t, room.Join(context.Background(), conns[i]))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	left := 0
	for _, c := range conns {
		wg.Add(2)
		// Two teardown attempts per connection; exactly one may succeed
		for k := 0; k < 2; k++ {
			go func(c *Connection) {
				defer wg.Done()
				if room.Leave(c) {
					mu.Lock()
					left++
					mu.Unlock()
				}
			}(c)
		}
	}
	wg.Wait()

	assert.Equal(t, n, left)
	assert.Equal(t, 0, room.Len())
	assert.True(t, room.IsClosed())
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_FreshRoomAfterRemovalResetsSequence(t *testing.T) {
	reg, _ := newTestRegistry(RoomOptions{})
	first := reg.GetOrCreateRoom(testRoomKey)

	alice := newTestConnection("alice", 16)
	require.NoError(t, first.Join(context.Background(), alice))
	send(t, first, alice, "one")
	send(t, first, alice, "two")
	require.True(t, first.Leave(alice))
	require.Equal(t, 0, reg.Len())

	second := reg.GetOrCreateRoom(testRoomKey)
	assert.NotSame(t, first, second)
	assert.NotEqual(t, first.Epoch(), second.Epoch())

	again := newTestConnection("alice", 16)
	require.NoError(t, second.Join(context.Background(), again))
	msg := send(t, second, again, "fresh")
	assert.Equal(t, uint64(1), msg.Sequence)
}

func TestRegistry_RemoveRoomIfEmpty(t *testing.T) {
	reg, _ := newTestRegistry(RoomOptions{})
	room := reg.GetOrCreateRoom(testRoomKey)

	// Live rooms are never removed
	assert.False(t, reg.RemoveRoomIfEmpty(testRoomKey, room))
	assert.Equal(t, 1, reg.Len())

	conn := newTestConnection("alice", 16)
	require.NoError(t, room.Join(context.Background(), conn))
	require.True(t, room.Leave(conn))
	assert.Equal(t, 0, reg.Len())

	// A second removal, or one for a stale instance, is a no-op
	assert.False(t, reg.RemoveRoomIfEmpty(testRoomKey, room))
	replacement := reg.GetOrCreateRoom(testRoomKey)
	assert.False(t, reg.RemoveRoomIfEmpty(testRoomKey, room))
	got, ok := reg.Get(testRoomKey)
	assert.True(t, ok)
	assert.Same(t, replacement, got)
}

func TestRegistry_ClosedRoomReplacedOnGetOrCreate(t *testing.T) {
	reg, _ := newTestRegistry(RoomOptions{})
	room := reg.GetOrCreateRoom(testRoomKey)

	// Mark closed without the registry callback to simulate a stale entry
	room.closed.Store(true)

	_, ok := reg.Get(testRoomKey)
	assert.False(t, ok)

	fresh := reg.GetOrCreateRoom(testRoomKey)
	assert.NotSame(t, room, fresh)
	assert.False(t, fresh.IsClosed())
}

func TestRegistry_ChurnLeavesNoRooms(t *testing.T) {
	reg, _ := newTestRegistry(RoomOptions{EchoToSender: true})

	const workers, rounds = 16, 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				conn := newTestConnection(fmt.Sprintf("user-%d", w), 1024)
				var room *Room
				for {
					room = reg.GetOrCreateRoom(testRoomKey)
					if err := room.Join(context.Background(), conn); err == nil {
						break
					}
				}
				_, err := room.Accept(context.Background(), conn, newChurnMessage(conn), "")
				if err != nil && !errors.Is(err, errNotMember) {
					t.Errorf("Accept() error = %v", err)
				}
				room.Leave(conn)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_Snapshot(t *testing.T) {
	reg, _ := newTestRegistry(RoomOptions{})
	for _, id := range []string{"b", "a"} {
		key := testRoomKey
		key.ChatID = id
		room := reg.GetOrCreateRoom(key)
		require.NoError(t, room.Join(context.Background(), newTestConnection("u-"+id, 8)))
	}

	infos := reg.Snapshot()
	require.Len(t, infos, 2)
	assert.Equal(t, "a", infos[0].Room.ChatID)
	assert.Equal(t, "b", infos[1].Room.ChatID)
	assert.Len(t, infos[0].Members, 1)
}

func newChurnMessage(conn *Connection) *domain.Message {
	return domain.NewMessage(conn.Room(), conn.Identity().UserID, "churn")
}
