package gateway

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/sirosfoundation/go-chat-backend/internal/domain"
	"github.com/sirosfoundation/go-chat-backend/internal/storage"
)

// Registry maps room keys to live rooms. The mutex guards only the map; no
// room lock or I/O happens under it.
type Registry struct {
	store  storage.MessageStore
	opts   RoomOptions
	logger *zap.Logger

	mu    sync.Mutex
	rooms map[domain.RoomKey]*Room
}

// NewRegistry creates an empty registry whose rooms persist to store
func NewRegistry(store storage.MessageStore, opts RoomOptions, logger *zap.Logger) *Registry {
	return &Registry{
		store:  store,
		opts:   opts,
		logger: logger.Named("registry"),
		rooms:  make(map[domain.RoomKey]*Room),
	}
}

// GetOrCreateRoom returns the live room for key, creating it if absent or if
// the current entry has already closed
func (r *Registry) GetOrCreateRoom(key domain.RoomKey) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	if room, ok := r.rooms[key]; ok && !room.IsClosed() {
		return room
	}

	room := newRoom(key, r.store, r.opts, r.logger, r.removeClosed)
	r.rooms[key] = room
	r.logger.Debug("Room created", zap.String("room", key.String()), zap.String("epoch", room.epoch))
	return room
}

func (r *Registry) removeClosed(room *Room) {
	r.RemoveRoomIfEmpty(room.key, room)
}

// RemoveRoomIfEmpty deletes the entry for key if it still points at room and
// room has closed. It reports whether an entry was removed.
func (r *Registry) RemoveRoomIfEmpty(key domain.RoomKey, room *Room) bool {
	if !room.IsClosed() {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.rooms[key]
	if !ok || current != room {
		return false
	}
	delete(r.rooms, key)
	return true
}

// Get returns the live room for key
func (r *Registry) Get(key domain.RoomKey) (*Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[key]
	if !ok || room.IsClosed() {
		return nil, false
	}
	return room, true
}

// Len returns the number of registered rooms
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Rooms returns the registered rooms ordered by key
func (r *Registry) Rooms() []*Room {
	r.mu.Lock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.mu.Unlock()

	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].key.String() < rooms[j].key.String()
	})
	return rooms
}

// Snapshot returns a view of every registered room
func (r *Registry) Snapshot() []RoomInfo {
	rooms := r.Rooms()
	infos := make([]RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		infos = append(infos, room.Info())
	}
	return infos
}
