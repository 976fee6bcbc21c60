package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-chat-backend/internal/domain"
	"github.com/sirosfoundation/go-chat-backend/internal/storage"
	"github.com/sirosfoundation/go-chat-backend/pkg/config"
)

var (
	// errRoomClosed is returned by Join when the room emptied concurrently; the
	// caller asks the registry for a fresh room
	errRoomClosed = errors.New("room closed")
	// errNotMember is returned by Accept for a sender that is no longer a member
	errNotMember = errors.New("not a room member")
)

// RoomOptions are the per-room delivery policies
type RoomOptions struct {
	// EchoToSender delivers a message to its sender as well; otherwise the sender gets an ack
	EchoToSender bool
	// HistoryOnJoin replays this many stored messages to a joining member
	HistoryOnJoin int
	// PersistTimeout bounds one store write
	PersistTimeout time.Duration
}

// RoomOptionsFromConfig extracts room policies from the gateway configuration
func RoomOptionsFromConfig(cfg config.GatewayConfig) RoomOptions {
	return RoomOptions{
		EchoToSender:   cfg.EchoToSender,
		HistoryOnJoin:  cfg.HistoryOnJoin,
		PersistTimeout: cfg.PersistTimeout(),
	}
}

// Room serializes membership changes, sequencing, persistence and fan-out
// for one chat room
type Room struct {
	key       domain.RoomKey
	epoch     string
	createdAt time.Time
	store     storage.MessageStore
	opts      RoomOptions
	logger    *zap.Logger
	onEmpty   func(*Room)

	closed atomic.Bool

	mu      sync.Mutex
	members []*Connection
	lastSeq uint64
}

func newRoom(key domain.RoomKey, store storage.MessageStore, opts RoomOptions, logger *zap.Logger, onEmpty func(*Room)) *Room {
	epoch := uuid.New().String()
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 5 * time.Second
	}
	return &Room{
		key:       key,
		epoch:     epoch,
		createdAt: time.Now().UTC(),
		store:     store,
		opts:      opts,
		logger:    logger.With(zap.String("room", key.String()), zap.String("epoch", epoch)),
		onEmpty:   onEmpty,
	}
}

// Key returns the room key
func (r *Room) Key() domain.RoomKey { return r.key }

// Epoch identifies this room instance; sequences restart at 1 for every epoch
func (r *Room) Epoch() string { return r.epoch }

// IsClosed reports whether the room has been emptied. A closed room never reopens.
func (r *Room) IsClosed() bool { return r.closed.Load() }

// Len returns the number of members
func (r *Room) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// LastSequence returns the last assigned sequence
func (r *Room) LastSequence() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSeq
}

// Join admits conn. The joined frame (and history, when enabled) is queued
// before any live message, and existing members get a best-effort presence frame.
func (r *Room) Join(ctx context.Context, conn *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed.Load() {
		return errRoomClosed
	}

	conn.joinedAt = time.Now().UTC()

	members := make([]MemberInfo, 0, len(r.members)+1)
	for _, m := range r.members {
		members = append(members, m.info())
	}
	members = append(members, conn.info())

	joined := encodeFrame(JoinedFrame{
		Type:         FrameJoined,
		ConnectionID: conn.id,
		UserID:       conn.identity.UserID,
		Room:         r.key,
		Epoch:        r.epoch,
		Sequence:     r.lastSeq,
		Members:      members,
	})
	frames := [][]byte{joined}
	if r.opts.HistoryOnJoin > 0 {
		if frame, ok := r.historyFrameLocked(ctx); ok {
			frames = append(frames, frame)
		}
	}
	if !conn.enqueueAll(frames...) {
		r.closeIfEmptyLocked()
		return domain.NewCapacityError(domain.CodeRoomUnavailable, "send queue too small to join")
	}

	r.members = append(r.members, conn)
	r.broadcastPresenceLocked(PresenceJoin, conn)

	r.logger.Info("Member joined",
		zap.String("connection_id", conn.id),
		zap.String("user_id", conn.identity.UserID),
		zap.Uint64("join_point", r.lastSeq),
		zap.Int("members", len(r.members)),
	)
	return nil
}

// historyFrameLocked loads the newest stored messages. A failing store only
// skips the replay.
func (r *Room) historyFrameLocked(ctx context.Context) ([]byte, bool) {
	hctx, cancel := context.WithTimeout(ctx, r.opts.PersistTimeout)
	defer cancel()

	msgs, err := r.store.History(hctx, r.key, storage.HistoryQuery{Limit: r.opts.HistoryOnJoin})
	if err != nil {
		r.logger.Warn("History replay skipped", zap.Error(err))
		return nil, false
	}

	frames := make([]MessageFrame, len(msgs))
	for i, m := range msgs {
		frames[i] = newMessageFrame(m)
	}
	return encodeFrame(HistoryFrame{Type: FrameHistory, Messages: frames}), true
}

// Accept sequences, persists and fans out msg from sender. When the store
// fails the sequence is not consumed and no member sees the message.
func (r *Room) Accept(ctx context.Context, sender *Connection, msg *domain.Message, clientID string) (*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed.Load() {
		return nil, errRoomClosed
	}
	if r.indexLocked(sender) < 0 {
		return nil, errNotMember
	}

	seq := r.lastSeq + 1
	sequenced := msg.Sequenced(r.epoch, seq)
	// Stamp under the lock so timestamps follow sequence order
	sequenced.CreatedAt = time.Now().UTC()

	pctx, cancel := context.WithTimeout(ctx, r.opts.PersistTimeout)
	err := r.store.Append(pctx, sequenced)
	cancel()
	if err != nil {
		r.logger.Error("Failed to persist message",
			zap.Uint64("sequence", seq),
			zap.String("sender_id", sequenced.SenderID),
			zap.Error(err),
		)
		return nil, domain.NewInfrastructureError(domain.CodeInternalError, "failed to persist message", err)
	}
	r.lastSeq = seq

	frame := encodeFrame(newMessageFrame(sequenced))
	var slow []*Connection
	for _, m := range r.members {
		if m.Closing() {
			// Already on its way out; teardown removes it
			continue
		}
		if m == sender && !r.opts.EchoToSender {
			ack := encodeFrame(AckFrame{Type: FrameAck, ClientID: clientID, MessageID: sequenced.ID, Sequence: seq})
			if !m.enqueue(ack) {
				slow = append(slow, m)
			}
			continue
		}
		if !m.enqueue(frame) {
			slow = append(slow, m)
		}
	}

	for _, m := range slow {
		r.evictLocked(m)
	}

	return sequenced, nil
}

// evictLocked removes a member whose queue overflowed. Later sequences are
// never delivered to it, so its stream stays gap-free up to the eviction.
func (r *Room) evictLocked(conn *Connection) {
	if !r.removeLocked(conn) {
		return
	}
	conn.evict(websocket.CloseTryAgainLater, "slow consumer")
	r.logger.Warn("Evicted slow consumer",
		zap.String("connection_id", conn.id),
		zap.String("user_id", conn.identity.UserID),
		zap.Uint64("sequence", r.lastSeq),
	)
	r.broadcastPresenceLocked(PresenceLeave, conn)
	r.closeIfEmptyLocked()
}

// Leave removes conn. It reports whether conn was a member; calling it again
// for the same connection is a no-op.
func (r *Room) Leave(conn *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.removeLocked(conn) {
		return false
	}

	r.logger.Info("Member left",
		zap.String("connection_id", conn.id),
		zap.String("user_id", conn.identity.UserID),
		zap.Int("members", len(r.members)),
	)

	r.broadcastPresenceLocked(PresenceLeave, conn)
	r.closeIfEmptyLocked()
	return true
}

// Close empties the room and closes every member with code and reason
func (r *Room) Close(code int, reason string) int {
	r.mu.Lock()
	members := r.members
	r.members = nil
	r.closeIfEmptyLocked()
	r.mu.Unlock()

	for _, m := range members {
		m.Close(code, reason)
	}
	return len(members)
}

func (r *Room) indexLocked(conn *Connection) int {
	for i, m := range r.members {
		if m == conn {
			return i
		}
	}
	return -1
}

func (r *Room) removeLocked(conn *Connection) bool {
	i := r.indexLocked(conn)
	if i < 0 {
		return false
	}
	r.members = append(r.members[:i], r.members[i+1:]...)
	return true
}

// closeIfEmptyLocked marks an empty room closed and hands it back to the
// registry. The registry lock never wraps a room lock, so calling out here is safe.
func (r *Room) closeIfEmptyLocked() {
	if len(r.members) > 0 || r.closed.Load() {
		return
	}
	r.closed.Store(true)
	r.logger.Debug("Room closed", zap.Uint64("last_sequence", r.lastSeq))
	if r.onEmpty != nil {
		r.onEmpty(r)
	}
}

// broadcastPresenceLocked is best effort: a full queue drops the frame
func (r *Room) broadcastPresenceLocked(event string, subject *Connection) {
	if len(r.members) == 0 {
		return
	}
	frame := encodeFrame(PresenceFrame{
		Type:         FramePresence,
		Event:        event,
		UserID:       subject.identity.UserID,
		ConnectionID: subject.id,
		Members:      len(r.members),
	})
	for _, m := range r.members {
		if m == subject {
			continue
		}
		m.enqueue(frame)
	}
}

// RoomInfo is a point-in-time view of a room
type RoomInfo struct {
	Room         domain.RoomKey `json:"room"`
	Epoch        string         `json:"epoch"`
	LastSequence uint64         `json:"last_sequence"`
	CreatedAt    time.Time      `json:"created_at"`
	Members      []MemberInfo   `json:"members"`
}

// Info returns a snapshot of the room
func (r *Room) Info() RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := make([]MemberInfo, len(r.members))
	for i, m := range r.members {
		members[i] = m.info()
	}
	return RoomInfo{
		Room:         r.key,
		Epoch:        r.epoch,
		LastSequence: r.lastSeq,
		CreatedAt:    r.createdAt,
		Members:      members,
	}
}
