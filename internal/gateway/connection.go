package gateway

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sirosfoundation/go-chat-backend/internal/domain"
)

// State is a connection's lifecycle state
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateJoining
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateJoining:
		return "joining"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// How long the writer waits for the peer to answer a close frame
const closeHandshakeWait = time.Second

type closeRequest struct {
	code   int
	reason string
	// flush writes queued frames before the close frame
	flush bool
}

// Connection is one authenticated client socket bound to a room
type Connection struct {
	id       string
	identity *domain.Identity
	room     domain.RoomKey
	joinedAt time.Time

	ws           *websocket.Conn
	writeTimeout time.Duration
	pingInterval time.Duration
	limiter      *rate.Limiter
	logger       *zap.Logger

	send       chan []byte
	done       chan struct{}
	readerDone chan struct{}
	writerDone chan struct{}

	state      atomic.Int32
	closeOnce  sync.Once
	closeReq   closeRequest
	readerOnce sync.Once
}

func newConnection(queueSize int) *Connection {
	if queueSize < 1 {
		queueSize = 1
	}
	c := &Connection{
		id:         uuid.New().String(),
		send:       make(chan []byte, queueSize),
		done:       make(chan struct{}),
		readerDone: make(chan struct{}),
		writerDone: make(chan struct{}),
		logger:     zap.NewNop(),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

// bind attaches the authenticated identity and the target room
func (c *Connection) bind(identity *domain.Identity, room domain.RoomKey, logger *zap.Logger) {
	c.identity = identity
	c.room = room
	c.logger = logger.With(
		zap.String("connection_id", c.id),
		zap.String("user_id", identity.UserID),
		zap.String("room", room.String()),
	)
}

// ID returns the process-unique connection id
func (c *Connection) ID() string { return c.id }

// Identity returns the authenticated principal
func (c *Connection) Identity() *domain.Identity { return c.identity }

// Room returns the key of the room the connection is bound to
func (c *Connection) Room() domain.RoomKey { return c.room }

// State returns the current lifecycle state
func (c *Connection) State() State { return State(c.state.Load()) }

func (c *Connection) setState(s State) {
	c.state.Store(int32(s))
}

func (c *Connection) info() MemberInfo {
	return MemberInfo{
		ConnectionID: c.id,
		UserID:       c.identity.UserID,
		DisplayName:  c.identity.DisplayName,
		JoinedAt:     c.joinedAt,
	}
}

// enqueue offers a frame to the send queue without blocking. It returns false
// when the queue is full or the connection is closing.
func (c *Connection) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// enqueueAll queues frames only if all of them fit. It is used before the
// connection becomes a room member, when no other producer can race it.
func (c *Connection) enqueueAll(frames ...[]byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	if cap(c.send)-len(c.send) < len(frames) {
		return false
	}
	for _, frame := range frames {
		if !c.enqueue(frame) {
			return false
		}
	}
	return true
}

// Close asks the writer to send a close frame with code and reason and then
// drop the socket. Only the first call has an effect; it never blocks.
func (c *Connection) Close(code int, reason string) {
	c.close(closeRequest{code: code, reason: reason, flush: true})
}

// evict closes without flushing the queue
func (c *Connection) evict(code int, reason string) {
	c.close(closeRequest{code: code, reason: reason})
}

func (c *Connection) close(req closeRequest) {
	c.closeOnce.Do(func() {
		c.closeReq = req
		close(c.done)
	})
}

// Closing reports whether Close has been called
func (c *Connection) Closing() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Done is closed once the connection starts closing
func (c *Connection) Done() <-chan struct{} { return c.done }

func (c *Connection) markReaderDone() {
	c.readerOnce.Do(func() { close(c.readerDone) })
}

// forceClose drops the network connection without a close handshake
func (c *Connection) forceClose() {
	c.evict(websocket.CloseGoingAway, "server shutting down")
	if c.ws != nil {
		_ = c.ws.Close()
	}
}

func (c *Connection) write(messageType int, data []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, data)
}

// writePump is the only goroutine writing data frames to the socket
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		close(c.writerDone)
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("Write failed", zap.Error(err))
				c.abort()
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("Ping failed", zap.Error(err))
				c.abort()
				return
			}
		case <-c.done:
			c.finish()
			return
		}
	}
}

// finish flushes (if requested), sends the close frame and drops the socket
func (c *Connection) finish() {
	req := c.closeReq
	deadline := time.Now().Add(c.writeTimeout)

	if req.flush {
		_ = c.ws.SetWriteDeadline(deadline)
	drain:
		for {
			select {
			case frame := <-c.send:
				if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
					break drain
				}
			default:
				break drain
			}
		}
	}

	msg := websocket.FormatCloseMessage(req.code, req.reason)
	if err := c.ws.WriteControl(websocket.CloseMessage, msg, deadline); err == nil {
		select {
		case <-c.readerDone:
		case <-time.After(closeHandshakeWait):
		}
	}
	_ = c.ws.Close()
}

func (c *Connection) abort() {
	c.evict(websocket.CloseAbnormalClosure, "")
	_ = c.ws.Close()
}
