// Package gateway binds authenticated WebSocket connections to chat rooms and
// delivers sequenced messages between them.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sirosfoundation/go-chat-backend/internal/auth"
	"github.com/sirosfoundation/go-chat-backend/internal/domain"
	"github.com/sirosfoundation/go-chat-backend/pkg/config"
)

const maxJoinAttempts = 3

// Stats summarizes the gateway's live state
type Stats struct {
	Rooms       int  `json:"rooms"`
	Connections int  `json:"connections"`
	Draining    bool `json:"draining"`
}

// Gateway owns the lifecycle of every chat connection
type Gateway struct {
	cfg      config.GatewayConfig
	authn    auth.Authenticator
	registry *Registry
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    map[*Connection]struct{}
	draining bool
	wg       sync.WaitGroup
}

// New creates a gateway
func New(cfg config.GatewayConfig, authn auth.Authenticator, registry *Registry, logger *zap.Logger) *Gateway {
	g := &Gateway{
		cfg:      cfg,
		authn:    authn,
		registry: registry,
		logger:   logger.Named("gateway"),
		conns:    make(map[*Connection]struct{}),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

// Registry returns the room registry
func (g *Gateway) Registry() *Registry { return g.registry }

func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(g.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range g.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	g.logger.Warn("Rejected WebSocket origin", zap.String("origin", origin))
	return false
}

// ParseTokenSegment extracts the token from a "token=<jwt>" path segment
func ParseTokenSegment(segment string) (string, error) {
	token, ok := strings.CutPrefix(segment, "token=")
	if !ok {
		return "", domain.NewAuthError("Invalid token segment", nil)
	}
	return strings.TrimSpace(token), nil
}

// Admit authenticates a handshake and validates the room before upgrade.
// Failures are *domain.Error values for the HTTP layer to render.
func (g *Gateway) Admit(ctx context.Context, chatType, chatID, token string) (*Connection, error) {
	if g.isDraining() {
		return nil, domain.NewCapacityError(domain.CodeUnavailable, "Server is shutting down")
	}

	conn := newConnection(g.cfg.SendQueueSize)
	conn.setState(StateAuthenticating)

	identity, err := g.authn.Authenticate(ctx, token)
	if err != nil {
		conn.setState(StateClosed)
		g.logger.Info("Handshake rejected", zap.String("reason", domain.PublicMessage(err)))
		return nil, err
	}

	key, err := domain.NewRoomKey(chatType, chatID)
	if err != nil {
		conn.setState(StateClosed)
		return nil, err
	}
	if !g.chatTypeAllowed(key.ChatType) {
		conn.setState(StateClosed)
		return nil, domain.NewProtocolError(domain.CodeInvalidRoom, "unsupported chat type", nil)
	}

	conn.bind(identity, key, g.logger)
	return conn, nil
}

func (g *Gateway) chatTypeAllowed(chatType string) bool {
	if len(g.cfg.AllowedChatTypes) == 0 {
		return true
	}
	for _, t := range g.cfg.AllowedChatTypes {
		if t == chatType {
			return true
		}
	}
	return false
}

// Serve upgrades the request and runs conn until it closes. It blocks for the
// lifetime of the connection.
func (g *Gateway) Serve(w http.ResponseWriter, r *http.Request, conn *Connection) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written an HTTP error
		conn.setState(StateClosed)
		g.logger.Debug("Upgrade failed", zap.Error(err))
		return
	}

	conn.ws = ws
	conn.writeTimeout = g.cfg.WriteTimeout()
	conn.pingInterval = g.cfg.PingInterval()
	if g.cfg.MessagesPerSecond > 0 {
		burst := g.cfg.MessageBurst
		if burst < 1 {
			burst = 1
		}
		conn.limiter = rate.NewLimiter(rate.Limit(g.cfg.MessagesPerSecond), burst)
	}
	ws.SetReadLimit(g.cfg.MaxMessageBytes)

	if !g.track(conn) {
		conn.markReaderDone()
		conn.setState(StateClosing)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(g.cfg.WriteTimeout()))
		_ = ws.Close()
		conn.setState(StateClosed)
		return
	}
	defer g.untrack(conn)

	go conn.writePump()
	g.serve(r.Context(), conn)
}

// serve joins, runs the read loop and tears down. Teardown is the only path
// that calls Room.Leave.
func (g *Gateway) serve(ctx context.Context, conn *Connection) {
	ctx = context.WithoutCancel(ctx)
	conn.setState(StateJoining)

	room, err := g.join(ctx, conn)
	if err != nil {
		conn.logger.Warn("Join failed", zap.Error(err))
		conn.enqueue(errorFrame(domain.CodeRoomUnavailable, domain.PublicMessage(err)))
		conn.Close(websocket.CloseInternalServerErr, "room unavailable")
		conn.markReaderDone()
		conn.setState(StateClosing)
		<-conn.writerDone
		conn.setState(StateClosed)
		return
	}

	conn.setState(StateActive)
	conn.logger.Info("Connection active")

	g.readLoop(ctx, conn, room)

	conn.setState(StateClosing)
	conn.markReaderDone()
	room.Leave(conn)
	conn.Close(websocket.CloseNormalClosure, "")
	<-conn.writerDone
	conn.setState(StateClosed)
	conn.logger.Info("Connection closed")
}

// join retries when the room it found empties and closes concurrently
func (g *Gateway) join(ctx context.Context, conn *Connection) (*Room, error) {
	for attempt := 0; attempt < maxJoinAttempts; attempt++ {
		room := g.registry.GetOrCreateRoom(conn.room)
		err := room.Join(ctx, conn)
		if errors.Is(err, errRoomClosed) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return room, nil
	}
	return nil, domain.NewCapacityError(domain.CodeRoomUnavailable, "room unavailable")
}

func (g *Gateway) readLoop(ctx context.Context, conn *Connection, room *Room) {
	ws := conn.ws
	pongWait := g.cfg.PongWait()

	extend := func() {
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	}
	extend()
	ws.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	var idle *time.Timer
	if timeout := g.cfg.IdleTimeout(); timeout > 0 {
		idle = time.AfterFunc(timeout, func() {
			conn.logger.Info("Idle timeout")
			conn.Close(websocket.CloseNormalClosure, "idle timeout")
		})
		defer idle.Stop()
	}

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			g.logReadError(conn, err)
			return
		}
		extend()

		// Keep reading until the close handshake completes, but stop acting on frames
		if conn.Closing() {
			continue
		}
		if idle != nil {
			idle.Reset(g.cfg.IdleTimeout())
		}

		if messageType != websocket.TextMessage {
			conn.enqueue(errorFrame(domain.CodeInvalidMessage, "only text frames are accepted"))
			continue
		}
		g.handleFrame(ctx, conn, room, data)
	}
}

func (g *Gateway) handleFrame(ctx context.Context, conn *Connection, room *Room, data []byte) {
	var frame ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		conn.enqueue(errorFrame(domain.CodeInvalidMessage, "malformed JSON frame"))
		return
	}

	switch frame.Type {
	case FramePing:
		conn.enqueue(encodeFrame(pongFrame{Type: FramePong}))

	case FrameMessage:
		if conn.limiter != nil && !conn.limiter.Allow() {
			conn.logger.Debug("Rate limit exceeded")
			conn.enqueue(errorFrame(domain.CodeRateLimited, "too many messages"))
			return
		}

		msg := domain.NewMessage(conn.room, conn.identity.UserID, frame.Content)
		if err := msg.Validate(g.cfg.MaxContentLength); err != nil {
			var de *domain.Error
			if errors.As(err, &de) {
				conn.enqueue(errorFrame(de.Code, de.Message))
			}
			return
		}

		_, err := room.Accept(ctx, conn, msg, frame.ClientID)
		switch {
		case err == nil:
		case errors.Is(err, errRoomClosed), errors.Is(err, errNotMember):
			// Evicted or the room was closed; the connection is already closing
		case domain.IsKind(err, domain.KindInfrastructure):
			conn.enqueue(errorFrame(domain.CodeInternalError, domain.PublicMessage(err)))
			conn.Close(websocket.CloseInternalServerErr, "message store unavailable")
		default:
			conn.logger.Error("Unexpected accept error", zap.Error(err))
			conn.Close(websocket.CloseInternalServerErr, "internal error")
		}

	default:
		conn.enqueue(errorFrame(domain.CodeInvalidMessage, "unknown frame type"))
	}
}

func (g *Gateway) logReadError(conn *Connection, err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		conn.logger.Info("Frame exceeded read limit", zap.Int64("limit", g.cfg.MaxMessageBytes))
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		conn.logger.Debug("Peer closed", zap.Error(err))
	case errors.Is(err, io.EOF), conn.Closing():
		conn.logger.Debug("Connection closed", zap.Error(err))
	default:
		conn.logger.Info("Read failed", zap.Error(domain.NewTransportError(err)))
	}
}

func (g *Gateway) track(conn *Connection) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.draining {
		return false
	}
	g.conns[conn] = struct{}{}
	g.wg.Add(1)
	return true
}

func (g *Gateway) untrack(conn *Connection) {
	g.mu.Lock()
	delete(g.conns, conn)
	g.mu.Unlock()
	g.wg.Done()
}

func (g *Gateway) isDraining() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.draining
}

func (g *Gateway) liveConnections() []*Connection {
	g.mu.Lock()
	defer g.mu.Unlock()
	conns := make([]*Connection, 0, len(g.conns))
	for c := range g.conns {
		conns = append(conns, c)
	}
	return conns
}

// Stats returns live counts
func (g *Gateway) Stats() Stats {
	g.mu.Lock()
	stats := Stats{Connections: len(g.conns), Draining: g.draining}
	g.mu.Unlock()
	stats.Rooms = g.registry.Len()
	return stats
}

// Rooms returns a snapshot of every live room
func (g *Gateway) Rooms() []RoomInfo {
	return g.registry.Snapshot()
}

// Room returns a snapshot of one room
func (g *Gateway) Room(key domain.RoomKey) (RoomInfo, bool) {
	room, ok := g.registry.Get(key)
	if !ok {
		return RoomInfo{}, false
	}
	return room.Info(), true
}

// CloseRoom disconnects every member of the room. It returns the number of
// connections closed and false when no such room is live.
func (g *Gateway) CloseRoom(key domain.RoomKey) (int, bool) {
	room, ok := g.registry.Get(key)
	if !ok {
		return 0, false
	}
	n := room.Close(websocket.CloseNormalClosure, "room closed")
	g.logger.Info("Room closed by admin", zap.String("room", key.String()), zap.Int("connections", n))
	return n, true
}

// Shutdown stops admitting connections, closes every live connection with
// 1001 and waits for teardown. Connections still open after the grace period
// are dropped without a close handshake.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.draining = true
	g.mu.Unlock()

	conns := g.liveConnections()
	g.logger.Info("Draining connections", zap.Int("connections", len(conns)))
	for _, c := range conns {
		c.Close(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	grace := time.NewTimer(g.cfg.ShutdownGrace())
	defer grace.Stop()

	select {
	case <-done:
		g.logger.Info("All connections closed")
		return nil
	case <-grace.C:
	case <-ctx.Done():
	}

	remaining := g.liveConnections()
	g.logger.Warn("Forcing connections closed", zap.Int("connections", len(remaining)))
	for _, c := range remaining {
		c.forceClose()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
