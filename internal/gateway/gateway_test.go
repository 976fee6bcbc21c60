package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-chat-backend/internal/auth"
	"github.com/sirosfoundation/go-chat-backend/internal/domain"
	"github.com/sirosfoundation/go-chat-backend/internal/storage"
	"github.com/sirosfoundation/go-chat-backend/internal/storage/memory"
	"github.com/sirosfoundation/go-chat-backend/pkg/config"
)

type testEnv struct {
	gateway *Gateway
	server  *httptest.Server
	issuer  *auth.Issuer
	store   *flakyStore
}

func newTestEnv(t *testing.T, mutate func(*config.GatewayConfig)) *testEnv {
	t.Helper()

	jwtCfg := config.JWTConfig{Secret: "gateway-test-secret"}
	gwCfg := config.Default().Gateway
	gwCfg.ShutdownGraceSeconds = 2
	if mutate != nil {
		mutate(&gwCfg)
	}

	store := &flakyStore{MessageStore: memory.NewStore().Messages()}
	registry := NewRegistry(store, RoomOptionsFromConfig(gwCfg), zap.NewNop())
	gw := New(gwCfg, auth.NewJWTAuthenticator(jwtCfg, nil), registry, zap.NewNop())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/ws/chat/"), "/")
		if len(parts) != 3 {
			http.NotFound(w, r)
			return
		}
		token, err := ParseTokenSegment(parts[2])
		var conn *Connection
		if err == nil {
			conn, err = gw.Admit(r.Context(), parts[0], parts[1], token)
		}
		if err != nil {
			status := http.StatusInternalServerError
			switch domain.KindOf(err) {
			case domain.KindAuth:
				status = http.StatusUnauthorized
			case domain.KindProtocol:
				status = http.StatusBadRequest
			case domain.KindCapacity:
				status = http.StatusServiceUnavailable
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"message": domain.PublicMessage(err),
				"type":    string(domain.KindOf(err)),
			})
			return
		}
		gw.Serve(w, r, conn)
	}))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
		srv.Close()
	})

	return &testEnv{
		gateway: gw,
		server:  srv,
		issuer:  auth.NewIssuer(jwtCfg),
		store:   store,
	}
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := e.issuer.Issue(userID, "", time.Hour)
	require.NoError(t, err)
	return token
}

func (e *testEnv) url(chatType, chatID, token string) string {
	return "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws/chat/" + chatType + "/" + chatID + "/token=" + token
}

func (e *testEnv) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(e.url("group", "42", e.token(t, userID)), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) wireFrame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	return decodeFrame(t, data)
}

// readUntil skips frames (presence, mostly) until one of type typ arrives
func readUntil(t *testing.T, ws *websocket.Conn, typ string) wireFrame {
	t.Helper()
	for {
		f := readFrame(t, ws)
		if f.Type == typ {
			return f
		}
	}
}

// readClose reads until the server's close frame and returns its code
func readClose(t *testing.T, ws *websocket.Conn) int {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, _, err := ws.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.True(t, errors.As(err, &ce), "expected close error, got %v", err)
		return ce.Code
	}
}

func writeJSON(t *testing.T, ws *websocket.Conn, v interface{}) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(v))
}

func TestGateway_TwoClientsExchangeMessages(t *testing.T) {
	env := newTestEnv(t, nil)

	alice := env.dial(t, "alice")
	joined := readUntil(t, alice, FrameJoined)
	assert.Equal(t, uint64(0), joined.Sequence)

	bob := env.dial(t, "bob")
	readUntil(t, bob, FrameJoined)

	writeJSON(t, alice, ClientFrame{Type: FrameMessage, Content: "hi", ClientID: "a1"})
	ack := readUntil(t, alice, FrameAck)
	assert.Equal(t, uint64(1), ack.Sequence)
	assert.Equal(t, "a1", ack.ClientID)

	got := readUntil(t, bob, FrameMessage)
	assert.Equal(t, "hi", got.Content)
	assert.Equal(t, "alice", got.SenderID)
	assert.Equal(t, uint64(1), got.Sequence)

	writeJSON(t, bob, ClientFrame{Type: FrameMessage, Content: "yo"})
	assert.Equal(t, uint64(2), readUntil(t, bob, FrameAck).Sequence)

	got = readUntil(t, alice, FrameMessage)
	assert.Equal(t, "yo", got.Content)
	assert.Equal(t, "bob", got.SenderID)
	assert.Equal(t, uint64(2), got.Sequence)
}

func TestGateway_ExpiredTokenRejected(t *testing.T) {
	env := newTestEnv(t, nil)

	expired, err := env.issuer.Issue("alice", "", -time.Minute)
	require.NoError(t, err)

	_, resp, err := websocket.DefaultDialer.Dial(env.url("group", "42", expired), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "AuthError", body["type"])
	assert.Equal(t, 0, env.gateway.Registry().Len())
	assert.Equal(t, 0, env.gateway.Stats().Connections)
}

func TestGateway_InvalidRoomRejected(t *testing.T) {
	env := newTestEnv(t, func(c *config.GatewayConfig) { c.AllowedChatTypes = []string{"group"} })

	_, resp, err := websocket.DefaultDialer.Dial(env.url("secret", "1", env.token(t, "alice")), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 0, env.gateway.Registry().Len())
}

func TestGateway_SoleMemberLeaveThenFreshRoom(t *testing.T) {
	env := newTestEnv(t, nil)

	alice := env.dial(t, "alice")
	first := readUntil(t, alice, FrameJoined)
	writeJSON(t, alice, ClientFrame{Type: FrameMessage, Content: "one"})
	readUntil(t, alice, FrameAck)
	writeJSON(t, alice, ClientFrame{Type: FrameMessage, Content: "two"})
	assert.Equal(t, uint64(2), readUntil(t, alice, FrameAck).Sequence)

	require.NoError(t, alice.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	_ = alice.Close()

	require.Eventually(t, func() bool {
		return env.gateway.Registry().Len() == 0 && env.gateway.Stats().Connections == 0
	}, 5*time.Second, 10*time.Millisecond)

	again := env.dial(t, "alice")
	second := readUntil(t, again, FrameJoined)
	assert.Equal(t, uint64(0), second.Sequence)
	assert.NotEqual(t, first.Epoch, second.Epoch)

	writeJSON(t, again, ClientFrame{Type: FrameMessage, Content: "fresh"})
	assert.Equal(t, uint64(1), readUntil(t, again, FrameAck).Sequence)

	// Both instances are in the history, oldest first
	msgs, err := env.store.History(context.Background(), testRoomKey, storage.HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "fresh", msgs[2].Content)
}

func TestGateway_ApplicationPing(t *testing.T) {
	env := newTestEnv(t, nil)
	ws := env.dial(t, "alice")
	readUntil(t, ws, FrameJoined)

	writeJSON(t, ws, ClientFrame{Type: FramePing})
	assert.Equal(t, FramePong, readFrame(t, ws).Type)
}

func TestGateway_InvalidFramesAreNotFatal(t *testing.T) {
	env := newTestEnv(t, func(c *config.GatewayConfig) { c.MaxContentLength = 5 })
	ws := env.dial(t, "alice")
	readUntil(t, ws, FrameJoined)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, string(domain.CodeInvalidMessage), readUntil(t, ws, FrameError).Code)

	writeJSON(t, ws, ClientFrame{Type: "shout"})
	assert.Equal(t, string(domain.CodeInvalidMessage), readUntil(t, ws, FrameError).Code)

	writeJSON(t, ws, ClientFrame{Type: FrameMessage, Content: "far too long"})
	assert.Equal(t, string(domain.CodeMessageTooLong), readUntil(t, ws, FrameError).Code)

	binary, err := json.Marshal(ClientFrame{Type: FrameMessage, Content: "bin"})
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, binary))
	assert.Equal(t, string(domain.CodeInvalidMessage), readUntil(t, ws, FrameError).Code)

	// none of the rejected frames consumed a sequence
	writeJSON(t, ws, ClientFrame{Type: FrameMessage, Content: "ok"})
	assert.Equal(t, uint64(1), readUntil(t, ws, FrameAck).Sequence)
}

func TestGateway_RateLimited(t *testing.T) {
	env := newTestEnv(t, func(c *config.GatewayConfig) {
		c.MessagesPerSecond = 0.001
		c.MessageBurst = 1
	})
	ws := env.dial(t, "alice")
	readUntil(t, ws, FrameJoined)

	writeJSON(t, ws, ClientFrame{Type: FrameMessage, Content: "first"})
	readUntil(t, ws, FrameAck)

	writeJSON(t, ws, ClientFrame{Type: FrameMessage, Content: "second"})
	assert.Equal(t, string(domain.CodeRateLimited), readUntil(t, ws, FrameError).Code)

	// Still connected
	writeJSON(t, ws, ClientFrame{Type: FramePing})
	readUntil(t, ws, FramePong)
}

func TestGateway_PersistFailureClosesWithInternalError(t *testing.T) {
	env := newTestEnv(t, nil)
	ws := env.dial(t, "alice")
	readUntil(t, ws, FrameJoined)

	env.store.failures.Store(1)
	writeJSON(t, ws, ClientFrame{Type: FrameMessage, Content: "lost"})

	errFrame := readUntil(t, ws, FrameError)
	assert.Equal(t, string(domain.CodeInternalError), errFrame.Code)
	assert.Equal(t, websocket.CloseInternalServerErr, readClose(t, ws))

	require.Eventually(t, func() bool { return env.gateway.Registry().Len() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestGateway_JoinFailureReportsRoomUnavailable(t *testing.T) {
	env := newTestEnv(t, func(c *config.GatewayConfig) {
		c.SendQueueSize = 1
		c.HistoryOnJoin = 1
	})
	ws, _, err := websocket.DefaultDialer.Dial(env.url("group", "42", env.token(t, "alice")), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	first := readFrame(t, ws)
	assert.Equal(t, FrameError, first.Type, "no joined frame before the join is complete")
	assert.Equal(t, string(domain.CodeRoomUnavailable), first.Code)
	assert.Equal(t, websocket.CloseInternalServerErr, readClose(t, ws))

	require.Eventually(t, func() bool { return env.gateway.Registry().Len() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestGateway_IdleTimeout(t *testing.T) {
	env := newTestEnv(t, func(c *config.GatewayConfig) { c.IdleTimeoutSeconds = 1 })
	ws := env.dial(t, "alice")
	readUntil(t, ws, FrameJoined)

	assert.Equal(t, websocket.CloseNormalClosure, readClose(t, ws))
}

func TestGateway_CloseRoom(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.dial(t, "alice")
	readUntil(t, alice, FrameJoined)

	info, ok := env.gateway.Room(testRoomKey)
	require.True(t, ok)
	assert.Len(t, info.Members, 1)
	assert.Len(t, env.gateway.Rooms(), 1)

	n, ok := env.gateway.CloseRoom(testRoomKey)
	assert.True(t, ok)
	assert.Equal(t, 1, n)
	assert.Equal(t, websocket.CloseNormalClosure, readClose(t, alice))

	_, ok = env.gateway.CloseRoom(testRoomKey)
	assert.False(t, ok)
}

func TestGateway_ShutdownClosesWithGoingAway(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.dial(t, "alice")
	bob := env.dial(t, "bob")
	readUntil(t, alice, FrameJoined)
	readUntil(t, bob, FrameJoined)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		done <- env.gateway.Shutdown(ctx)
	}()

	assert.Equal(t, websocket.CloseGoingAway, readClose(t, alice))
	assert.Equal(t, websocket.CloseGoingAway, readClose(t, bob))
	require.NoError(t, <-done)

	stats := env.gateway.Stats()
	assert.True(t, stats.Draining)
	assert.Equal(t, 0, stats.Connections)
	assert.Equal(t, 0, stats.Rooms)

	_, err := env.gateway.Admit(context.Background(), "group", "42", env.token(t, "carol"))
	assert.Equal(t, domain.KindCapacity, domain.KindOf(err))
}

func TestGateway_ShutdownForcesUnresponsivePeers(t *testing.T) {
	env := newTestEnv(t, func(c *config.GatewayConfig) { c.ShutdownGraceSeconds = 0 })
	ws := env.dial(t, "alice")
	readUntil(t, ws, FrameJoined)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.gateway.Shutdown(ctx))
	assert.Equal(t, 0, env.gateway.Stats().Connections)
}

func TestGateway_CheckOrigin(t *testing.T) {
	env := newTestEnv(t, func(c *config.GatewayConfig) { c.AllowedOrigins = []string{"https://chat.example.com"} })

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(env.url("group", "42", env.token(t, "alice")), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "https://chat.example.com")
	ws, _, err := websocket.DefaultDialer.Dial(env.url("group", "42", env.token(t, "alice")), header)
	require.NoError(t, err)
	defer ws.Close()
	readUntil(t, ws, FrameJoined)
}

func TestGateway_ConnectionStates(t *testing.T) {
	env := newTestEnv(t, nil)

	conn, err := env.gateway.Admit(context.Background(), "group", "42", env.token(t, "alice"))
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticating, conn.State())
	assert.Equal(t, "alice", conn.Identity().UserID)
	assert.Equal(t, testRoomKey, conn.Room())
}

func TestParseTokenSegment(t *testing.T) {
	tests := []struct {
		segment string
		want    string
		wantErr bool
	}{
		{"token=abc.def.ghi", "abc.def.ghi", false},
		{"token=", "", false},
		{"abc.def.ghi", "", true},
		{"jwt=abc.def.ghi", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.segment, func(t *testing.T) {
			got, err := ParseTokenSegment(tt.segment)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, domain.IsKind(err, domain.KindAuth))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(99).String())
}
