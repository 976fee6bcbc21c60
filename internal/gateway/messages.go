package gateway

import (
	"encoding/json"
	"time"

	"github.com/sirosfoundation/go-chat-backend/internal/domain"
)

// Frame types on the wire
const (
	FrameMessage  = "message"
	FramePing     = "ping"
	FramePong     = "pong"
	FrameJoined   = "joined"
	FrameHistory  = "history"
	FrameAck      = "ack"
	FramePresence = "presence"
	FrameError    = "error"
)

// Presence events
const (
	PresenceJoin  = "join"
	PresenceLeave = "leave"
)

// ClientFrame is a frame sent by a chat client
type ClientFrame struct {
	Type     string `json:"type"`
	Content  string `json:"content,omitempty"`
	ClientID string `json:"client_id,omitempty"`
}

// MessageFrame carries a sequenced chat message
type MessageFrame struct {
	Type      string         `json:"type"`
	MessageID string         `json:"message_id"`
	Room      domain.RoomKey `json:"room"`
	Epoch     string         `json:"epoch"`
	Sequence  uint64         `json:"sequence"`
	SenderID  string         `json:"sender_id"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
}

func newMessageFrame(m *domain.Message) MessageFrame {
	return MessageFrame{
		Type:      FrameMessage,
		MessageID: m.ID,
		Room:      m.Room,
		Epoch:     m.Epoch,
		Sequence:  m.Sequence,
		SenderID:  m.SenderID,
		Content:   m.Content,
		Timestamp: m.CreatedAt,
	}
}

// MemberInfo describes one room member
type MemberInfo struct {
	ConnectionID string    `json:"connection_id"`
	UserID       string    `json:"user_id"`
	DisplayName  string    `json:"display_name,omitempty"`
	JoinedAt     time.Time `json:"joined_at"`
}

// JoinedFrame confirms admission. Sequence is the join point: the member
// receives every message with a greater sequence.
type JoinedFrame struct {
	Type         string         `json:"type"`
	ConnectionID string         `json:"connection_id"`
	UserID       string         `json:"user_id"`
	Room         domain.RoomKey `json:"room"`
	Epoch        string         `json:"epoch"`
	Sequence     uint64         `json:"sequence"`
	Members      []MemberInfo   `json:"members"`
}

// HistoryFrame replays stored messages to a new member
type HistoryFrame struct {
	Type     string         `json:"type"`
	Messages []MessageFrame `json:"messages"`
}

// AckFrame tells a sender which sequence its message got
type AckFrame struct {
	Type      string `json:"type"`
	ClientID  string `json:"client_id,omitempty"`
	MessageID string `json:"message_id"`
	Sequence  uint64 `json:"sequence"`
}

// PresenceFrame announces a member joining or leaving
type PresenceFrame struct {
	Type         string `json:"type"`
	Event        string `json:"event"`
	UserID       string `json:"user_id"`
	ConnectionID string `json:"connection_id"`
	Members      int    `json:"members"`
}

// ErrorFrame reports a per-connection error
type ErrorFrame struct {
	Type    string      `json:"type"`
	Code    domain.Code `json:"code"`
	Details string      `json:"details"`
}

type pongFrame struct {
	Type string `json:"type"`
}

// encodeFrame marshals a frame; all frame types are plain structs so this only
// fails on programmer error
func encodeFrame(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(ErrorFrame{Type: FrameError, Code: domain.CodeInternalError, Details: "encoding failed"})
	}
	return data
}

func errorFrame(code domain.Code, details string) []byte {
	return encodeFrame(ErrorFrame{Type: FrameError, Code: code, Details: details})
}
