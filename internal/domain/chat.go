package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxChatIDLength bounds the chat_type and chat_id path segments
const MaxChatIDLength = 128

// RoomKey identifies a chat room
type RoomKey struct {
	ChatType string `json:"chat_type" bson:"chat_type"`
	ChatID   string `json:"chat_id" bson:"chat_id"`
}

// NewRoomKey validates the path segments and returns the room key
func NewRoomKey(chatType, chatID string) (RoomKey, error) {
	chatType = strings.TrimSpace(chatType)
	chatID = strings.TrimSpace(chatID)

	if chatType == "" || chatID == "" {
		return RoomKey{}, NewProtocolError(CodeInvalidRoom, "chat_type and chat_id are required", nil)
	}
	if len(chatType) > MaxChatIDLength || len(chatID) > MaxChatIDLength {
		return RoomKey{}, NewProtocolError(CodeInvalidRoom, "chat_type or chat_id too long", nil)
	}
	if strings.ContainsAny(chatType, "/: ") || strings.ContainsAny(chatID, "/ ") {
		return RoomKey{}, NewProtocolError(CodeInvalidRoom, "chat_type or chat_id contains invalid characters", nil)
	}
	return RoomKey{ChatType: chatType, ChatID: chatID}, nil
}

// String returns "chat_type/chat_id"
func (k RoomKey) String() string {
	return k.ChatType + "/" + k.ChatID
}

// Identity is an authenticated principal admitted by the token authenticator
type Identity struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name,omitempty"`
	TokenID     string    `json:"-"`
	ExpiresAt   time.Time `json:"-"`
}

// Message is a sequenced chat message. It is immutable once sequenced.
type Message struct {
	ID        string    `json:"message_id" bson:"_id"`
	Room      RoomKey   `json:"room" bson:"room"`
	Epoch     string    `json:"epoch" bson:"epoch"`
	Sequence  uint64    `json:"sequence" bson:"sequence"`
	SenderID  string    `json:"sender_id" bson:"sender_id"`
	Content   string    `json:"content" bson:"content"`
	CreatedAt time.Time `json:"timestamp" bson:"created_at"`
}

// NewMessage creates an unsequenced message from a sender
func NewMessage(room RoomKey, senderID, content string) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Room:      room,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// Sequenced returns a copy of m carrying its room position
func (m Message) Sequenced(epoch string, seq uint64) *Message {
	m.Epoch = epoch
	m.Sequence = seq
	return &m
}

// Validate checks message content against the configured length limit
func (m *Message) Validate(maxContentLength int) error {
	if strings.TrimSpace(m.Content) == "" {
		return NewProtocolError(CodeInvalidMessage, "message content is empty", nil)
	}
	if maxContentLength > 0 && len([]rune(m.Content)) > maxContentLength {
		return NewProtocolError(CodeMessageTooLong,
			fmt.Sprintf("message content exceeds %d characters", maxContentLength), nil)
	}
	return nil
}
