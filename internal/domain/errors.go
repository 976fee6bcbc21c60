package domain

import (
	"errors"
	"fmt"
)

// Kind classifies errors crossing the gateway and HTTP boundaries
type Kind string

const (
	KindAuth           Kind = "AuthError"
	KindProtocol       Kind = "ProtocolError"
	KindCapacity       Kind = "CapacityError"
	KindInfrastructure Kind = "InfrastructureError"
	KindTransport      Kind = "TransportError"
	KindInternal       Kind = "InternalError"
)

// Code is the machine readable error code reported to WebSocket clients
type Code string

const (
	CodeAuthFailed      Code = "AUTH_FAILED"
	CodeInvalidRoom     Code = "INVALID_ROOM"
	CodeInvalidMessage  Code = "INVALID_MESSAGE"
	CodeMessageTooLong  Code = "MESSAGE_TOO_LONG"
	CodeRateLimited     Code = "RATE_LIMITED"
	CodeSlowConsumer    Code = "SLOW_CONSUMER"
	CodeRoomUnavailable Code = "ROOM_UNAVAILABLE"
	CodeUnavailable     Code = "SERVICE_UNAVAILABLE"
	CodeInternalError   Code = "INTERNAL_ERROR"
)

// Error is a classified error. Message is safe to show to clients;
// Err carries internal detail that is only logged.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewAuthError reports an invalid, expired, malformed or revoked token
func NewAuthError(message string, err error) *Error {
	return &Error{Kind: KindAuth, Code: CodeAuthFailed, Message: message, Err: err}
}

// NewProtocolError reports a malformed frame or request
func NewProtocolError(code Code, message string, err error) *Error {
	return &Error{Kind: KindProtocol, Code: code, Message: message, Err: err}
}

// NewCapacityError reports a slow consumer or an overloaded component
func NewCapacityError(code Code, message string) *Error {
	return &Error{Kind: KindCapacity, Code: code, Message: message}
}

// NewInfrastructureError reports a failing backend
func NewInfrastructureError(code Code, message string, err error) *Error {
	return &Error{Kind: KindInfrastructure, Code: code, Message: message, Err: err}
}

// NewTransportError reports a peer disconnect or network failure
func NewTransportError(err error) *Error {
	return &Error{Kind: KindTransport, Message: "connection closed", Err: err}
}

// KindOf returns the kind of err, or KindInternal when err is unclassified
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// IsKind reports whether err is classified as kind
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// PublicMessage returns the client-facing message for err. Infrastructure and
// unclassified errors never expose their detail.
func PublicMessage(err error) string {
	var de *Error
	if errors.As(err, &de) {
		switch de.Kind {
		case KindInfrastructure, KindInternal:
			return "Internal server error"
		default:
			return de.Message
		}
	}
	return "Internal server error"
}
