package websocket

import (
	"chat-presence/domain"
	"chat-presence/domain/event"
	"chat-presence/errors"
	"encoding/json"
	stderrors "errors"
)

// Inbound frame types.
const (
	JoinRoom    = "join_room"
	LeaveRoom   = "leave_room"
	TypingStart = "typing_start"
	TypingStop  = "typing_stop"
	MarkRead    = "mark_read"
	ViewRoom    = "view_room"
	NewMessage  = "new_message"
)

// Error codes of an error frame.
const (
	CodeInvalidArgument  = "INVALID_ARGUMENT"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeNotFound         = "NOT_FOUND"
	CodeInternal         = "INTERNAL"
)

const (
	AckName   event.Name = "ack"
	ErrorName event.Name = "error"
)

// Frame is the envelope of every message on the socket, both ways.
type Frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type RoomPayload struct {
	ChatID domain.RoomID `json:"chatId"`
}

type NewMessagePayload struct {
	ChatID  domain.RoomID `json:"chatId"`
	Content string        `json:"content"`
}

// Ack answers a client frame that went through.
type Ack struct {
	RequestID string `json:"-"`
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
}

func (Ack) Name() event.Name { return AckName }

// Failure answers a client frame that was refused. It only reaches the connection that sent it.
type Failure struct {
	RequestID string `json:"-"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func (Failure) Name() event.Name { return ErrorName }

// Encode turns an outbound event into a text frame.
func Encode(evt event.DomainEvent) ([]byte, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	f := Frame{Type: string(evt.Name()), Payload: payload}
	switch e := evt.(type) {
	case Ack:
		f.RequestID = e.RequestID
	case Failure:
		f.RequestID = e.RequestID
	}
	return json.Marshal(f)
}

// Decode parses an inbound frame. Unknown types are refused here.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, errors.ErrInvalidPayload
	}
	switch f.Type {
	case JoinRoom, LeaveRoom, TypingStart, TypingStop, MarkRead, ViewRoom, NewMessage:
		return f, nil
	default:
		return f, errors.ErrInvalidPayload
	}
}

// DecodePayload unmarshals the payload of a frame into v.
func DecodePayload(f Frame, v any) error {
	if len(f.Payload) == 0 {
		return errors.ErrInvalidPayload
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return errors.ErrInvalidPayload
	}
	return nil
}

// failureOf maps a service error onto the code sent back to the client.
func failureOf(requestID string, err error) Failure {
	code := CodeInternal
	message := "internal error"
	switch {
	case stderrors.Is(err, errors.ErrInvalidPayload):
		code, message = CodeInvalidArgument, err.Error()
	case stderrors.Is(err, errors.ErrNotChatMember):
		code, message = CodePermissionDenied, err.Error()
	case stderrors.Is(err, errors.ErrChatNotFound):
		code, message = CodeNotFound, err.Error()
	}
	return Failure{RequestID: requestID, Code: code, Message: message}
}
