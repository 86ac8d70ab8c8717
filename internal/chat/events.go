package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
)

// Wire identifiers of inbound events.
const (
	EventJoinChat    = "join_chat"
	EventUserJoin    = "user_join"
	EventSendMessage = "send_message"
	EventTypingStart = "typing_start"
	EventTypingStop  = "typing_stop"
)

// Wire identifiers of outbound events.
const (
	EventMessageHistory = "message_history"
	EventUsersList      = "users_list"
	EventUserJoined     = "user_joined"
	EventNewMessage     = "new_message"
	EventUserTyping     = "user_typing"
	EventUserLeft       = "user_left"
	EventError          = "error"
)

// Frame is the JSON envelope of every WebSocket frame in both directions.
type Frame struct {
	Event string          `json:"event" validate:"required,oneof=join_chat user_join send_message typing_start typing_stop"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound is an event received from a client connection.
type Inbound interface {
	inbound()
}

// JoinChat asks to register a display name for the connection.
type JoinChat struct {
	Username string `json:"username"`
}

// SendMessage carries a chat message body.
type SendMessage struct {
	Content string `json:"content"`
}

// TypingStart signals that the sender started typing.
type TypingStart struct{}

// TypingStop signals that the sender stopped typing.
type TypingStop struct{}

type disconnect struct{}

type post struct {
	author  string
	content string
	reply   chan postResult
}

type postResult struct {
	msg Message
	err error
}

func (JoinChat) inbound()    {}
func (SendMessage) inbound() {}
func (TypingStart) inbound() {}
func (TypingStop) inbound()  {}
func (disconnect) inbound()  {}
func (post) inbound()        {}

var validate = validator.New()

// DecodeInbound parses one client frame. Any decoding or validation failure
// is reported as ErrMalformedFrame.
func DecodeInbound(raw []byte) (Inbound, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if err := validate.Struct(frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch frame.Event {
	case EventJoinChat, EventUserJoin:
		var join JoinChat
		if err := decodeData(frame.Data, &join); err != nil {
			return nil, err
		}
		return join, nil
	case EventSendMessage:
		var send SendMessage
		if err := decodeData(frame.Data, &send); err != nil {
			return nil, err
		}
		return send, nil
	case EventTypingStart:
		return TypingStart{}, nil
	case EventTypingStop:
		return TypingStop{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown event %q", ErrMalformedFrame, frame.Event)
	}
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return nil
}

// Outbound is an event sent to client connections.
type Outbound interface {
	EventName() string
}

// MessageHistory is the history snapshot delivered to a joining connection.
type MessageHistory []Message

// UsersList is the roster of active display names.
type UsersList []string

// UserJoined announces a new participant.
type UserJoined struct {
	User      string    `json:"user"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// UserLeft announces a departed participant.
type UserLeft struct {
	User      string    `json:"user"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage carries a chat message to every connection.
type NewMessage struct {
	ID        ulid.ULID `json:"id"`
	User      string    `json:"user"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// UserTyping relays a typing signal.
type UserTyping struct {
	User   string `json:"user"`
	Typing bool   `json:"typing"`
}

// ErrorEvent reports a rejected request to its originator.
type ErrorEvent struct {
	Message string `json:"message"`
}

func (MessageHistory) EventName() string { return EventMessageHistory }
func (UsersList) EventName() string      { return EventUsersList }
func (UserJoined) EventName() string     { return EventUserJoined }
func (UserLeft) EventName() string       { return EventUserLeft }
func (NewMessage) EventName() string     { return EventNewMessage }
func (UserTyping) EventName() string     { return EventUserTyping }
func (ErrorEvent) EventName() string     { return EventError }

func newMessageEvent(m Message) NewMessage {
	return NewMessage{ID: m.ID, User: m.Author, Content: m.Body, Timestamp: m.CreatedAt}
}

// EncodeOutbound renders ev as a JSON frame.
func EncodeOutbound(ev Outbound) ([]byte, error) {
	return json.Marshal(struct {
		Event string   `json:"event"`
		Data  Outbound `json:"data"`
	}{Event: ev.EventName(), Data: ev})
}
