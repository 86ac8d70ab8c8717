// Package chat holds the relay core: the session registry, the bounded
// message history and the engine that serializes every state mutation and
// fans the resulting events out to connections.
package chat

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
)

const (
	// MaxNameLength is the longest display name accepted at join, in characters.
	MaxNameLength = 20
	// MaxMessageLength is the longest chat body accepted after trimming, in characters.
	MaxMessageLength = 500
	// SystemAuthor is the reserved author of join/leave announcements.
	SystemAuthor = "System"
)

// Kind distinguishes user messages from engine announcements.
type Kind string

const (
	KindChat   Kind = "chat"
	KindSystem Kind = "system"
)

// Message is one immutable entry of the chat history.
type Message struct {
	ID        ulid.ULID `json:"id"`
	Author    string    `json:"user"`
	Body      string    `json:"content"`
	Kind      Kind      `json:"type"`
	CreatedAt time.Time `json:"timestamp"`
}

// NewChatMessage trims body and builds a chat message authored by author.
// It returns ErrMessageInvalid when the trimmed body is empty or longer than
// MaxMessageLength characters.
func NewChatMessage(author, body string, now time.Time) (Message, error) {
	content, err := normalizeBody(body)
	if err != nil {
		return Message{}, err
	}
	return Message{
		ID:        newMessageID(now),
		Author:    author,
		Body:      content,
		Kind:      KindChat,
		CreatedAt: now,
	}, nil
}

// NewSystemMessage builds an announcement authored by SystemAuthor.
func NewSystemMessage(text string, now time.Time) Message {
	return Message{
		ID:        newMessageID(now),
		Author:    SystemAuthor,
		Body:      text,
		Kind:      KindSystem,
		CreatedAt: now,
	}
}

func joinedText(name string) string { return fmt.Sprintf("%s joined the chat", name) }
func leftText(name string) string   { return fmt.Sprintf("%s left the chat", name) }

func normalizeBody(body string) (string, error) {
	content := strings.TrimSpace(body)
	if content == "" {
		return "", fmt.Errorf("%w: empty", ErrMessageInvalid)
	}
	if !utf8.ValidString(content) {
		return "", fmt.Errorf("%w: not valid UTF-8", ErrMessageInvalid)
	}
	if n := utf8.RuneCountInString(content); n > MaxMessageLength {
		return "", fmt.Errorf("%w: %d characters exceeds %d", ErrMessageInvalid, n, MaxMessageLength)
	}
	return content, nil
}

// ValidateName trims a requested display name and checks it against the
// join rules. Uniqueness is the registry's concern.
func ValidateName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", ErrNameInvalid
	}
	if !utf8.ValidString(trimmed) {
		return "", fmt.Errorf("%w: not valid UTF-8", ErrNameInvalid)
	}
	if utf8.RuneCountInString(trimmed) > MaxNameLength {
		return "", ErrNameTooLong
	}
	return trimmed, nil
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// newMessageID returns a ULID stamped with now. IDs minted within the same
// millisecond share a monotonic entropy source so they stay ordered.
func newMessageID(now time.Time) ulid.ULID {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id, err := ulid.New(ulid.Timestamp(now), entropy)
	if err != nil {
		return ulid.Make()
	}
	return id
}
