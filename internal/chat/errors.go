package chat

import (
	"errors"
	"fmt"
)

// Recoverable errors produced by the engine. Each one results in a single
// error event sent back to the originating connection.
var (
	ErrNameInvalid    = errors.New("display name is invalid")
	ErrNameTooLong    = fmt.Errorf("%w: longer than %d characters", ErrNameInvalid, MaxNameLength)
	ErrNameTaken      = errors.New("display name already taken")
	ErrNotJoined      = errors.New("connection has not joined")
	ErrAlreadyJoined  = errors.New("connection already joined")
	ErrMessageInvalid = errors.New("message content is invalid")
	ErrEngineClosed   = errors.New("engine is shut down")

	// ErrMalformedFrame marks an undecodable client frame; the transport
	// treats it as an implicit disconnect.
	ErrMalformedFrame = errors.New("malformed frame")
)

// ClientMessage maps an engine error to the text carried by the error event.
func ClientMessage(err error) string {
	switch {
	case errors.Is(err, ErrNameTooLong):
		return fmt.Sprintf("Username must be at most %d characters", MaxNameLength)
	case errors.Is(err, ErrNameInvalid):
		return "Username is required"
	case errors.Is(err, ErrNameTaken):
		return "Username already taken"
	case errors.Is(err, ErrNotJoined):
		return "User not authenticated"
	case errors.Is(err, ErrAlreadyJoined):
		return "Already joined"
	case errors.Is(err, ErrMessageInvalid):
		return "Invalid message content"
	default:
		return "Internal error"
	}
}
