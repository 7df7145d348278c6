package protocol

import "errors"

// Machine-readable rejection codes sent inside error events.
const (
	CodeValidationError    = "VALIDATION_ERROR"
	CodeRoomFull           = "ROOM_FULL"
	CodeRoomNotFound       = "ROOM_NOT_FOUND"
	CodeGameAlreadyStarted = "GAME_ALREADY_STARTED"
	CodePlayerNotFound     = "PLAYER_NOT_FOUND"
	CodeInvalidMessage     = "INVALID_MESSAGE"
	CodeNetworkError       = "NETWORK_ERROR"
)

// ErrInvalidMessage is returned by Validate for any payload that does not
// deserialize to a known tag with all required fields of the right type.
var ErrInvalidMessage = errors.New("invalid message")

// NewError builds an error event for a code with a human-readable message.
func NewError(code, message string) ErrorEvent {
	return ErrorEvent{Type: EventError, Code: code, Message: message}
}
