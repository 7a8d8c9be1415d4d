package room

import (
	"errors"
	"fmt"

	"github.com/Greed71/webRTC/internal/protocol"
)

var (
	ErrDuplicateRoom = errors.New("duplicate room")
	ErrRoomNotFound  = errors.New("room not found")
	ErrRoomFull      = errors.New("room full")
)

// Error is a failed room operation. Its message is suitable for showing to
// the requester; match the kind with errors.Is against the sentinels.
type Error struct {
	Kind error
	Room string
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrDuplicateRoom:
		return fmt.Sprintf("Room %s already exists.", e.Room)
	case ErrRoomNotFound:
		return fmt.Sprintf("Room %s does not exist.", e.Room)
	case ErrRoomFull:
		return fmt.Sprintf("Room %s is already full.", e.Room)
	default:
		return fmt.Sprintf("room %s: %v", e.Room, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Kind }

// Reason maps a room error to its wire representation.
func Reason(err error) (protocol.FailureReason, bool) {
	switch {
	case errors.Is(err, ErrDuplicateRoom):
		return protocol.ReasonDuplicateRoom, true
	case errors.Is(err, ErrRoomNotFound):
		return protocol.ReasonRoomNotFound, true
	case errors.Is(err, ErrRoomFull):
		return protocol.ReasonRoomFull, true
	default:
		return "", false
	}
}

func newError(kind error, name string) error {
	return &Error{Kind: kind, Room: name}
}
