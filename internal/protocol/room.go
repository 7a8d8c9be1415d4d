package protocol

import (
	"encoding/json"
	"strings"
)

// RoomMessage is the data of a ROOM_PROTOCOL envelope. Which fields are set
// depends on Type.
type RoomMessage struct {
	Type     Type   `json:"type"`
	RoomName string `json:"roomName,omitempty"`

	// UserID is the acting participant on requests.
	UserID ID `json:"userId,omitempty"`

	OtherUserID        ID `json:"otherUserId,omitempty"`
	JoineeID           ID `json:"joineeId,omitempty"`
	ExitedUserID       ID `json:"exitedUserId,omitempty"`
	DisconnectedUserID ID `json:"disconnectedUserId,omitempty"`

	Reason  FailureReason `json:"reason,omitempty"`
	Message string        `json:"message,omitempty"`
}

// DecodeRoomMessage strictly decodes and validates ROOM_PROTOCOL data.
func DecodeRoomMessage(data json.RawMessage) (RoomMessage, error) {
	var msg RoomMessage
	if err := decodeStrict(data, &msg); err != nil {
		return RoomMessage{}, malformed("room message: %v", err)
	}
	msg.RoomName = NormalizeRoomName(msg.RoomName)
	if err := msg.validate(); err != nil {
		return RoomMessage{}, err
	}
	return msg, nil
}

// NormalizeRoomName trims surrounding whitespace. Room names are keyed by
// their normalised form on every entry point.
func NormalizeRoomName(name string) string {
	return strings.TrimSpace(name)
}

func (m RoomMessage) validate() error {
	if m.Type.Label() != LabelRoom {
		return malformed("unsupported room message type %q", m.Type)
	}
	switch m.Type {
	case TypeJoinRequest, TypeExitRequest:
		if m.RoomName == "" {
			return malformed("%s missing roomName", m.Type)
		}
	case TypeJoinFailure:
		if m.Reason == "" {
			return malformed("%s missing reason", m.Type)
		}
	case TypeJoinNotify:
		if m.JoineeID == "" {
			return malformed("%s missing joineeId", m.Type)
		}
	}
	return nil
}
