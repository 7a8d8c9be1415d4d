package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

type Type string

const (
	TypeJoinRequest      Type = "JOIN_REQUEST"
	TypeJoinSuccess      Type = "JOIN_SUCCESS"
	TypeJoinFailure      Type = "JOIN_FAILURE"
	TypeJoinNotify       Type = "JOIN_NOTIFY"
	TypeExitRequest      Type = "EXIT_REQUEST"
	TypeExitNotify       Type = "EXIT_NOTIFY"
	TypeDisconnectNotify Type = "DISCONNECT_NOTIFY"

	TypeOffer               Type = "OFFER"
	TypeAnswer              Type = "ANSWER"
	TypeICECandidates       Type = "ICE_CANDIDATES"
	TypeRenegotiationOffer  Type = "RENEGOTIATION_OFFER"
	TypeRenegotiationAnswer Type = "RENEGOTIATION_ANSWER"
)

// Label returns the envelope label a message of type t travels under, or ""
// for unknown types.
func (t Type) Label() Label {
	switch t {
	case TypeJoinRequest, TypeJoinSuccess, TypeJoinFailure, TypeJoinNotify,
		TypeExitRequest, TypeExitNotify, TypeDisconnectNotify:
		return LabelRoom
	case TypeOffer, TypeAnswer, TypeICECandidates,
		TypeRenegotiationOffer, TypeRenegotiationAnswer:
		return LabelNegotiation
	default:
		return ""
	}
}

// ID is a participant identifier. It decodes from a JSON string or number so
// clients that generate numeric ids interoperate with string ids.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("participant id must be a string or number")
	}
	if i, err := n.Int64(); err == nil {
		*id = ID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// FailureReason names a room operation failure on the wire.
type FailureReason string

const (
	ReasonDuplicateRoom FailureReason = "DUPLICATE_ROOM"
	ReasonRoomNotFound  FailureReason = "ROOM_NOT_FOUND"
	ReasonRoomFull      FailureReason = "ROOM_FULL"
)
