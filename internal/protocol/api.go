package protocol

// Request and response bodies of the room management API.

type CreateRoomRequest struct {
	RoomName string `json:"roomName"`
	UserID   ID     `json:"userId"`
}

type DestroyRoomRequest struct {
	RoomName string `json:"roomName"`
}

type ResultType string

const (
	ResultCreateSuccess  ResultType = "CREATE_SUCCESS"
	ResultCreateFailure  ResultType = "CREATE_FAILURE"
	ResultDestroySuccess ResultType = "DESTROY_SUCCESS"
	ResultDestroyFailure ResultType = "DESTROY_FAILURE"
)

type RoomResult struct {
	Type     ResultType    `json:"type"`
	RoomName string        `json:"roomName,omitempty"`
	Reason   FailureReason `json:"reason,omitempty"`
	Message  string        `json:"message,omitempty"`
}

// RoomResponse wraps RoomResult as {"data": {...}}.
type RoomResponse struct {
	Data RoomResult `json:"data"`
}

type RoomInfo struct {
	Name      string `json:"name"`
	Occupants []ID   `json:"occupants"`
}

type RoomsResponse struct {
	Rooms []RoomInfo `json:"rooms"`
}

// ErrorResponse is returned for requests that never reached the broker.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
