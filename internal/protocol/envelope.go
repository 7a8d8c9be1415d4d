package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

type Label string

const (
	LabelRoom        Label = "ROOM_PROTOCOL"
	LabelNegotiation Label = "NEGOTIATION_PROTOCOL"

	// Labels sent by the first browser client.
	legacyLabelRoom        Label = "NORMAL_SERVER_PROCESS"
	legacyLabelNegotiation Label = "WEBRTC_PROCESS"
)

// ErrMalformed marks every decoding or validation failure in this package.
var ErrMalformed = errors.New("malformed message")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

type Envelope struct {
	Label Label           `json:"label"`
	Data  json.RawMessage `json:"data"`
}

// DecodeEnvelope strictly decodes one frame. Legacy labels are mapped to
// their current names.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := decodeStrict(frame, &env); err != nil {
		return Envelope{}, malformed("envelope: %v", err)
	}

	switch env.Label {
	case LabelRoom, LabelNegotiation:
	case legacyLabelRoom:
		env.Label = LabelRoom
	case legacyLabelNegotiation:
		env.Label = LabelNegotiation
	case "":
		return Envelope{}, malformed("envelope missing label")
	default:
		return Envelope{}, malformed("unknown label %q", env.Label)
	}

	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || data[0] != '{' {
		return Envelope{}, malformed("envelope data must be an object")
	}
	env.Data = data
	return env, nil
}

// Encode renders env as a single text frame. Data is written as is, so a
// relayed payload reaches the target byte for byte.
func (env Envelope) Encode() ([]byte, error) {
	if !json.Valid(env.Data) {
		return nil, malformed("envelope data is not valid JSON")
	}
	label, err := json.Marshal(env.Label)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, len(label)+len(env.Data)+20)
	buf = append(buf, `{"label":`...)
	buf = append(buf, label...)
	buf = append(buf, `,"data":`...)
	buf = append(buf, env.Data...)
	buf = append(buf, '}')
	return buf, nil
}

func NewRoomEnvelope(msg RoomMessage) (Envelope, error) {
	if msg.Type.Label() != LabelRoom {
		return Envelope{}, fmt.Errorf("type %q is not a room message", msg.Type)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Label: LabelRoom, Data: data}, nil
}

func NewNegotiationEnvelope(msg NegotiationMessage) (Envelope, error) {
	if err := msg.validate(); err != nil {
		return Envelope{}, err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Label: LabelNegotiation, Data: data}, nil
}

// RelayEnvelope rewraps negotiation data for delivery. data is forwarded
// byte for byte.
func RelayEnvelope(data json.RawMessage) Envelope {
	return Envelope{Label: LabelNegotiation, Data: data}
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("unexpected trailing data")
	}
	return nil
}
