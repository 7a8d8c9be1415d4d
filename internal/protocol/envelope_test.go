package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeEnvelope_MapsLegacyLabels(t *testing.T) {
	cases := map[string]Label{
		`{"label":"NORMAL_SERVER_PROCESS","data":{"type":"JOIN_REQUEST","roomName":"a"}}`: LabelRoom,
		`{"label":"WEBRTC_PROCESS","data":{"type":"OFFER"}}`:                               LabelNegotiation,
		`{"label":"ROOM_PROTOCOL","data":{}}`:                                              LabelRoom,
	}
	for raw, want := range cases {
		env, err := DecodeEnvelope([]byte(raw))
		if err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
		if env.Label != want {
			t.Fatalf("label=%q, want %q", env.Label, want)
		}
	}
}

func TestDecodeEnvelope_Rejects(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `hello`},
		{"missing label", `{"data":{}}`},
		{"unknown label", `{"label":"OTHER","data":{}}`},
		{"array data", `{"label":"ROOM_PROTOCOL","data":[1]}`},
		{"missing data", `{"label":"ROOM_PROTOCOL"}`},
		{"unknown field", `{"label":"ROOM_PROTOCOL","data":{},"x":1}`},
		{"trailing data", `{"label":"ROOM_PROTOCOL","data":{}} {}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeEnvelope([]byte(tc.raw))
			if !errors.Is(err, ErrMalformed) {
				t.Fatalf("err=%v, want ErrMalformed", err)
			}
		})
	}
}

func TestRoomMessage_NumericUserID(t *testing.T) {
	msg, err := DecodeRoomMessage(json.RawMessage(`{"type":"JOIN_REQUEST","roomName":"alpha","userId":42}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.UserID != "42" {
		t.Fatalf("userId=%q, want %q", msg.UserID, "42")
	}
}

func TestRoomMessage_TrimsRoomName(t *testing.T) {
	msg, err := DecodeRoomMessage(json.RawMessage(`{"type":"JOIN_REQUEST","roomName":" alpha\t"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.RoomName != "alpha" {
		t.Fatalf("roomName=%q, want %q", msg.RoomName, "alpha")
	}
}

func TestRoomMessage_Validation(t *testing.T) {
	bad := []string{
		`{"type":"JOIN_REQUEST"}`,
		`{"type":"EXIT_REQUEST","roomName":""}`,
		`{"type":"JOIN_REQUEST","roomName":"   "}`,
		`{"type":"OFFER","roomName":"a"}`,
		`{"type":"JOIN_REQUEST","roomName":"a","unexpected":true}`,
	}
	for _, raw := range bad {
		if _, err := DecodeRoomMessage(json.RawMessage(raw)); !errors.Is(err, ErrMalformed) {
			t.Fatalf("decode %s: err=%v, want ErrMalformed", raw, err)
		}
	}
}

func TestNewRoomEnvelope_RejectsNegotiationType(t *testing.T) {
	if _, err := NewRoomEnvelope(RoomMessage{Type: TypeOffer}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestDecodeRelayHeader_IgnoresPayload(t *testing.T) {
	raw := json.RawMessage(`{"type":"OFFER","otherUserId":"7","offer":{"type":"offer","sdp":"v=0"},"extension":{"a":1}}`)
	h, err := DecodeRelayHeader(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if h.Type != TypeOffer || h.OtherUserID != "7" {
		t.Fatalf("header=%+v", h)
	}

	if _, err := DecodeRelayHeader(json.RawMessage(`{"type":"OFFER"}`)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("missing target: err=%v, want ErrMalformed", err)
	}
	if _, err := DecodeRelayHeader(json.RawMessage(`{"type":"JOIN_REQUEST","otherUserId":"7"}`)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("room type: err=%v, want ErrMalformed", err)
	}
}

func TestNegotiationMessage_Validation(t *testing.T) {
	good := []string{
		`{"type":"OFFER","otherUserId":"1","offer":{"type":"offer","sdp":"v=0"}}`,
		`{"type":"RENEGOTIATION_ANSWER","otherUserId":"1","answer":{"type":"answer","sdp":"v=0"}}`,
		`{"type":"ICE_CANDIDATES","otherUserId":"1","candidates":[]}`,
	}
	for _, raw := range good {
		if _, err := DecodeNegotiationMessage(json.RawMessage(raw)); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}

	bad := []string{
		`{"type":"OFFER","otherUserId":"1"}`,
		`{"type":"OFFER","otherUserId":"1","offer":{"type":"answer","sdp":"v=0"}}`,
		`{"type":"ANSWER","answer":{"type":"answer","sdp":"v=0"}}`,
		`{"type":"ICE_CANDIDATES","otherUserId":"1"}`,
		`{"type":"EXIT_NOTIFY","otherUserId":"1"}`,
	}
	for _, raw := range bad {
		if _, err := DecodeNegotiationMessage(json.RawMessage(raw)); !errors.Is(err, ErrMalformed) {
			t.Fatalf("decode %s: err=%v, want ErrMalformed", raw, err)
		}
	}
}

func TestRelayEnvelope_PreservesBytes(t *testing.T) {
	data := json.RawMessage(`{"type":"ANSWER","otherUserId":"2","answer":{"type":"answer","sdp":"x"},"z":[3,2,1]}`)
	frame, err := RelayEnvelope(data).Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	env, err := DecodeEnvelope(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(env.Data) != string(data) {
		t.Fatalf("data=%s, want %s", env.Data, data)
	}
}
