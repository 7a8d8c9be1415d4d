package protocol

import (
	"encoding/json"
	"fmt"
)

// SessionDescription mirrors the browser RTCSessionDescriptionInit shape.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate mirrors the browser RTCIceCandidateInit shape.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// NegotiationMessage is the data of a NEGOTIATION_PROTOCOL envelope as the
// endpoints see it. The server only reads Type and OtherUserID.
type NegotiationMessage struct {
	Type        Type                `json:"type"`
	OtherUserID ID                  `json:"otherUserId"`
	Offer       *SessionDescription `json:"offer,omitempty"`
	Answer      *SessionDescription `json:"answer,omitempty"`
	Candidates  []Candidate         `json:"candidates,omitempty"`
}

// RelayHeader holds the only fields the server inspects before relaying.
type RelayHeader struct {
	Type        Type `json:"type"`
	OtherUserID ID   `json:"otherUserId"`
}

// DecodeRelayHeader reads the routing fields of negotiation data. Unknown
// fields are ignored: the rest of the payload is opaque to the relay.
func DecodeRelayHeader(data json.RawMessage) (RelayHeader, error) {
	var h RelayHeader
	if err := json.Unmarshal(data, &h); err != nil {
		return RelayHeader{}, malformed("negotiation header: %v", err)
	}
	if h.Type.Label() != LabelNegotiation {
		return RelayHeader{}, malformed("unsupported negotiation message type %q", h.Type)
	}
	if h.OtherUserID == "" {
		return RelayHeader{}, malformed("%s missing otherUserId", h.Type)
	}
	return h, nil
}

// DecodeNegotiationMessage decodes negotiation data on the receiving client.
// Decoding is lenient about extra fields so peers can extend the payload.
func DecodeNegotiationMessage(data json.RawMessage) (NegotiationMessage, error) {
	var msg NegotiationMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return NegotiationMessage{}, malformed("negotiation message: %v", err)
	}
	if err := msg.validate(); err != nil {
		return NegotiationMessage{}, err
	}
	return msg, nil
}

func (m NegotiationMessage) validate() error {
	switch m.Type {
	case TypeOffer, TypeRenegotiationOffer:
		if err := validateDescription(m.Type, m.Offer, "offer"); err != nil {
			return err
		}
	case TypeAnswer, TypeRenegotiationAnswer:
		if err := validateDescription(m.Type, m.Answer, "answer"); err != nil {
			return err
		}
	case TypeICECandidates:
		if m.Candidates == nil {
			return malformed("%s missing candidates", m.Type)
		}
	default:
		return malformed("unsupported negotiation message type %q", m.Type)
	}
	if m.OtherUserID == "" {
		return malformed("%s missing otherUserId", m.Type)
	}
	return nil
}

func validateDescription(t Type, desc *SessionDescription, want string) error {
	if desc == nil {
		return malformed("%s missing %s", t, want)
	}
	if desc.Type != want {
		return malformed("%s has %s.type=%q", t, want, desc.Type)
	}
	if desc.SDP == "" {
		return malformed("%s has empty sdp", t)
	}
	return nil
}

func (m NegotiationMessage) String() string {
	return fmt.Sprintf("%s(to=%s)", m.Type, m.OtherUserID)
}
