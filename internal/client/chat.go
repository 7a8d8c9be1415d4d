package client

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Data channel message types.
const (
	MessageHello = "hello"
	MessageChat  = "chat"
)

// Message is the frame exchanged over the chat data channel.
type Message struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// HelloPayload is sent by each side once the channel opens.
type HelloPayload struct {
	UserID string   `msgpack:"userId"`
	Kinds  []string `msgpack:"kinds"`
}

type ChatPayload struct {
	From   string    `msgpack:"from"`
	Text   string    `msgpack:"text"`
	SentAt time.Time `msgpack:"sentAt"`
}

func NewMessage(t string, payload any) (Message, error) {
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: t, Payload: b}, nil
}

func (m Message) DecodePayload(v any) error {
	return msgpack.Unmarshal(m.Payload, v)
}

// EncodeMessage builds and marshals a frame in one step.
func EncodeMessage(t string, payload any) ([]byte, error) {
	msg, err := NewMessage(t, payload)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(msg)
}

func DecodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode data channel message: %w", err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("decode data channel message: missing type")
	}
	return msg, nil
}
