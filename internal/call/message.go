package call

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// ChatChannelLabel is the data channel opened between CLI participants.
const ChatChannelLabel = "chat"

// Data channel message types.
const (
	MessageTypeChat = "chat"
	MessageTypePing = "ping"
	MessageTypePong = "pong"
)

// maxChatRunes matches the relay's default chat limit.
const maxChatRunes = 2000

// Message represents all data channel messages between CLI participants.
type Message struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// ChatPayload is a chat line sent directly to a peer.
type ChatPayload struct {
	Name   string `msgpack:"name"`
	Text   string `msgpack:"text"`
	SentAt int64  `msgpack:"sentAt"`
}

// PingPayload carries the sender's clock so the reply can be timed.
type PingPayload struct {
	SentAt int64 `msgpack:"sentAt"`
}

// DecodePayload decodes the message payload into the provided struct.
func (m Message) DecodePayload(v any) error {
	return msgpack.Unmarshal(m.Payload, v)
}

// NewMessage creates a new Message with the given type and payload.
func NewMessage(t string, payload any) (Message, error) {
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: t, Payload: b}, nil
}

// EncodeMessage builds and marshals a message in one step.
func EncodeMessage(t string, payload any) ([]byte, error) {
	msg, err := NewMessage(t, payload)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(msg)
}

// DecodeMessage unmarshals a frame and rejects types this client does not speak.
func DecodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		return Message{}, err
	}
	switch msg.Type {
	case MessageTypeChat, MessageTypePing, MessageTypePong:
		return msg, nil
	}
	return Message{}, WrapError("decode message", ErrUnknownMessageType, msg.Type)
}

func unixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
