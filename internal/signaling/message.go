package signaling

import (
	"encoding/json"
	"time"
)

// Message defines the structure for all C2S (Client to Server)
// and S2C (Server to Client) websocket messages.
type Message struct {
	Type       string          `json:"type"`
	RoomID     string          `json:"room_id,omitempty"`
	From       string          `json:"from,omitempty"`
	To         string          `json:"to,omitempty"`
	Name       string          `json:"name,omitempty"`
	ClientType string          `json:"client_type,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`

	// participant is the connection that sent the message.
	// It's used internally by the Hub and not sent over JSON.
	participant *Participant `json:"-"`
}

// Message type constants.
const (
	// Client to server
	MessageTypeCreateRoom   = "create_room"
	MessageTypeJoinRoom     = "join_room"
	MessageTypeLeaveRoom    = "leave_room"
	MessageTypeOffer        = "offer"
	MessageTypeAnswer       = "answer"
	MessageTypeICECandidate = "ice_candidate"
	MessageTypeMediaState   = "media_state"
	MessageTypeChat         = "chat"
	MessageTypePing         = "ping"

	// Server to client
	MessageTypeRoomCreated = "room_created"
	MessageTypeJoinSuccess = "join_success"
	MessageTypePeerJoined  = "peer_joined"
	MessageTypePeerLeft    = "peer_left"
	MessageTypePeerUpdated = "peer_updated"
	MessageTypePong        = "pong"
	MessageTypeError       = "error"
)

// Client types reported on create/join.
const (
	ClientTypeWeb = "web"
	ClientTypeCLI = "cli"
)

// Error strings sent back in error payloads.
const (
	ErrTextRoomNotFound   = "Room not found"
	ErrTextRoomFull       = "Room is full"
	ErrTextAlreadyInRoom  = "Already in a room"
	ErrTextNotInRoom      = "You must join a room first"
	ErrTextPeerNotFound   = "Peer not found"
	ErrTextInvalidPayload = "Invalid payload"
	ErrTextUnknownType    = "Unknown message type"
	ErrTextInvalidRoomID  = "Invalid room ID"
)

// MediaState is the publish state a participant advertises to the room.
type MediaState struct {
	Audio  bool `json:"audio"`
	Video  bool `json:"video"`
	Screen bool `json:"screen"`
}

// ParticipantInfo is the public view of a participant.
type ParticipantInfo struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	ClientType string     `json:"client_type"`
	Media      MediaState `json:"media"`
	JoinedAt   time.Time  `json:"joined_at"`
}

// RoomJoinedPayload is sent with room_created and join_success.
type RoomJoinedPayload struct {
	Participant  ParticipantInfo   `json:"participant"`
	Participants []ParticipantInfo `json:"participants"`
}

// SignalPayload represents the WebRTC signaling data (SDP offer/answer or ICE candidate).
// The hub never looks inside it; it is defined for clients of the relay.
type SignalPayload struct {
	Type         string `json:"type,omitempty"`
	SDP          string `json:"sdp,omitempty"`
	ICECandidate any    `json:"ice_candidate,omitempty"`
}

// ChatPayload carries room chat text.
type ChatPayload struct {
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at,omitempty"`
}

// ErrorPayload represents error messages from server.
type ErrorPayload struct {
	Error string `json:"error"`
}

func newErrorMessage(text string) *Message {
	payload, _ := json.Marshal(ErrorPayload{Error: text})
	return &Message{Type: MessageTypeError, Payload: payload}
}

func mustPayload(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		// Payload types in this package are plain structs.
		panic(err)
	}
	return b
}

// IsRelayed reports whether messages of type t are forwarded peer to peer.
func IsRelayed(t string) bool {
	switch t {
	case MessageTypeOffer, MessageTypeAnswer, MessageTypeICECandidate:
		return true
	}
	return false
}
