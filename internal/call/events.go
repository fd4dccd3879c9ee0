package call

import (
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/Warpcall/internal/signaling"
)

// EventKind says what an Event describes.
type EventKind int

const (
	EventJoined EventKind = iota
	EventPeerJoined
	EventPeerLeft
	EventPeerUpdated
	EventPeerState
	EventChat
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventJoined:
		return "joined"
	case EventPeerJoined:
		return "peer_joined"
	case EventPeerLeft:
		return "peer_left"
	case EventPeerUpdated:
		return "peer_updated"
	case EventPeerState:
		return "peer_state"
	case EventChat:
		return "chat"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event is something that happened in the call.
type Event struct {
	Kind EventKind

	// RoomID and Created are set on EventJoined.
	RoomID  string
	Created bool

	Peer  signaling.ParticipantInfo
	State webrtc.PeerConnectionState
	Chat  *ChatLine
	Err   error
}

// ChatLine is a chat message from the relay or a direct data channel.
type ChatLine struct {
	From   string
	Name   string
	Text   string
	SentAt time.Time

	// Direct lines travelled over a peer data channel.
	Direct bool
	Self   bool
}

// RosterEntry is one row of the participant list.
type RosterEntry struct {
	Info    signaling.ParticipantInfo
	State   webrtc.PeerConnectionState
	Self    bool
	Packets uint64
	RTT     time.Duration
}
