package client

import (
	"encoding/json"
	"time"

	"github.com/BioHazard786/Warpcall/internal/signaling"
)

// Joined is delivered after room_created or join_success.
type Joined struct {
	RoomID       string
	Created      bool
	Self         signaling.ParticipantInfo
	Participants []signaling.ParticipantInfo
}

// Signal is a relayed offer, answer or ICE candidate.
type Signal struct {
	Type    string
	From    string
	Payload signaling.SignalPayload
}

// Chat is a room chat line.
type Chat struct {
	From   string
	Name   string
	Text   string
	SentAt time.Time
}

// Handler routes incoming signaling messages to appropriate channels.
type Handler struct {
	client      *Client
	Joined      chan *Joined
	PeerJoined  chan signaling.ParticipantInfo
	PeerLeft    chan string
	PeerUpdated chan signaling.ParticipantInfo
	Signal      chan *Signal
	Chat        chan *Chat
	Error       chan string

	disconnected chan struct{}
}

// NewHandler creates a new message handler.
func NewHandler(client *Client) *Handler {
	return &Handler{
		client:       client,
		Joined:       make(chan *Joined, 1),
		PeerJoined:   make(chan signaling.ParticipantInfo, 16),
		PeerLeft:     make(chan string, 16),
		PeerUpdated:  make(chan signaling.ParticipantInfo, 16),
		Signal:       make(chan *Signal, 64),
		Chat:         make(chan *Chat, 32),
		Error:        make(chan string, 4),
		disconnected: make(chan struct{}),
	}
}

// Disconnected is closed once the connection ends and Start returns.
func (h *Handler) Disconnected() <-chan struct{} {
	return h.disconnected
}

// Start routes incoming messages until the connection closes.
func (h *Handler) Start() {
	defer close(h.disconnected)

	for msg := range h.client.Incoming() {
		switch msg.Type {
		case signaling.MessageTypeRoomCreated, signaling.MessageTypeJoinSuccess:
			h.handleJoined(msg)

		case signaling.MessageTypePeerJoined:
			if info, ok := decode[signaling.ParticipantInfo](msg.Payload); ok {
				h.PeerJoined <- info
			}

		case signaling.MessageTypePeerLeft:
			h.PeerLeft <- msg.From

		case signaling.MessageTypePeerUpdated:
			if info, ok := decode[signaling.ParticipantInfo](msg.Payload); ok {
				h.PeerUpdated <- info
			}

		case signaling.MessageTypeOffer, signaling.MessageTypeAnswer, signaling.MessageTypeICECandidate:
			h.handleSignal(msg)

		case signaling.MessageTypeChat:
			if chat, ok := decode[signaling.ChatPayload](msg.Payload); ok {
				h.Chat <- &Chat{From: msg.From, Name: msg.Name, Text: chat.Text, SentAt: chat.SentAt}
			}

		case signaling.MessageTypeError:
			h.handleError(msg)

		default:
		}
	}
}

func (h *Handler) handleJoined(msg *signaling.Message) {
	payload, ok := decode[signaling.RoomJoinedPayload](msg.Payload)
	if !ok {
		h.Error <- "Failed to parse join payload"
		return
	}
	h.Joined <- &Joined{
		RoomID:       msg.RoomID,
		Created:      msg.Type == signaling.MessageTypeRoomCreated,
		Self:         payload.Participant,
		Participants: payload.Participants,
	}
}

// handleSignal parses the WebRTC signaling payload and sends it.
func (h *Handler) handleSignal(msg *signaling.Message) {
	payload, ok := decode[signaling.SignalPayload](msg.Payload)
	if !ok {
		h.Error <- "Failed to parse signal payload"
		return
	}
	h.Signal <- &Signal{Type: msg.Type, From: msg.From, Payload: payload}
}

// handleError parses the error message and sends it through the Error channel.
func (h *Handler) handleError(msg *signaling.Message) {
	payload, ok := decode[signaling.ErrorPayload](msg.Payload)
	if !ok || payload.Error == "" {
		h.Error <- "Unknown error from server"
		return
	}
	h.Error <- payload.Error
}

func decode[T any](raw json.RawMessage) (T, bool) {
	var v T
	if len(raw) == 0 {
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false
	}
	return v, true
}
