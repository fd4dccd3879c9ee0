package signaling

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/BioHazard786/Warpcall/internal/metrics"
)

const (
	defaultName       = "Guest"
	maxNameLength     = 64
	defaultSendBuffer = 256
)

// Options tunes the hub. Zero values fall back to the defaults below.
type Options struct {
	// MaxParticipants caps a room. Zero means unlimited.
	MaxParticipants int

	// AutoCreateRooms makes join_room create a room that does not exist yet.
	AutoCreateRooms bool

	// MaxChatLength caps chat text, in runes.
	MaxChatLength int

	// MessageRate and MessageBurst configure the per-connection inbound token
	// bucket. A zero rate disables limiting.
	MessageRate  float64
	MessageBurst int

	// SendBuffer is the outbound mailbox size per participant.
	SendBuffer int
}

// DefaultOptions returns the limits the server runs with when nothing is configured.
func DefaultOptions() Options {
	return Options{
		MaxParticipants: 8,
		AutoCreateRooms: true,
		MaxChatLength:   2000,
		MessageRate:     50,
		MessageBurst:    100,
		SendBuffer:      defaultSendBuffer,
	}
}

// Hub is the central brain of the signaling server.
// It manages all active rooms and participants from a single goroutine.
type Hub struct {
	opts    Options
	log     *slog.Logger
	metrics *metrics.Metrics

	// rooms maps room IDs to Room instances.
	rooms map[string]*Room

	// participants holds every registered connection, joined or not.
	participants map[*Participant]bool

	register   chan *Participant
	unregister chan *Participant
	inbound    chan *Message
	snapshots  chan chan []RoomSnapshot

	// done is closed when Run returns.
	done chan struct{}

	now       func() time.Time
	newRoomID func(taken func(string) bool) string
}

// NewHub creates a new Hub instance. m may be nil.
func NewHub(opts Options, logger *slog.Logger, m *metrics.Metrics) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.MaxChatLength <= 0 {
		opts.MaxChatLength = DefaultOptions().MaxChatLength
	}
	if opts.MessageBurst <= 0 {
		opts.MessageBurst = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		opts:         opts,
		log:          logger.With("component", "hub"),
		metrics:      m,
		rooms:        make(map[string]*Room),
		participants: make(map[*Participant]bool),
		register:     make(chan *Participant),
		unregister:   make(chan *Participant),
		inbound:      make(chan *Message),
		snapshots:    make(chan chan []RoomSnapshot),
		done:         make(chan struct{}),
		now:          time.Now,
		newRoomID:    generateRoomID,
	}
}

// Register attaches p to the hub. It returns false once the hub has stopped.
func (h *Hub) Register(p *Participant) bool {
	select {
	case h.register <- p:
		return true
	case <-h.done:
		return false
	}
}

// Unregister detaches p, removing it from its room. Safe to call more than once.
func (h *Hub) Unregister(p *Participant) {
	select {
	case h.unregister <- p:
	case <-h.done:
	}
}

func (h *Hub) submit(msg *Message) bool {
	select {
	case h.inbound <- msg:
		return true
	case <-h.done:
		return false
	}
}

// Snapshot returns a copy of every room, in no particular order.
func (h *Hub) Snapshot(ctx context.Context) ([]RoomSnapshot, error) {
	reply := make(chan []RoomSnapshot, 1)
	select {
	case h.snapshots <- reply:
	case <-h.done:
		return nil, ErrHubStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case rooms := <-reply:
		return rooms, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed after Run returns.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Run starts the hub's main processing loop. It returns when ctx is cancelled,
// after closing every participant's mailbox.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for p := range h.participants {
				close(p.Send)
			}
			h.participants = map[*Participant]bool{}
			h.rooms = map[string]*Room{}
			h.updateGauges()
			h.log.Info("hub stopped")
			return

		case p := <-h.register:
			h.participants[p] = true
			h.metrics.IncConnections()
			h.log.Debug("participant registered", "participant_id", p.ID, "remote_addr", p.RemoteAddr)

		case p := <-h.unregister:
			h.drop(p)

		case reply := <-h.snapshots:
			out := make([]RoomSnapshot, 0, len(h.rooms))
			for _, room := range h.rooms {
				out = append(out, room.snapshot())
			}
			reply <- out

		case msg := <-h.inbound:
			h.handle(msg)
		}
	}
}

func (h *Hub) handle(msg *Message) {
	p := msg.participant
	if !h.participants[p] {
		// Dropped between read and dispatch.
		return
	}

	switch msg.Type {
	case MessageTypeCreateRoom:
		h.handleCreateRoom(p, msg)
	case MessageTypeJoinRoom:
		h.handleJoinRoom(p, msg)
	case MessageTypeLeaveRoom:
		h.leaveRoom(p)
	case MessageTypeOffer, MessageTypeAnswer, MessageTypeICECandidate:
		h.handleRelay(p, msg)
	case MessageTypeMediaState:
		h.handleMediaState(p, msg)
	case MessageTypeChat:
		h.handleChat(p, msg)
	case MessageTypePing:
		h.deliver(p, &Message{Type: MessageTypePong})
	default:
		h.log.Debug("unknown message type", "participant_id", p.ID, "type", msg.Type)
		h.deliver(p, newErrorMessage(ErrTextUnknownType))
	}
}

func (h *Hub) handleCreateRoom(p *Participant, msg *Message) {
	if p.roomID != "" {
		h.deliver(p, newErrorMessage(ErrTextAlreadyInRoom))
		return
	}

	roomID := h.newRoomID(func(id string) bool {
		_, ok := h.rooms[id]
		return ok
	})
	room := newRoom(roomID, h.now())
	h.rooms[roomID] = room
	h.enterRoom(p, room, msg)

	h.log.Info("room created", "room_id", roomID, "participant_id", p.ID, "client_type", p.clientType)

	h.deliver(p, &Message{
		Type:   MessageTypeRoomCreated,
		RoomID: roomID,
		From:   p.ID,
		Payload: mustPayload(RoomJoinedPayload{
			Participant:  p.info(),
			Participants: []ParticipantInfo{},
		}),
	})
}

func (h *Hub) handleJoinRoom(p *Participant, msg *Message) {
	roomID := strings.TrimSpace(msg.RoomID)
	if !ValidRoomID(roomID) {
		h.deliver(p, newErrorMessage(ErrTextInvalidRoomID))
		return
	}
	if p.roomID != "" {
		h.deliver(p, newErrorMessage(ErrTextAlreadyInRoom))
		return
	}

	room, ok := h.rooms[roomID]
	if !ok {
		if !h.opts.AutoCreateRooms {
			h.log.Debug("room join failed", "room_id", roomID, "reason", ErrTextRoomNotFound)
			h.deliver(p, newErrorMessage(ErrTextRoomNotFound))
			return
		}
		room = newRoom(roomID, h.now())
		h.rooms[roomID] = room
		h.log.Info("room created", "room_id", roomID, "participant_id", p.ID)
	}

	if h.opts.MaxParticipants > 0 && room.Len() >= h.opts.MaxParticipants {
		h.log.Debug("room join failed", "room_id", roomID, "reason", ErrTextRoomFull)
		h.deliver(p, newErrorMessage(ErrTextRoomFull))
		return
	}

	h.enterRoom(p, room, msg)
	h.log.Info("participant joined", "room_id", roomID, "participant_id", p.ID, "client_type", p.clientType, "participants", room.Len())

	h.deliver(p, &Message{
		Type:   MessageTypeJoinSuccess,
		RoomID: roomID,
		From:   p.ID,
		Payload: mustPayload(RoomJoinedPayload{
			Participant:  p.info(),
			Participants: room.infos(p.ID),
		}),
	})

	if !h.participants[p] {
		return
	}
	joined := mustPayload(p.info())
	h.broadcast(room, p.ID, &Message{
		Type:    MessageTypePeerJoined,
		RoomID:  roomID,
		From:    p.ID,
		Payload: joined,
	})
}

func (h *Hub) enterRoom(p *Participant, room *Room, msg *Message) {
	p.name = normalizeName(msg.Name)
	p.clientType = normalizeClientType(msg.ClientType)
	p.media = MediaState{}
	p.joinedAt = h.now()
	p.roomID = room.ID
	room.add(p)
	h.updateGauges()
}

// handleRelay forwards an offer, answer or ICE candidate to a single named
// participant of the sender's room. The payload is passed through untouched.
func (h *Hub) handleRelay(p *Participant, msg *Message) {
	room := h.roomOf(p)
	if room == nil {
		h.deliver(p, newErrorMessage(ErrTextNotInRoom))
		return
	}

	target := room.get(msg.To)
	if target == nil || target == p {
		h.metrics.IncDropped(metrics.DropReasonNoTarget)
		h.log.Debug("relay failed", "room_id", room.ID, "participant_id", p.ID, "to", msg.To, "type", msg.Type)
		h.deliver(p, newErrorMessage(ErrTextPeerNotFound))
		return
	}

	h.log.Debug("relaying signal", "room_id", room.ID, "type", msg.Type, "from", p.ID, "to", target.ID)
	h.deliver(target, &Message{
		Type:    msg.Type,
		RoomID:  room.ID,
		From:    p.ID,
		To:      target.ID,
		Payload: msg.Payload,
	})
}

func (h *Hub) handleMediaState(p *Participant, msg *Message) {
	room := h.roomOf(p)
	if room == nil {
		h.deliver(p, newErrorMessage(ErrTextNotInRoom))
		return
	}

	var state MediaState
	if err := json.Unmarshal(msg.Payload, &state); err != nil {
		h.deliver(p, newErrorMessage(ErrTextInvalidPayload))
		return
	}
	p.media = state

	h.broadcast(room, p.ID, &Message{
		Type:    MessageTypePeerUpdated,
		RoomID:  room.ID,
		From:    p.ID,
		Payload: mustPayload(p.info()),
	})
}

func (h *Hub) handleChat(p *Participant, msg *Message) {
	room := h.roomOf(p)
	if room == nil {
		h.deliver(p, newErrorMessage(ErrTextNotInRoom))
		return
	}

	var chat ChatPayload
	if err := json.Unmarshal(msg.Payload, &chat); err != nil {
		h.deliver(p, newErrorMessage(ErrTextInvalidPayload))
		return
	}
	text := truncateRunes(strings.TrimSpace(chat.Text), h.opts.MaxChatLength)
	if text == "" {
		return
	}

	out := &Message{
		Type:    MessageTypeChat,
		RoomID:  room.ID,
		From:    p.ID,
		Name:    p.name,
		Payload: mustPayload(ChatPayload{Text: text, SentAt: h.now().UTC()}),
	}
	h.broadcast(room, "", out)
}

// leaveRoom removes p from its room and tells the others. Empty rooms are deleted.
func (h *Hub) leaveRoom(p *Participant) {
	room := h.roomOf(p)
	p.roomID = ""
	if room == nil {
		return
	}

	room.remove(p.ID)
	if room.Len() == 0 {
		delete(h.rooms, room.ID)
		h.log.Info("room deleted", "room_id", room.ID)
	} else {
		h.log.Info("participant left", "room_id", room.ID, "participant_id", p.ID, "participants", room.Len())
		h.broadcast(room, p.ID, &Message{
			Type:   MessageTypePeerLeft,
			RoomID: room.ID,
			From:   p.ID,
		})
	}
	h.updateGauges()
}

// drop removes p from the hub entirely and closes its mailbox, which stops
// its WritePump and in turn the connection.
func (h *Hub) drop(p *Participant) {
	if !h.participants[p] {
		return
	}
	delete(h.participants, p)
	h.leaveRoom(p)
	close(p.Send)
	h.log.Debug("participant unregistered", "participant_id", p.ID, "remote_addr", p.RemoteAddr)
}

// deliver queues msg for p without blocking the hub. A participant whose
// mailbox is full is disconnected.
func (h *Hub) deliver(p *Participant, msg *Message) {
	if !h.participants[p] {
		return
	}
	select {
	case p.Send <- msg:
		h.metrics.IncRelayed(msg.Type)
	default:
		h.metrics.IncDropped(metrics.DropReasonSlowConsumer)
		h.log.Warn("participant too slow, disconnecting", "participant_id", p.ID, "remote_addr", p.RemoteAddr)
		h.drop(p)
	}
}

// broadcast delivers msg to every participant of room except exclude.
func (h *Hub) broadcast(room *Room, exclude string, msg *Message) {
	for _, other := range room.others(exclude) {
		h.deliver(other, msg)
	}
}

func (h *Hub) roomOf(p *Participant) *Room {
	if p.roomID == "" {
		return nil
	}
	return h.rooms[p.roomID]
}

func (h *Hub) updateGauges() {
	total := 0
	for _, room := range h.rooms {
		total += room.Len()
	}
	h.metrics.SetRooms(len(h.rooms))
	h.metrics.SetParticipants(total)
}

func normalizeName(name string) string {
	name = truncateRunes(strings.TrimSpace(name), maxNameLength)
	if name == "" {
		return defaultName
	}
	return name
}

func normalizeClientType(t string) string {
	if t == ClientTypeCLI {
		return ClientTypeCLI
	}
	return ClientTypeWeb
}

func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
