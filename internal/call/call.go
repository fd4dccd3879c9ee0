// Package call runs a headless participant in a mesh room: one pion
// PeerConnection per remote participant, negotiated through the relay.
package call

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/Warpcall/internal/signaling"
	"github.com/BioHazard786/Warpcall/internal/signaling/client"
)

const (
	defaultJoinTimeout = 15 * time.Second
	pingInterval       = 5 * time.Second
	eventBuffer        = 256
)

// Signaler is the subset of the signaling client a call needs.
type Signaler interface {
	CreateRoom(name string) error
	JoinRoom(roomID, name string) error
	LeaveRoom() error
	SendSignal(msgType, to string, payload signaling.SignalPayload) error
	SendChat(text string) error
}

// Options configure a call.
type Options struct {
	// RoomID to join; empty creates a new room.
	RoomID string
	Name   string

	ICEServers         []webrtc.ICEServer
	ICETransportPolicy webrtc.ICETransportPolicy

	// API overrides the pion API, mainly for setting engine tweaks.
	API *webrtc.API

	JoinTimeout time.Duration
	Logger      *slog.Logger
}

// Call is a joined room and the peer connections inside it.
type Call struct {
	sig    Signaler
	events *client.Handler
	opts   Options
	log    *slog.Logger

	out      chan Event
	emitMu   sync.Mutex
	outEnded bool

	mu           sync.Mutex
	roomID       string
	self         signaling.ParticipantInfo
	peers        map[string]*Peer
	order        []string
	departed     []PeerSummary
	started      time.Time
	ended        time.Time
	chatSent     int
	chatReceived int
}

// New prepares a call. Nothing is sent until Run.
func New(sig Signaler, events *client.Handler, opts Options) *Call {
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = defaultJoinTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Call{
		sig:    sig,
		events: events,
		opts:   opts,
		log:    opts.Logger,
		out:    make(chan Event, eventBuffer),
		peers:  make(map[string]*Peer),
	}
}

// Events streams what happens in the call. It is closed when Run returns.
func (c *Call) Events() <-chan Event {
	return c.out
}

// RoomID returns the joined room, empty before the join completes.
func (c *Call) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// Run joins the room and negotiates with every participant until ctx is
// cancelled or the signaling connection drops. It hangs up before returning.
func (c *Call) Run(ctx context.Context) error {
	defer c.closeEvents()

	if err := c.join(ctx); err != nil {
		return err
	}
	defer c.hangup()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-c.events.Disconnected():
			return NewError("signaling", ErrSignalingClosed)

		case info := <-c.events.PeerJoined:
			c.onPeerJoined(info)

		case id := <-c.events.PeerLeft:
			c.onPeerLeft(id)

		case info := <-c.events.PeerUpdated:
			c.onPeerUpdated(info)

		case sig := <-c.events.Signal:
			if err := c.onSignal(sig); err != nil {
				c.log.Debug("signal failed", "from", sig.From, "type", sig.Type, "error", err)
				c.emit(Event{Kind: EventError, Err: err})
			}

		case chat := <-c.events.Chat:
			c.onRelayChat(chat)

		case msg := <-c.events.Error:
			c.emit(Event{Kind: EventError, Err: WrapError("signaling", ErrSignalingError, msg)})
		}
	}
}

func (c *Call) join(ctx context.Context) error {
	var err error
	if c.opts.RoomID == "" {
		err = c.sig.CreateRoom(c.opts.Name)
	} else {
		err = c.sig.JoinRoom(c.opts.RoomID, c.opts.Name)
	}
	if err != nil {
		return NewError("join room", err)
	}

	timeout := time.NewTimer(c.opts.JoinTimeout)
	defer timeout.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout.C:
		return WrapError("join room", context.DeadlineExceeded, "no reply from server")
	case <-c.events.Disconnected():
		return NewError("join room", ErrSignalingClosed)
	case msg := <-c.events.Error:
		return WrapError("join room", ErrJoinRejected, msg)
	case joined := <-c.events.Joined:
		return c.onJoined(joined)
	}
}

// onJoined records the roster and, as the newcomer, offers to everyone
// already in the room.
func (c *Call) onJoined(joined *client.Joined) error {
	c.mu.Lock()
	c.roomID = joined.RoomID
	c.self = joined.Self
	c.started = time.Now()
	c.mu.Unlock()

	c.log.Info("joined room", "room_id", joined.RoomID, "participant_id", joined.Self.ID, "participants", len(joined.Participants))
	c.emit(Event{Kind: EventJoined, RoomID: joined.RoomID, Peer: joined.Self, Created: joined.Created})

	for _, info := range joined.Participants {
		peer, err := c.addPeer(info, true)
		if err != nil {
			c.emit(Event{Kind: EventError, Err: err})
			continue
		}
		c.emit(Event{Kind: EventPeerJoined, Peer: info})

		offer, err := peer.createOffer()
		if err != nil {
			c.emit(Event{Kind: EventError, Err: err})
			continue
		}
		if err := c.sig.SendSignal(signaling.MessageTypeOffer, info.ID, signaling.SignalPayload{
			Type: offer.Type.String(),
			SDP:  offer.SDP,
		}); err != nil {
			return NewPeerError("send offer", info.ID, err)
		}
	}
	return nil
}

func (c *Call) onPeerJoined(info signaling.ParticipantInfo) {
	if _, err := c.addPeer(info, false); err != nil {
		c.emit(Event{Kind: EventError, Err: err})
		return
	}
	c.emit(Event{Kind: EventPeerJoined, Peer: info})
}

func (c *Call) onPeerLeft(id string) {
	c.mu.Lock()
	peer := c.peers[id]
	if peer != nil {
		delete(c.peers, id)
		c.order = removeID(c.order, id)
	}
	c.mu.Unlock()
	if peer == nil {
		return
	}

	peer.close()
	c.mu.Lock()
	c.departed = append(c.departed, peer.summary())
	c.mu.Unlock()
	c.emit(Event{Kind: EventPeerLeft, Peer: peer.Info()})
}

func (c *Call) onPeerUpdated(info signaling.ParticipantInfo) {
	c.mu.Lock()
	peer := c.peers[info.ID]
	c.mu.Unlock()
	if peer == nil {
		return
	}
	peer.setInfo(info)
	c.emit(Event{Kind: EventPeerUpdated, Peer: info})
}

func (c *Call) onSignal(sig *client.Signal) error {
	c.mu.Lock()
	peer := c.peers[sig.From]
	c.mu.Unlock()

	if peer == nil {
		if sig.Type != signaling.MessageTypeOffer {
			return NewPeerError("handle "+sig.Type, sig.From, ErrUnknownPeer)
		}
		// An offer can outrun peer_joined only if the server reordered; accept it.
		var err error
		peer, err = c.addPeer(signaling.ParticipantInfo{ID: sig.From}, false)
		if err != nil {
			return err
		}
	}

	switch sig.Type {
	case signaling.MessageTypeOffer:
		answer, err := peer.createAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sig.Payload.SDP})
		if err != nil {
			return err
		}
		if err := c.sig.SendSignal(signaling.MessageTypeAnswer, peer.ID, signaling.SignalPayload{
			Type: answer.Type.String(),
			SDP:  answer.SDP,
		}); err != nil {
			return NewPeerError("send answer", peer.ID, err)
		}
		return nil

	case signaling.MessageTypeAnswer:
		return peer.setRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sig.Payload.SDP})

	case signaling.MessageTypeICECandidate:
		return peer.addCandidate(sig.Payload.ICECandidate)
	}
	return WrapError("handle signal", ErrUnexpectedSignal, sig.Type)
}

// addPeer creates the PeerConnection for a remote participant. The offering
// side adds receive transceivers and, towards other CLI participants, the
// chat data channel.
func (c *Call) addPeer(info signaling.ParticipantInfo, offerer bool) (*Peer, error) {
	c.mu.Lock()
	if existing := c.peers[info.ID]; existing != nil {
		c.mu.Unlock()
		existing.setInfo(info)
		return existing, nil
	}
	c.mu.Unlock()

	pc, err := c.newPeerConnection()
	if err != nil {
		return nil, NewPeerError("create peer connection", info.ID, err)
	}
	peer := &Peer{ID: info.ID, pc: pc, info: info, state: webrtc.PeerConnectionStateNew}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		if err := c.sig.SendSignal(signaling.MessageTypeICECandidate, peer.ID, signaling.SignalPayload{
			ICECandidate: cand.ToJSON(),
		}); err != nil {
			c.log.Debug("send ICE candidate failed", "to", peer.ID, "error", err)
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		peer.setState(state)
		c.log.Debug("peer connection state", "peer", peer.ID, "state", state.String())
		c.emit(Event{Kind: EventPeerState, Peer: peer.Info(), State: state})
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.log.Debug("remote track", "peer", peer.ID, "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		go peer.consume(track)
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() == ChatChannelLabel {
			c.attachChat(peer, dc)
		}
	})

	if offerer {
		if err := peer.addRecvTransceivers(); err != nil {
			pc.Close()
			return nil, err
		}
		if info.ClientType == signaling.ClientTypeCLI {
			dc, err := pc.CreateDataChannel(ChatChannelLabel, nil)
			if err != nil {
				pc.Close()
				return nil, NewPeerError("create data channel", info.ID, err)
			}
			c.attachChat(peer, dc)
		}
	}

	c.mu.Lock()
	c.peers[info.ID] = peer
	c.order = append(c.order, info.ID)
	c.mu.Unlock()
	return peer, nil
}

func (c *Call) newPeerConnection() (*webrtc.PeerConnection, error) {
	cfg := webrtc.Configuration{
		ICEServers:         c.opts.ICEServers,
		ICETransportPolicy: c.opts.ICETransportPolicy,
	}
	if c.opts.API != nil {
		return c.opts.API.NewPeerConnection(cfg)
	}
	return webrtc.NewPeerConnection(cfg)
}

// attachChat wires the msgpack chat protocol onto dc.
func (c *Call) attachChat(peer *Peer, dc *webrtc.DataChannel) {
	peer.setChat(dc)

	dc.OnOpen(func() {
		c.log.Debug("chat channel open", "peer", peer.ID)
		c.ping(peer)
	})
	dc.OnMessage(func(raw webrtc.DataChannelMessage) {
		msg, err := DecodeMessage(raw.Data)
		if err != nil {
			c.log.Debug("bad data channel message", "peer", peer.ID, "error", err)
			return
		}
		c.onDataMessage(peer, dc, msg)
	})
}

func (c *Call) onDataMessage(peer *Peer, dc *webrtc.DataChannel, msg Message) {
	switch msg.Type {
	case MessageTypeChat:
		var chat ChatPayload
		if err := msg.DecodePayload(&chat); err != nil || strings.TrimSpace(chat.Text) == "" {
			return
		}
		name := chat.Name
		if name == "" {
			name = peer.Info().Name
		}
		c.mu.Lock()
		c.chatReceived++
		c.mu.Unlock()
		c.emit(Event{Kind: EventChat, Peer: peer.Info(), Chat: &ChatLine{
			From:   peer.ID,
			Name:   name,
			Text:   truncate(chat.Text, maxChatRunes),
			SentAt: unixMilli(chat.SentAt),
			Direct: true,
		}})

	case MessageTypePing:
		var ping PingPayload
		if err := msg.DecodePayload(&ping); err != nil {
			return
		}
		if data, err := EncodeMessage(MessageTypePong, ping); err == nil {
			dc.Send(data)
		}

	case MessageTypePong:
		var pong PingPayload
		if err := msg.DecodePayload(&pong); err != nil || pong.SentAt == 0 {
			return
		}
		peer.setRTT(time.Since(time.UnixMilli(pong.SentAt)))
		time.AfterFunc(pingInterval, func() { c.ping(peer) })
	}
}

func (c *Call) ping(peer *Peer) {
	if peer.closed.Load() {
		return
	}
	dc := peer.chatChannel()
	if dc == nil {
		return
	}
	if data, err := EncodeMessage(MessageTypePing, PingPayload{SentAt: time.Now().UnixMilli()}); err == nil {
		dc.Send(data)
	}
}

// SendChat posts text to the room. When every peer is a CLI participant with
// an open chat channel the text goes peer to peer; otherwise it goes through
// the relay so browsers see it too.
func (c *Call) SendChat(text string) error {
	text = truncate(strings.TrimSpace(text), maxChatRunes)
	if text == "" {
		return ErrEmptyChat
	}

	c.mu.Lock()
	self := c.self
	targets := make([]chatTarget, 0, len(c.peers))
	direct := len(c.peers) > 0
	for _, id := range c.order {
		peer := c.peers[id]
		dc := peer.chatChannel()
		if dc == nil || peer.Info().ClientType != signaling.ClientTypeCLI {
			direct = false
			break
		}
		targets = append(targets, chatTarget{peer: id, dc: dc})
	}
	c.mu.Unlock()

	if !direct {
		// The relay echoes the line back to us.
		if err := c.sig.SendChat(text); err != nil {
			return NewError("send chat", err)
		}
		c.countSent()
		return nil
	}

	now := time.Now()
	data, err := EncodeMessage(MessageTypeChat, ChatPayload{Name: self.Name, Text: text, SentAt: now.UnixMilli()})
	if err != nil {
		return NewError("encode chat", err)
	}
	if err := sendChatFrames(targets, data); err != nil {
		return err
	}
	c.countSent()
	c.emit(Event{Kind: EventChat, Peer: self, Chat: &ChatLine{
		From: self.ID, Name: self.Name, Text: text, SentAt: now, Direct: true, Self: true,
	}})
	return nil
}

type chatTarget struct {
	peer string
	dc   *webrtc.DataChannel
}

// sendChatFrames writes data to every target. A channel that closed since it
// was picked fails with ErrChannelNotOpen.
func sendChatFrames(targets []chatTarget, data []byte) error {
	for _, t := range targets {
		if t.dc.ReadyState() != webrtc.DataChannelStateOpen {
			return NewPeerError("send chat", t.peer, ErrChannelNotOpen)
		}
		if err := t.dc.Send(data); err != nil {
			return NewPeerError("send chat", t.peer, err)
		}
	}
	return nil
}

func (c *Call) countSent() {
	c.mu.Lock()
	c.chatSent++
	c.mu.Unlock()
}

func (c *Call) onRelayChat(chat *client.Chat) {
	c.mu.Lock()
	self := c.self.ID == chat.From
	if !self {
		c.chatReceived++
	}
	c.mu.Unlock()

	c.emit(Event{Kind: EventChat, Chat: &ChatLine{
		From:   chat.From,
		Name:   chat.Name,
		Text:   chat.Text,
		SentAt: chat.SentAt,
		Self:   self,
	}})
}

// Roster lists ourselves followed by the remote participants in join order.
func (c *Call) Roster() []RosterEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]RosterEntry, 0, len(c.order)+1)
	if c.self.ID != "" {
		out = append(out, RosterEntry{Info: c.self, Self: true})
	}
	for _, id := range c.order {
		peer := c.peers[id]
		s := peer.summary()
		out = append(out, RosterEntry{
			Info:    peer.Info(),
			State:   peer.State(),
			Packets: s.Packets,
			RTT:     s.RTT,
		})
	}
	return out
}

// Summary reports every peer seen during the call, including those that left.
func (c *Call) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	end := c.ended
	if end.IsZero() {
		end = time.Now()
	}
	s := Summary{
		RoomID:       c.roomID,
		ChatSent:     c.chatSent,
		ChatReceived: c.chatReceived,
		Peers:        append([]PeerSummary(nil), c.departed...),
	}
	if !c.started.IsZero() {
		s.Duration = end.Sub(c.started)
	}
	for _, id := range c.order {
		s.Peers = append(s.Peers, c.peers[id].summary())
	}
	return s
}

// hangup closes every peer connection and leaves the room.
func (c *Call) hangup() {
	c.mu.Lock()
	peers := make([]*Peer, 0, len(c.order))
	for _, id := range c.order {
		peers = append(peers, c.peers[id])
	}
	c.ended = time.Now()
	c.mu.Unlock()

	for _, p := range peers {
		p.close()
	}
	if err := c.sig.LeaveRoom(); err != nil {
		c.log.Debug("leave room", "error", err)
	}
}

func (c *Call) emit(ev Event) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	if c.outEnded {
		return
	}
	select {
	case c.out <- ev:
	default:
		c.log.Warn("call event dropped", "kind", ev.Kind.String())
	}
}

func (c *Call) closeEvents() {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	if !c.outEnded {
		c.outEnded = true
		close(c.out)
	}
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
