package call

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/Warpcall/internal/signaling"
)

// Peer is our side of the PeerConnection to one remote participant.
type Peer struct {
	ID string
	pc *webrtc.PeerConnection

	mu          sync.Mutex
	info        signaling.ParticipantInfo
	chat        *webrtc.DataChannel
	pending     []webrtc.ICECandidateInit
	remoteSet   bool
	state       webrtc.PeerConnectionState
	connectedAt time.Time
	closedAt    time.Time
	rtt         time.Duration

	tracks  atomic.Int32
	packets atomic.Uint64
	bytes   atomic.Uint64
	closed  atomic.Bool
}

// Info returns the participant as last announced by the server.
func (p *Peer) Info() signaling.ParticipantInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info
}

func (p *Peer) setInfo(info signaling.ParticipantInfo) {
	p.mu.Lock()
	p.info = info
	p.mu.Unlock()
}

// State returns the current PeerConnection state.
func (p *Peer) State() webrtc.PeerConnectionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Peer) setState(state webrtc.PeerConnectionState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
	if state == webrtc.PeerConnectionStateConnected && p.connectedAt.IsZero() {
		p.connectedAt = time.Now()
	}
}

func (p *Peer) setRTT(rtt time.Duration) {
	p.mu.Lock()
	p.rtt = rtt
	p.mu.Unlock()
}

func (p *Peer) setChat(dc *webrtc.DataChannel) {
	p.mu.Lock()
	p.chat = dc
	p.mu.Unlock()
}

// chatChannel returns the chat channel if it is open.
func (p *Peer) chatChannel() *webrtc.DataChannel {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.chat == nil || p.chat.ReadyState() != webrtc.DataChannelStateOpen {
		return nil
	}
	return p.chat
}

// addRecvTransceivers lets the remote side send us audio and video without
// us having any media of our own.
func (p *Peer) addRecvTransceivers() error {
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := p.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return NewPeerError("add "+kind.String()+" transceiver", p.ID, err)
		}
	}
	return nil
}

// consume drains a remote track, counting RTP packets and bytes.
func (p *Peer) consume(track *webrtc.TrackRemote) {
	p.tracks.Add(1)
	buf := make([]byte, 1500)
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			return
		}
		p.packets.Add(1)
		p.bytes.Add(uint64(n))
	}
}

func (p *Peer) createOffer() (*webrtc.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return nil, NewPeerError("create offer", p.ID, err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return nil, NewPeerError("set local description", p.ID, err)
	}
	return p.pc.LocalDescription(), nil
}

func (p *Peer) createAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := p.setRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return nil, NewPeerError("create answer", p.ID, err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return nil, NewPeerError("set local description", p.ID, err)
	}
	return p.pc.LocalDescription(), nil
}

// setRemoteDescription applies desc and flushes candidates that arrived early.
func (p *Peer) setRemoteDescription(desc webrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return NewPeerError("set remote description", p.ID, err)
	}

	p.mu.Lock()
	p.remoteSet = true
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, c := range pending {
		if err := p.pc.AddICECandidate(c); err != nil {
			return NewPeerError("add ICE candidate", p.ID, err)
		}
	}
	return nil
}

// addCandidate applies a trickled candidate, queueing it until the remote
// description is known.
func (p *Peer) addCandidate(raw any) error {
	if raw == nil {
		return nil
	}

	b, err := json.Marshal(raw)
	if err != nil {
		return NewPeerError("parse ICE candidate", p.ID, err)
	}
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(b, &init); err != nil {
		return NewPeerError("parse ICE candidate", p.ID, err)
	}

	p.mu.Lock()
	if !p.remoteSet {
		p.pending = append(p.pending, init)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := p.pc.AddICECandidate(init); err != nil {
		return NewPeerError("add ICE candidate", p.ID, err)
	}
	return nil
}

func (p *Peer) pendingCandidates() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func (p *Peer) close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.mu.Lock()
	p.closedAt = time.Now()
	p.mu.Unlock()
	p.pc.Close()
}

// summary snapshots the peer's counters.
func (p *Peer) summary() PeerSummary {
	p.mu.Lock()
	defer p.mu.Unlock()

	var connected time.Duration
	if !p.connectedAt.IsZero() {
		end := p.closedAt
		if end.IsZero() {
			end = time.Now()
		}
		connected = end.Sub(p.connectedAt)
	}
	return PeerSummary{
		ID:         p.ID,
		Name:       p.info.Name,
		ClientType: p.info.ClientType,
		State:      p.state.String(),
		Tracks:     int(p.tracks.Load()),
		Packets:    p.packets.Load(),
		Bytes:      p.bytes.Load(),
		RTT:        p.rtt,
		Connected:  connected,
	}
}
