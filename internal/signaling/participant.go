package signaling

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/BioHazard786/Warpcall/internal/metrics"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// MaxMessageSize is the largest message accepted from a peer.
	// 64 KB is enough for WebRTC SDP messages.
	MaxMessageSize = 64 * 1024
)

// Participant is a wrapper for a single websocket connection (one browser tab
// or CLI instance) attached to the hub.
type Participant struct {
	// ID is assigned on connect and used as the relay address of this participant.
	ID string

	// Hub is the hub that manages this participant.
	Hub *Hub

	// Conn is the websocket connection. It may be nil for participants
	// driven directly through the hub (tests).
	Conn *websocket.Conn

	// RemoteAddr is used for logging only.
	RemoteAddr string

	// Send is a buffered channel for all outbound messages.
	// The hub writes to it and WritePump drains it to the websocket.
	Send chan *Message

	limiter *rate.Limiter

	// Fields below are owned by the hub goroutine.
	roomID     string
	name       string
	clientType string
	media      MediaState
	joinedAt   time.Time
}

// NewParticipant creates a participant for conn using the hub's limits.
func NewParticipant(hub *Hub, conn *websocket.Conn, remoteAddr string) *Participant {
	p := &Participant{
		ID:         uuid.NewString(),
		Hub:        hub,
		Conn:       conn,
		RemoteAddr: remoteAddr,
		Send:       make(chan *Message, hub.opts.SendBuffer),
	}
	if hub.opts.MessageRate > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(hub.opts.MessageRate), hub.opts.MessageBurst)
	}
	return p
}

func (p *Participant) info() ParticipantInfo {
	return ParticipantInfo{
		ID:         p.ID,
		Name:       p.name,
		ClientType: p.clientType,
		Media:      p.media,
		JoinedAt:   p.joinedAt,
	}
}

// ReadPump pumps messages from the websocket connection to the hub.
//
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (p *Participant) ReadPump() {
	defer func() {
		p.Hub.Unregister(p)
		p.Conn.Close()
	}()

	p.Conn.SetReadLimit(MaxMessageSize)
	p.Conn.SetReadDeadline(time.Now().Add(pongWait))
	p.Conn.SetPongHandler(func(string) error {
		p.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		if err := p.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				p.Hub.log.Debug("read failed", "participant_id", p.ID, "remote_addr", p.RemoteAddr, "err", err)
			}
			return
		}

		if p.limiter != nil && !p.limiter.Allow() {
			p.Hub.metrics.IncDropped(metrics.DropReasonRateLimited)
			p.Hub.log.Debug("message dropped", "participant_id", p.ID, "type", msg.Type, "reason", metrics.DropReasonRateLimited)
			continue
		}

		msg.participant = p
		if !p.Hub.submit(&msg) {
			return
		}
	}
}

// WritePump pumps messages from the hub to the websocket connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (p *Participant) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-p.Send:
			p.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				p.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := p.Conn.WriteJSON(message); err != nil {
				p.Hub.log.Debug("write failed", "participant_id", p.ID, "remote_addr", p.RemoteAddr, "err", err)
				return
			}

		case <-ticker.C:
			p.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
