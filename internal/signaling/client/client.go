// Package client is the CLI side of the signaling protocol: a websocket
// connection to the relay plus a Handler that sorts server messages into
// typed channels.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/Warpcall/internal/dns"
	"github.com/BioHazard786/Warpcall/internal/signaling"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// ErrClosed is returned when sending on a closed client.
var ErrClosed = errors.New("signaling connection closed")

// Client manages the WebSocket connection to the signaling server.
type Client struct {
	conn      *websocket.Conn
	serverURL string
	resolver  *dns.Resolver

	incoming chan *signaling.Message
	outgoing chan *signaling.Message
	done     chan struct{}
	once     sync.Once
}

// New creates a client for serverURL. A nil resolver dials with the system resolver.
func New(serverURL string, resolver *dns.Resolver) *Client {
	return &Client{
		serverURL: serverURL,
		resolver:  resolver,
		incoming:  make(chan *signaling.Message, 16),
		outgoing:  make(chan *signaling.Message, 16),
		done:      make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the pumps.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	dialer := &websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: 15 * time.Second,
	}
	if c.resolver != nil {
		dialer.NetDialContext = c.resolver.DialContext
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.conn = conn
	c.conn.SetReadLimit(signaling.MaxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()

	return nil
}

// readPump reads messages from the WebSocket connection.
func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var msg signaling.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		select {
		case c.incoming <- &msg:
		case <-c.done:
			return
		}
	}
}

// writePump writes messages to the WebSocket connection and sends periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send queues msg for the server.
func (c *Client) Send(msg *signaling.Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Incoming returns the channel for receiving messages. It is closed when the
// connection ends.
func (c *Client) Incoming() <-chan *signaling.Message {
	return c.incoming
}

// Close sends a close frame and tears the connection down. Safe to call more than once.
func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}

// CreateRoom asks the server for a new room with a generated ID.
func (c *Client) CreateRoom(name string) error {
	return c.Send(&signaling.Message{
		Type:       signaling.MessageTypeCreateRoom,
		Name:       name,
		ClientType: signaling.ClientTypeCLI,
	})
}

// JoinRoom joins roomID under name.
func (c *Client) JoinRoom(roomID, name string) error {
	return c.Send(&signaling.Message{
		Type:       signaling.MessageTypeJoinRoom,
		RoomID:     roomID,
		Name:       name,
		ClientType: signaling.ClientTypeCLI,
	})
}

// LeaveRoom leaves the current room without closing the connection.
func (c *Client) LeaveRoom() error {
	return c.Send(&signaling.Message{Type: signaling.MessageTypeLeaveRoom})
}

// SendSignal relays an offer, answer or ICE candidate to participant to.
func (c *Client) SendSignal(msgType, to string, payload signaling.SignalPayload) error {
	if !signaling.IsRelayed(msgType) {
		return fmt.Errorf("%q is not a relayed message type", msgType)
	}
	return c.sendPayload(&signaling.Message{Type: msgType, To: to}, payload)
}

// SendMediaState announces which of our tracks are live.
func (c *Client) SendMediaState(state signaling.MediaState) error {
	return c.sendPayload(&signaling.Message{Type: signaling.MessageTypeMediaState}, state)
}

// SendChat posts text to the room chat.
func (c *Client) SendChat(text string) error {
	return c.sendPayload(&signaling.Message{Type: signaling.MessageTypeChat}, signaling.ChatPayload{Text: text})
}

func (c *Client) sendPayload(msg *signaling.Message, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg.Payload = raw
	return c.Send(msg)
}
