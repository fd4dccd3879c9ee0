package signaling

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T, opts Options) *Hub {
	t.Helper()
	h := NewHub(opts, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.Done()
	})
	return h
}

func connect(t *testing.T, h *Hub) *Participant {
	t.Helper()
	p := NewParticipant(h, nil, "test")
	require.True(t, h.Register(p))
	return p
}

func send(t *testing.T, p *Participant, msg *Message) {
	t.Helper()
	msg.participant = p
	require.True(t, p.Hub.submit(msg))
}

func recv(t *testing.T, p *Participant) *Message {
	t.Helper()
	select {
	case msg, ok := <-p.Send:
		require.True(t, ok, "mailbox closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("no message for %s", p.ID)
		return nil
	}
}

func expectNothing(t *testing.T, p *Participant) {
	t.Helper()
	select {
	case msg := <-p.Send:
		t.Fatalf("unexpected message %q for %s", msg.Type, p.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func errorText(t *testing.T, msg *Message) string {
	t.Helper()
	require.Equal(t, MessageTypeError, msg.Type)
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	return payload.Error
}

func joinedPayload(t *testing.T, msg *Message) RoomJoinedPayload {
	t.Helper()
	var payload RoomJoinedPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	return payload
}

func join(t *testing.T, p *Participant, roomID, name string) RoomJoinedPayload {
	t.Helper()
	send(t, p, &Message{Type: MessageTypeJoinRoom, RoomID: roomID, Name: name})
	msg := recv(t, p)
	require.Equal(t, MessageTypeJoinSuccess, msg.Type)
	return joinedPayload(t, msg)
}

func TestHub_CreateRoom(t *testing.T) {
	h := startHub(t, DefaultOptions())
	h.newRoomID = func(func(string) bool) string { return "cozy-teal-otter-harbor" }

	alice := connect(t, h)
	send(t, alice, &Message{Type: MessageTypeCreateRoom, Name: " Alice ", ClientType: ClientTypeCLI})

	msg := recv(t, alice)
	assert.Equal(t, MessageTypeRoomCreated, msg.Type)
	assert.Equal(t, "cozy-teal-otter-harbor", msg.RoomID)
	assert.Equal(t, alice.ID, msg.From)

	payload := joinedPayload(t, msg)
	assert.Equal(t, "Alice", payload.Participant.Name)
	assert.Equal(t, ClientTypeCLI, payload.Participant.ClientType)
	assert.Empty(t, payload.Participants)
}

func TestHub_JoinNotifiesExistingParticipants(t *testing.T) {
	h := startHub(t, DefaultOptions())

	alice := connect(t, h)
	bob := connect(t, h)
	carol := connect(t, h)

	first := join(t, alice, "standup", "alice")
	assert.Empty(t, first.Participants)

	second := join(t, bob, "standup", "bob")
	require.Len(t, second.Participants, 1)
	assert.Equal(t, alice.ID, second.Participants[0].ID)

	msg := recv(t, alice)
	assert.Equal(t, MessageTypePeerJoined, msg.Type)
	assert.Equal(t, bob.ID, msg.From)

	third := join(t, carol, "standup", "carol")
	require.Len(t, third.Participants, 2)
	assert.Equal(t, alice.ID, third.Participants[0].ID)
	assert.Equal(t, bob.ID, third.Participants[1].ID)

	assert.Equal(t, MessageTypePeerJoined, recv(t, alice).Type)
	assert.Equal(t, MessageTypePeerJoined, recv(t, bob).Type)
	expectNothing(t, carol)
}

func TestHub_JoinErrors(t *testing.T) {
	t.Run("room not found without auto create", func(t *testing.T) {
		opts := DefaultOptions()
		opts.AutoCreateRooms = false
		h := startHub(t, opts)
		p := connect(t, h)

		send(t, p, &Message{Type: MessageTypeJoinRoom, RoomID: "nope"})
		assert.Equal(t, ErrTextRoomNotFound, errorText(t, recv(t, p)))
	})

	t.Run("room full", func(t *testing.T) {
		opts := DefaultOptions()
		opts.MaxParticipants = 2
		h := startHub(t, opts)
		a, b, c := connect(t, h), connect(t, h), connect(t, h)

		join(t, a, "pair", "a")
		join(t, b, "pair", "b")
		recv(t, a)

		send(t, c, &Message{Type: MessageTypeJoinRoom, RoomID: "pair"})
		assert.Equal(t, ErrTextRoomFull, errorText(t, recv(t, c)))
	})

	t.Run("invalid room id", func(t *testing.T) {
		h := startHub(t, DefaultOptions())
		p := connect(t, h)

		send(t, p, &Message{Type: MessageTypeJoinRoom, RoomID: "../etc"})
		assert.Equal(t, ErrTextInvalidRoomID, errorText(t, recv(t, p)))
	})

	t.Run("already in a room", func(t *testing.T) {
		h := startHub(t, DefaultOptions())
		p := connect(t, h)
		join(t, p, "one", "p")

		send(t, p, &Message{Type: MessageTypeJoinRoom, RoomID: "two"})
		assert.Equal(t, ErrTextAlreadyInRoom, errorText(t, recv(t, p)))
	})
}

func TestHub_RelayForwardsToNamedTarget(t *testing.T) {
	h := startHub(t, DefaultOptions())
	alice, bob, carol := connect(t, h), connect(t, h), connect(t, h)

	join(t, alice, "mesh", "alice")
	join(t, bob, "mesh", "bob")
	recv(t, alice)
	join(t, carol, "mesh", "carol")
	recv(t, alice)
	recv(t, bob)

	sdp := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	send(t, carol, &Message{Type: MessageTypeOffer, To: alice.ID, Payload: sdp, From: "spoofed"})

	msg := recv(t, alice)
	assert.Equal(t, MessageTypeOffer, msg.Type)
	assert.Equal(t, carol.ID, msg.From)
	assert.Equal(t, alice.ID, msg.To)
	assert.JSONEq(t, string(sdp), string(msg.Payload))
	expectNothing(t, bob)
	expectNothing(t, carol)

	send(t, alice, &Message{Type: MessageTypeAnswer, To: carol.ID, Payload: json.RawMessage(`{"type":"answer"}`)})
	assert.Equal(t, MessageTypeAnswer, recv(t, carol).Type)

	send(t, alice, &Message{Type: MessageTypeICECandidate, To: carol.ID, Payload: json.RawMessage(`{"candidate":"c"}`)})
	msg = recv(t, carol)
	assert.Equal(t, MessageTypeICECandidate, msg.Type)
	assert.Equal(t, alice.ID, msg.From)
}

func TestHub_RelayErrors(t *testing.T) {
	h := startHub(t, DefaultOptions())
	alice, bob, outsider := connect(t, h), connect(t, h), connect(t, h)

	send(t, alice, &Message{Type: MessageTypeOffer, To: bob.ID})
	assert.Equal(t, ErrTextNotInRoom, errorText(t, recv(t, alice)))

	join(t, alice, "room-a", "alice")
	join(t, outsider, "room-b", "outsider")
	join(t, bob, "room-a", "bob")
	recv(t, alice)

	send(t, alice, &Message{Type: MessageTypeOffer, To: outsider.ID})
	assert.Equal(t, ErrTextPeerNotFound, errorText(t, recv(t, alice)))
	expectNothing(t, outsider)

	send(t, alice, &Message{Type: MessageTypeOffer, To: alice.ID})
	assert.Equal(t, ErrTextPeerNotFound, errorText(t, recv(t, alice)))
}

func TestHub_LeaveAndDisconnect(t *testing.T) {
	h := startHub(t, DefaultOptions())
	alice, bob := connect(t, h), connect(t, h)

	join(t, alice, "room", "alice")
	join(t, bob, "room", "bob")
	recv(t, alice)

	send(t, bob, &Message{Type: MessageTypeLeaveRoom})
	msg := recv(t, alice)
	assert.Equal(t, MessageTypePeerLeft, msg.Type)
	assert.Equal(t, bob.ID, msg.From)

	// Leaving twice is a no-op.
	send(t, bob, &Message{Type: MessageTypeLeaveRoom})
	expectNothing(t, alice)

	join(t, bob, "room", "bob")
	recv(t, alice)

	h.Unregister(bob)
	msg = recv(t, alice)
	assert.Equal(t, MessageTypePeerLeft, msg.Type)
	_, ok := <-bob.Send
	assert.False(t, ok, "mailbox should be closed")

	rooms, err := h.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	require.Len(t, rooms[0].Participants, 1)
	assert.Equal(t, alice.ID, rooms[0].Participants[0].ID)

	h.Unregister(alice)
	rooms, err = h.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rooms, "empty rooms are deleted")
}

func TestHub_MediaStateAndChat(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxChatLength = 5
	h := startHub(t, opts)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	h.now = func() time.Time { return fixed }

	alice, bob := connect(t, h), connect(t, h)
	join(t, alice, "room", "alice")
	join(t, bob, "room", "bob")
	recv(t, alice)

	send(t, bob, &Message{Type: MessageTypeMediaState, Payload: json.RawMessage(`{"audio":true,"video":false}`)})
	msg := recv(t, alice)
	assert.Equal(t, MessageTypePeerUpdated, msg.Type)
	var info ParticipantInfo
	require.NoError(t, json.Unmarshal(msg.Payload, &info))
	assert.True(t, info.Media.Audio)
	assert.False(t, info.Media.Video)
	expectNothing(t, bob)

	send(t, alice, &Message{Type: MessageTypeChat, Payload: json.RawMessage(`{"text":"  hello world "}`)})
	for _, p := range []*Participant{alice, bob} {
		msg := recv(t, p)
		assert.Equal(t, MessageTypeChat, msg.Type)
		assert.Equal(t, "alice", msg.Name)
		var chat ChatPayload
		require.NoError(t, json.Unmarshal(msg.Payload, &chat))
		assert.Equal(t, "hello", chat.Text)
		assert.True(t, fixed.Equal(chat.SentAt))
	}

	send(t, alice, &Message{Type: MessageTypeChat, Payload: json.RawMessage(`{"text":"   "}`)})
	expectNothing(t, bob)

	send(t, alice, &Message{Type: MessageTypeMediaState, Payload: json.RawMessage(`[]`)})
	assert.Equal(t, ErrTextInvalidPayload, errorText(t, recv(t, alice)))
}

func TestHub_PingAndUnknown(t *testing.T) {
	h := startHub(t, DefaultOptions())
	p := connect(t, h)

	send(t, p, &Message{Type: MessageTypePing})
	assert.Equal(t, MessageTypePong, recv(t, p).Type)

	send(t, p, &Message{Type: "teleport"})
	assert.Equal(t, ErrTextUnknownType, errorText(t, recv(t, p)))
}

func TestHub_SlowConsumerIsDisconnected(t *testing.T) {
	opts := DefaultOptions()
	opts.SendBuffer = 1
	h := startHub(t, opts)

	alice, bob := connect(t, h), connect(t, h)
	join(t, alice, "room", "alice")
	join(t, bob, "room", "bob")
	// alice's mailbox now holds peer_joined and is full.

	send(t, bob, &Message{Type: MessageTypeOffer, To: alice.ID})

	rooms, err := h.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	require.Len(t, rooms[0].Participants, 1)
	assert.Equal(t, bob.ID, rooms[0].Participants[0].ID)

	assert.Equal(t, MessageTypePeerJoined, (<-alice.Send).Type)
	_, ok := <-alice.Send
	assert.False(t, ok)
	assert.Equal(t, MessageTypePeerLeft, recv(t, bob).Type)
}

func TestHub_StopClosesMailboxes(t *testing.T) {
	h := NewHub(DefaultOptions(), slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	p := NewParticipant(h, nil, "test")
	require.True(t, h.Register(p))
	cancel()
	<-h.Done()

	_, ok := <-p.Send
	assert.False(t, ok)
	assert.False(t, h.Register(NewParticipant(h, nil, "late")))
	_, err := h.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrHubStopped)
}

func TestGenerateRoomID(t *testing.T) {
	seen := map[string]bool{"taken": true}
	id := generateRoomID(func(id string) bool { return seen[id] })

	parts := strings.Split(id, "-")
	assert.Len(t, parts, roomIDWords)
	assert.True(t, ValidRoomID(id))
}

func TestValidRoomID(t *testing.T) {
	assert.True(t, ValidRoomID("daily-standup_2"))
	assert.False(t, ValidRoomID(""))
	assert.False(t, ValidRoomID("has space"))
	assert.False(t, ValidRoomID("slash/room"))
	assert.False(t, ValidRoomID(strings.Repeat("a", 129)))
}
