package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/Warpcall/internal/config"
	"github.com/BioHazard786/Warpcall/internal/metrics"
	"github.com/BioHazard786/Warpcall/internal/signaling"
)

func newTestServer(t *testing.T, mutate func(*config.ServerConfig)) (*httptest.Server, *Server) {
	t.Helper()

	cfg := config.DefaultServerConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	servers, err := cfg.ICE.Servers()
	require.NoError(t, err)
	cfg.ICEServers = servers

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	opts := signaling.DefaultOptions()
	opts.MaxParticipants = cfg.MaxParticipants
	opts.MessageRate = cfg.MessageRate
	opts.MessageBurst = cfg.MessageBurst
	hub := signaling.NewHub(opts, logger, m)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	s, err := New(&cfg, hub, m, logger)
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		<-hub.Done()
	})
	return ts, s
}

func dial(t *testing.T, ts *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) *signaling.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg signaling.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return &msg
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Signaling server is healthy.", string(body))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestReadyz_FlipsOnShutdown(t *testing.T) {
	ts, s := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// The httptest server owns the listener, so only the flag is exercised here.
	require.NoError(t, s.Shutdown(context.Background()))

	resp, err = http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestWebSocket_CreateJoinRelay(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	host := dial(t, ts, nil)
	require.NoError(t, host.WriteJSON(signaling.Message{Type: signaling.MessageTypeCreateRoom, Name: "Ana"}))
	created := readMessage(t, host)
	require.Equal(t, signaling.MessageTypeRoomCreated, created.Type)
	require.NotEmpty(t, created.RoomID)

	var hostInfo signaling.RoomJoinedPayload
	require.NoError(t, json.Unmarshal(created.Payload, &hostInfo))

	guest := dial(t, ts, nil)
	require.NoError(t, guest.WriteJSON(signaling.Message{Type: signaling.MessageTypeJoinRoom, RoomID: created.RoomID, Name: "Bo"}))
	joined := readMessage(t, guest)
	require.Equal(t, signaling.MessageTypeJoinSuccess, joined.Type)

	var guestInfo signaling.RoomJoinedPayload
	require.NoError(t, json.Unmarshal(joined.Payload, &guestInfo))
	require.Len(t, guestInfo.Participants, 1)
	assert.Equal(t, hostInfo.Participant.ID, guestInfo.Participants[0].ID)

	peerJoined := readMessage(t, host)
	assert.Equal(t, signaling.MessageTypePeerJoined, peerJoined.Type)

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	require.NoError(t, guest.WriteJSON(signaling.Message{
		Type:    signaling.MessageTypeOffer,
		To:      hostInfo.Participant.ID,
		From:    "spoofed",
		Payload: offer,
	}))
	relayed := readMessage(t, host)
	assert.Equal(t, signaling.MessageTypeOffer, relayed.Type)
	assert.Equal(t, guestInfo.Participant.ID, relayed.From)
	assert.JSONEq(t, string(offer), string(relayed.Payload))

	require.NoError(t, guest.Close())
	left := readMessage(t, host)
	assert.Equal(t, signaling.MessageTypePeerLeft, left.Type)
}

func TestWebSocket_OriginPolicy(t *testing.T) {
	ts, _ := newTestServer(t, func(cfg *config.ServerConfig) {
		cfg.AllowedOrigins = []string{"https://app.example"}
	})
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://app.example:443"}})
	require.NoError(t, err)
	conn.Close()
}

func TestOriginAllowed_SameHostByDefault(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://call.example/ice", nil)
	r.Header.Set("Origin", "https://call.example")
	_, ok := originAllowed(r, nil)
	assert.True(t, ok)

	r.Header.Set("Origin", "https://other.example")
	_, ok = originAllowed(r, nil)
	assert.False(t, ok)

	r.Header.Set("Origin", "null")
	_, ok = originAllowed(r, nil)
	assert.False(t, ok)

	r.Header.Del("Origin")
	_, ok = originAllowed(r, nil)
	assert.True(t, ok)
}

func TestICE_IssuesTURNCredentials(t *testing.T) {
	ts, _ := newTestServer(t, func(cfg *config.ServerConfig) {
		cfg.ICE.TURNURLs = []string{"turn:turn.example:3478"}
		cfg.ICE.TURNSecret = "shared"
	})

	resp, err := http.Get(ts.URL + "/ice")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	var body iceResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.ICEServers, 2)
	assert.Equal(t, []string{config.DefaultSTUN}, body.ICEServers[0].URLs)
	assert.Empty(t, body.ICEServers[0].Username)

	turn := body.ICEServers[1]
	assert.Contains(t, turn.Username, ":"+config.DefaultTURNPrefix+":")
	assert.NotEmpty(t, turn.Credential)
	require.NotNil(t, body.Expires)
	assert.True(t, body.Expires.After(time.Now()))
}

func TestRooms_ListsSnapshot(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/rooms")
	require.NoError(t, err)
	var empty roomsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&empty))
	resp.Body.Close()
	assert.Empty(t, empty.Rooms)

	host := dial(t, ts, nil)
	require.NoError(t, host.WriteJSON(signaling.Message{Type: signaling.MessageTypeJoinRoom, RoomID: "standup", Name: "Ana"}))
	require.Equal(t, signaling.MessageTypeJoinSuccess, readMessage(t, host).Type)

	resp, err = http.Get(ts.URL + "/rooms")
	require.NoError(t, err)
	defer resp.Body.Close()
	var list roomsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list.Rooms, 1)
	assert.Equal(t, "standup", list.Rooms[0].ID)
	require.Len(t, list.Rooms[0].Participants, 1)
	assert.Equal(t, "Ana", list.Rooms[0].Participants[0].Name)
}

func TestLiveKitToken(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		ts, _ := newTestServer(t, nil)
		resp, err := http.Post(ts.URL+"/livekit/token", "application/json", strings.NewReader(`{"room":"standup"}`))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	ts, _ := newTestServer(t, func(cfg *config.ServerConfig) {
		cfg.LiveKit.URL = "wss://sfu.example"
		cfg.LiveKit.APIKey = "key"
		cfg.LiveKit.APISecret = "secret"
	})

	t.Run("mints", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/livekit/token", "application/json",
			strings.NewReader(`{"room":"standup","identity":"ana","name":"Ana"}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var tok struct {
			Token    string `json:"token"`
			URL      string `json:"url"`
			Identity string `json:"identity"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&tok))
		assert.NotEmpty(t, tok.Token)
		assert.Equal(t, "wss://sfu.example", tok.URL)
		assert.Equal(t, "ana", tok.Identity)
	})

	for name, body := range map[string]string{
		"bad json":     `{"room":`,
		"unknown key":  `{"room":"standup","admin":true}`,
		"invalid room": `{"room":"../etc"}`,
	} {
		t.Run(name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/livekit/token", "application/json", strings.NewReader(body))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}

	t.Run("preflight", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodOptions, ts.URL+"/livekit/token", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", ts.URL)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "content-type")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		assert.Equal(t, ts.URL, resp.Header.Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "content-type", resp.Header.Get("Access-Control-Allow-Headers"))
	})
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	dial(t, ts, nil)

	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return strings.Contains(string(body), "warpcall_connections_total 1")
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWebSocket_RateLimitDropsExcess(t *testing.T) {
	ts, _ := newTestServer(t, func(cfg *config.ServerConfig) {
		cfg.MessageRate = 0.001
		cfg.MessageBurst = 2
	})

	conn := dial(t, ts, nil)
	for range 5 {
		require.NoError(t, conn.WriteJSON(signaling.Message{Type: signaling.MessageTypePing}))
	}

	assert.Equal(t, signaling.MessageTypePong, readMessage(t, conn).Type)
	assert.Equal(t, signaling.MessageTypePong, readMessage(t, conn).Type)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	var extra signaling.Message
	assert.Error(t, conn.ReadJSON(&extra), "messages beyond the burst must be dropped")

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `warpcall_messages_dropped_total{reason="rate_limited"} 3`)
}

func TestWebSocket_MessageSizeLimit(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	host := dial(t, ts, nil)
	require.NoError(t, host.WriteJSON(signaling.Message{Type: signaling.MessageTypeCreateRoom, Name: "Ana"}))
	created := readMessage(t, host)
	var hostInfo signaling.RoomJoinedPayload
	require.NoError(t, json.Unmarshal(created.Payload, &hostInfo))

	guest := dial(t, ts, nil)
	require.NoError(t, guest.WriteJSON(signaling.Message{Type: signaling.MessageTypeJoinRoom, RoomID: created.RoomID, Name: "Bo"}))
	require.Equal(t, signaling.MessageTypeJoinSuccess, readMessage(t, guest).Type)
	require.Equal(t, signaling.MessageTypePeerJoined, readMessage(t, host).Type)

	// A large SDP that still fits under the limit is relayed intact.
	sdp := "v=0\r\n" + strings.Repeat("a=candidate:1 1 udp 2122260223 10.0.0.1 50000 typ host\r\n", 1000)
	payload, err := json.Marshal(signaling.SignalPayload{Type: "offer", SDP: sdp})
	require.NoError(t, err)
	require.Greater(t, len(payload), 50*1024)
	require.Less(t, len(payload), signaling.MaxMessageSize-1024)

	require.NoError(t, guest.WriteJSON(signaling.Message{
		Type:    signaling.MessageTypeOffer,
		To:      hostInfo.Participant.ID,
		Payload: payload,
	}))
	relayed := readMessage(t, host)
	require.Equal(t, signaling.MessageTypeOffer, relayed.Type)
	var got signaling.SignalPayload
	require.NoError(t, json.Unmarshal(relayed.Payload, &got))
	assert.Equal(t, sdp, got.SDP)

	// Anything over the limit closes the sender's socket with 1009.
	huge := json.RawMessage(`{"text":"` + strings.Repeat("x", 70*1024) + `"}`)
	require.NoError(t, guest.WriteJSON(signaling.Message{Type: signaling.MessageTypePing, Payload: huge}))

	require.NoError(t, guest.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg signaling.Message
	err = guest.ReadJSON(&msg)
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseMessageTooBig), "got %v", err)

	left := readMessage(t, host)
	assert.Equal(t, signaling.MessageTypePeerLeft, left.Type)
}
