package cmd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoomInput(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{input: "brave-red-otter", want: "brave-red-otter"},
		{input: "  standup ", want: "standup"},
		{input: "https://warpcall.qzz.io/r/brave-red-otter", want: "brave-red-otter"},
		{input: "http://localhost:8080/r/standup/", want: "standup"},
		{input: "", wantErr: true},
		{input: "bad room!", wantErr: true},
		{input: "https://warpcall.qzz.io/", wantErr: true},
		{input: "https://warpcall.qzz.io/r/%2e%2e", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseRoomInput(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFetchRooms(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rooms", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"rooms":[{"id":"standup","created_at":"2026-01-02T03:04:05Z","participants":[{"id":"p1","name":"Ana","client_type":"web","media":{"audio":true}}]}]}`))
	}))
	defer ts.Close()

	rooms, err := fetchRooms(context.Background(), ts.Client(), ts.URL)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "standup", rooms[0].ID)
	assert.True(t, created.Equal(rooms[0].CreatedAt))
	require.Len(t, rooms[0].Participants, 1)
	assert.Equal(t, "Ana", rooms[0].Participants[0].Name)
	assert.True(t, rooms[0].Participants[0].Media.Audio)
}

func TestFetchRooms_ErrorBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"signaling hub stopped"}`))
	}))
	defer ts.Close()

	_, err := fetchRooms(context.Background(), ts.Client(), ts.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signaling hub stopped")
}

func TestFetchRooms_BadStatus(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	_, err := fetchRooms(context.Background(), ts.Client(), ts.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestServeOptions_OnlyChangedFlagsOverride(t *testing.T) {
	t.Cleanup(func() {
		serveCmd.Flags().Set("max-participants", "8")
		serveCmd.Flags().Lookup("max-participants").Changed = false
	})

	opts := serveOptions(serveCmd)
	assert.Nil(t, opts.MaxParticipants)
	assert.Nil(t, opts.AutoCreateRooms)

	require.NoError(t, serveCmd.Flags().Set("max-participants", "0"))
	opts = serveOptions(serveCmd)
	require.NotNil(t, opts.MaxParticipants)
	assert.Equal(t, 0, *opts.MaxParticipants)
}
