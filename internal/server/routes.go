package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/BioHazard786/Warpcall/internal/config"
	"github.com/BioHazard786/Warpcall/internal/livekit"
	"github.com/BioHazard786/Warpcall/internal/signaling"
	"github.com/BioHazard786/Warpcall/internal/version"
)

const maxBodyBytes = 16 * 1024

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthCheckHandler)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /version", handleVersion)
	mux.HandleFunc("GET /ws", s.serveWs)
	mux.HandleFunc("GET /ice", s.withOriginPolicy(s.handleICE))
	mux.HandleFunc("OPTIONS /ice", s.withOriginPolicy(s.handleICE))
	mux.HandleFunc("GET /rooms", s.withOriginPolicy(s.handleRooms))
	mux.HandleFunc("OPTIONS /rooms", s.withOriginPolicy(s.handleRooms))
	mux.HandleFunc("POST /livekit/token", s.withOriginPolicy(s.handleLiveKitToken))
	mux.HandleFunc("OPTIONS /livekit/token", s.withOriginPolicy(s.handleLiveKitToken))
	mux.Handle("GET /metrics", s.metrics.Handler())
	return mux
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Signaling server is healthy."))
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": version.Version})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.hub.Done():
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "hub stopped"})
		return
	default:
	}
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting down"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// serveWs upgrades the request and hands the connection to the hub.
func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("failed to upgrade connection", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	p := signaling.NewParticipant(s.hub, conn, r.RemoteAddr)
	if !p.Hub.Register(p) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	go p.WritePump()
	go p.ReadPump()
}

type iceServerJSON struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

type iceResponse struct {
	ICEServers []iceServerJSON `json:"iceServers"`
	Expires    *time.Time      `json:"expires,omitempty"`
}

// handleICE returns the RTCConfiguration.iceServers list. With a shared TURN
// secret configured every TURN entry gets fresh short-lived credentials.
func (s *Server) handleICE(w http.ResponseWriter, r *http.Request) {
	resp := iceResponse{ICEServers: make([]iceServerJSON, 0, len(s.cfg.ICEServers))}

	var creds *turnCreds
	for _, srv := range s.cfg.ICEServers {
		entry := iceServerJSON{URLs: srv.URLs}
		if cred, ok := srv.Credential.(string); ok {
			entry.Username, entry.Credential = srv.Username, cred
		}
		if config.IsTURN(srv) && s.turn != nil {
			if creds == nil {
				c, err := s.turn.Issue(uuid.NewString())
				if err != nil {
					s.log.Error("issue turn credentials", "error", err)
					http.Error(w, "could not issue TURN credentials", http.StatusInternalServerError)
					return
				}
				creds = &turnCreds{c.Username, c.Credential, c.Expires}
				resp.Expires = &creds.expires
			}
			entry.Username, entry.Credential = creds.username, creds.credential
		}
		resp.ICEServers = append(resp.ICEServers, entry)
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, resp)
}

type turnCreds struct {
	username   string
	credential string
	expires    time.Time
}

type roomsResponse struct {
	Rooms []signaling.RoomSnapshot `json:"rooms"`
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.hub.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].ID < rooms[j].ID
		}
		return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
	})
	if rooms == nil {
		rooms = []signaling.RoomSnapshot{}
	}
	writeJSON(w, http.StatusOK, roomsResponse{Rooms: rooms})
}

type tokenRequest struct {
	Room     string `json:"room"`
	Identity string `json:"identity"`
	Name     string `json:"name"`
	ViewOnly bool   `json:"view_only"`
}

func (s *Server) handleLiveKitToken(w http.ResponseWriter, r *http.Request) {
	if s.livekit == nil {
		writeError(w, http.StatusNotFound, livekit.ErrNotConfigured.Error())
		return
	}

	var req tokenRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !signaling.ValidRoomID(req.Room) {
		writeError(w, http.StatusBadRequest, signaling.ErrTextInvalidRoomID)
		return
	}

	token, err := s.livekit.Mint(livekit.Grant{
		Room:     req.Room,
		Identity: req.Identity,
		Name:     req.Name,
		ViewOnly: req.ViewOnly,
	})
	if err != nil {
		if errors.Is(err, livekit.ErrInvalidRoom) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error("mint livekit token", "room", req.Room, "error", err)
		writeError(w, http.StatusInternalServerError, "could not mint token")
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, token)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, signaling.ErrorPayload{Error: msg})
}
