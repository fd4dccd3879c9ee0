// Package server exposes the signaling hub over HTTP: the /ws relay endpoint
// plus the small JSON API browsers and the CLI use around it.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/Warpcall/internal/config"
	"github.com/BioHazard786/Warpcall/internal/livekit"
	"github.com/BioHazard786/Warpcall/internal/metrics"
	"github.com/BioHazard786/Warpcall/internal/signaling"
	"github.com/BioHazard786/Warpcall/internal/turnrest"
)

// Server serves the signaling endpoints for one hub.
type Server struct {
	cfg     *config.ServerConfig
	hub     *signaling.Hub
	log     *slog.Logger
	metrics *metrics.Metrics

	// Optional, nil when not configured.
	turn    *turnrest.Issuer
	livekit *livekit.Minter

	upgrader websocket.Upgrader
	handler  http.Handler
	http     *http.Server
	ready    atomic.Bool
}

// New wires the handlers. The hub must be running before requests arrive.
func New(cfg *config.ServerConfig, hub *signaling.Hub, m *metrics.Metrics, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		hub:     hub,
		log:     logger,
		metrics: m,
	}

	if cfg.ICE.TURNSecret != "" {
		issuer, err := turnrest.NewIssuer(cfg.ICE.TURNSecret, cfg.ICE.TURNUsernamePrefix, cfg.ICE.TURNCredentialTTL.Duration)
		if err != nil {
			return nil, err
		}
		s.turn = issuer
	}
	if cfg.LiveKit.Enabled() {
		minter, err := livekit.NewMinter(cfg.LiveKit)
		if err != nil {
			return nil, err
		}
		s.livekit = minter
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin: func(r *http.Request) bool {
			_, ok := originAllowed(r, cfg.AllowedOrigins)
			return ok
		},
	}

	s.handler = chain(s.routes(),
		recoverMiddleware(logger),
		requestIDMiddleware(),
		requestLoggerMiddleware(logger),
	)
	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	s.ready.Store(true)
	return s, nil
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe listens on the configured address. It returns nil after Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln. It returns nil after Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("signaling server listening", "addr", ln.Addr().String())
	err := s.http.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown marks the server not ready and stops accepting requests. Hijacked
// websocket connections are not tracked by net/http; they end when the hub
// stops and closes their mailboxes.
func (s *Server) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	return s.http.Shutdown(ctx)
}
