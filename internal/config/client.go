package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/pion/webrtc/v4"
)

// Default client configuration values (production)
const (
	DefaultDomain = "warpcall.qzz.io"
	DefaultSTUN   = "stun:stun.l.google.com:19302"
)

// Config holds the configuration of a CLI participant.
type Config struct {
	// Domain is the backend server domain
	Domain string

	// WebSocketURL is constructed from domain unless given explicitly
	WebSocketURL string

	// Name is shown to the other participants
	Name string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string

	// ForceRelay restricts ICE to TURN relay candidates
	ForceRelay bool
}

// Options for loading config with CLI flag overrides
type Options struct {
	Domain     string
	ServerURL  string
	Name       string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	pick := func(flag, env, def string) string {
		if flag != "" {
			return flag
		}
		if v := os.Getenv(env); v != "" {
			return v
		}
		return def
	}

	cfg := &Config{
		Domain:     pick(opts.Domain, "WARPCALL_DOMAIN", DefaultDomain),
		Name:       pick(opts.Name, "WARPCALL_NAME", defaultName()),
		STUNServer: pick(opts.STUNServer, "STUN_SERVER", DefaultSTUN),
		TURNServer: pick(opts.TURNServer, "TURN_SERVER", ""),
		TURNUser:   pick(opts.TURNUser, "TURN_USERNAME", ""),
		TURNPass:   pick(opts.TURNPass, "TURN_PASSWORD", ""),
		ForceRelay: opts.ForceRelay || os.Getenv("FORCE_RELAY") == "1",
	}

	serverURL := pick(opts.ServerURL, "WARPCALL_SERVER", "")
	if serverURL == "" {
		serverURL = WebSocketURLForDomain(cfg.Domain)
	}
	u, err := url.Parse(serverURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q: want ws:// or wss://", serverURL)
	}
	cfg.WebSocketURL = u.String()

	if cfg.TURNServer != "" && (cfg.TURNUser == "" || cfg.TURNPass == "") {
		return nil, fmt.Errorf("TURN server %s configured without credentials", cfg.TURNServer)
	}
	if cfg.ForceRelay && cfg.TURNServer == "" {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}
	if cfg.TURNServer != "" && !cfg.ForceRelay && ShouldForceRelay() {
		cfg.ForceRelay = true
	}

	return cfg, nil
}

// WebSocketURLForDomain builds the signaling endpoint for a domain. Local
// development hosts get plain ws://.
func WebSocketURLForDomain(domain string) string {
	host := domain
	if h, _, ok := strings.Cut(domain, ":"); ok {
		host = h
	}
	if host == "localhost" || host == "127.0.0.1" {
		return fmt.Sprintf("ws://%s/ws", domain)
	}
	return fmt.Sprintf("wss://%s/ws", domain)
}

// HTTPBaseURL derives the server's HTTP origin from the WebSocket URL.
func (c *Config) HTTPBaseURL() string {
	u, err := url.Parse(c.WebSocketURL)
	if err != nil {
		return ""
	}
	scheme := "https"
	if u.Scheme == "ws" {
		scheme = "http"
	}
	return scheme + "://" + u.Host
}

// GetRoomLink returns the webapp URL for a room ID
func (c *Config) GetRoomLink(roomID string) string {
	return fmt.Sprintf("%s/r/%s", c.HTTPBaseURL(), roomID)
}

// ICEServers returns the pion ICE server list for peer connections.
func (c *Config) ICEServers() []webrtc.ICEServer {
	servers := []webrtc.ICEServer{{URLs: []string{c.STUNServer}}}
	if c.TURNServer == "" {
		return servers
	}
	return append(servers, webrtc.ICEServer{
		URLs: []string{
			fmt.Sprintf("%s:3478?transport=udp", c.TURNServer),
			fmt.Sprintf("%s:3478?transport=tcp", c.TURNServer),
		},
		Username:   c.TURNUser,
		Credential: c.TURNPass,
	})
}

// ICETransportPolicy returns relay-only when ForceRelay is set.
func (c *Config) ICETransportPolicy() webrtc.ICETransportPolicy {
	if c.ForceRelay {
		return webrtc.ICETransportPolicyRelay
	}
	return webrtc.ICETransportPolicyAll
}

func defaultName() string {
	for _, key := range []string{"USER", "USERNAME"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return "cli"
}
