package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

// ICEConfig describes the ICE servers handed to browsers and CLI peers.
// ServersJSON, when set, wins over the STUN/TURN convenience fields.
type ICEConfig struct {
	ServersJSON    string   `toml:"servers_json"`
	STUNURLs       []string `toml:"stun_urls"`
	TURNURLs       []string `toml:"turn_urls"`
	TURNUsername   string   `toml:"turn_username"`
	TURNCredential string   `toml:"turn_credential"`

	// TURNSecret enables coturn REST credentials: every /ice response then
	// carries a fresh username/credential pair instead of TURNUsername/TURNCredential.
	TURNSecret         string   `toml:"turn_secret"`
	TURNUsernamePrefix string   `toml:"turn_username_prefix"`
	TURNCredentialTTL  Duration `toml:"turn_credential_ttl"`
}

type iceServerJSON struct {
	URLs       stringOrStrings `json:"urls"`
	Username   string          `json:"username,omitempty"`
	Credential string          `json:"credential,omitempty"`
}

// stringOrStrings accepts both "urls": "stun:x" and "urls": ["stun:x"], as the
// browser RTCIceServer dictionary does.
type stringOrStrings []string

func (s *stringOrStrings) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*s = []string{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// Servers resolves the configured ICE servers. With a TURN secret configured,
// TURN entries are returned without credentials; callers fill them per request.
func (c ICEConfig) Servers() ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(c.ServersJSON); raw != "" {
		return ParseICEServersJSON(raw, c.TURNSecret != "")
	}

	var servers []webrtc.ICEServer
	if stun := cleanList(c.STUNURLs); len(stun) > 0 {
		server := webrtc.ICEServer{URLs: stun}
		if err := validateICEServer(server, false); err != nil {
			return nil, fmt.Errorf("stun urls: %w", err)
		}
		servers = append(servers, server)
	}

	if turn := cleanList(c.TURNURLs); len(turn) > 0 {
		server := webrtc.ICEServer{URLs: turn}
		ephemeral := c.TURNSecret != ""
		if !ephemeral {
			user := strings.TrimSpace(c.TURNUsername)
			cred := strings.TrimSpace(c.TURNCredential)
			if user == "" || cred == "" {
				return nil, errors.New("turn urls: username and credential must both be set")
			}
			server.Username = user
			server.Credential = cred
		}
		if err := validateICEServer(server, ephemeral); err != nil {
			return nil, fmt.Errorf("turn urls: %w", err)
		}
		servers = append(servers, server)
	}

	return servers, nil
}

// ParseICEServersJSON parses a browser-style RTCIceServer array. With
// credentialsLater set, TURN entries may omit username and credential.
func ParseICEServersJSON(raw string, credentialsLater bool) ([]webrtc.ICEServer, error) {
	var entries []iceServerJSON
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("ice servers json: %w", err)
	}

	out := make([]webrtc.ICEServer, 0, len(entries))
	for i, entry := range entries {
		server := webrtc.ICEServer{
			URLs:     cleanList(entry.URLs),
			Username: strings.TrimSpace(entry.Username),
		}
		if cred := strings.TrimSpace(entry.Credential); cred != "" {
			server.Credential = cred
		}
		if err := validateICEServer(server, credentialsLater); err != nil {
			return nil, fmt.Errorf("ice servers json [%d]: %w", i, err)
		}
		out = append(out, server)
	}
	return out, nil
}

// IsTURN reports whether any URL of server is a TURN URL.
func IsTURN(server webrtc.ICEServer) bool {
	for _, u := range server.URLs {
		u = strings.ToLower(u)
		if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
			return true
		}
	}
	return false
}

func validateICEServer(server webrtc.ICEServer, credentialsLater bool) error {
	if len(server.URLs) == 0 {
		return errors.New("missing urls")
	}
	for _, u := range server.URLs {
		if !hasICEScheme(u) {
			return fmt.Errorf("unsupported url scheme: %q", u)
		}
	}
	if !IsTURN(server) || credentialsLater {
		return nil
	}
	if server.Username == "" {
		return errors.New("turn urls require username")
	}
	if cred, ok := server.Credential.(string); !ok || cred == "" {
		return errors.New("turn urls require credential")
	}
	return nil
}

func hasICEScheme(u string) bool {
	u = strings.ToLower(u)
	for _, scheme := range []string{"stun:", "stuns:", "turn:", "turns:"} {
		if strings.HasPrefix(u, scheme) {
			return true
		}
	}
	return false
}

// cleanList trims entries, splits comma-joined values and drops empties.
func cleanList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
