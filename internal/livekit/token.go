// Package livekit mints access tokens for rooms hosted on a LiveKit SFU.
// Browsers that use the SFU instead of the mesh relay fetch one of these and
// hand it to the LiveKit client SDK.
package livekit

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/livekit/protocol/auth"

	"github.com/BioHazard786/Warpcall/internal/config"
)

var (
	ErrNotConfigured = errors.New("livekit is not configured")
	ErrInvalidRoom   = errors.New("room is required")
)

// Grant describes who joins which room and what they may do there.
type Grant struct {
	Room     string
	Identity string
	Name     string

	// ViewOnly participants may subscribe but not publish media.
	ViewOnly bool
}

// Token is a signed LiveKit JWT with the server URL it is valid for.
type Token struct {
	Token    string    `json:"token"`
	URL      string    `json:"url"`
	Identity string    `json:"identity"`
	Expires  time.Time `json:"expires"`
}

// Minter signs tokens with a LiveKit API key pair.
type Minter struct {
	url    string
	key    string
	secret string
	ttl    time.Duration
	now    func() time.Time
}

// NewMinter returns ErrNotConfigured when cfg has no key pair.
func NewMinter(cfg config.LiveKitConfig) (*Minter, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}
	ttl := cfg.TokenTTL.Duration
	if ttl <= 0 {
		ttl = config.DefaultLiveKitTokenTTL
	}
	return &Minter{
		url:    cfg.URL,
		key:    cfg.APIKey,
		secret: cfg.APISecret,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Mint signs a room-join token. An empty identity gets a random one.
func (m *Minter) Mint(g Grant) (*Token, error) {
	room := strings.TrimSpace(g.Room)
	if room == "" {
		return nil, ErrInvalidRoom
	}
	identity := strings.TrimSpace(g.Identity)
	if identity == "" {
		identity = uuid.NewString()
	}
	name := strings.TrimSpace(g.Name)
	if name == "" {
		name = identity
	}

	canPublish := !g.ViewOnly
	canSubscribe := true
	grant := &auth.VideoGrant{
		RoomJoin:       true,
		Room:           room,
		CanPublish:     &canPublish,
		CanPublishData: &canPublish,
		CanSubscribe:   &canSubscribe,
	}

	at := auth.NewAccessToken(m.key, m.secret).
		SetVideoGrant(grant).
		SetIdentity(identity).
		SetName(name).
		SetValidFor(m.ttl)

	jwt, err := at.ToJWT()
	if err != nil {
		return nil, err
	}

	return &Token{
		Token:    jwt,
		URL:      m.url,
		Identity: identity,
		Expires:  m.now().Add(m.ttl).UTC(),
	}, nil
}
