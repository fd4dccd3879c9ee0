// Package turnrest issues coturn-compatible ephemeral TURN credentials
// (the "TURN REST API" scheme used with coturn's use-auth-secret).
//
//	username   = <unix expiry>:<prefix>:<session>
//	credential = base64(hmac_sha1(secret, username))
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNoSecret      = errors.New("turnrest: shared secret is required")
	ErrInvalidTTL    = errors.New("turnrest: ttl must be positive")
	ErrInvalidPrefix = errors.New("turnrest: prefix must be non-empty and must not contain ':'")
	ErrInvalidID     = errors.New("turnrest: session must be non-empty and must not contain ':'")
)

// Credentials is a username/credential pair valid until Expires.
type Credentials struct {
	Username   string
	Credential string
	Expires    time.Time
}

// Issuer signs usernames with the secret shared with the TURN server.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	prefix string
	now    func() time.Time
}

// NewIssuer validates its arguments and returns an Issuer.
func NewIssuer(secret, prefix string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}
	if prefix == "" || strings.Contains(prefix, ":") {
		return nil, ErrInvalidPrefix
	}
	return &Issuer{
		secret: []byte(secret),
		ttl:    ttl,
		prefix: prefix,
		now:    time.Now,
	}, nil
}

// Issue returns credentials bound to session, typically a participant or request ID.
func (i *Issuer) Issue(session string) (Credentials, error) {
	if session == "" || strings.Contains(session, ":") {
		return Credentials{}, ErrInvalidID
	}
	expires := i.now().UTC().Add(i.ttl).Truncate(time.Second)
	username := strconv.FormatInt(expires.Unix(), 10) + ":" + i.prefix + ":" + session

	mac := hmac.New(sha1.New, i.secret)
	mac.Write([]byte(username))

	return Credentials{
		Username:   username,
		Credential: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		Expires:    expires,
	}, nil
}
