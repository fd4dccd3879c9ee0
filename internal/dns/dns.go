// Package dns resolves the signaling server's host, falling back to public
// resolvers when the system resolver is broken (captive portals, stale VPN
// configs and similar).
package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// publicDNS are queried in parallel if the system lookup fails.
var publicDNS = []string{
	"1.1.1.1",              // Cloudflare
	"1.0.0.1",              // Cloudflare
	"2606:4700:4700::1111", // Cloudflare
	"8.8.8.8",              // Google
	"8.8.4.4",              // Google
	"2001:4860:4860::8888", // Google
	"9.9.9.9",              // Quad9
	"149.112.112.112",      // Quad9
	"208.67.222.222",       // Cisco OpenDNS
	"208.67.220.220",       // Cisco OpenDNS
}

// lookupFunc resolves host using one resolver.
type lookupFunc func(ctx context.Context, host string) ([]string, error)

// Resolver looks hosts up locally first, then races the public servers.
type Resolver struct {
	LocalTimeout  time.Duration
	PublicTimeout time.Duration

	local   lookupFunc
	servers []string
	remote  func(server string) lookupFunc
}

// NewResolver returns a Resolver using the system resolver and publicDNS.
func NewResolver() *Resolver {
	return &Resolver{
		LocalTimeout:  time.Second,
		PublicTimeout: 2 * time.Second,
		local:         (&net.Resolver{}).LookupHost,
		servers:       publicDNS,
		remote:        publicLookup,
	}
}

// Lookup resolves host to a single IP address, preferring IPv4. Literal IPs
// are returned unchanged.
func (r *Resolver) Lookup(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}

	localCtx, cancel := context.WithTimeout(ctx, r.LocalTimeout)
	ips, err := r.local(localCtx, host)
	cancel()
	if ip, perr := pickIP(ips, err); perr == nil {
		return ip, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	return r.race(ctx, host)
}

// race returns the first successful answer from the public servers.
func (r *Resolver) race(ctx context.Context, host string) (string, error) {
	type result struct {
		ip  string
		err error
	}

	ctx, cancel := context.WithTimeout(ctx, r.PublicTimeout)
	defer cancel()

	results := make(chan result, len(r.servers))
	for _, server := range r.servers {
		go func(server string) {
			ip, err := pickIP(r.remote(server)(ctx, host))
			results <- result{ip: ip, err: err}
		}(server)
	}

	failures := 0
	for range r.servers {
		select {
		case res := <-results:
			if res.err == nil {
				return res.ip, nil
			}
			failures++
		case <-ctx.Done():
			return "", fmt.Errorf("dns lookup of %s timed out during public DNS race", host)
		}
	}
	return "", fmt.Errorf("failed to resolve %s: all %d public DNS servers failed", host, failures)
}

// publicLookup forces queries to server on port 53.
func publicLookup(server string) lookupFunc {
	r := &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(server, "53"))
		},
	}
	return r.LookupHost
}

func pickIP(ips []string, err error) (string, error) {
	if err != nil {
		return "", err
	}
	if len(ips) == 0 {
		return "", errors.New("no IP addresses found")
	}
	for _, ip := range ips {
		if parsed := net.ParseIP(ip); parsed != nil && parsed.To4() != nil {
			return ip, nil
		}
	}
	return ips[0], nil
}

// DialContext resolves addr's host with r before dialing, so it can be used
// as a websocket.Dialer.NetDialContext.
func (r *Resolver) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	ip, err := r.Lookup(ctx, host)
	if err != nil {
		return nil, err
	}
	var d net.Dialer
	return d.DialContext(ctx, network, net.JoinHostPort(ip, port))
}
