package config

import (
	"net"
	"strings"
)

var cgnatBlock = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

// ShouldForceRelay checks if the system is likely behind a restrictive VPN or
// CGNAT, where direct candidates rarely connect and TURN should be used.
func ShouldForceRelay() bool {
	interfaces, err := net.Interfaces()
	if err != nil {
		return false
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		if tunnelLike(iface.Name, addrs) {
			return true
		}
	}
	return false
}

// tunnelLike matches VPN-style interface names (OpenVPN, WireGuard, PPP,
// Cloudflare WARP) and CGNAT addresses (100.64.0.0/10, also Tailscale).
func tunnelLike(name string, addrs []net.Addr) bool {
	name = strings.ToLower(name)
	for _, marker := range []string{"tun", "tap", "wg", "ppp", "warp"} {
		if strings.Contains(name, marker) {
			return true
		}
	}

	for _, addr := range addrs {
		var ip net.IP
		switch v := addr.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip != nil && cgnatBlock.Contains(ip) {
			return true
		}
	}
	return false
}
