package qrproto

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// CheckOrigin enforces spec §4.7: requests must originate from a private
// LAN address and the Origin/Referer host, when present, must match the
// Host header. Returns false when the request should be rejected 403.
func CheckOrigin(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil || !isPrivate(ip) {
		return false
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = r.Header.Get("Referer")
	}
	if origin == "" {
		return true // no Origin/Referer header: nothing to cross-check
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Hostname(), hostOnly(r.Host))
}

func hostOnly(h string) string {
	if host, _, err := net.SplitHostPort(h); err == nil {
		return host
	}
	return h
}

func isPrivate(ip net.IP) bool {
	if ip.IsLoopback() {
		return true
	}
	for _, cidr := range []string{
		"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "fc00::/7",
	} {
		_, block, err := net.ParseCIDR(cidr)
		if err == nil && block.Contains(ip) {
			return true
		}
	}
	return false
}
