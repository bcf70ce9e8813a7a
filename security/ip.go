package security

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP extracts the client address for a request. With trustProxy set it
// consults X-Forwarded-For and X-Real-IP first; trustedProxyCount says how
// many rightmost entries of X-Forwarded-For belong to proxies we control,
// which keeps a spoofed leftmost entry from being picked in multi-proxy
// setups. Without trustProxy the direct peer address is used.
func ClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := ipFromForwardedFor(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if ip := r.Header.Get("X-Real-IP"); net.ParseIP(ip) != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ipFromForwardedFor picks the client entry out of an X-Forwarded-For list.
// The header reads "client, proxy1, proxy2" with our own proxies rightmost,
// so the client sits at len(entries) - trustedProxyCount - 1.
func ipFromForwardedFor(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}

	entries := strings.Split(xff, ",")
	proxies := trustedProxyCount
	if proxies == 0 {
		proxies = 1
	}
	idx := len(entries) - proxies - 1
	if idx < 0 {
		idx = 0
	}

	ip := strings.TrimSpace(entries[idx])
	if net.ParseIP(ip) == nil {
		return ""
	}
	return ip
}
