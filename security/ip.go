package security

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP returns the address a request should be attributed to for
// rate limiting and audit logging.
//
// Forwarding headers are only honoured when trustProxy is set, because
// clients can forge them. With X-Forwarded-For, trustedProxyCount is the
// number of trusted hops recorded at the end of the header (at least one);
// the entry just before them is taken as the client.
func GetClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := fromForwardedFor(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func fromForwardedFor(header string, trustedProxyCount int) string {
	if header == "" {
		return ""
	}
	hops := strings.Split(header, ",")

	idx := max(len(hops)-max(trustedProxyCount, 1)-1, 0)

	ip := strings.TrimSpace(hops[idx])
	if net.ParseIP(ip) == nil {
		return ""
	}
	return ip
}
