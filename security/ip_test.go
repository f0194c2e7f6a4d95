package security

import (
	"net/http/httptest"
	"testing"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name              string
		remoteAddr        string
		xForwardedFor     string
		xRealIP           string
		trustProxy        bool
		trustedProxyCount int
		want              string
	}{
		{
			name:       "direct connection",
			remoteAddr: "192.168.1.100:12345",
			want:       "192.168.1.100",
		},
		{
			name:          "forwarded for, trusted",
			remoteAddr:    "10.0.0.1:12345",
			xForwardedFor: "203.0.113.1, 10.0.0.2",
			trustProxy:    true,
			want:          "203.0.113.1",
		},
		{
			name:          "forwarded for, untrusted header is ignored",
			remoteAddr:    "10.0.0.1:12345",
			xForwardedFor: "203.0.113.1",
			want:          "10.0.0.1",
		},
		{
			name:              "two trusted hops",
			remoteAddr:        "10.0.0.1:12345",
			xForwardedFor:     "198.51.100.7, 203.0.113.1, 10.0.0.2, 10.0.0.3",
			trustProxy:        true,
			trustedProxyCount: 2,
			want:              "203.0.113.1",
		},
		{
			name:          "single forwarded entry",
			remoteAddr:    "10.0.0.1:12345",
			xForwardedFor: " 203.0.113.1 ",
			trustProxy:    true,
			want:          "203.0.113.1",
		},
		{
			name:          "invalid forwarded entry falls back to remote addr",
			remoteAddr:    "10.0.0.1:12345",
			xForwardedFor: "not-an-ip",
			trustProxy:    true,
			want:          "10.0.0.1",
		},
		{
			name:       "real ip, trusted",
			remoteAddr: "10.0.0.1:12345",
			xRealIP:    "203.0.113.9",
			trustProxy: true,
			want:       "203.0.113.9",
		},
		{
			name:       "real ip, untrusted",
			remoteAddr: "10.0.0.1:12345",
			xRealIP:    "203.0.113.9",
			want:       "10.0.0.1",
		},
		{
			name:       "ipv6 remote addr",
			remoteAddr: "[2001:db8::1]:443",
			want:       "2001:db8::1",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "192.0.2.5",
			want:       "192.0.2.5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xForwardedFor != "" {
				r.Header.Set("X-Forwarded-For", tt.xForwardedFor)
			}
			if tt.xRealIP != "" {
				r.Header.Set("X-Real-IP", tt.xRealIP)
			}

			if got := GetClientIP(r, tt.trustProxy, tt.trustedProxyCount); got != tt.want {
				t.Errorf("GetClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
