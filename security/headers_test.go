package security

import (
	"net/http/httptest"
	"testing"
)

func TestSetSecurityHeaders(t *testing.T) {
	tests := []struct {
		name     string
		baseURL  string
		wantHSTS bool
	}{
		{"https", "https://crashlink.example.com", true},
		{"http", "http://localhost:3000", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			SetSecurityHeaders(w, tt.baseURL)

			for header, want := range map[string]string{
				"X-Frame-Options":        "DENY",
				"X-Content-Type-Options": "nosniff",
				"Referrer-Policy":        "no-referrer",
				"Cache-Control":          "no-store",
			} {
				if got := w.Header().Get(header); got != want {
					t.Errorf("%s = %q, want %q", header, got, want)
				}
			}
			if w.Header().Get("Content-Security-Policy") == "" {
				t.Error("Content-Security-Policy should be set")
			}

			hasHSTS := w.Header().Get("Strict-Transport-Security") != ""
			if hasHSTS != tt.wantHSTS {
				t.Errorf("HSTS present = %v, want %v", hasHSTS, tt.wantHSTS)
			}
		})
	}
}
