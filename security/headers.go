package security

import (
	"net/http"
	"net/url"
)

// SetSecurityHeaders sets the headers served with every HTML page crashlink
// renders. Pages are static text, so the content policy forbids everything
// except inline styles.
func SetSecurityHeaders(w http.ResponseWriter, baseURL string) {
	h := w.Header()
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'; frame-ancestors 'none'")
	h.Set("Referrer-Policy", "no-referrer")
	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")

	if parsed, err := url.Parse(baseURL); err == nil && parsed.Scheme == "https" {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}
}
