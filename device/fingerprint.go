// Package device derives a stable fingerprint for the calling client
// from its declared connection metadata.
//
// The fingerprint is advisory-strong binding: it ties a token pair to
// the headers a client presents, not to the client itself. A client that
// replays identical headers produces an identical fingerprint. This is a
// documented property of the scheme, not a defect to compensate for.
package device

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
)

// ipHeaders are tried in priority order; the first non-empty one wins.
var ipHeaders = []string{
	"X-Forwarded-For",
	"CF-Connecting-IP",
	"X-Real-IP",
}

const delimiter = "|"

// Fingerprint returns the hex SHA-256 of the client IP, user-agent, and
// accept-language joined with a fixed delimiter. Deterministic for
// identical header values.
func Fingerprint(r *http.Request) string {
	return Derive(ClientIP(r), r.Header.Get("User-Agent"), r.Header.Get("Accept-Language"))
}

// Derive computes the fingerprint from already-extracted components.
func Derive(ip, userAgent, acceptLanguage string) string {
	sum := sha256.Sum256([]byte(ip + delimiter + userAgent + delimiter + acceptLanguage))
	return hex.EncodeToString(sum[:])
}

// ClientIP resolves the caller's IP from proxy headers, falling back to
// the socket peer address. X-Forwarded-For may carry a chain; only the
// first hop is used.
func ClientIP(r *http.Request) string {
	for _, header := range ipHeaders {
		value := strings.TrimSpace(r.Header.Get(header))
		if value == "" {
			continue
		}
		if idx := strings.IndexByte(value, ','); idx >= 0 {
			value = strings.TrimSpace(value[:idx])
		}
		return value
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
