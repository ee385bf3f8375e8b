// Package auth checks the shared API key presented by relay clients.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// HeaderAPIKey is the alternative header for clients that cannot set Authorization.
const HeaderAPIKey = "X-API-Key"

// TokenFromRequest extracts the presented key. The token query parameter
// wins, then a Bearer Authorization header, then X-API-Key.
func TokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.Header.Get(HeaderAPIKey)
}

// Valid compares the presented token with the expected key in constant time.
func Valid(expected, presented string) bool {
	if presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) == 1
}
