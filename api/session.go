package api

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const SessionCookie = "session_id"

// GenerateToken returns a random 64 character hex session token.
func GenerateToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Errorf("failed to generate token: %w", err))
	}
	return hex.EncodeToString(buf)
}

func CreateSessionToken(r *http.Request, domain string, token string, expiry time.Time) *http.Cookie {
	secure := false
	if r != nil {
		if r.TLS != nil {
			secure = true
		}
		if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
			secure = true
		}
	}

	cookie := &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		Domain:   domain,
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}

	if expiry.IsZero() {
		cookie.Expires = time.Unix(1, 0)
		cookie.MaxAge = -1
	} else {
		cookie.Expires = time.Unix(expiry.Unix()+1, 0)
		cookie.MaxAge = int(time.Until(expiry).Seconds() + 1)
	}

	return cookie
}

// SessionTokenFromRequest reads the session cookie, falling back to an
// "Authorization: Session <token>" header for non-browser clients.
func SessionTokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	header := r.Header.Get("Authorization")
	if len(header) > 8 && strings.EqualFold(header[:8], "session ") {
		return strings.TrimSpace(header[8:])
	}
	return ""
}
