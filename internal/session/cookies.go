package session

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"tally/internal/core"
)

const (
	// CSRFCookieName is fixed; the session cookie name is configurable.
	CSRFCookieName = "csrf"
	// CSRFHeader is the request header mutating calls must echo the
	// csrf cookie value in.
	CSRFHeader = "X-CSRF-Token"
)

// WriteSessionCookie sets the session cookie for s. HttpOnly and Secure,
// strict same-site, max-age covering the remaining session lifetime.
func (m *Manager) WriteSessionCookie(w http.ResponseWriter, s *core.Session) {
	maxAge := int(time.Until(s.ExpiresAt).Seconds())
	if maxAge < 0 {
		maxAge = 0
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    s.Token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearSessionCookie expires the session cookie on the client.
func (m *Manager) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

// IssueCSRFCookie sets a fresh csrf token cookie. Deliberately not
// HttpOnly: the frontend reads it and echoes it back in the CSRFHeader.
func IssueCSRFCookie(w http.ResponseWriter) (string, error) {
	b := make([]byte, tokenLen)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate csrf token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(b)
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/",
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	return token, nil
}

// CheckCSRF verifies that a mutating request echoes the csrf cookie in
// the CSRFHeader. Absence or mismatch of either side is ErrForbidden.
// The comparison is constant time; it costs nothing here.
func CheckCSRF(r *http.Request) error {
	cookie, err := r.Cookie(CSRFCookieName)
	if err != nil || cookie.Value == "" {
		return core.ErrForbidden
	}
	header := r.Header.Get(CSRFHeader)
	if header == "" {
		return core.ErrForbidden
	}
	if subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(header)) != 1 {
		return core.ErrForbidden
	}
	return nil
}
