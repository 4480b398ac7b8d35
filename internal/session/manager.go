// Package session issues, validates, rotates, and revokes bearer session
// tokens, and owns the cookie contract the HTTP layer writes them with.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"tally/internal/core"
)

// tokenLen is the raw entropy of a session token in bytes. The full
// encoded value is used as the bearer secret; tokens are never truncated.
const tokenLen = 32

type Config struct {
	// Lifetime of a new session.
	Lifetime time.Duration
	// RotateAfter is the session age past which Validate issues a
	// replacement token.
	RotateAfter time.Duration
	// RotateGrace is how long the old token stays valid after rotation,
	// so in-flight requests carrying it still succeed.
	RotateGrace time.Duration
	// CookieName for the session cookie.
	CookieName string
}

// Manager drives the session lifecycle against a SessionStore.
type Manager struct {
	store core.SessionStore
	cfg   Config
	now   func() time.Time
}

func NewManager(store core.SessionStore, cfg Config) *Manager {
	return &Manager{
		store: store,
		cfg:   cfg,
		now:   time.Now,
	}
}

// Result is a successful validation: the session to continue with, and
// whether it replaced the token the client presented.
type Result struct {
	Session *core.Session
	Rotated bool
}

// Create issues a fresh session for userID, linked to the login attempt
// that produced it.
func (m *Manager) Create(ctx context.Context, userID int64, loginAttemptID string) (*core.Session, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	now := m.now()
	s := &core.Session{
		UserID:         userID,
		Token:          token,
		LoginAttemptID: loginAttemptID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.cfg.Lifetime),
		LastUsedAt:     now,
	}
	if err := m.store.InsertSession(ctx, s); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return s, nil
}

// Validate looks up an active session by token. Sessions older than
// RotateAfter are rotated: a replacement session is issued and the old
// row's expiry is shortened to the grace window. The two writes are
// independent and idempotent; losing one only stretches or shrinks the
// grace window.
func (m *Manager) Validate(ctx context.Context, token string) (*Result, error) {
	now := m.now()
	s, err := m.store.ActiveSessionByToken(ctx, token, now)
	if err != nil {
		return nil, err
	}

	if err := m.store.TouchSession(ctx, s.ID, now); err != nil {
		slog.WarnContext(ctx, "Failed to touch session", "session_id", s.ID, "error", err)
	}

	if now.Sub(s.CreatedAt) < m.cfg.RotateAfter {
		return &Result{Session: s}, nil
	}

	replacement, err := m.Create(ctx, s.UserID, s.LoginAttemptID)
	if err != nil {
		// The presented session is still active; rotation retries on
		// the next request.
		slog.ErrorContext(ctx, "Session rotation failed, keeping old token",
			"session_id", s.ID, "error", err)
		return &Result{Session: s}, nil
	}

	graceEnd := now.Add(m.cfg.RotateGrace)
	if graceEnd.Before(s.ExpiresAt) {
		if err := m.store.UpdateSessionExpiry(ctx, s.ID, graceEnd); err != nil {
			slog.WarnContext(ctx, "Failed to schedule delayed expiry for rotated session",
				"session_id", s.ID, "error", err)
		}
	}

	slog.InfoContext(ctx, "Session rotated",
		"user_id", s.UserID, "old_session_id", s.ID, "new_session_id", replacement.ID)
	return &Result{Session: replacement, Rotated: true}, nil
}

// Revoke shortens a session's expiry to now. The store scopes the write
// to sessions owned by userID, so revoking someone else's session is a
// silent no-op. Rows are never hard-deleted here.
func (m *Manager) Revoke(ctx context.Context, sessionID, userID int64) error {
	return m.store.RevokeSession(ctx, sessionID, userID, m.now())
}

// List returns all sessions belonging to userID, revoked ones included.
func (m *Manager) List(ctx context.Context, userID int64) ([]*core.Session, error) {
	return m.store.SessionsByUser(ctx, userID)
}

// Lifetime exposes the configured session lifetime for cookie max-age.
func (m *Manager) Lifetime() time.Duration {
	return m.cfg.Lifetime
}

// CookieName exposes the configured session cookie name.
func (m *Manager) CookieName() string {
	return m.cfg.CookieName
}

func newToken() (string, error) {
	b := make([]byte, tokenLen)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
