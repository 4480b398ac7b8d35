package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tally/internal/core"
)

// memStore is an in-memory SessionStore for tests.
type memStore struct {
	mu       sync.Mutex
	nextID   int64
	sessions map[int64]*core.Session
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[int64]*core.Session)}
}

func (m *memStore) InsertSession(_ context.Context, s *core.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	s.ID = m.nextID
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *memStore) ActiveSessionByToken(_ context.Context, token string, now time.Time) (*core.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.Token == token && s.ActiveAt(now) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, core.ErrNotFound
}

func (m *memStore) UpdateSessionExpiry(_ context.Context, id int64, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.ExpiresAt = expiresAt
	}
	return nil
}

func (m *memStore) TouchSession(_ context.Context, id int64, lastUsedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.LastUsedAt = lastUsedAt
	}
	return nil
}

func (m *memStore) SessionsByUser(_ context.Context, userID int64) ([]*core.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*core.Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) RevokeSession(_ context.Context, id, userID int64, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok && s.UserID == userID {
		s.ExpiresAt = now
	}
	return nil
}

func (m *memStore) PurgeSessionsExpiredBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if s.ExpiresAt.Before(cutoff) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func testConfig() Config {
	return Config{
		Lifetime:    30 * 24 * time.Hour,
		RotateAfter: 48 * time.Hour,
		RotateGrace: 30 * time.Second,
		CookieName:  "tally_session",
	}
}

// clock is a controllable time source for the manager.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestManager(t *testing.T) (*Manager, *memStore, *clock) {
	t.Helper()
	store := newMemStore()
	m := NewManager(store, testConfig())
	c := &clock{t: time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)}
	m.now = c.now
	return m, store, c
}

func TestCreateSession(t *testing.T) {
	m, _, c := newTestManager(t)

	s, err := m.Create(context.Background(), 7, "attempt-1")
	require.NoError(t, err)

	assert.NotEmpty(t, s.Token)
	assert.GreaterOrEqual(t, len(s.Token), 43, "32 bytes of entropy, base64url")
	assert.Equal(t, int64(7), s.UserID)
	assert.Equal(t, "attempt-1", s.LoginAttemptID)
	assert.Equal(t, c.now().Add(testConfig().Lifetime), s.ExpiresAt)

	s2, err := m.Create(context.Background(), 7, "attempt-2")
	require.NoError(t, err)
	assert.NotEqual(t, s.Token, s2.Token)
}

func TestValidateActiveSession(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, 7, "attempt-1")
	require.NoError(t, err)

	res, err := m.Validate(ctx, s.Token)
	require.NoError(t, err)
	assert.False(t, res.Rotated)
	assert.Equal(t, s.Token, res.Session.Token)
}

func TestValidateUnknownToken(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.Validate(context.Background(), "no-such-token")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestValidateExpiredSession(t *testing.T) {
	m, _, c := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, 7, "attempt-1")
	require.NoError(t, err)

	c.advance(testConfig().Lifetime + time.Minute)
	_, err = m.Validate(ctx, s.Token)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRevokeImmediatelyInvalidates(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, 7, "attempt-1")
	require.NoError(t, err)

	require.NoError(t, m.Revoke(ctx, s.ID, 7))
	_, err = m.Validate(ctx, s.Token)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRevokeOtherUsersSessionIsNoop(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, 7, "attempt-1")
	require.NoError(t, err)

	require.NoError(t, m.Revoke(ctx, s.ID, 99))
	res, err := m.Validate(ctx, s.Token)
	require.NoError(t, err)
	assert.Equal(t, s.Token, res.Session.Token)
}

func TestRotationIssuesNewTokenAndKeepsOldThroughGrace(t *testing.T) {
	m, _, c := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, 7, "attempt-1")
	require.NoError(t, err)

	c.advance(testConfig().RotateAfter + time.Hour)

	res, err := m.Validate(ctx, s.Token)
	require.NoError(t, err)
	assert.True(t, res.Rotated)
	assert.NotEqual(t, s.Token, res.Session.Token)

	// Old token still answers inside the grace window.
	c.advance(10 * time.Second)
	_, err = m.store.ActiveSessionByToken(ctx, s.Token, c.now())
	assert.NoError(t, err)

	// And stops answering once the grace window elapses.
	c.advance(testConfig().RotateGrace)
	_, err = m.store.ActiveSessionByToken(ctx, s.Token, c.now())
	assert.ErrorIs(t, err, core.ErrNotFound)

	// The replacement is a fresh session, not subject to rotation yet.
	res2, err := m.Validate(ctx, res.Session.Token)
	require.NoError(t, err)
	assert.False(t, res2.Rotated)
}

func TestCheckCSRF(t *testing.T) {
	rec := httptest.NewRecorder()
	token, err := IssueCSRFCookie(rec)
	require.NoError(t, err)

	makeReq := func(cookie, header string) *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/api/expenses", nil)
		if cookie != "" {
			r.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: cookie})
		}
		if header != "" {
			r.Header.Set(CSRFHeader, header)
		}
		return r
	}

	assert.NoError(t, CheckCSRF(makeReq(token, token)))
	assert.ErrorIs(t, CheckCSRF(makeReq(token, "other")), core.ErrForbidden)
	assert.ErrorIs(t, CheckCSRF(makeReq(token, "")), core.ErrForbidden)
	assert.ErrorIs(t, CheckCSRF(makeReq("", token)), core.ErrForbidden)
}
