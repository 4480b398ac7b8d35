package http

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"tally/internal/auth"
	"tally/internal/core"
	"tally/internal/session"
)

type credentialsPayload struct {
	Username string `json:"username" validate:"required,min=3,max=32,alphanum"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

type userResponse struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

type authResponse struct {
	User      userResponse `json:"user"`
	CSRFToken string       `json:"csrf_token"`
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var payload credentialsPayload
	if err := s.decodeJSON(r, &payload); err != nil {
		writeBadRequest(w, r, err)
		return
	}

	user, sess, err := s.auth.SignUp(r.Context(),
		auth.Credentials{Username: payload.Username, Password: payload.Password},
		requestMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.finishAuth(w, r, user, sess, http.StatusCreated)
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var payload credentialsPayload
	if err := s.decodeJSON(r, &payload); err != nil {
		writeBadRequest(w, r, err)
		return
	}

	user, sess, err := s.auth.SignIn(r.Context(),
		auth.Credentials{Username: payload.Username, Password: payload.Password},
		requestMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.finishAuth(w, r, user, sess, http.StatusOK)
}

// requestMeta collects the client context recorded on a login attempt.
func requestMeta(r *http.Request) auth.RequestMeta {
	country, region := clientGeo(r)
	return auth.RequestMeta{
		IP:        clientIP(r),
		UserAgent: r.Header.Get("User-Agent"),
		Country:   country,
		Region:    region,
	}
}

func (s *Server) finishAuth(w http.ResponseWriter, r *http.Request, user *core.User, sess *core.Session, status int) {
	s.sessions.WriteSessionCookie(w, sess)

	csrf, err := session.IssueCSRFCookie(w)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, status, authResponse{
		User:      userResponse{ID: user.ID, Username: user.Username, CreatedAt: user.CreatedAt},
		CSRFToken: csrf,
	})
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)

	if err := s.sessions.Revoke(r.Context(), sess.ID, sess.UserID); err != nil {
		writeError(w, r, err)
		return
	}

	s.sessions.ClearSessionCookie(w)
	writeJSON(w, http.StatusNoContent, nil)
}

type changePasswordPayload struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8,max=128"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)

	var payload changePasswordPayload
	if err := s.decodeJSON(r, &payload); err != nil {
		writeBadRequest(w, r, err)
		return
	}

	if err := s.auth.ChangePassword(r.Context(), sess.UserID, payload.OldPassword, payload.NewPassword); err != nil {
		writeError(w, r, err)
		return
	}

	slog.InfoContext(r.Context(), "Password changed", "user_id", sess.UserID)
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)

	user, err := s.users.UserByID(r.Context(), sess.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, userResponse{ID: user.ID, Username: user.Username, CreatedAt: user.CreatedAt})
}

type sessionResponse struct {
	ID         int64     `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	Active     bool      `json:"active"`
	Current    bool      `json:"current"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)

	sessions, err := s.sessions.List(r.Context(), sess.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	now := time.Now()
	out := make([]sessionResponse, 0, len(sessions))
	for _, row := range sessions {
		out = append(out, sessionResponse{
			ID:         row.ID,
			CreatedAt:  row.CreatedAt,
			ExpiresAt:  row.ExpiresAt,
			LastUsedAt: row.LastUsedAt,
			Active:     row.ActiveAt(now),
			Current:    row.ID == sess.ID,
		})
	}

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeBadRequest(w, r, errBadRequest)
		return
	}

	if err := s.sessions.Revoke(r.Context(), id, sess.UserID); err != nil {
		writeError(w, r, err)
		return
	}

	if id == sess.ID {
		s.sessions.ClearSessionCookie(w)
	}
	writeJSON(w, http.StatusNoContent, nil)
}
