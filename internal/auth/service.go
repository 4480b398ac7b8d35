// Package auth orchestrates sign-up, sign-in, and password changes on
// top of the credential verifier and the session manager. Every attempt,
// successful or not, leaves an immutable login attempt row behind.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tally/internal/core"
	"tally/internal/credential"
	"tally/internal/session"
)

// EventPublisher receives login attempt events for the async pipeline.
// Publishing is best effort; a broker outage never blocks authentication.
type EventPublisher interface {
	PublishAuthEvent(ctx context.Context, a *core.LoginAttempt) error
}

type Service struct {
	users    core.UserStore
	attempts core.AttemptStore
	sessions *session.Manager
	events   EventPublisher

	// minDuration is the wall-clock floor every failed sign-in or
	// sign-up consumes before returning, blunting enumeration and
	// brute-force timing.
	minDuration time.Duration
	now         func() time.Time
}

func NewService(users core.UserStore, attempts core.AttemptStore, sessions *session.Manager, events EventPublisher, minDuration time.Duration) *Service {
	return &Service{
		users:       users,
		attempts:    attempts,
		sessions:    sessions,
		events:      events,
		minDuration: minDuration,
		now:         time.Now,
	}
}

// Credentials are the raw sign-in/sign-up inputs.
type Credentials struct {
	Username string
	Password string
}

// RequestMeta is the client context recorded on every login attempt.
// Country and Region are best effort, resolved by the edge proxy.
type RequestMeta struct {
	IP        string
	UserAgent string
	Country   string
	Region    string
}

// SignUp creates a user with a fresh credential pair and signs them in.
// A taken username fails the same way a bad password does: generic
// invalid credentials, after the duration floor.
func (s *Service) SignUp(ctx context.Context, creds Credentials, meta RequestMeta) (*core.User, *core.Session, error) {
	start := s.now()

	salt, err := credential.NewSalt()
	if err != nil {
		return nil, nil, s.failAuth(ctx, start, nil, meta, err)
	}
	key, err := credential.Hash(creds.Password, salt)
	if err != nil {
		return nil, nil, s.failAuth(ctx, start, nil, meta, err)
	}

	user, err := s.users.CreateUser(ctx, creds.Username, salt, key)
	if err != nil {
		if errors.Is(err, core.ErrUsernameTaken) {
			slog.InfoContext(ctx, "Sign-up rejected, username taken", "username", creds.Username)
			return nil, nil, s.failAuth(ctx, start, nil, meta, core.ErrInvalidCredentials)
		}
		return nil, nil, s.failAuth(ctx, start, nil, meta, fmt.Errorf("create user: %w", err))
	}

	sess, err := s.succeedAuth(ctx, user, meta)
	if err != nil {
		return nil, nil, err
	}
	return user, sess, nil
}

// SignIn verifies the credential and opens a session. Unknown usernames
// and wrong passwords are logged apart but surface identically as
// ErrInvalidCredentials, and both consume the duration floor.
func (s *Service) SignIn(ctx context.Context, creds Credentials, meta RequestMeta) (*core.User, *core.Session, error) {
	start := s.now()

	user, err := s.users.UserByUsername(ctx, creds.Username)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			slog.InfoContext(ctx, "Sign-in failed, unknown username", "username", creds.Username)
			return nil, nil, s.failAuth(ctx, start, nil, meta, core.ErrInvalidCredentials)
		}
		return nil, nil, s.failAuth(ctx, start, nil, meta, fmt.Errorf("lookup user: %w", err))
	}

	ok, err := credential.Verify(creds.Password, user.PassSalt, user.PassKey)
	if err != nil {
		return nil, nil, s.failAuth(ctx, start, &user.ID, meta, err)
	}
	if !ok {
		slog.InfoContext(ctx, "Sign-in failed, credential mismatch", "user_id", user.ID)
		return nil, nil, s.failAuth(ctx, start, &user.ID, meta, core.ErrInvalidCredentials)
	}

	sess, err := s.succeedAuth(ctx, user, meta)
	if err != nil {
		return nil, nil, err
	}
	return user, sess, nil
}

// ChangePassword swaps the credential pair after verifying the current
// password. Open sessions stay valid.
func (s *Service) ChangePassword(ctx context.Context, userID int64, oldPassword, newPassword string) error {
	user, err := s.users.UserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}

	ok, err := credential.Verify(oldPassword, user.PassSalt, user.PassKey)
	if err != nil {
		return err
	}
	if !ok {
		return core.ErrInvalidCredentials
	}

	salt, err := credential.NewSalt()
	if err != nil {
		return err
	}
	key, err := credential.Hash(newPassword, salt)
	if err != nil {
		return err
	}
	return s.users.UpdateCredential(ctx, userID, salt, key)
}

// succeedAuth records the successful attempt and opens the session.
func (s *Service) succeedAuth(ctx context.Context, user *core.User, meta RequestMeta) (*core.Session, error) {
	attempt := s.recordAttempt(ctx, &user.ID, meta, true)
	sess, err := s.sessions.Create(ctx, user.ID, attempt.ID)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// failAuth records the failed attempt, burns off the remaining duration
// floor, and returns cause.
func (s *Service) failAuth(ctx context.Context, start time.Time, userID *int64, meta RequestMeta, cause error) error {
	s.recordAttempt(ctx, userID, meta, false)
	s.holdFloor(ctx, start)
	return cause
}

func (s *Service) recordAttempt(ctx context.Context, userID *int64, meta RequestMeta, success bool) *core.LoginAttempt {
	attempt := &core.LoginAttempt{
		ID:        uuid.NewString(),
		UserID:    userID,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Country:   meta.Country,
		Region:    meta.Region,
		Success:   success,
		CreatedAt: s.now(),
	}
	if err := s.attempts.InsertLoginAttempt(ctx, attempt); err != nil {
		slog.ErrorContext(ctx, "Failed to record login attempt", "error", err, "success", success)
	}
	if s.events != nil {
		if err := s.events.PublishAuthEvent(ctx, attempt); err != nil {
			slog.WarnContext(ctx, "Failed to publish auth event", "error", err, "attempt_id", attempt.ID)
		}
	}
	return attempt
}

// holdFloor sleeps until minDuration has elapsed since start. Context
// cancellation cuts the wait short; the caller is gone anyway.
func (s *Service) holdFloor(ctx context.Context, start time.Time) {
	remaining := s.minDuration - s.now().Sub(start)
	if remaining <= 0 {
		return
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
