package core

import (
	"context"
	"time"
)

// Ports for the storage adapters. Both the sqlite and postgres
// repositories implement all four.
type (
	UserStore interface {
		CreateUser(ctx context.Context, username string, salt, key []byte) (*User, error)
		UserByUsername(ctx context.Context, username string) (*User, error)
		UserByID(ctx context.Context, id int64) (*User, error)
		UpdateCredential(ctx context.Context, id int64, salt, key []byte) error
	}

	SessionStore interface {
		// InsertSession persists the row and fills in s.ID.
		InsertSession(ctx context.Context, s *Session) error
		// ActiveSessionByToken returns the unexpired session with this
		// token, or ErrNotFound.
		ActiveSessionByToken(ctx context.Context, token string, now time.Time) (*Session, error)
		UpdateSessionExpiry(ctx context.Context, id int64, expiresAt time.Time) error
		TouchSession(ctx context.Context, id int64, lastUsedAt time.Time) error
		SessionsByUser(ctx context.Context, userID int64) ([]*Session, error)
		// RevokeSession shortens expiry to now for a session owned by
		// userID; it is a no-op for anyone else's session.
		RevokeSession(ctx context.Context, id, userID int64, now time.Time) error
		// PurgeSessionsExpiredBefore hard-deletes sessions whose expiry
		// passed before cutoff. Used by the worker to bound the table.
		PurgeSessionsExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
	}

	AttemptStore interface {
		InsertLoginAttempt(ctx context.Context, a *LoginAttempt) error
	}

	ExpenseStore interface {
		// CreateExpense persists the expense with its items and refunds
		// and fills in e.ID.
		CreateExpense(ctx context.Context, e *Expense) error
		ExpenseByID(ctx context.Context, userID, id int64) (*Expense, error)
		// UpdateExpense replaces the expense head and its child rows.
		UpdateExpense(ctx context.Context, e *Expense) error
		SoftDeleteExpense(ctx context.Context, userID, id int64) error
		ListExpenses(ctx context.Context, userID int64, year, month int) ([]*Expense, error)
		ListCategories(ctx context.Context) ([]string, error)

		// Sync bookkeeping for the export worker.
		PendingSyncExpenses(ctx context.Context, limit int) ([]int64, error)
		ExpenseForSync(ctx context.Context, id int64) (*Expense, error)
		MarkSynced(ctx context.Context, id int64) error
		MarkSyncError(ctx context.Context, id int64) error
	}
)
