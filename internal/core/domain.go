package core

import (
	"errors"
	"strings"
	"time"
)

type (
	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// User owns a credential pair: a random salt and the key derived from
	// the password under fixed KDF parameters. The pair is replaced as a
	// whole on password change and never mutated otherwise.
	User struct {
		ID        int64
		Username  string
		PassSalt  []byte
		PassKey   []byte
		CreatedAt time.Time
	}

	// Session is a bearer secret handed to the client as a cookie value.
	// Revocation shortens ExpiresAt instead of deleting the row so the
	// audit trail survives.
	Session struct {
		ID             int64
		UserID         int64
		Token          string
		LoginAttemptID string
		CreatedAt      time.Time
		ExpiresAt      time.Time
		LastUsedAt     time.Time
	}

	// LoginAttempt is an immutable audit record written on every
	// authentication attempt, successful or not.
	LoginAttempt struct {
		ID        string
		UserID    *int64
		IP        string
		UserAgent string
		// Country and Region come from edge geo headers when present,
		// empty otherwise.
		Country   string
		Region    string
		Success   bool
		CreatedAt time.Time
	}

	ExpenseItem struct {
		ID         int64
		Quantity   int64
		PriceCents int64
		Note       string
		IsDeleted  bool
	}

	// Refund tracks money expected back for an expense. ActualCents stays
	// nil until the refund is confirmed.
	Refund struct {
		ID            int64
		ExpectedCents int64
		ActualCents   *int64
		IsDeleted     bool
	}

	Expense struct {
		ID                   int64
		UserID               int64
		Date                 Date
		Description          string
		Category             string
		ServiceChargePercent *float64
		GSTExcluded          bool
		Items                []ExpenseItem
		Refunds              []Refund
		IsDeleted            bool
		CreatedAt            time.Time
	}
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidDay         = errors.New("invalid day")
	ErrInvalidMonth       = errors.New("invalid month")
	ErrEmptyDescription   = errors.New("empty description")
	ErrEmptyCategory      = errors.New("empty category")
)

// ActiveAt reports whether the session is valid at t. A revoked session
// has ExpiresAt set to the revocation time and fails this check the same
// way a naturally expired one does.
func (s Session) ActiveAt(t time.Time) bool {
	return t.Before(s.ExpiresAt)
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	_, month, day := d.Date()
	if day < 1 || day > 31 {
		return ErrInvalidDay
	}
	if month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

func (e Expense) Validate() error {
	if err := e.Date.Validate(); err != nil {
		return err
	}
	if len(strings.TrimSpace(e.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(e.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	if strings.TrimSpace(e.Category) == "" {
		return ErrEmptyCategory
	}
	return nil
}

// CategoryAmount is one dashboard row: a category and its settled total.
type CategoryAmount struct {
	Name  string
	Gross Money
	Net   Money
}

// MonthOverview aggregates a month of settled expenses for the dashboard.
type MonthOverview struct {
	Year       int
	Month      int
	Gross      Money
	Net        Money
	ByCategory []CategoryAmount
}
