// Package postgres mirrors the sqlite repository for deployments that
// already run PostgreSQL. Selected with DATA_BACKEND=postgres.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"

	"tally/internal/core"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Open connects to the database at dsn and runs pending migrations.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return db, nil
}

func runMigrations(db *sql.DB) error {
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}

	d, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", d, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// --- users ---

func (r *Repository) CreateUser(ctx context.Context, username string, salt, key []byte) (*core.User, error) {
	now := time.Now().UTC()
	var id int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (username, pass_salt, pass_key, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		username, salt, key, now).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, core.ErrUsernameTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	return &core.User{
		ID:        id,
		Username:  username,
		PassSalt:  salt,
		PassKey:   key,
		CreatedAt: now,
	}, nil
}

func (r *Repository) UserByUsername(ctx context.Context, username string) (*core.User, error) {
	return scanUser(r.db.QueryRowContext(ctx,
		`SELECT id, username, pass_salt, pass_key, created_at FROM users WHERE username = $1`,
		username))
}

func (r *Repository) UserByID(ctx context.Context, id int64) (*core.User, error) {
	return scanUser(r.db.QueryRowContext(ctx,
		`SELECT id, username, pass_salt, pass_key, created_at FROM users WHERE id = $1`,
		id))
}

func scanUser(row *sql.Row) (*core.User, error) {
	var u core.User
	err := row.Scan(&u.ID, &u.Username, &u.PassSalt, &u.PassKey, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

func (r *Repository) UpdateCredential(ctx context.Context, id int64, salt, key []byte) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET pass_salt = $1, pass_key = $2 WHERE id = $3`,
		salt, key, id)
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// --- sessions ---

func (r *Repository) InsertSession(ctx context.Context, s *core.Session) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO sessions (user_id, token, login_attempt_id, created_at, expires_at, last_used_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		s.UserID, s.Token, s.LoginAttemptID, s.CreatedAt, s.ExpiresAt, s.LastUsedAt).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *Repository) ActiveSessionByToken(ctx context.Context, token string, now time.Time) (*core.Session, error) {
	var s core.Session
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, token, login_attempt_id, created_at, expires_at, last_used_at
		 FROM sessions WHERE token = $1 AND expires_at > $2`,
		token, now).
		Scan(&s.ID, &s.UserID, &s.Token, &s.LoginAttemptID, &s.CreatedAt, &s.ExpiresAt, &s.LastUsedAt)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return &s, nil
}

func (r *Repository) UpdateSessionExpiry(ctx context.Context, id int64, expiresAt time.Time) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET expires_at = $1 WHERE id = $2`, expiresAt, id); err != nil {
		return fmt.Errorf("update session expiry: %w", err)
	}
	return nil
}

func (r *Repository) TouchSession(ctx context.Context, id int64, lastUsedAt time.Time) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET last_used_at = $1 WHERE id = $2`, lastUsedAt, id); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

func (r *Repository) SessionsByUser(ctx context.Context, userID int64) ([]*core.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, token, login_attempt_id, created_at, expires_at, last_used_at
		 FROM sessions WHERE user_id = $1 ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*core.Session
	for rows.Next() {
		var s core.Session
		if err := rows.Scan(&s.ID, &s.UserID, &s.Token, &s.LoginAttemptID, &s.CreatedAt, &s.ExpiresAt, &s.LastUsedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, &s)
	}
	return sessions, rows.Err()
}

func (r *Repository) RevokeSession(ctx context.Context, id, userID int64, now time.Time) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET expires_at = $1 WHERE id = $2 AND user_id = $3 AND expires_at > $1`,
		now, id, userID); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (r *Repository) PurgeSessionsExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return res.RowsAffected()
}

// --- login attempts ---

func (r *Repository) InsertLoginAttempt(ctx context.Context, a *core.LoginAttempt) error {
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO login_attempts (id, user_id, ip, user_agent, geo_country, geo_region, is_success, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.UserID, a.IP, a.UserAgent, a.Country, a.Region, a.Success, a.CreatedAt); err != nil {
		return fmt.Errorf("insert login attempt: %w", err)
	}
	return nil
}

// --- expenses ---

func (r *Repository) CreateExpense(ctx context.Context, e *core.Expense) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var id int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO expenses (user_id, expense_date, description, category, service_charge_percent, is_gst_excluded, is_deleted, sync_status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, FALSE, 'pending', $7) RETURNING id`,
		e.UserID, e.Date.Time, e.Description, e.Category, e.ServiceChargePercent, e.GSTExcluded, now).Scan(&id)
	if err != nil {
		return fmt.Errorf("insert expense: %w", err)
	}

	if err := insertChildren(ctx, tx, id, e.Items, e.Refunds); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	e.ID = id
	e.CreatedAt = now
	return nil
}

func (r *Repository) ExpenseByID(ctx context.Context, userID, id int64) (*core.Expense, error) {
	var e core.Expense
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, expense_date, description, category, service_charge_percent, is_gst_excluded, is_deleted, created_at
		 FROM expenses WHERE id = $1 AND user_id = $2 AND NOT is_deleted`,
		id, userID).
		Scan(&e.ID, &e.UserID, &e.Date.Time, &e.Description, &e.Category, &e.ServiceChargePercent, &e.GSTExcluded, &e.IsDeleted, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan expense: %w", err)
	}

	if err := r.loadChildren(ctx, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *Repository) UpdateExpense(ctx context.Context, e *core.Expense) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE expenses SET expense_date = $1, description = $2, category = $3, service_charge_percent = $4, is_gst_excluded = $5, sync_status = 'pending'
		 WHERE id = $6 AND user_id = $7 AND NOT is_deleted`,
		e.Date.Time, e.Description, e.Category, e.ServiceChargePercent, e.GSTExcluded, e.ID, e.UserID)
	if err != nil {
		return fmt.Errorf("update expense: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM expense_items WHERE expense_id = $1`, e.ID); err != nil {
		return fmt.Errorf("delete expense items: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM refunds WHERE expense_id = $1`, e.ID); err != nil {
		return fmt.Errorf("delete refunds: %w", err)
	}

	if err := insertChildren(ctx, tx, e.ID, e.Items, e.Refunds); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *Repository) SoftDeleteExpense(ctx context.Context, userID, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE expenses SET is_deleted = TRUE WHERE id = $1 AND user_id = $2 AND NOT is_deleted`,
		id, userID)
	if err != nil {
		return fmt.Errorf("soft delete expense: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r *Repository) ListExpenses(ctx context.Context, userID int64, year, month int) ([]*core.Expense, error) {
	from := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, expense_date, description, category, service_charge_percent, is_gst_excluded, is_deleted, created_at
		 FROM expenses
		 WHERE user_id = $1 AND NOT is_deleted AND expense_date >= $2 AND expense_date < $3
		 ORDER BY expense_date DESC, id DESC`,
		userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query expenses: %w", err)
	}
	defer rows.Close()

	var expenses []*core.Expense
	for rows.Next() {
		var e core.Expense
		if err := rows.Scan(&e.ID, &e.UserID, &e.Date.Time, &e.Description, &e.Category, &e.ServiceChargePercent, &e.GSTExcluded, &e.IsDeleted, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		expenses = append(expenses, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, e := range expenses {
		if err := r.loadChildren(ctx, e); err != nil {
			return nil, err
		}
	}
	return expenses, nil
}

func (r *Repository) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// --- sync bookkeeping ---

func (r *Repository) PendingSyncExpenses(ctx context.Context, limit int) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM expenses WHERE sync_status = 'pending' AND NOT is_deleted ORDER BY id LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("query pending expenses: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expense id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) ExpenseForSync(ctx context.Context, id int64) (*core.Expense, error) {
	var e core.Expense
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, expense_date, description, category, service_charge_percent, is_gst_excluded, is_deleted, created_at
		 FROM expenses WHERE id = $1`,
		id).
		Scan(&e.ID, &e.UserID, &e.Date.Time, &e.Description, &e.Category, &e.ServiceChargePercent, &e.GSTExcluded, &e.IsDeleted, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan expense: %w", err)
	}

	if err := r.loadChildren(ctx, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *Repository) MarkSynced(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE expenses SET sync_status = 'synced' WHERE id = $1`, id); err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	return nil
}

func (r *Repository) MarkSyncError(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE expenses SET sync_status = 'error' WHERE id = $1`, id); err != nil {
		return fmt.Errorf("mark sync error: %w", err)
	}
	return nil
}

// --- helpers ---

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertChildren(ctx context.Context, tx execer, expenseID int64, items []core.ExpenseItem, refunds []core.Refund) error {
	for _, it := range items {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO expense_items (expense_id, quantity, price_cents, note, is_deleted) VALUES ($1, $2, $3, $4, $5)`,
			expenseID, it.Quantity, it.PriceCents, it.Note, it.IsDeleted); err != nil {
			return fmt.Errorf("insert expense item: %w", err)
		}
	}
	for _, rf := range refunds {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO refunds (expense_id, expected_cents, actual_cents, is_deleted) VALUES ($1, $2, $3, $4)`,
			expenseID, rf.ExpectedCents, rf.ActualCents, rf.IsDeleted); err != nil {
			return fmt.Errorf("insert refund: %w", err)
		}
	}
	return nil
}

func (r *Repository) loadChildren(ctx context.Context, e *core.Expense) error {
	itemRows, err := r.db.QueryContext(ctx,
		`SELECT id, quantity, price_cents, note, is_deleted FROM expense_items WHERE expense_id = $1 ORDER BY id`,
		e.ID)
	if err != nil {
		return fmt.Errorf("query expense items: %w", err)
	}
	defer itemRows.Close()

	e.Items = nil
	for itemRows.Next() {
		var it core.ExpenseItem
		if err := itemRows.Scan(&it.ID, &it.Quantity, &it.PriceCents, &it.Note, &it.IsDeleted); err != nil {
			return fmt.Errorf("scan expense item: %w", err)
		}
		e.Items = append(e.Items, it)
	}
	if err := itemRows.Err(); err != nil {
		return err
	}

	refundRows, err := r.db.QueryContext(ctx,
		`SELECT id, expected_cents, actual_cents, is_deleted FROM refunds WHERE expense_id = $1 ORDER BY id`,
		e.ID)
	if err != nil {
		return fmt.Errorf("query refunds: %w", err)
	}
	defer refundRows.Close()

	e.Refunds = nil
	for refundRows.Next() {
		var rf core.Refund
		if err := refundRows.Scan(&rf.ID, &rf.ExpectedCents, &rf.ActualCents, &rf.IsDeleted); err != nil {
			return fmt.Errorf("scan refund: %w", err)
		}
		e.Refunds = append(e.Refunds, rf)
	}
	return refundRows.Err()
}
