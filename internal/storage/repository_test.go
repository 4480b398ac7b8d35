package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"tally/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return NewSQLiteRepository(db)
}

func TestUserLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	u, err := repo.CreateUser(ctx, "alice", []byte("salt"), []byte("key"))
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.ID == 0 {
		t.Fatal("expected non-zero user id")
	}

	if _, err := repo.CreateUser(ctx, "alice", []byte("s2"), []byte("k2")); !errors.Is(err, core.ErrUsernameTaken) {
		t.Fatalf("duplicate username error = %v, want ErrUsernameTaken", err)
	}

	got, err := repo.UserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("user by username: %v", err)
	}
	if got.ID != u.ID || string(got.PassSalt) != "salt" || string(got.PassKey) != "key" {
		t.Fatalf("unexpected user: %+v", got)
	}

	if _, err := repo.UserByUsername(ctx, "nobody"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("missing user error = %v, want ErrNotFound", err)
	}

	if err := repo.UpdateCredential(ctx, u.ID, []byte("salt2"), []byte("key2")); err != nil {
		t.Fatalf("update credential: %v", err)
	}
	got, err = repo.UserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("user by id: %v", err)
	}
	if string(got.PassSalt) != "salt2" || string(got.PassKey) != "key2" {
		t.Fatalf("credential not replaced: %+v", got)
	}

	if err := repo.UpdateCredential(ctx, 9999, []byte("s"), []byte("k")); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("update missing user error = %v, want ErrNotFound", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	u, err := repo.CreateUser(ctx, "bob", []byte("s"), []byte("k"))
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	s := &core.Session{
		UserID:         u.ID,
		Token:          "tok-1",
		LoginAttemptID: "attempt-1",
		CreatedAt:      now,
		ExpiresAt:      now.Add(time.Hour),
		LastUsedAt:     now,
	}
	if err := repo.InsertSession(ctx, s); err != nil {
		t.Fatalf("insert session: %v", err)
	}
	if s.ID == 0 {
		t.Fatal("expected non-zero session id")
	}

	got, err := repo.ActiveSessionByToken(ctx, "tok-1", now)
	if err != nil {
		t.Fatalf("active session by token: %v", err)
	}
	if got.UserID != u.ID || got.LoginAttemptID != "attempt-1" {
		t.Fatalf("unexpected session: %+v", got)
	}

	// Past expiry the same token no longer resolves.
	if _, err := repo.ActiveSessionByToken(ctx, "tok-1", now.Add(2*time.Hour)); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expired session error = %v, want ErrNotFound", err)
	}

	if err := repo.TouchSession(ctx, s.ID, now.Add(time.Minute)); err != nil {
		t.Fatalf("touch session: %v", err)
	}

	// Revocation scoped to another user is a no-op.
	if err := repo.RevokeSession(ctx, s.ID, u.ID+1, now); err != nil {
		t.Fatalf("revoke foreign session: %v", err)
	}
	if _, err := repo.ActiveSessionByToken(ctx, "tok-1", now); err != nil {
		t.Fatalf("session should still be active: %v", err)
	}

	if err := repo.RevokeSession(ctx, s.ID, u.ID, now); err != nil {
		t.Fatalf("revoke session: %v", err)
	}
	if _, err := repo.ActiveSessionByToken(ctx, "tok-1", now); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("revoked session error = %v, want ErrNotFound", err)
	}

	sessions, err := repo.SessionsByUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("sessions by user: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1 (revocation keeps the row)", len(sessions))
	}

	purged, err := repo.PurgeSessionsExpiredBefore(ctx, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("purge sessions: %v", err)
	}
	if purged != 1 {
		t.Fatalf("purged = %d, want 1", purged)
	}
}

func TestLoginAttemptInsert(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	u, err := repo.CreateUser(ctx, "carol", []byte("s"), []byte("k"))
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	attempts := []*core.LoginAttempt{
		{ID: "a-1", UserID: &u.ID, IP: "10.0.0.1", UserAgent: "test", Country: "SG", Region: "Singapore", Success: true, CreatedAt: time.Now().UTC()},
		{ID: "a-2", UserID: nil, IP: "10.0.0.2", UserAgent: "test", Success: false, CreatedAt: time.Now().UTC()},
	}
	for _, a := range attempts {
		if err := repo.InsertLoginAttempt(ctx, a); err != nil {
			t.Fatalf("insert attempt %s: %v", a.ID, err)
		}
	}

	var country, region string
	err = repo.db.QueryRowContext(ctx,
		`SELECT geo_country, geo_region FROM login_attempts WHERE id = ?`, "a-1").
		Scan(&country, &region)
	if err != nil {
		t.Fatalf("read attempt geo: %v", err)
	}
	if country != "SG" || region != "Singapore" {
		t.Fatalf("geo = %q/%q, want SG/Singapore", country, region)
	}
}

func TestExpenseLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	u, err := repo.CreateUser(ctx, "dave", []byte("s"), []byte("k"))
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	charge := 10.0
	actual := int64(150)
	e := &core.Expense{
		UserID:               u.ID,
		Date:                 core.NewDate(2026, 8, 15),
		Description:          "team dinner",
		Category:             "Food",
		ServiceChargePercent: &charge,
		Items: []core.ExpenseItem{
			{Quantity: 2, PriceCents: 1250, Note: "mains"},
			{Quantity: 1, PriceCents: 400},
		},
		Refunds: []core.Refund{
			{ExpectedCents: 200, ActualCents: &actual},
		},
	}
	if err := repo.CreateExpense(ctx, e); err != nil {
		t.Fatalf("create expense: %v", err)
	}
	if e.ID == 0 {
		t.Fatal("expected non-zero expense id")
	}

	got, err := repo.ExpenseByID(ctx, u.ID, e.ID)
	if err != nil {
		t.Fatalf("expense by id: %v", err)
	}
	if len(got.Items) != 2 || len(got.Refunds) != 1 {
		t.Fatalf("children = %d items, %d refunds, want 2 and 1", len(got.Items), len(got.Refunds))
	}
	if got.ServiceChargePercent == nil || *got.ServiceChargePercent != 10.0 {
		t.Fatalf("service charge = %v, want 10", got.ServiceChargePercent)
	}
	if got.Refunds[0].ActualCents == nil || *got.Refunds[0].ActualCents != 150 {
		t.Fatalf("actual refund = %v, want 150", got.Refunds[0].ActualCents)
	}

	// Another user cannot see it.
	if _, err := repo.ExpenseByID(ctx, u.ID+1, e.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("foreign expense error = %v, want ErrNotFound", err)
	}

	got.Description = "team dinner (updated)"
	got.Items = got.Items[:1]
	got.Refunds = nil
	if err := repo.UpdateExpense(ctx, got); err != nil {
		t.Fatalf("update expense: %v", err)
	}

	got, err = repo.ExpenseByID(ctx, u.ID, e.ID)
	if err != nil {
		t.Fatalf("expense by id after update: %v", err)
	}
	if got.Description != "team dinner (updated)" || len(got.Items) != 1 || len(got.Refunds) != 0 {
		t.Fatalf("update not applied: %+v", got)
	}

	list, err := repo.ListExpenses(ctx, u.ID, 2026, 8)
	if err != nil {
		t.Fatalf("list expenses: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("august expenses = %d, want 1", len(list))
	}
	list, err = repo.ListExpenses(ctx, u.ID, 2026, 9)
	if err != nil {
		t.Fatalf("list expenses: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("september expenses = %d, want 0", len(list))
	}

	if err := repo.SoftDeleteExpense(ctx, u.ID, e.ID); err != nil {
		t.Fatalf("soft delete expense: %v", err)
	}
	if _, err := repo.ExpenseByID(ctx, u.ID, e.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("deleted expense error = %v, want ErrNotFound", err)
	}
	if err := repo.SoftDeleteExpense(ctx, u.ID, e.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("double delete error = %v, want ErrNotFound", err)
	}
}

func TestSyncBookkeeping(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	u, err := repo.CreateUser(ctx, "erin", []byte("s"), []byte("k"))
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	var ids []int64
	for i := 0; i < 3; i++ {
		e := &core.Expense{
			UserID:      u.ID,
			Date:        core.NewDate(2026, 8, 1+i),
			Description: "expense",
			Category:    "Other",
			Items:       []core.ExpenseItem{{Quantity: 1, PriceCents: 100}},
		}
		if err := repo.CreateExpense(ctx, e); err != nil {
			t.Fatalf("create expense: %v", err)
		}
		ids = append(ids, e.ID)
	}

	pending, err := repo.PendingSyncExpenses(ctx, 10)
	if err != nil {
		t.Fatalf("pending sync: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("pending = %d, want 3", len(pending))
	}

	if err := repo.MarkSynced(ctx, ids[0]); err != nil {
		t.Fatalf("mark synced: %v", err)
	}
	if err := repo.MarkSyncError(ctx, ids[1]); err != nil {
		t.Fatalf("mark sync error: %v", err)
	}

	pending, err = repo.PendingSyncExpenses(ctx, 10)
	if err != nil {
		t.Fatalf("pending sync: %v", err)
	}
	if len(pending) != 1 || pending[0] != ids[2] {
		t.Fatalf("pending = %v, want [%d]", pending, ids[2])
	}

	// Updating a synced expense queues it again.
	e, err := repo.ExpenseByID(ctx, u.ID, ids[0])
	if err != nil {
		t.Fatalf("expense by id: %v", err)
	}
	if err := repo.UpdateExpense(ctx, e); err != nil {
		t.Fatalf("update expense: %v", err)
	}
	pending, err = repo.PendingSyncExpenses(ctx, 10)
	if err != nil {
		t.Fatalf("pending sync: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending after update = %d, want 2", len(pending))
	}

	// ExpenseForSync still reads soft-deleted rows for the ledger.
	if err := repo.SoftDeleteExpense(ctx, u.ID, ids[2]); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	got, err := repo.ExpenseForSync(ctx, ids[2])
	if err != nil {
		t.Fatalf("expense for sync: %v", err)
	}
	if !got.IsDeleted {
		t.Fatal("expected IsDeleted on soft-deleted expense")
	}

	names, err := repo.ListCategories(ctx)
	if err != nil {
		t.Fatalf("list categories: %v", err)
	}
	if len(names) == 0 {
		t.Fatal("expected seeded categories")
	}
}
