// Package worker drains the expense sync queue into the external
// ledger and runs the periodic maintenance jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"tally/internal/amqp"
	"tally/internal/core"
	"tally/internal/export"
)

type Worker struct {
	expenses core.ExpenseStore
	sessions core.SessionStore
	ledger   export.LedgerWriter

	batchSize      int
	syncInterval   time.Duration
	purgeRetention time.Duration
}

func New(expenses core.ExpenseStore, sessions core.SessionStore, ledger export.LedgerWriter, batchSize int, syncInterval, purgeRetention time.Duration) *Worker {
	return &Worker{
		expenses:       expenses,
		sessions:       sessions,
		ledger:         ledger,
		batchSize:      batchSize,
		syncInterval:   syncInterval,
		purgeRetention: purgeRetention,
	}
}

// HandleSyncMessage exports one expense. The message only names the ID;
// the current row is read from storage so replays and reordering are
// harmless.
func (w *Worker) HandleSyncMessage(ctx context.Context, msg *amqp.ExpenseSyncMessage) error {
	slog.InfoContext(ctx, "Processing sync message", "id", msg.ID, "reason", msg.Reason)

	expense, err := w.expenses.ExpenseForSync(ctx, msg.ID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			slog.WarnContext(ctx, "Expense vanished before export, dropping message", "id", msg.ID)
			return nil
		}
		return fmt.Errorf("load expense: %w", err)
	}

	return w.exportExpense(ctx, expense)
}

// ProcessPending exports expenses still marked pending. Backup path for
// lost queue messages.
func (w *Worker) ProcessPending(ctx context.Context) error {
	ids, err := w.expenses.PendingSyncExpenses(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("get pending expenses: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing pending expenses", "count", len(ids))

	for _, id := range ids {
		expense, err := w.expenses.ExpenseForSync(ctx, id)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to load pending expense", "id", id, "error", err)
			if err := w.expenses.MarkSyncError(ctx, id); err != nil {
				slog.ErrorContext(ctx, "Failed to mark sync error", "id", id, "error", err)
			}
			continue
		}
		if err := w.exportExpense(ctx, expense); err != nil {
			slog.ErrorContext(ctx, "Failed to export pending expense", "id", id, "error", err)
		}
	}

	return nil
}

// StartupSyncCheck drains the pending backlog once, with a larger
// batch, to recover from worker downtime.
func (w *Worker) StartupSyncCheck(ctx context.Context) error {
	ids, err := w.expenses.PendingSyncExpenses(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("get pending expenses for startup check: %w", err)
	}
	if len(ids) == 0 {
		slog.InfoContext(ctx, "No pending expenses found on startup")
		return nil
	}

	slog.InfoContext(ctx, "Found pending expenses on startup, processing...", "count", len(ids))

	synced, failed := 0, 0
	for _, id := range ids {
		expense, err := w.expenses.ExpenseForSync(ctx, id)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to load expense for startup sync", "id", id, "error", err)
			failed++
			continue
		}
		if err := w.exportExpense(ctx, expense); err != nil {
			slog.ErrorContext(ctx, "Failed to export expense during startup", "id", id, "error", err)
			failed++
			continue
		}
		synced++
	}

	slog.InfoContext(ctx, "Startup sync completed",
		"total", len(ids),
		"synced", synced,
		"errors", failed)

	return nil
}

// PurgeExpiredSessions hard-deletes session rows whose expiry passed
// more than the retention window ago.
func (w *Worker) PurgeExpiredSessions(ctx context.Context) error {
	cutoff := time.Now().Add(-w.purgeRetention)
	purged, err := w.sessions.PurgeSessionsExpiredBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purge sessions: %w", err)
	}
	if purged > 0 {
		slog.InfoContext(ctx, "Purged expired sessions", "count", purged, "cutoff", cutoff)
	}
	return nil
}

// Run blocks until ctx is cancelled. The consume loop, the pending
// sweep, and the session purge run as one errgroup; a hard failure in
// any of them takes the worker down.
func (w *Worker) Run(ctx context.Context, client *amqp.Client) error {
	if err := w.StartupSyncCheck(ctx); err != nil {
		slog.ErrorContext(ctx, "Startup sync check failed", "error", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	if client != nil {
		g.Go(func() error {
			err := client.ConsumeExpenseSync(ctx, func(msg *amqp.ExpenseSyncMessage) error {
				return w.HandleSyncMessage(ctx, msg)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(w.syncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := w.ProcessPending(ctx); err != nil {
					slog.ErrorContext(ctx, "Pending sweep failed", "error", err)
				}
			case <-ctx.Done():
				return nil
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		if err := w.PurgeExpiredSessions(ctx); err != nil {
			slog.ErrorContext(ctx, "Session purge failed", "error", err)
		}
		for {
			select {
			case <-ticker.C:
				if err := w.PurgeExpiredSessions(ctx); err != nil {
					slog.ErrorContext(ctx, "Session purge failed", "error", err)
				}
			case <-ctx.Done():
				return nil
			}
		}
	})

	return g.Wait()
}

func (w *Worker) exportExpense(ctx context.Context, e *core.Expense) error {
	ref, err := w.ledger.Append(ctx, e)
	if err != nil {
		if markErr := w.expenses.MarkSyncError(ctx, e.ID); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark sync error", "id", e.ID, "error", markErr)
		}
		return fmt.Errorf("append to ledger: %w", err)
	}

	if err := w.expenses.MarkSynced(ctx, e.ID); err != nil {
		// The export itself worked; log and move on.
		slog.ErrorContext(ctx, "Failed to mark as synced", "id", e.ID, "error", err)
	}

	slog.InfoContext(ctx, "Exported expense",
		"id", e.ID,
		"ledger_ref", ref,
		"net_cents", e.Settle().NetCents)

	return nil
}
