// Package memory is an in-process ledger used in tests and local
// development when no spreadsheet is configured.
package memory

import (
	"context"
	"fmt"
	"sync"

	"tally/internal/core"
)

type Ledger struct {
	mu   sync.Mutex
	rows []core.Expense
}

func New() *Ledger {
	return &Ledger{}
}

// Append stores the expense and returns a synthetic row reference.
func (l *Ledger) Append(_ context.Context, e *core.Expense) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rows = append(l.rows, *e)
	return fmt.Sprintf("mem:%d", len(l.rows)), nil
}

// Rows returns a copy of everything appended so far.
func (l *Ledger) Rows() []core.Expense {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]core.Expense(nil), l.rows...)
}
