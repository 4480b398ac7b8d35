package export

import (
	"context"

	"tally/internal/core"
)

// LedgerWriter appends one settled expense to an external ledger.
type LedgerWriter interface {
	// Append writes the expense and returns an opaque reference to the
	// written row.
	Append(ctx context.Context, e *core.Expense) (rowRef string, err error)
}
