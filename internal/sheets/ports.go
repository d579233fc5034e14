// Package sheets declares the outbound port for mirroring expenses to
// an external spreadsheet.
package sheets

import (
	"context"

	"outlay/internal/core"
)

// ExpenseAppender appends an expense row to the mirror, returning a
// reference to the written row.
type ExpenseAppender interface {
	Append(ctx context.Context, e core.Expense) (rowRef string, err error)
}
