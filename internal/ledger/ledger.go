// Package ledger persists execution results for audit and
// reconciliation. Recording is best-effort from the caller's point of
// view: a failed write never fails the execution that produced it.
package ledger

import (
	"context"

	"github.com/ARB4ME/arb4me-unified-sub000/internal/executor"
)

type Ledger interface {
	Record(ctx context.Context, res executor.ExecutionResult) error
	Close()
}

// Noop is the ledger used when no database is configured.
type Noop struct{}

func (Noop) Record(context.Context, executor.ExecutionResult) error { return nil }
func (Noop) Close()                                                 {}
