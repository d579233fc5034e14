// Package worker mirrors created expenses to the configured sheet. The
// AMQP consumer is the fast path; a periodic sweep over pending rows
// recovers anything a lost message left behind.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"outlay/internal/amqp"
	"outlay/internal/core"
	"outlay/internal/sheets"
)

// PendingStore is the storage surface the worker needs.
type PendingStore interface {
	GetExpense(ctx context.Context, id int64) (core.Expense, error)
	GetPendingSync(ctx context.Context, limit int) ([]core.Expense, error)
	MarkSynced(ctx context.Context, id int64) error
	MarkSyncError(ctx context.Context, id int64) error
}

const sweepConcurrency = 4

type SyncWorker struct {
	store     PendingStore
	mirror    sheets.ExpenseAppender
	batchSize int
}

func NewSyncWorker(store PendingStore, mirror sheets.ExpenseAppender, batchSize int) *SyncWorker {
	return &SyncWorker{
		store:     store,
		mirror:    mirror,
		batchSize: batchSize,
	}
}

// HandleCreatedMessage mirrors a single expense announced over AMQP.
// The row is fetched fresh from the store so the queue never carries
// stale expense data.
func (w *SyncWorker) HandleCreatedMessage(ctx context.Context, msg *amqp.ExpenseCreatedMessage) error {
	slog.InfoContext(ctx, "Processing created event", "id", msg.ID)

	expense, err := w.store.GetExpense(ctx, msg.ID)
	if err != nil {
		return fmt.Errorf("get expense from storage: %w", err)
	}

	return w.mirrorExpense(ctx, expense)
}

// ProcessPending sweeps up to batchSize rows that still await
// mirroring. This is the backup path for lost or unpublished events.
func (w *SyncWorker) ProcessPending(ctx context.Context) error {
	pending, err := w.store.GetPendingSync(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("get pending expenses: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing pending expenses", "count", len(pending))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)

	for _, expense := range pending {
		expense := expense
		g.Go(func() error {
			if err := w.mirrorExpense(ctx, expense); err != nil {
				slog.ErrorContext(ctx, "Failed to mirror pending expense",
					"id", expense.ID, "error", err)
			}
			// A single bad row never aborts the sweep.
			return nil
		})
	}

	return g.Wait()
}

// StartupSyncCheck drains a larger pending backlog once, recovering
// from worker downtime before the periodic sweep takes over.
func (w *SyncWorker) StartupSyncCheck(ctx context.Context) error {
	pending, err := w.store.GetPendingSync(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("get pending expenses for startup check: %w", err)
	}
	if len(pending) == 0 {
		slog.InfoContext(ctx, "No pending expenses found on startup")
		return nil
	}

	slog.InfoContext(ctx, "Found pending expenses on startup", "count", len(pending))

	var synced, failed int
	for _, expense := range pending {
		if err := w.mirrorExpense(ctx, expense); err != nil {
			slog.ErrorContext(ctx, "Failed to mirror expense during startup",
				"id", expense.ID, "error", err)
			failed++
			continue
		}
		synced++
	}

	slog.InfoContext(ctx, "Startup sync completed",
		"total", len(pending),
		"synced", synced,
		"errors", failed)
	return nil
}

// RunSweepLoop runs ProcessPending on the given interval until the
// context is cancelled.
func (w *SyncWorker) RunSweepLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.ProcessPending(ctx); err != nil {
				slog.ErrorContext(ctx, "Pending sweep failed", "error", err)
			}
		}
	}
}

func (w *SyncWorker) mirrorExpense(ctx context.Context, e core.Expense) error {
	rowRef, err := w.mirror.Append(ctx, e)
	if err != nil {
		if markErr := w.store.MarkSyncError(ctx, e.ID); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark sync error",
				"id", e.ID, "error", markErr)
		}
		return fmt.Errorf("append to mirror: %w", err)
	}

	if err := w.store.MarkSynced(ctx, e.ID); err != nil {
		return fmt.Errorf("mark expense synced: %w", err)
	}

	slog.InfoContext(ctx, "Expense mirrored",
		"id", e.ID,
		"row_ref", rowRef)
	return nil
}
