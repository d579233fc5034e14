// Package storage implements the durable expense store on SQLite.
//
// The UNIQUE constraint on idempotency_key is the single source of truth
// for at-most-once creation: a violated insert is reported as
// ErrDuplicateKey, a control-flow signal rather than a failure.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"outlay/internal/core"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrDuplicateKey signals that another record already holds the
	// idempotency key. Callers resolve it by re-fetching the winner.
	ErrDuplicateKey = errors.New("duplicate idempotency key")

	// ErrNotFound signals that no record exists for the given key or id.
	ErrNotFound = errors.New("expense not found")
)

// SortOrder selects the date ordering for FindMany.
type SortOrder string

const (
	SortDateAsc  SortOrder = "date_asc"
	SortDateDesc SortOrder = "date_desc"
)

// Filter narrows and orders a FindMany query. An empty Category matches
// everything; matching is case-insensitive exact equality.
type Filter struct {
	Category string
	Sort     SortOrder
}

// Sync states for the background mirror worker.
const (
	SyncPending = "pending"
	SyncDone    = "synced"
	SyncError   = "error"
)

const expenseColumns = "id, idempotency_key, amount_cents, category, description, date, created_at, updated_at"

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// SQLite allows a single writer; serializing the pool avoids
	// SQLITE_BUSY under concurrent requests.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := applyMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// InsertUnique inserts a new expense keyed by its idempotency key. The
// insert is the sole arbiter of uniqueness: if another request committed
// the same key first, ErrDuplicateKey is returned and nothing is written.
func (r *SQLiteRepository) InsertUnique(ctx context.Context, e core.Expense) (core.Expense, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO expenses (idempotency_key, amount_cents, category, description, date, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.IdempotencyKey, e.Amount.Cents, e.Category, e.Description, e.Date.String(),
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return core.Expense{}, ErrDuplicateKey
		}
		return core.Expense{}, fmt.Errorf("insert expense: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return core.Expense{}, fmt.Errorf("read insert id: %w", err)
	}

	e.ID = id
	e.CreatedAt = now
	e.UpdatedAt = now

	slog.InfoContext(ctx, "Expense saved",
		"id", e.ID,
		"category", e.Category,
		"amount_cents", e.Amount.Cents,
		"date", e.Date.String())

	return e, nil
}

// FindByKey returns the expense holding the given idempotency key, or
// ErrNotFound.
func (r *SQLiteRepository) FindByKey(ctx context.Context, key string) (core.Expense, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+expenseColumns+" FROM expenses WHERE idempotency_key = ?", key)
	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, ErrNotFound
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("find expense by key: %w", err)
	}
	return e, nil
}

// GetExpense returns the expense with the given id, or ErrNotFound.
func (r *SQLiteRepository) GetExpense(ctx context.Context, id int64) (core.Expense, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+expenseColumns+" FROM expenses WHERE id = ?", id)
	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, ErrNotFound
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense by id: %w", err)
	}
	return e, nil
}

// FindMany returns all expenses matching the filter, ordered by date.
// Ties on equal dates keep the store's natural order.
func (r *SQLiteRepository) FindMany(ctx context.Context, f Filter) ([]core.Expense, error) {
	query := "SELECT " + expenseColumns + " FROM expenses"
	var args []any
	if f.Category != "" {
		query += " WHERE category = ? COLLATE NOCASE"
		args = append(args, f.Category)
	}
	if f.Sort == SortDateDesc {
		query += " ORDER BY date DESC"
	} else {
		query += " ORDER BY date ASC"
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query expenses: %w", err)
	}
	defer rows.Close()

	expenses := []core.Expense{}
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expenses: %w", err)
	}
	return expenses, nil
}

// GetPendingSync returns up to limit expenses that still need mirroring.
func (r *SQLiteRepository) GetPendingSync(ctx context.Context, limit int) ([]core.Expense, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+expenseColumns+" FROM expenses WHERE sync_status = ? ORDER BY id ASC LIMIT ?",
		SyncPending, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending sync: %w", err)
	}
	defer rows.Close()

	var expenses []core.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending expense: %w", err)
		}
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending expenses: %w", err)
	}
	return expenses, nil
}

// MarkSynced records that the expense was mirrored successfully.
func (r *SQLiteRepository) MarkSynced(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE expenses SET sync_status = ?, synced_at = ? WHERE id = ?",
		SyncDone, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("mark expense synced: %w", err)
	}
	return nil
}

// MarkSyncError flags the expense so the periodic sweep can retry it later.
func (r *SQLiteRepository) MarkSyncError(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE expenses SET sync_status = ? WHERE id = ?", SyncError, id)
	if err != nil {
		return fmt.Errorf("mark expense sync error: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a SQLite unique-constraint
// failure on insert.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExpense(row rowScanner) (core.Expense, error) {
	var (
		e          core.Expense
		dateStr    string
		createdStr string
		updatedStr string
	)
	if err := row.Scan(&e.ID, &e.IdempotencyKey, &e.Amount.Cents, &e.Category,
		&e.Description, &dateStr, &createdStr, &updatedStr); err != nil {
		return core.Expense{}, err
	}

	date, err := core.ParseDate(dateStr)
	if err != nil {
		return core.Expense{}, fmt.Errorf("parse stored date %q: %w", dateStr, err)
	}
	e.Date = date

	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdStr); err != nil {
		return core.Expense{}, fmt.Errorf("parse created_at %q: %w", createdStr, err)
	}
	if e.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedStr); err != nil {
		return core.Expense{}, fmt.Errorf("parse updated_at %q: %w", updatedStr, err)
	}
	return e, nil
}
