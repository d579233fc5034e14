// Package services orchestrates expense creation and listing on top of
// the store, including idempotent-replay and race resolution.
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"outlay/internal/core"
	"outlay/internal/storage"
)

// Store is the durable collection consumed by the service. Insert is
// atomic with respect to the idempotency-key unique constraint.
type Store interface {
	InsertUnique(ctx context.Context, e core.Expense) (core.Expense, error)
	FindByKey(ctx context.Context, key string) (core.Expense, error)
	FindMany(ctx context.Context, f storage.Filter) ([]core.Expense, error)
}

// EventPublisher receives a notification for every freshly created
// expense. Publish failures never fail the request.
type EventPublisher interface {
	PublishExpenseCreated(ctx context.Context, id int64) error
}

// CreateStatus tags the outcome of Create: a fresh insert or an
// idempotent replay (including a resolved concurrent duplicate).
type CreateStatus string

const (
	StatusCreated       CreateStatus = "created"
	StatusAlreadyExists CreateStatus = "already_exists"
)

// CreateResult is the tagged outcome of a create call. Both variants are
// successes; AlreadyExists is the defined success-for-retry path.
type CreateResult struct {
	Expense core.Expense
	Status  CreateStatus
}

// CreateInput carries the raw request fields. The service owns parsing
// and validation so every boundary (HTTP, CLI) shares the same rules.
type CreateInput struct {
	IdempotencyKey string
	Amount         string
	Category       string
	Description    string
	Date           string
}

// ListInput narrows and orders a list call. Sort "date_desc" returns
// newest first; anything else returns oldest first.
type ListInput struct {
	Category string
	Sort     string
}

type ExpenseService struct {
	store  Store
	events EventPublisher
}

func NewExpenseService(store Store, events EventPublisher) *ExpenseService {
	return &ExpenseService{
		store:  store,
		events: events,
	}
}

// Create persists the expense at most once for its idempotency key.
//
// The initial lookup is only an optimization; the insert is the sole
// arbiter of uniqueness. A duplicate-key rejection from a concurrent
// identical request is resolved by re-fetching the winner's record.
func (s *ExpenseService) Create(ctx context.Context, in CreateInput) (CreateResult, error) {
	expense, verr := in.validate()
	if verr != nil {
		return CreateResult{}, verr
	}

	if existing, err := s.store.FindByKey(ctx, expense.IdempotencyKey); err == nil {
		slog.InfoContext(ctx, "Idempotent replay",
			"id", existing.ID,
			"category", existing.Category)
		return CreateResult{Expense: existing, Status: StatusAlreadyExists}, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return CreateResult{}, fmt.Errorf("look up idempotency key: %w", err)
	}

	created, err := s.store.InsertUnique(ctx, expense)
	if errors.Is(err, storage.ErrDuplicateKey) {
		// Lost the race against a concurrent identical request; the
		// winner's record is the answer, not an error.
		winner, ferr := s.store.FindByKey(ctx, expense.IdempotencyKey)
		if ferr != nil {
			return CreateResult{}, fmt.Errorf("resolve duplicate key: %w", ferr)
		}
		slog.InfoContext(ctx, "Resolved concurrent duplicate",
			"id", winner.ID,
			"category", winner.Category)
		return CreateResult{Expense: winner, Status: StatusAlreadyExists}, nil
	}
	if err != nil {
		return CreateResult{}, fmt.Errorf("insert expense: %w", err)
	}

	s.publishCreated(ctx, created.ID)

	return CreateResult{Expense: created, Status: StatusCreated}, nil
}

// List returns expenses matching the optional case-insensitive category
// filter, ordered by date per in.Sort.
func (s *ExpenseService) List(ctx context.Context, in ListInput) ([]core.Expense, error) {
	f := storage.Filter{
		Category: strings.TrimSpace(in.Category),
		Sort:     storage.SortDateAsc,
	}
	if in.Sort == string(storage.SortDateDesc) {
		f.Sort = storage.SortDateDesc
	}

	expenses, err := s.store.FindMany(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	return expenses, nil
}

func (s *ExpenseService) publishCreated(ctx context.Context, id int64) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishExpenseCreated(ctx, id); err != nil {
		// The expense is committed; the periodic sweep will pick it up.
		slog.ErrorContext(ctx, "Failed to publish created event",
			"id", id, "error", err)
	}
}

// Close releases the store and publisher if they hold resources.
func (s *ExpenseService) Close() error {
	var errs []error

	if c, ok := s.store.(io.Closer); ok && c != nil {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	if c, ok := s.events.(io.Closer); ok && c != nil {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("events: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close expense service: %v", errs)
	}
	return nil
}

// validate parses the raw input into a domain expense, collecting every
// offending field. No store access happens on failure.
func (in CreateInput) validate() (core.Expense, *core.ValidationError) {
	var fields []string

	key := strings.TrimSpace(in.IdempotencyKey)
	if key == "" {
		fields = append(fields, "idempotencyKey")
	}

	amount, err := core.ParseAmount(in.Amount)
	if err != nil {
		fields = append(fields, "amount")
	}

	category := strings.TrimSpace(in.Category)
	if category == "" {
		fields = append(fields, "category")
	}

	date, err := core.ParseDate(in.Date)
	if err != nil {
		fields = append(fields, "date")
	}

	if len(fields) > 0 {
		return core.Expense{}, core.NewValidationError(fields...)
	}

	return core.Expense{
		IdempotencyKey: key,
		Amount:         amount,
		Category:       category,
		Description:    strings.TrimSpace(in.Description),
		Date:           date,
	}, nil
}
