package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"outlay/internal/core"
	"outlay/internal/services"
)

type fakeCreator struct {
	result services.CreateResult
	err    error
	calls  int
	lastIn services.CreateInput
}

func (f *fakeCreator) Create(ctx context.Context, in services.CreateInput) (services.CreateResult, error) {
	f.calls++
	f.lastIn = in
	return f.result, f.err
}

type fakeLister struct {
	expenses []core.Expense
	err      error
	calls    int
	lastIn   services.ListInput
}

func (f *fakeLister) List(ctx context.Context, in services.ListInput) ([]core.Expense, error) {
	f.calls++
	f.lastIn = in
	return f.expenses, f.err
}

func sampleExpense(id int64) core.Expense {
	date, _ := core.ParseDate("2024-01-15")
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	return core.Expense{
		ID:             id,
		IdempotencyKey: "secret-key",
		Amount:         core.Money{Cents: 1999},
		Category:       "Food",
		Description:    "lunch",
		Date:           date,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func newTestServer(creator ExpenseCreator, lister ExpenseLister) *Server {
	srv := NewServer(":0", creator, lister)
	return srv
}

func TestCreateExpenseRequiresIdempotencyKey(t *testing.T) {
	srv := newTestServer(&fakeCreator{}, &fakeLister{})
	defer srv.Shutdown(context.Background())

	req := httptest.NewRequest(http.MethodPost, "/expenses",
		strings.NewReader(`{"amount":"19.99","category":"Food","date":"2024-01-15"}`))
	rec := httptest.NewRecorder()
	srv.Server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "Idempotency-Key header is required" {
		t.Fatalf("error = %q", body["error"])
	}
}

func TestCreateExpenseFresh(t *testing.T) {
	creator := &fakeCreator{
		result: services.CreateResult{Expense: sampleExpense(7), Status: services.StatusCreated},
	}
	srv := newTestServer(creator, &fakeLister{})
	defer srv.Shutdown(context.Background())

	req := httptest.NewRequest(http.MethodPost, "/expenses",
		strings.NewReader(`{"amount":19.99,"category":"Food","description":"lunch","date":"2024-01-15"}`))
	req.Header.Set("Idempotency-Key", "key-123")
	rec := httptest.NewRecorder()
	srv.Server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body %s", rec.Code, rec.Body.String())
	}
	if creator.lastIn.IdempotencyKey != "key-123" {
		t.Fatalf("key passed = %q", creator.lastIn.IdempotencyKey)
	}
	if creator.lastIn.Amount != "19.99" {
		t.Fatalf("amount passed = %q, want \"19.99\"", creator.lastIn.Amount)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["amount"] != "19.99" {
		t.Fatalf("amount = %v, want decimal string", body["amount"])
	}
	if _, leaked := body["idempotencyKey"]; leaked {
		t.Fatal("response must not expose the idempotency key")
	}
	if _, leaked := body["idempotency_key"]; leaked {
		t.Fatal("response must not expose the idempotency key")
	}
}

func TestCreateExpenseReplayReturns200(t *testing.T) {
	creator := &fakeCreator{
		result: services.CreateResult{Expense: sampleExpense(7), Status: services.StatusAlreadyExists},
	}
	srv := newTestServer(creator, &fakeLister{})
	defer srv.Shutdown(context.Background())

	req := httptest.NewRequest(http.MethodPost, "/expenses",
		strings.NewReader(`{"amount":"19.99","category":"Food","date":"2024-01-15"}`))
	req.Header.Set("Idempotency-Key", "key-123")
	rec := httptest.NewRecorder()
	srv.Server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestCreateExpenseValidationError(t *testing.T) {
	creator := &fakeCreator{err: core.NewValidationError("amount", "date")}
	srv := newTestServer(creator, &fakeLister{})
	defer srv.Shutdown(context.Background())

	req := httptest.NewRequest(http.MethodPost, "/expenses",
		strings.NewReader(`{"amount":"-1","category":"Food","date":"bad"}`))
	req.Header.Set("Idempotency-Key", "key-123")
	rec := httptest.NewRecorder()
	srv.Server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "amount") {
		t.Fatalf("error should name the field, got %s", rec.Body.String())
	}
}

func TestCreateExpenseInternalError(t *testing.T) {
	creator := &fakeCreator{err: errors.New("disk on fire")}
	srv := newTestServer(creator, &fakeLister{})
	defer srv.Shutdown(context.Background())

	req := httptest.NewRequest(http.MethodPost, "/expenses",
		strings.NewReader(`{"amount":"19.99","category":"Food","date":"2024-01-15"}`))
	req.Header.Set("Idempotency-Key", "key-123")
	rec := httptest.NewRecorder()
	srv.Server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "disk on fire") {
		t.Fatal("internal error details must not leak to clients")
	}
}

func TestCreateExpenseMalformedBody(t *testing.T) {
	srv := newTestServer(&fakeCreator{}, &fakeLister{})
	defer srv.Shutdown(context.Background())

	req := httptest.NewRequest(http.MethodPost, "/expenses", strings.NewReader(`{not json`))
	req.Header.Set("Idempotency-Key", "key-123")
	rec := httptest.NewRecorder()
	srv.Server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestListExpenses(t *testing.T) {
	lister := &fakeLister{expenses: []core.Expense{sampleExpense(1), sampleExpense(2)}}
	srv := newTestServer(&fakeCreator{}, lister)
	defer srv.Shutdown(context.Background())

	req := httptest.NewRequest(http.MethodGet, "/expenses?category=Food&sort=date_desc", nil)
	rec := httptest.NewRecorder()
	srv.Server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if lister.lastIn.Category != "Food" || lister.lastIn.Sort != "date_desc" {
		t.Fatalf("filter passed = %+v", lister.lastIn)
	}

	var body []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body) != 2 {
		t.Fatalf("expected 2 expenses, got %d", len(body))
	}
	if _, leaked := body[0]["idempotencyKey"]; leaked {
		t.Fatal("list response must not expose idempotency keys")
	}
}

func TestListExpensesEmpty(t *testing.T) {
	srv := newTestServer(&fakeCreator{}, &fakeLister{expenses: []core.Expense{}})
	defer srv.Shutdown(context.Background())

	req := httptest.NewRequest(http.MethodGet, "/expenses", nil)
	rec := httptest.NewRecorder()
	srv.Server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("empty list should encode as [], got %s", rec.Body.String())
	}
}

func TestListExpensesCaching(t *testing.T) {
	lister := &fakeLister{expenses: []core.Expense{sampleExpense(1)}}
	creator := &fakeCreator{
		result: services.CreateResult{Expense: sampleExpense(2), Status: services.StatusCreated},
	}
	srv := newTestServer(creator, lister)
	defer srv.Shutdown(context.Background())

	get := func() {
		req := httptest.NewRequest(http.MethodGet, "/expenses?category=Food", nil)
		rec := httptest.NewRecorder()
		srv.Server.Handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
	}

	get()
	get()
	if lister.calls != 1 {
		t.Fatalf("second read should hit the cache, lister calls = %d", lister.calls)
	}

	// A successful create invalidates the cache.
	req := httptest.NewRequest(http.MethodPost, "/expenses",
		strings.NewReader(`{"amount":"5.00","category":"Food","date":"2024-01-16"}`))
	req.Header.Set("Idempotency-Key", "key-456")
	rec := httptest.NewRecorder()
	srv.Server.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}

	get()
	if lister.calls != 2 {
		t.Fatalf("read after write should miss the cache, lister calls = %d", lister.calls)
	}
}

func TestExpensesMethodNotAllowed(t *testing.T) {
	srv := newTestServer(&fakeCreator{}, &fakeLister{})
	defer srv.Shutdown(context.Background())

	req := httptest.NewRequest(http.MethodDelete, "/expenses", nil)
	rec := httptest.NewRecorder()
	srv.Server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow != "GET, POST" {
		t.Fatalf("Allow header = %q", allow)
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(&fakeCreator{}, &fakeLister{})
	defer srv.Shutdown(context.Background())

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		srv.Server.Handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, rec.Code)
		}
	}
}

func TestSecurityHeaders(t *testing.T) {
	srv := newTestServer(&fakeCreator{}, &fakeLister{})
	defer srv.Shutdown(context.Background())

	req := httptest.NewRequest(http.MethodGet, "/expenses", nil)
	rec := httptest.NewRecorder()
	srv.Server.Handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
}
