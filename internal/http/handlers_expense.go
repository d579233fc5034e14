package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"outlay/internal/core"
	applog "outlay/internal/log"
	"outlay/internal/services"
)

const idempotencyKeyHeader = "Idempotency-Key"

// createRequest is the POST /expenses body. Amount is a json.Number so
// clients may send either a decimal string or a bare number without
// the value ever passing through a binary float.
type createRequest struct {
	Amount      json.Number `json:"amount"`
	Category    string      `json:"category"`
	Description string      `json:"description"`
	Date        string      `json:"date"`
}

// expenseResponse is the wire shape of an expense. The idempotency key
// is deliberately absent: it is client bookkeeping, not expense data.
type expenseResponse struct {
	ID          int64  `json:"id"`
	Amount      string `json:"amount"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Date        string `json:"date"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

func toExpenseResponse(e core.Expense) expenseResponse {
	return expenseResponse{
		ID:          e.ID,
		Amount:      e.Amount.String(),
		Category:    e.Category,
		Description: e.Description,
		Date:        e.Date.String(),
		CreatedAt:   e.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
		UpdatedAt:   e.UpdatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
	}
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
	if key == "" {
		writeError(w, http.StatusBadRequest, "Idempotency-Key header is required")
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.creator.Create(r.Context(), services.CreateInput{
		IdempotencyKey: key,
		Amount:         req.Amount.String(),
		Category:       req.Category,
		Description:    req.Description,
		Date:           req.Date,
	})
	if err != nil {
		var verr *core.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		slog.ErrorContext(r.Context(), "Expense creation failed", applog.FieldError, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	// A replayed request is a success, not a conflict: same record, 200.
	status := http.StatusCreated
	if result.Status == services.StatusAlreadyExists {
		status = http.StatusOK
	} else {
		s.listCache.Clear()
	}

	writeJSON(w, status, toExpenseResponse(result.Expense))
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	category := strings.TrimSpace(r.URL.Query().Get("category"))
	sort := r.URL.Query().Get("sort")

	cacheKey := strings.ToLower(category) + "|" + sort
	if cached, ok := s.listCache.Get(cacheKey); ok {
		writeListResponse(w, cached)
		return
	}

	expenses, err := s.lister.List(r.Context(), services.ListInput{
		Category: category,
		Sort:     sort,
	})
	if err != nil {
		slog.ErrorContext(r.Context(), "Expense listing failed", applog.FieldError, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.listCache.Set(cacheKey, expenses)
	writeListResponse(w, expenses)
}

func writeListResponse(w http.ResponseWriter, expenses []core.Expense) {
	out := make([]expenseResponse, 0, len(expenses))
	for _, e := range expenses {
		out = append(out, toExpenseResponse(e))
	}
	writeJSON(w, http.StatusOK, out)
}
