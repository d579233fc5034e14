// Package client is the Go API client for the expense service. It owns
// the idempotency-key lifecycle: one key per logical expense, reused
// verbatim across retries and rotated only after a confirmed success.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"outlay/internal/idempotency"
)

const idempotencyKeyHeader = "Idempotency-Key"

// Expense is the wire shape returned by the service.
type Expense struct {
	ID          int64  `json:"id"`
	Amount      string `json:"amount"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Date        string `json:"date"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

// SubmitInput holds the fields of an expense to record.
type SubmitInput struct {
	Amount      string `json:"amount"`
	Category    string `json:"category"`
	Description string `json:"description,omitempty"`
	Date        string `json:"date"`
}

// APIError is a non-2xx response from the service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL string
	httpc   *http.Client
	keys    *idempotency.KeyManager
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 10 * time.Second},
		keys:    idempotency.NewKeyManager(),
	}
}

// Submit records an expense. A retry after a network failure or server
// error reuses the same idempotency key, so the server creates the
// expense at most once. Both 201 and 200 are successes: 200 means a
// previous attempt already landed.
func (c *Client) Submit(ctx context.Context, in SubmitInput) (Expense, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return Expense{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/expenses", bytes.NewReader(body))
	if err != nil {
		return Expense{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(idempotencyKeyHeader, c.keys.Current())

	resp, err := c.httpc.Do(req)
	if err != nil {
		// Key intentionally kept: the server may have committed the
		// expense before the connection broke.
		return Expense{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
		var expense Expense
		if err := json.NewDecoder(resp.Body).Decode(&expense); err != nil {
			return Expense{}, fmt.Errorf("decode response: %w", err)
		}
		// Only now is the logical expense finished; the next Submit
		// gets a fresh key.
		c.keys.Rotate()
		return expense, nil
	default:
		return Expense{}, decodeError(resp)
	}
}

// List fetches expenses, optionally filtered by category and ordered by
// date ("date_desc" for newest first, anything else oldest first).
func (c *Client) List(ctx context.Context, category, sort string) ([]Expense, error) {
	query := url.Values{}
	if category != "" {
		query.Set("category", category)
	}
	if sort != "" {
		query.Set("sort", sort)
	}

	endpoint := c.baseURL + "/expenses"
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var expenses []Expense
	if err := json.NewDecoder(resp.Body).Decode(&expenses); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return expenses, nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		apiErr.Message = "unreadable response body"
		return apiErr
	}

	var parsed struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &parsed); err == nil && parsed.Error != "" {
		apiErr.Message = parsed.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}
