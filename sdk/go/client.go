// Package temporasdk is a minimal client for the Tempora HTTP API.
package temporasdk

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
)

// Client is a minimal Tempora HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Schedule represents a schedule configuration.
type Schedule struct {
	ID             string  `json:"id"`
	TaskID         string  `json:"task_id,omitempty"`
	Sender         string  `json:"sender"`
	Recipient      string  `json:"recipient"`
	Amount         uint64  `json:"amount"`
	TokenAddress   *string `json:"token_address,omitempty"`
	StartTime      *int64  `json:"start_time,omitempty"`
	Interval       *int64  `json:"interval,omitempty"`
	ExecutionTimes []int64 `json:"execution_times,omitempty"`
	Enabled        bool    `json:"enabled"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

// UserSchedule pairs a schedule with its execution history.
type UserSchedule struct {
	Schedule          Schedule `json:"schedule_configuration"`
	PaymentExecutions []int64  `json:"payment_executions"`
}

// TriggerResult reports a recorded payment execution.
type TriggerResult struct {
	ScheduleID string `json:"schedule_id"`
	ExecutedAt int64  `json:"executed_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// Balance reports an account's holdings.
type Balance struct {
	Account string            `json:"account"`
	Balance uint64            `json:"balance"`
	Tokens  map[string]uint64 `json:"tokens,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateScheduleInput holds the fields for a new schedule.
type CreateScheduleInput struct {
	ID             string  `json:"id"`
	TaskID         string  `json:"task_id,omitempty"`
	Recipient      string  `json:"recipient"`
	Amount         uint64  `json:"amount"`
	TokenAddress   *string `json:"token_address,omitempty"`
	StartTime      *int64  `json:"start_time,omitempty"`
	Interval       *int64  `json:"interval,omitempty"`
	ExecutionTimes []int64 `json:"execution_times,omitempty"`
}

// CreateSchedule registers a schedule configuration.
func (c *Client) CreateSchedule(ctx context.Context, in CreateScheduleInput) (Schedule, error) {
	var resp Schedule
	err := c.do(ctx, http.MethodPost, "v0/schedules", in, &resp)
	return resp, err
}

// UpdateSchedule replaces a schedule configuration.
func (c *Client) UpdateSchedule(ctx context.Context, id string, in CreateScheduleInput) (Schedule, error) {
	var resp Schedule
	endpoint := fmt.Sprintf("v0/schedules/%s", url.PathEscape(id))
	err := c.do(ctx, http.MethodPut, endpoint, in, &resp)
	return resp, err
}

// CancelSchedule disables a schedule.
func (c *Client) CancelSchedule(ctx context.Context, id string) error {
	endpoint := fmt.Sprintf("v0/schedules/%s", url.PathEscape(id))
	return c.do(ctx, http.MethodDelete, endpoint, nil, nil)
}

// GetSchedule fetches one schedule with its executions.
func (c *Client) GetSchedule(ctx context.Context, id string) (UserSchedule, error) {
	var resp UserSchedule
	endpoint := fmt.Sprintf("v0/schedules/%s", url.PathEscape(id))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// MySchedules lists the caller's schedules with executions.
func (c *Client) MySchedules(ctx context.Context) ([]UserSchedule, error) {
	var resp struct {
		Items []UserSchedule `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "v0/me/schedules", nil, &resp)
	return resp.Items, err
}

// TriggerPayment triggers one payment and records its execution.
func (c *Client) TriggerPayment(ctx context.Context, recipient string, amount uint64, tokenAddress *string, scheduleID string, attached uint64) (TriggerResult, error) {
	body := map[string]any{
		"recipient":   recipient,
		"amount":      amount,
		"schedule_id": scheduleID,
	}
	if tokenAddress != nil {
		body["token_address"] = *tokenAddress
	}
	if attached > 0 {
		body["attached"] = attached
	}
	var resp TriggerResult
	err := c.do(ctx, http.MethodPost, "v0/payments/trigger", body, &resp)
	return resp, err
}

// Whitelist returns the whitelisted token addresses.
func (c *Client) Whitelist(ctx context.Context) ([]string, error) {
	var resp struct {
		Tokens []string `json:"tokens"`
	}
	err := c.do(ctx, http.MethodGet, "v0/whitelist", nil, &resp)
	return resp.Tokens, err
}

// AddToWhitelist whitelists a token (admin only).
func (c *Client) AddToWhitelist(ctx context.Context, tokenAddress string) error {
	return c.do(ctx, http.MethodPost, "v0/whitelist", map[string]string{"token_address": tokenAddress}, nil)
}

// RemoveFromWhitelist removes a token from the whitelist (admin only).
func (c *Client) RemoveFromWhitelist(ctx context.Context, tokenAddress string) error {
	endpoint := fmt.Sprintf("v0/whitelist/%s", url.PathEscape(tokenAddress))
	return c.do(ctx, http.MethodDelete, endpoint, nil, nil)
}

// MyBalance returns the caller's balances.
func (c *Client) MyBalance(ctx context.Context) (Balance, error) {
	var resp Balance
	err := c.do(ctx, http.MethodGet, "v0/ledger/balance", nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
