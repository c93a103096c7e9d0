// Package consensus is a small client for the consensusd REST API.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultHTTPTimeout is used when no timeout is configured. A round polls
// several experts, so it is longer than a plain REST call would need.
const DefaultHTTPTimeout = 2 * time.Minute

// ErrNoConclusion is returned by RunRound when the daemon answered 204: the
// round aborted before analysis produced a recommendation.
var ErrNoConclusion = errors.New("consensus: round produced no conclusion")

// Vote is a single expert opinion.
type Vote struct {
	ExpertID       string `json:"expert_id"`
	Role           string `json:"role"`
	Recommendation string `json:"recommendation"`
	Confidence     int    `json:"confidence"`
	Reasoning      string `json:"reasoning"`
	Degraded       bool   `json:"degraded,omitempty"`
}

// Decision is the aggregated panel outcome.
type Decision struct {
	Votes          []Vote         `json:"votes"`
	Counts         map[string]int `json:"counts"`
	Recommendation string         `json:"recommendation"`
	Confidence     int            `json:"confidence"`
	Agreement      float64        `json:"agreement"`
	Execute        bool           `json:"execute"`
}

// RoundResult mirrors the body of POST /api/v1/rounds.
type RoundResult struct {
	RoundID        string    `json:"round_id"`
	Pair           string    `json:"pair"`
	Recommendation string    `json:"recommendation"`
	Confidence     int       `json:"confidence"`
	Reasoning      string    `json:"reasoning"`
	Votes          []Vote    `json:"votes,omitempty"`
	Consensus      *Decision `json:"consensus,omitempty"`
	TaskID         string    `json:"task_id,omitempty"`
	SubmitError    string    `json:"submit_error,omitempty"`
	Path           []string  `json:"path"`
}

// Record is one entry of the analysis history.
type Record struct {
	RoundID        string    `json:"round_id"`
	Pair           string    `json:"pair"`
	Recommendation string    `json:"recommendation"`
	Confidence     int       `json:"confidence"`
	Reasoning      string    `json:"reasoning"`
	Target         *float64  `json:"target,omitempty"`
	Stop           *float64  `json:"stop,omitempty"`
	Consensus      *Decision `json:"consensus,omitempty"`
	TaskID         string    `json:"task_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Task is a registered on-chain automation task. Amounts are micro-units.
type Task struct {
	ID              string    `json:"id"`
	TxHash          string    `json:"tx_hash"`
	Pair            string    `json:"pair"`
	Account         string    `json:"account"`
	Budget          uint64    `json:"budget"`
	AmountPerStep   uint64    `json:"amount_per_step"`
	Steps           int       `json:"steps"`
	IntervalSeconds uint64    `json:"interval_seconds"`
	SlippageBps     uint64    `json:"slippage_bps"`
	FeeCap          uint64    `json:"fee_cap"`
	Status          string    `json:"status"`
	RegisteredAt    time.Time `json:"registered_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// TaskStats summarises the registered tasks.
type TaskStats struct {
	Total       int            `json:"total"`
	ByStatus    map[string]int `json:"by_status"`
	TotalBudget uint64         `json:"total_budget"`
}

// AutomationStatus is the on-chain automation snapshot for one account.
type AutomationStatus struct {
	Address         string    `json:"address"`
	Initialized     bool      `json:"initialized"`
	Used            uint64    `json:"used"`
	Total           uint64    `json:"total"`
	Received        uint64    `json:"received"`
	Swaps           uint64    `json:"swaps"`
	Active          bool      `json:"active"`
	WillTriggerNext bool      `json:"will_trigger_next"`
	Tasks           int       `json:"tasks"`
	Degraded        bool      `json:"degraded,omitempty"`
	Error           string    `json:"error,omitempty"`
	CheckedAt       time.Time `json:"checked_at"`
}

// TaskFilter narrows ListTasks. Zero values are omitted from the query.
type TaskFilter struct {
	Limit    int
	Offset   int
	Statuses []string
	Pair     string
}

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("consensus api error (%d): %s", e.StatusCode, e.Message)
}

// Client wraps the consensusd REST API.
type Client struct {
	http *resty.Client
}

// Option customises the client.
type Option func(*resty.Client)

// WithTimeout overrides DefaultHTTPTimeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *resty.Client) {
		if timeout > 0 {
			c.SetTimeout(timeout)
		}
	}
}

// WithHTTPClient routes requests through the given http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *resty.Client) {
		if hc != nil {
			c.SetTransport(hc.Transport)
		}
	}
}

// NewClient creates a client for the daemon listening at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, errors.New("consensus: base url is empty")
	}
	rc := resty.New().
		SetBaseURL(base).
		SetTimeout(DefaultHTTPTimeout).
		SetHeader("Accept", "application/json")
	for _, opt := range opts {
		if opt != nil {
			opt(rc)
		}
	}
	return &Client{http: rc}, nil
}

// RunRound triggers one round for pair and returns its result.
func (c *Client) RunRound(ctx context.Context, pair string) (RoundResult, error) {
	var out RoundResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"pair": pair}).
		SetResult(&out).
		Post("/api/v1/rounds")
	if err := check(resp, err); err != nil {
		return RoundResult{}, err
	}
	if resp.StatusCode() == http.StatusNoContent {
		return RoundResult{}, ErrNoConclusion
	}
	return out, nil
}

// History returns the daemon's recent analysis records, oldest first.
func (c *Client) History(ctx context.Context) ([]Record, error) {
	var out []Record
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get("/api/v1/rounds")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

// ListTasks returns registered tasks in registration order.
func (c *Client) ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error) {
	query := make(map[string]string)
	if filter.Limit > 0 {
		query["limit"] = strconv.Itoa(filter.Limit)
	}
	if filter.Offset > 0 {
		query["offset"] = strconv.Itoa(filter.Offset)
	}
	if len(filter.Statuses) > 0 {
		query["status"] = strings.Join(filter.Statuses, ",")
	}
	if filter.Pair != "" {
		query["pair"] = filter.Pair
	}

	var out []Task
	resp, err := c.http.R().SetContext(ctx).SetQueryParams(query).SetResult(&out).Get("/api/v1/tasks")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

// GetTask fetches one task by its ID.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var out Task
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetResult(&out).
		Get("/api/v1/tasks/{id}")
	if err := check(resp, err); err != nil {
		return Task{}, err
	}
	return out, nil
}

// TaskStats returns counts per status and the total committed budget.
func (c *Client) TaskStats(ctx context.Context) (TaskStats, error) {
	var out TaskStats
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get("/api/v1/tasks/stats")
	if err := check(resp, err); err != nil {
		return TaskStats{}, err
	}
	return out, nil
}

// Status queries the automation state of address. An empty address lets the
// daemon use its configured account.
func (c *Client) Status(ctx context.Context, address string) (AutomationStatus, error) {
	req := c.http.R().SetContext(ctx)
	if address = strings.TrimSpace(address); address != "" {
		req.SetQueryParam("address", address)
	}
	var out AutomationStatus
	resp, err := req.SetResult(&out).Get("/api/v1/automation/status")
	if err := check(resp, err); err != nil {
		return AutomationStatus{}, err
	}
	return out, nil
}

func check(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	if resp.IsError() {
		return &APIError{StatusCode: resp.StatusCode(), Message: strings.TrimSpace(resp.String())}
	}
	return nil
}
