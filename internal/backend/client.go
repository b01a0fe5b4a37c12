// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

// Package backend is the HTTP client for the delegated calendar/tasks
// service. Every call carries the user's delegated access token; the
// runtime itself holds no backend credentials.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	valeterr "github.com/valet-dev/valet/pkg/errors"
)

// DefaultTimeout bounds each backend call.
const DefaultTimeout = 15 * time.Second

// Event is one calendar entry.
type Event struct {
	ID          string `json:"id,omitempty"`
	Title       string `json:"title"`
	Start       string `json:"start"` // RFC 3339
	End         string `json:"end,omitempty"`
	Description string `json:"description,omitempty"`
}

// Task is one task-list entry.
type Task struct {
	ID    string `json:"id,omitempty"`
	Title string `json:"title"`
	Due   string `json:"due,omitempty"` // RFC 3339 date
	Notes string `json:"notes,omitempty"`
	Done  bool   `json:"done,omitempty"`
}

// Client talks to the calendar/tasks backend.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client for the given base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: DefaultTimeout},
	}
}

// NewWithHTTPClient creates a Client with a caller-supplied http.Client,
// useful for tests against httptest servers.
func NewWithHTTPClient(baseURL string, hc *http.Client) *Client {
	return &Client{baseURL: baseURL, http: hc}
}

// ListEvents returns calendar events between from and to (RFC 3339,
// either may be empty).
func (c *Client) ListEvents(ctx context.Context, token, from, to string) ([]Event, error) {
	q := url.Values{}
	if from != "" {
		q.Set("from", from)
	}
	if to != "" {
		q.Set("to", to)
	}
	path := "/v1/events"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var events []Event
	if err := c.do(ctx, http.MethodGet, path, token, nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// CreateEvent creates a calendar event and returns it with its assigned id.
func (c *Client) CreateEvent(ctx context.Context, token string, ev Event) (*Event, error) {
	var created Event
	if err := c.do(ctx, http.MethodPost, "/v1/events", token, ev, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// ListTasks returns the user's open tasks.
func (c *Client) ListTasks(ctx context.Context, token string) ([]Task, error) {
	var tasks []Task
	if err := c.do(ctx, http.MethodGet, "/v1/tasks", token, nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// CreateTask creates a task and returns it with its assigned id.
func (c *Client) CreateTask(ctx context.Context, token string, t Task) (*Task, error) {
	var created Task
	if err := c.do(ctx, http.MethodPost, "/v1/tasks", token, t, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// do issues one authenticated request and decodes the JSON response into out.
func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	if token == "" {
		return valeterr.New(valeterr.CodeBackendTokenMissing, "no delegated access token for backend call")
	}

	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return valeterr.Wrap(err, valeterr.CodeBackendCallFailure, "encoding backend request")
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return valeterr.Wrap(err, valeterr.CodeBackendCallFailure, "building backend request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return valeterr.Wrap(err, valeterr.CodeBackendCallFailure, "calling backend")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		_, _ = io.Copy(io.Discard, resp.Body)
		return valeterr.Errorf(valeterr.CodeBackendTokenMissing, "backend rejected delegated token (HTTP %d)", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return valeterr.Errorf(valeterr.CodeBackendCallFailure, "backend call failed (HTTP %d)", resp.StatusCode)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return valeterr.Wrap(err, valeterr.CodeBackendCallFailure, "decoding backend response")
	}
	return nil
}
